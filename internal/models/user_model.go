package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleModerator Role = "MODERATOR"
	RoleEmployee  Role = "EMPLOYEE"
)

var AllRoles = []Role{RoleAdmin, RoleModerator, RoleEmployee}

func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	return r, r.Valid()
}

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleModerator, RoleEmployee:
		return true
	}
	return false
}

type User struct {
	ID                 string         `gorm:"size:36;primaryKey" json:"id"`
	Email              string         `gorm:"size:255;not null;uniqueIndex:idx_users_email_active,where:deleted_at IS NULL" json:"email"`
	Password           string         `gorm:"size:255;not null" json:"-"`
	FirstName          string         `gorm:"size:100" json:"firstName"`
	LastName           string         `gorm:"size:100" json:"lastName"`
	Title              string         `gorm:"size:50" json:"title,omitempty"`
	Role               Role           `gorm:"size:20;not null;index" json:"role"`
	TwoFactorEnabled   bool           `gorm:"not null;default:false" json:"twoFactorEnabled"`
	TwoFactorSecret    string         `gorm:"size:512" json:"-"`
	BackupCodesEnabled bool           `gorm:"not null;default:false" json:"backupCodesEnabled"`
	IsEmailVerified    bool           `gorm:"not null;default:false" json:"isEmailVerified"`
	Profile            *Profile       `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"profile,omitempty"`
	CreatedAt          time.Time      `json:"createdAt"`
	UpdatedAt          time.Time      `json:"updatedAt"`
	DeletedAt          gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

func (u *User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}

// Profile holds the contact details created together with the account.
type Profile struct {
	ID          string     `gorm:"size:36;primaryKey" json:"id"`
	UserID      string     `gorm:"size:36;not null;uniqueIndex" json:"userId"`
	PhoneNumber string     `gorm:"size:32" json:"phoneNumber,omitempty"`
	Street      string     `gorm:"size:255" json:"street,omitempty"`
	City        string     `gorm:"size:100" json:"city,omitempty"`
	State       string     `gorm:"size:100" json:"state,omitempty"`
	ZipCode     string     `gorm:"size:20" json:"zipCode,omitempty"`
	Country     string     `gorm:"size:100" json:"country,omitempty"`
	DateOfBirth *time.Time `json:"dateOfBirth,omitempty"`
	Gender      string     `gorm:"size:20" json:"gender,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func (p *Profile) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
