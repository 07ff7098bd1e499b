package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the auth counters on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	LoginAttempts      *prometheus.CounterVec
	TokenRefreshes     *prometheus.CounterVec
	Registrations      *prometheus.CounterVec
	TwoFactorChecks    *prometheus.CounterVec
	BackupCodesUsed    prometheus.Counter
	PasswordResets     *prometheus.CounterVec
	RateLimitRejects   *prometheus.CounterVec
	CSRFRejects        prometheus.Counter
	RotationCollisions prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		LoginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_auth_login_attempts_total",
			Help: "Login attempts by outcome.",
		}, []string{"outcome"}),
		TokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_auth_token_refresh_total",
			Help: "Refresh token exchanges by outcome.",
		}, []string{"outcome"}),
		Registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_auth_registrations_total",
			Help: "Registration attempts by outcome.",
		}, []string{"outcome"}),
		TwoFactorChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_auth_two_factor_checks_total",
			Help: "Second factor verifications by method and result.",
		}, []string{"method", "result"}),
		BackupCodesUsed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portal_auth_backup_codes_consumed_total",
			Help: "Backup codes consumed.",
		}),
		PasswordResets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_auth_password_resets_total",
			Help: "Password reset requests and completions by outcome.",
		}, []string{"stage", "outcome"}),
		RateLimitRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_http_rate_limited_total",
			Help: "Requests rejected by a rate limiter.",
		}, []string{"limiter"}),
		CSRFRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portal_http_csrf_rejected_total",
			Help: "Requests rejected by CSRF validation.",
		}),
		RotationCollisions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portal_auth_refresh_rotation_collisions_total",
			Help: "Refresh token values that collided during rotation.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.LoginAttempts,
		m.TokenRefreshes,
		m.Registrations,
		m.TwoFactorChecks,
		m.BackupCodesUsed,
		m.PasswordResets,
		m.RateLimitRejects,
		m.CSRFRejects,
		m.RotationCollisions,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
