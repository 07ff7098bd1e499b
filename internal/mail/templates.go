package mail

import (
	"fmt"
	"net/url"
)

func PasswordResetMessage(to, name, frontendBaseURL, token, project string) Message {
	link := fmt.Sprintf("%s/reset-password?token=%s", frontendBaseURL, url.QueryEscape(token))
	return Message{
		To:      to,
		Subject: fmt.Sprintf("%s - Password reset", project),
		Body: fmt.Sprintf(
			"Hello %s,\r\n\r\nUse the link below to choose a new password. It expires in 15 minutes.\r\n\r\n%s\r\n\r\nIf you did not ask for this, you can ignore this email.\r\n",
			name, link,
		),
	}
}

func VerificationMessage(to, name, apiBaseURL, token, project string) Message {
	link := fmt.Sprintf("%s/public-services/verify-email?token=%s", apiBaseURL, url.QueryEscape(token))
	return Message{
		To:      to,
		Subject: fmt.Sprintf("%s - Verify your email", project),
		Body: fmt.Sprintf(
			"Hello %s,\r\n\r\nPlease confirm your email address:\r\n\r\n%s\r\n",
			name, link,
		),
	}
}
