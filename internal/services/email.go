package services

import (
	"fmt"
	"html"
	"net/smtp"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"courseview-backend/internal/logging"
	"courseview-backend/internal/models"
)

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type EmailService struct {
	host        string
	port        string
	user        string
	pass        string
	from        string
	frontendURL string
	devMode     bool

	breaker  *gobreaker.CircuitBreaker[struct{}]
	sendMail sendMailFunc
}

func NewEmailService(host, port, user, pass, from, frontendURL string) *EmailService {
	devMode := host == "" || user == ""
	if devMode {
		logging.Warn().Msg("email service running in dev mode, messages are logged instead of sent")
	}
	return &EmailService{
		host:        host,
		port:        port,
		user:        user,
		pass:        pass,
		from:        from,
		frontendURL: frontendURL,
		devMode:     devMode,
		breaker: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        "smtp",
			MaxRequests: 1,
			Timeout:     time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
			},
		}),
		sendMail: smtp.SendMail,
	}
}

// SendSecurityAlertEmail notifies administrators of one alert.
func (s *EmailService) SendSecurityAlertEmail(to []string, alert models.SecurityAlert) error {
	if len(to) == 0 {
		return nil
	}

	lesson := "n/a"
	if alert.VideoLessonID != nil {
		lesson = alert.VideoLessonID.String()
	}

	var items strings.Builder
	for _, v := range alert.Violations {
		fmt.Fprintf(&items, "<li>%s</li>", html.EscapeString(v))
	}

	subject := fmt.Sprintf("[%s] Viewing integrity alert: %s", strings.ToUpper(string(alert.Severity)), alert.AlertType)
	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="font-family: 'Segoe UI', Arial, sans-serif; margin: 0; padding: 0; background-color: #f8fafc;">
  <div style="max-width: 560px; margin: 40px auto; background: white; border-radius: 12px; box-shadow: 0 4px 24px rgba(0,0,0,0.08); overflow: hidden;">
    <div style="background: #b91c1c; padding: 24px; text-align: center;">
      <h1 style="color: white; margin: 0; font-size: 20px; font-weight: 700;">Security alert</h1>
    </div>
    <div style="padding: 32px; color: #1e293b; font-size: 14px; line-height: 1.6;">
      <p><strong>User:</strong> %s<br><strong>Video lesson:</strong> %s<br><strong>Risk score:</strong> %.1f</p>
      <ul>%s</ul>
      <a href="%s/admin/security-alerts" style="display: inline-block; background: #1e293b; color: white; text-decoration: none; padding: 10px 24px; border-radius: 8px; font-weight: 600;">
        Review alerts
      </a>
    </div>
  </div>
</body>
</html>`, alert.UserID, lesson, alert.RiskScore, items.String(), s.frontendURL)

	return s.sendHTML(to, subject, body)
}

func (s *EmailService) sendHTML(to []string, subject, htmlBody string) error {
	if s.devMode {
		logging.Info().Strs("to", to).Str("subject", subject).Msg("dev email")
		logging.Debug().Str("body", htmlBody).Msg("dev email body")
		return nil
	}

	headers := []string{
		fmt.Sprintf("From: %s", s.from),
		fmt.Sprintf("To: %s", strings.Join(to, ", ")),
		fmt.Sprintf("Subject: %s", subject),
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=UTF-8",
	}

	message := strings.Join(headers, "\r\n") + "\r\n\r\n" + htmlBody

	auth := smtp.PlainAuth("", s.user, s.pass, s.host)
	addr := fmt.Sprintf("%s:%s", s.host, s.port)

	_, err := s.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, s.sendMail(addr, auth, s.from, to, []byte(message))
	})
	if err != nil {
		return fmt.Errorf("failed to send email to %s: %w", strings.Join(to, ", "), err)
	}

	logging.Info().Strs("to", to).Str("subject", subject).Msg("email sent")
	return nil
}
