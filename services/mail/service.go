package mail

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/tutorstack/authcore/config"
	"github.com/tutorstack/authcore/services/logging"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// Service sends security-event notifications (e.g. "your password was
// changed and all sessions were signed out"). Delivery is best effort:
// callers must never fail a security response on a mail error.
type Service struct {
	config *config.MailConfig
	client *mail.Client
	logger *logging.Service
}

var passwordChangedTemplate = template.Must(template.New("password_changed").Parse(
	`Hello,

The password for your {{.AppName}} account was just changed and every
active session has been signed out.

If this was you, no action is needed. If it was not, please reset your
password immediately and contact support.

— {{.AppName}}
`))

func NewService(cfg *config.MailConfig, appName string, logger *logging.Service) (*Service, error) {
	if cfg.FromAddress == "" {
		return nil, fmt.Errorf("MAIL_FROM_ADDRESS is required")
	}

	clientOpts := []mail.Option{
		mail.WithPort(cfg.Port),
	}

	switch cfg.Encryption {
	case "tls", "starttls":
		clientOpts = append(clientOpts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	case "ssl":
		clientOpts = append(clientOpts, mail.WithSSL())
	case "none":
		clientOpts = append(clientOpts, mail.WithTLSPortPolicy(mail.NoTLS))
	default:
		clientOpts = append(clientOpts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	}

	if cfg.Username != "" {
		clientOpts = append(clientOpts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username))
	}
	if cfg.Password != "" {
		clientOpts = append(clientOpts, mail.WithPassword(cfg.Password))
	}

	client, err := mail.NewClient(cfg.Host, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail client: %w", err)
	}

	logger.Info("mail service initialized",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port))

	return &Service{
		config: cfg,
		client: client,
		logger: logger,
	}, nil
}

// SendPasswordChangedNotice notifies the user that their password changed
// and all sessions were revoked.
func (s *Service) SendPasswordChangedNotice(to string, appName string) error {
	var body bytes.Buffer
	if err := passwordChangedTemplate.Execute(&body, map[string]string{"AppName": appName}); err != nil {
		return fmt.Errorf("failed to render notification: %w", err)
	}

	msg := mail.NewMsg()
	if err := msg.FromFormat(s.config.FromName, s.config.FromAddress); err != nil {
		return fmt.Errorf("invalid from address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("invalid recipient: %w", err)
	}
	msg.Subject("Your password was changed")
	msg.SetBodyString(mail.TypeTextPlain, body.String())

	if err := s.client.DialAndSend(msg); err != nil {
		s.logger.Error("failed to send security notification", zap.Error(err))
		return fmt.Errorf("failed to send notification: %w", err)
	}

	s.logger.Info("security notification sent")
	return nil
}
