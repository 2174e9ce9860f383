package mail

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	gomail "github.com/wneessen/go-mail"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// SMTPConfig: параметры SMTP-сервера.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*gomail.Msg) error
}

// SMTPMailer отправляет письма через SMTP.
type SMTPMailer struct {
	sender   sender
	from     string
	renderer *Renderer
	logger   *log.Entry
}

// NewSMTPMailer создаёт SMTP-клиент. Авторизация включается, если задан Username.
func NewSMTPMailer(cfg SMTPConfig, renderer *Renderer) (*SMTPMailer, error) {
	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}

	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	return newSMTPMailer(client, cfg.From, renderer), nil
}

func newSMTPMailer(s sender, from string, renderer *Renderer) *SMTPMailer {
	if from == "" {
		from = DefaultFrom
	}
	return &SMTPMailer{
		sender:   s,
		from:     from,
		renderer: renderer,
		logger:   log.WithField("component", "smtp-mailer"),
	}
}

// SendWelcomeEmail отправляет письмо о принятом заказе.
func (m *SMTPMailer) SendWelcomeEmail(ctx context.Context, order domain.Order) error {
	return m.send(ctx, KindWelcome, order)
}

// SendShippingEmail отправляет письмо об отгрузке.
func (m *SMTPMailer) SendShippingEmail(ctx context.Context, order domain.Order) error {
	return m.send(ctx, KindShipping, order)
}

// SendThankYouEmail отправляет благодарность после доставки.
func (m *SMTPMailer) SendThankYouEmail(ctx context.Context, order domain.Order) error {
	return m.send(ctx, KindThankYou, order)
}

func (m *SMTPMailer) send(ctx context.Context, kind Kind, order domain.Order) error {
	rendered, err := m.renderer.Render(kind, order)
	if err != nil {
		return err
	}

	msg := gomail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return fmt.Errorf("set from %q: %w", m.from, err)
	}
	if err := msg.To(rendered.To); err != nil {
		return fmt.Errorf("set recipient %q: %w", rendered.To, err)
	}
	msg.Subject(rendered.Subject)
	msg.SetDate()
	msg.SetBodyString(gomail.TypeTextHTML, rendered.HTML)

	if err := m.sender.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send %s mail for order %d: %w", kind, order.ID, err)
	}

	m.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"kind":     kind,
	}).Debug("mail sent")
	return nil
}

// LogMailer пишет письма в лог вместо отправки; для локального запуска.
type LogMailer struct {
	renderer *Renderer
	logger   *log.Entry
}

// NewLogMailer создаёт mailer, который только логирует письма.
func NewLogMailer(renderer *Renderer, logger *log.Entry) *LogMailer {
	if logger == nil {
		logger = log.WithField("component", "log-mailer")
	}
	return &LogMailer{renderer: renderer, logger: logger}
}

// SendWelcomeEmail логирует приветственное письмо.
func (m *LogMailer) SendWelcomeEmail(_ context.Context, order domain.Order) error {
	return m.log(KindWelcome, order)
}

// SendShippingEmail логирует письмо об отгрузке.
func (m *LogMailer) SendShippingEmail(_ context.Context, order domain.Order) error {
	return m.log(KindShipping, order)
}

// SendThankYouEmail логирует письмо-благодарность.
func (m *LogMailer) SendThankYouEmail(_ context.Context, order domain.Order) error {
	return m.log(KindThankYou, order)
}

func (m *LogMailer) log(kind Kind, order domain.Order) error {
	rendered, err := m.renderer.Render(kind, order)
	if err != nil {
		return err
	}
	m.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"to":       rendered.To,
		"subject":  rendered.Subject,
		"kind":     kind,
	}).Info("mail rendered")
	return nil
}

var (
	_ domain.Mailer = (*SMTPMailer)(nil)
	_ domain.Mailer = (*LogMailer)(nil)
)
