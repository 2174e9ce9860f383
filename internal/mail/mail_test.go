package mail

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	gomail "github.com/wneessen/go-mail"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

type fakeSender struct {
	sent []*gomail.Msg
	err  error
}

func (f *fakeSender) DialAndSendWithContext(_ context.Context, messages ...*gomail.Msg) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, messages...)
	return nil
}

func testOrder() domain.Order {
	order := domain.NewOrder(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	order.AssignID(7)
	order.CustomerName = "John <Doe>"
	order.CustomerEmail = "john@example.com"
	order.AddItem(domain.NewOrderItem("Laptop", 1, 99999))
	order.AddItem(domain.NewOrderItem("Mouse", 2, 2550))
	order.RecalculateTotal()
	return *order
}

func TestFormatAmount(t *testing.T) {
	cases := map[int64]string{
		0:         "0.00",
		5:         "0.05",
		99999:     "999.99",
		105099:    "1,050.99",
		123456789: "1,234,567.89",
		-105099:   "-1,050.99",
	}
	for minor, want := range cases {
		require.Equal(t, want, FormatAmount(minor), "minor=%d", minor)
	}
}

func TestRenderWelcome(t *testing.T) {
	renderer, err := NewRenderer()
	require.NoError(t, err)

	msg, err := renderer.Render(KindWelcome, testOrder())
	require.NoError(t, err)

	require.Equal(t, "john@example.com", msg.To)
	require.Equal(t, "Welcome! Your order has been received", msg.Subject)
	require.Contains(t, msg.HTML, "John &lt;Doe&gt;")
	require.Contains(t, msg.HTML, "order #7")
	require.Contains(t, msg.HTML, "<li>Mouse - Quantity: 2 - Price: $25.50</li>")
	require.Contains(t, msg.HTML, "Total amount: $1,050.99")
}

func TestRenderSubjects(t *testing.T) {
	renderer, err := NewRenderer()
	require.NoError(t, err)

	shipping, err := renderer.Render(KindShipping, testOrder())
	require.NoError(t, err)
	require.Equal(t, "Your order has been shipped!", shipping.Subject)
	require.Contains(t, shipping.HTML, "has been shipped and is on its way")

	thanks, err := renderer.Render(KindThankYou, testOrder())
	require.NoError(t, err)
	require.Equal(t, "Thank you for your order!", thanks.Subject)
	require.Contains(t, thanks.HTML, "successfully delivered")

	_, err = renderer.Render(Kind("unknown"), testOrder())
	require.Error(t, err)
}

func TestSMTPMailerSend(t *testing.T) {
	renderer, err := NewRenderer()
	require.NoError(t, err)

	sender := &fakeSender{}
	mailer := newSMTPMailer(sender, "", renderer)

	require.NoError(t, mailer.SendShippingEmail(context.Background(), testOrder()))
	require.Len(t, sender.sent, 1)

	msg := sender.sent[0]
	require.Equal(t, []string{"Your order has been shipped!"}, msg.GetGenHeader(gomail.HeaderSubject))
	to := msg.GetTo()
	require.Len(t, to, 1)
	require.Equal(t, "john@example.com", to[0].Address)
	from := msg.GetFrom()
	require.Len(t, from, 1)
	require.Equal(t, DefaultFrom, from[0].Address)

	var body strings.Builder
	_, err = msg.WriteTo(&body)
	require.NoError(t, err)
	require.Contains(t, body.String(), "text/html")
}

func TestSMTPMailerSendError(t *testing.T) {
	renderer, err := NewRenderer()
	require.NoError(t, err)

	boom := errors.New("connection refused")
	mailer := newSMTPMailer(&fakeSender{err: boom}, "shop@example.com", renderer)

	err = mailer.SendWelcomeEmail(context.Background(), testOrder())
	require.ErrorIs(t, err, boom)
}

func TestSMTPMailerRejectsInvalidRecipient(t *testing.T) {
	renderer, err := NewRenderer()
	require.NoError(t, err)

	sender := &fakeSender{}
	mailer := newSMTPMailer(sender, "", renderer)

	order := testOrder()
	order.CustomerEmail = "not an address"
	require.Error(t, mailer.SendThankYouEmail(context.Background(), order))
	require.Empty(t, sender.sent)
}

func TestLogMailer(t *testing.T) {
	renderer, err := NewRenderer()
	require.NoError(t, err)

	mailer := NewLogMailer(renderer, nil)
	require.NoError(t, mailer.SendWelcomeEmail(context.Background(), testOrder()))
	require.NoError(t, mailer.SendShippingEmail(context.Background(), testOrder()))
	require.NoError(t, mailer.SendThankYouEmail(context.Background(), testOrder()))
}
