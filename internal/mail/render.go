// Package mail формирует и отправляет письма клиентам по событиям заказа.
package mail

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/money"
)

// DefaultFrom: адрес отправителя по умолчанию.
const DefaultFrom = "noreply@example.com"

// Kind: вид письма.
type Kind string

const (
	KindWelcome  Kind = "welcome"
	KindShipping Kind = "shipping"
	KindThankYou Kind = "thank_you"
)

var subjects = map[Kind]string{
	KindWelcome:  "Welcome! Your order has been received",
	KindShipping: "Your order has been shipped!",
	KindThankYou: "Thank you for your order!",
}

//go:embed templates/*.html
var templateFS embed.FS

// Message: готовое к отправке письмо.
type Message struct {
	To      string
	Subject string
	HTML    string
}

type itemView struct {
	ProductName string
	Quantity    int32
	Price       string
}

type orderView struct {
	OrderID      int64
	CustomerName string
	Items        []itemView
	Total        string
}

// Renderer рендерит письма из встроенных шаблонов.
type Renderer struct {
	templates *template.Template
}

// NewRenderer разбирает встроенные шаблоны.
func NewRenderer() (*Renderer, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse mail templates: %w", err)
	}
	return &Renderer{templates: tmpl}, nil
}

// Render строит письмо заданного вида для заказа.
func (r *Renderer) Render(kind Kind, order domain.Order) (Message, error) {
	subject, ok := subjects[kind]
	if !ok {
		return Message{}, fmt.Errorf("unknown mail kind %q", kind)
	}

	view := orderView{
		OrderID:      order.ID,
		CustomerName: order.CustomerName,
		Items:        make([]itemView, 0, len(order.Items)),
		Total:        FormatAmount(order.TotalMinor),
	}
	for _, item := range order.Items {
		view.Items = append(view.Items, itemView{
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			Price:       FormatAmount(item.PriceMinor),
		})
	}

	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, string(kind)+".html", view); err != nil {
		return Message{}, fmt.Errorf("render %s mail: %w", kind, err)
	}

	return Message{
		To:      order.CustomerEmail,
		Subject: subject,
		HTML:    buf.String(),
	}, nil
}

// FormatAmount печатает сумму в центах с разделителем тысяч: 105099 → "1,050.99".
func FormatAmount(minor int64) string {
	plain := money.ToDecimalString(minor)

	sign := ""
	if strings.HasPrefix(plain, "-") {
		sign, plain = "-", plain[1:]
	}
	intPart, frac, _ := strings.Cut(plain, ".")

	var b strings.Builder
	for i, digit := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(digit)
	}
	return sign + b.String() + "." + frac
}
