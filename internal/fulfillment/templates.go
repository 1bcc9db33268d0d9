package fulfillment

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/imrishuroy/bookstore-orderflow/internal/orders"
	"github.com/imrishuroy/bookstore-orderflow/internal/paystack"
)

var emailTemplates = template.Must(template.New("emails").Parse(`
{{define "digital"}}<!DOCTYPE html>
<html><body>
<p>Hi {{.Name}},</p>
<p>Thanks for your purchase. Your {{if gt (len .Links) 1}}books are{{else}}book is{{end}} ready to download:</p>
<ul>
{{range .Links}}<li><a href="{{.URL}}">{{.Title}}</a> (link expires {{.Expires}})</li>
{{end}}</ul>
<p>Order reference: {{.Reference}}<br>Total paid: {{.Total}}</p>
</body></html>{{end}}
{{define "physical"}}<!DOCTYPE html>
<html><body>
<p>Hi {{.Name}},</p>
<p>We have received your order and will ship it to:</p>
<p>{{if .Address}}{{.Address}}{{else}}the address on file{{end}}</p>
<ul>
{{range .Items}}<li>{{.Title}} &times; {{.Quantity}}</li>
{{end}}</ul>
<p>Order reference: {{.Reference}}<br>Total paid: {{.Total}}</p>
</body></html>{{end}}
`))

type linkView struct {
	Title   string
	URL     string
	Expires string
}

type emailView struct {
	Name      string
	Reference string
	Total     string
	Address   string
	Items     []orders.LineItem
	Links     []linkView
}

func newEmailView(o *orders.Order) emailView {
	return emailView{
		Name:      o.CustomerName,
		Reference: o.PaymentReference,
		Total:     paystack.FormatAmount(o.TotalAmount, o.Currency),
		Address:   o.ShippingAddress,
		Items:     o.Items,
	}
}

func renderDigital(o *orders.Order, links []linkView) (Email, error) {
	view := newEmailView(o)
	view.Links = links

	var html bytes.Buffer
	if err := emailTemplates.ExecuteTemplate(&html, "digital", view); err != nil {
		return Email{}, fmt.Errorf("render digital email: %w", err)
	}

	var text strings.Builder
	fmt.Fprintf(&text, "Hi %s,\n\nYour download links (order %s):\n", view.Name, view.Reference)
	for _, l := range links {
		fmt.Fprintf(&text, "- %s: %s (expires %s)\n", l.Title, l.URL, l.Expires)
	}

	return Email{
		To:      o.Email,
		Subject: "Your download is ready",
		HTML:    html.String(),
		Text:    text.String(),
	}, nil
}

func renderPhysical(o *orders.Order) (Email, error) {
	view := newEmailView(o)

	var html bytes.Buffer
	if err := emailTemplates.ExecuteTemplate(&html, "physical", view); err != nil {
		return Email{}, fmt.Errorf("render shipping email: %w", err)
	}
	return Email{
		To:      o.Email,
		Subject: "Order confirmed: " + o.PaymentReference,
		HTML:    html.String(),
		Text:    fmt.Sprintf("Hi %s,\n\nWe have received order %s and will ship it soon.\n", view.Name, view.Reference),
	}, nil
}

func formatExpiry(t time.Time) string {
	return t.UTC().Format("2 Jan 2006 15:04 MST")
}
