package services

import (
	"bytes"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	texttemplate "text/template"

	"cart-recovery-service/internal/clients"
	"cart-recovery-service/internal/models"
)

// EmailConfig carries the storefront details rendered into recovery emails
type EmailConfig struct {
	StorefrontURL   string
	StoreName       string
	SupportWhatsApp string
	Currency        string
}

type recoveryEmailLine struct {
	Name      string
	Quantity  int
	LineTotal string
	ImageURL  string
}

type recoveryEmailData struct {
	StoreName   string
	FirstName   string
	Lines       []recoveryEmailLine
	Total       string
	RecoveryURL string
	WhatsAppURL string
}

var recoveryEmailHTML = template.Must(template.New("recovery-html").Parse(`<!DOCTYPE html>
<html>
<body style="margin:0;padding:0;background:#f5f5f0;font-family:Arial,Helvetica,sans-serif;color:#222;">
<table role="presentation" width="100%" cellpadding="0" cellspacing="0">
<tr><td align="center" style="padding:24px;">
<table role="presentation" width="600" cellpadding="0" cellspacing="0" style="background:#fff;border-radius:8px;">
<tr><td style="padding:24px 32px;">
<h1 style="font-size:22px;margin:0 0 12px;">{{if .FirstName}}Hi {{.FirstName}}, you{{else}}You{{end}} left something in your cart</h1>
<p style="margin:0 0 16px;">Your basket at {{.StoreName}} is still waiting for you. Need a hand finishing your order? Our team is one message away.</p>
<table role="presentation" width="100%" cellpadding="6" cellspacing="0" style="border-top:1px solid #eee;">
{{range .Lines}}<tr>
<td width="64">{{if .ImageURL}}<img src="{{.ImageURL}}" width="56" height="56" alt="" style="border-radius:4px;">{{end}}</td>
<td>{{.Name}} &times; {{.Quantity}}</td>
<td align="right">{{.LineTotal}}</td>
</tr>{{end}}
<tr><td></td><td style="border-top:1px solid #eee;"><strong>Total</strong></td><td align="right" style="border-top:1px solid #eee;"><strong>{{.Total}}</strong></td></tr>
</table>
<p style="margin:24px 0 8px;text-align:center;">
<a href="{{.WhatsAppURL}}" style="display:inline-block;background:#25d366;color:#fff;text-decoration:none;padding:12px 24px;border-radius:6px;font-weight:bold;">Contact support on WhatsApp</a>
</p>
<p style="margin:8px 0 0;text-align:center;">
<a href="{{.RecoveryURL}}" style="color:#2a6b2a;">Complete your order</a>
</p>
</td></tr>
</table>
</td></tr>
</table>
</body>
</html>
`))

var recoveryEmailText = texttemplate.Must(texttemplate.New("recovery-text").Parse(`{{if .FirstName}}Hi {{.FirstName}}, you{{else}}You{{end}} left something in your cart at {{.StoreName}}.

{{range .Lines}}- {{.Name}} x {{.Quantity}}: {{.LineTotal}}
{{end}}
Total: {{.Total}}

Talk to us on WhatsApp: {{.WhatsAppURL}}
Complete your order: {{.RecoveryURL}}
`))

// RecoveryURL builds the storefront link that redeems token
func (c EmailConfig) RecoveryURL(token string) string {
	return strings.TrimRight(c.StorefrontURL, "/") + "/cart/recover?token=" + url.QueryEscape(token)
}

// WhatsAppURL builds a wa.me deep link with a prefilled message
func (c EmailConfig) WhatsAppURL(recoveryURL string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, c.SupportWhatsApp)
	text := "Hi! I need help completing my order: " + recoveryURL
	return "https://wa.me/" + digits + "?text=" + url.QueryEscape(text)
}

func (c EmailConfig) money(amount float64) string {
	if c.Currency == "" {
		return fmt.Sprintf("%.2f", amount)
	}
	return fmt.Sprintf("%.2f %s", amount, c.Currency)
}

// renderRecoveryEmail builds the message for one cart from its resolved items
func renderRecoveryEmail(cfg EmailConfig, cart *models.AbandonedCart, items []ResolvedItem) (*clients.Email, error) {
	recoveryURL := cfg.RecoveryURL(cart.RecoveryToken)
	data := recoveryEmailData{
		StoreName:   cfg.StoreName,
		FirstName:   strings.TrimSpace(cart.Billing.FirstName),
		Total:       cfg.money(total(items)),
		RecoveryURL: recoveryURL,
		WhatsAppURL: cfg.WhatsAppURL(recoveryURL),
	}
	for _, item := range items {
		data.Lines = append(data.Lines, recoveryEmailLine{
			Name:      item.Name(),
			Quantity:  item.Quantity,
			LineTotal: cfg.money(item.LineTotal()),
			ImageURL:  item.ImageURL(),
		})
	}

	var html, text bytes.Buffer
	if err := recoveryEmailHTML.Execute(&html, data); err != nil {
		return nil, fmt.Errorf("failed to render recovery email: %w", err)
	}
	if err := recoveryEmailText.Execute(&text, data); err != nil {
		return nil, fmt.Errorf("failed to render recovery email text: %w", err)
	}

	subject := "You left something in your cart"
	if cfg.StoreName != "" {
		subject += " at " + cfg.StoreName
	}

	return &clients.Email{
		To:       cart.Billing.Email,
		ToName:   cart.Billing.FullName(),
		Subject:  subject,
		HTMLBody: html.String(),
		TextBody: text.String(),
	}, nil
}
