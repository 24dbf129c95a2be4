// Package notifier delivers purchase confirmation emails.
package notifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"html/template"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/resend/resend-go/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"storefront-svc/circuitbreaker"
	"storefront-svc/models"
	"storefront-svc/payments"
)

// ErrNotConfigured is returned by every send when no API key is set.
var ErrNotConfigured = errors.New("notifier: email service not configured")

const confirmationSubject = "Purchase Confirmation from MindCraft"

type Confirmation struct {
	Email       string
	Name        string
	Items       []models.PurchaseItem
	AmountTotal int64
	Currency    string
}

// Notifier sends the confirmation for one completed purchase.
type Notifier interface {
	SendConfirmation(ctx context.Context, c Confirmation) error
}

type emailSender interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

type ResendNotifier struct {
	sender  emailSender
	from    string
	breaker *circuitbreaker.CircuitBreaker
	policy  *bluemonday.Policy
	printer *message.Printer
	logger  *zap.Logger
}

// NewResendNotifier builds a notifier for apiKey. With an empty key the
// notifier still exists but every send fails with ErrNotConfigured.
func NewResendNotifier(apiKey, from string, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *ResendNotifier {
	var sender emailSender
	if strings.TrimSpace(apiKey) != "" {
		sender = resend.NewClient(apiKey).Emails
	}
	return newResendNotifier(sender, from, breaker, logger)
}

func newResendNotifier(sender emailSender, from string, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *ResendNotifier {
	return &ResendNotifier{
		sender:  sender,
		from:    from,
		breaker: breaker,
		policy:  bluemonday.StrictPolicy(),
		printer: message.NewPrinter(language.English),
		logger:  logger,
	}
}

func (n *ResendNotifier) SendConfirmation(ctx context.Context, c Confirmation) error {
	if n.sender == nil {
		return ErrNotConfigured
	}
	if strings.TrimSpace(c.Email) == "" {
		return errors.New("notifier: recipient email is empty")
	}

	body, err := n.render(c)
	if err != nil {
		return err
	}

	req := &resend.SendEmailRequest{
		From:    n.from,
		To:      []string{c.Email},
		Subject: confirmationSubject,
		Html:    body,
		Text:    n.plainText(c),
	}

	var resp *resend.SendEmailResponse
	send := func() error {
		var err error
		resp, err = n.sender.SendWithContext(ctx, req)
		return err
	}
	if n.breaker != nil {
		err = n.breaker.Execute(ctx, send)
	} else {
		err = send()
	}
	if err != nil {
		return fmt.Errorf("failed to send confirmation email: %w", err)
	}

	n.logger.Info("Confirmation email sent", zap.String("email_id", resp.Id))
	return nil
}

type confirmationView struct {
	Name  string
	Items string
	Total string
}

func (n *ResendNotifier) view(c Confirmation) confirmationView {
	return confirmationView{
		Name:  n.stripMarkup(strings.TrimSpace(c.Name)),
		Items: n.stripMarkup(payments.DescribeItems(c.Items)),
		Total: n.FormatTotal(c.AmountTotal, c.Currency),
	}
}

// stripMarkup removes any tags from customer-supplied text. The result is
// plain text; escaping is left to the template.
func (n *ResendNotifier) stripMarkup(s string) string {
	return html.UnescapeString(n.policy.Sanitize(s))
}

func (n *ResendNotifier) render(c Confirmation) (string, error) {
	var buf bytes.Buffer
	if err := confirmationTemplate.Execute(&buf, n.view(c)); err != nil {
		return "", fmt.Errorf("failed to render confirmation email: %w", err)
	}
	return buf.String(), nil
}

func (n *ResendNotifier) plainText(c Confirmation) string {
	v := n.view(c)
	var b strings.Builder
	if v.Name != "" {
		fmt.Fprintf(&b, "Hi %s,\n\n", v.Name)
	}
	b.WriteString("Thank you for your purchase! Your digital products are now accessible.\n")
	if v.Items != "" {
		fmt.Fprintf(&b, "\nYour order: %s\n", v.Items)
	}
	if v.Total != "" {
		fmt.Fprintf(&b, "Total: %s\n", v.Total)
	}
	return b.String()
}

// FormatTotal renders minor units in the given ISO currency, e.g. "$ 29.00".
// Unknown currencies fall back to "29.00 XYZ"; a zero amount renders empty.
func (n *ResendNotifier) FormatTotal(amount int64, code string) string {
	if amount == 0 {
		return ""
	}
	major := decimal.New(amount, -2)
	unit, err := currency.ParseISO(strings.ToUpper(code))
	if err != nil {
		return strings.TrimSpace(major.StringFixed(2) + " " + strings.ToUpper(code))
	}
	return n.printer.Sprint(currency.Symbol(unit.Amount(major.InexactFloat64())))
}

var confirmationTemplate = template.Must(template.New("confirmation").Parse(`<!DOCTYPE html>
<html>
  <head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Purchase Confirmation</title>
  </head>
  <body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
    <div style="background: linear-gradient(135deg, #667eea 0%, #764ba2 100%); padding: 40px 20px; text-align: center; border-radius: 8px 8px 0 0;">
      <h1 style="color: white; margin: 0; font-size: 28px;">MindCraft</h1>
      <p style="color: rgba(255, 255, 255, 0.9); margin: 10px 0 0 0;">Digital Architectures for Thought</p>
    </div>
    <div style="background: #ffffff; padding: 40px 30px; border: 1px solid #e0e0e0; border-top: none; border-radius: 0 0 8px 8px;">
      {{if .Name}}<p style="font-size: 16px;">Hi {{.Name}},</p>{{end}}
      <h2 style="color: #667eea; margin-top: 0;">Thank You for Your Purchase!</h2>
      <p style="font-size: 16px; line-height: 1.8;">Here is your product, thank you for purchasing!</p>
      {{if .Items}}
      <div style="background: #f9fafb; padding: 20px; border-radius: 8px; margin: 25px 0;">
        <h3 style="margin-top: 0; color: #333; font-size: 18px;">Your Order:</h3>
        <p style="margin: 0; color: #666;">{{.Items}}</p>
        {{if .Total}}<p style="margin: 10px 0 0 0; color: #333;"><strong>Total: {{.Total}}</strong></p>{{end}}
      </div>
      {{end}}
      <div style="margin-top: 30px; padding: 20px; background: #f0f4ff; border-left: 4px solid #667eea; border-radius: 4px;">
        <p style="margin: 0; color: #333;">
          <strong>Next Steps:</strong><br>
          Your digital products are now accessible. Check your account dashboard or download links sent separately.
        </p>
      </div>
      <p style="margin-top: 30px; color: #666;">If you have any questions or need assistance, feel free to reach out to our support team.</p>
      <div style="margin-top: 40px; padding-top: 30px; border-top: 1px solid #e0e0e0; text-align: center; color: #999; font-size: 14px;">
        <p style="margin: 5px 0;">MindCraft. All rights reserved.</p>
        <p style="margin: 5px 0;">Digital Architectures for Thought</p>
      </div>
    </div>
  </body>
</html>
`))
