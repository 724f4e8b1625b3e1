package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	twilio "github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// WhatsApp sends messages through the Twilio WhatsApp API.
type WhatsApp struct {
	client *twilio.RestClient
	from   string
}

func NewWhatsApp(accountSID, authToken, from string) (*WhatsApp, error) {
	if strings.TrimSpace(accountSID) == "" || strings.TrimSpace(authToken) == "" {
		return nil, errors.New("twilio credentials are not configured")
	}
	sender := whatsAppAddress(from)
	if sender == "" {
		return nil, errors.New("twilio whatsapp sender number is not configured")
	}
	return &WhatsApp{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{Username: accountSID, Password: authToken}),
		from:   sender,
	}, nil
}

func (w *WhatsApp) Name() string { return "whatsapp" }

// Send posts one message. The Twilio client has no context support, so ctx
// is only checked before the request.
func (w *WhatsApp) Send(ctx context.Context, to, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	recipient := whatsAppAddress(to)
	if recipient == "" {
		return errors.New("whatsapp recipient is empty")
	}
	params := &openapi.CreateMessageParams{}
	params.SetTo(recipient)
	params.SetFrom(w.from)
	params.SetBody(body)
	if _, err := w.client.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("twilio create message: %w", err)
	}
	return nil
}

func whatsAppAddress(number string) string {
	n := strings.TrimSpace(number)
	switch {
	case n == "":
		return ""
	case strings.HasPrefix(n, "whatsapp:"):
		return n
	case strings.HasPrefix(n, "+"):
		return "whatsapp:" + n
	default:
		return "whatsapp:+" + n
	}
}
