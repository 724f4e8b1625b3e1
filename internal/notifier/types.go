package notifier

import (
	"context"
	"time"

	kit "remindbot/internal/transport"
)

type Config struct {
	RatePerSec  int
	SendTimeout time.Duration
	// Location renders due instants in reminder messages (time.Local when nil).
	Location *time.Location
	WhatsApp WhatsAppConfig
}

type WhatsAppConfig struct {
	Enabled bool
	// Owners maps a reminder owner to a phone number ("+15551234567").
	Owners        map[int64]string
	QueueSize     int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

// Sender is the part of the transport adapter used for delivery.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// Channel is a secondary delivery channel addressed by a string.
type Channel interface {
	Name() string
	Send(ctx context.Context, to, body string) error
}

type HistoryItem struct {
	At      time.Time
	OwnerID int64
	Channel string
	Text    string
}
