// Package transport defines the messaging types shared by the bot and the
// platform adapters. Only Telegram is implemented.
package transport

import (
	"context"
	"io"
)

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
	UpdateVoice   UpdateKind = "voice"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsPrivate    bool

	// Voice is set for UpdateVoice.
	Voice *Voice
}

// Voice references an audio attachment that can be fetched with Adapter.Download.
type Voice struct {
	FileID   string
	UniqueID string
	Duration int // seconds
	MIME     string
	Size     int64
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error

	// Download opens the file behind fileID. Callers close the reader.
	Download(ctx context.Context, fileID string) (io.ReadCloser, error)
}

// BotCommand is a single entry of the platform command menu.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish a command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
