// Package transcribe turns voice messages into text.
package transcribe

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

var (
	ErrNotConfigured = errors.New("transcriber not configured")
	ErrEmpty         = errors.New("transcription is empty")
)

// Transcriber converts audio read from r into text. filename carries the
// container format ("voice.ogg").
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, r io.Reader) (string, error)
}

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// Language is an ISO-639-1 hint such as "en"; empty lets the model detect it.
	Language string
	Timeout  time.Duration
}

// Whisper transcribes through the OpenAI audio transcription endpoint.
type Whisper struct {
	client   openai.Client
	model    openai.AudioModel
	language string
	timeout  time.Duration
}

func NewWhisper(cfg Config) (*Whisper, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNotConfigured
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := openai.AudioModelWhisper1
	if m := strings.TrimSpace(cfg.Model); m != "" {
		model = openai.AudioModel(m)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Whisper{
		client:   openai.NewClient(opts...),
		model:    model,
		language: strings.TrimSpace(cfg.Language),
		timeout:  timeout,
	}, nil
}

func (w *Whisper) Transcribe(ctx context.Context, filename string, r io.Reader) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(r, filename, contentType(filename)),
		Model: w.model,
	}
	if w.language != "" {
		params.Language = openai.String(w.language)
	}
	resp, err := w.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", ErrEmpty
	}
	return text, nil
}

func contentType(filename string) string {
	switch {
	case strings.HasSuffix(filename, ".ogg"), strings.HasSuffix(filename, ".oga"):
		return "audio/ogg"
	case strings.HasSuffix(filename, ".mp3"):
		return "audio/mpeg"
	case strings.HasSuffix(filename, ".wav"):
		return "audio/wav"
	case strings.HasSuffix(filename, ".m4a"):
		return "audio/mp4"
	default:
		return "application/octet-stream"
	}
}

// Func adapts a plain function to Transcriber.
type Func func(ctx context.Context, filename string, r io.Reader) (string, error)

func (f Func) Transcribe(ctx context.Context, filename string, r io.Reader) (string, error) {
	return f(ctx, filename, r)
}
