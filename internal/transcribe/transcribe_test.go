package transcribe

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewWhisperRequiresKey(t *testing.T) {
	t.Parallel()
	if _, err := NewWhisper(Config{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("NewWhisper = %v, want ErrNotConfigured", err)
	}
}

func TestWhisperPostsAudio(t *testing.T) {
	t.Parallel()
	var gotPath, gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotModel = r.FormValue("model")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":"  remind me to call mom tomorrow "}`)
	}))
	defer srv.Close()

	wh, err := NewWhisper(Config{APIKey: "test", BaseURL: srv.URL + "/v1/"})
	if err != nil {
		t.Fatalf("NewWhisper: %v", err)
	}
	text, err := wh.Transcribe(context.Background(), "voice.ogg", strings.NewReader("OggS"))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "remind me to call mom tomorrow" {
		t.Fatalf("text = %q", text)
	}
	if gotPath != "/v1/audio/transcriptions" || gotModel != "whisper-1" {
		t.Fatalf("path=%q model=%q", gotPath, gotModel)
	}
}

func TestContentType(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"voice.ogg": "audio/ogg",
		"a.mp3":     "audio/mpeg",
		"a.bin":     "application/octet-stream",
	}
	for in, want := range tests {
		if got := contentType(in); got != want {
			t.Fatalf("contentType(%q) = %q, want %q", in, got, want)
		}
	}
}
