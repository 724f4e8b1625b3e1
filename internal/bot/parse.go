package bot

import (
	"strings"

	"github.com/google/uuid"
)

func newReqID() string {
	// 8 hex chars are enough to correlate one request in the logs
	return uuid.NewString()[:8]
}

// tokenizeCommandLine splits command text into tokens. A quote at the start
// of a token groups words until the matching quote, so apostrophes inside
// words survive. A backslash escapes the next byte:
//
//	/add_reminder "next monday" team meeting
func tokenizeCommandLine(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar byte
		esc   bool
	)
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case esc:
			buf.WriteByte(ch)
			esc = false
		case ch == '\\':
			esc = true
		case inQ && ch == qChar:
			inQ = false
		case inQ:
			buf.WriteByte(ch)
		case (ch == '"' || ch == '\'') && buf.Len() == 0:
			inQ = true
			qChar = ch
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			flush()
		default:
			buf.WriteByte(ch)
		}
	}
	flush()
	return out
}

// commandWord returns the command name of "/cmd@BotName" lower-cased, or ""
// when tok is not a command. mine is false for commands addressed to another
// bot; with an empty self every suffix is accepted.
func commandWord(tok, self string) (word string, mine bool) {
	if !strings.HasPrefix(tok, "/") {
		return "", true
	}
	w := strings.TrimPrefix(tok, "/")
	if i := strings.IndexByte(w, '@'); i >= 0 {
		to := w[i+1:]
		w = w[:i]
		if self != "" && !strings.EqualFold(to, strings.TrimPrefix(self, "@")) {
			return strings.ToLower(w), false
		}
	}
	return strings.ToLower(w), true
}
