// Package extract finds reminder intent in free text and pairs it with a due
// instant produced by a DateResolver.
package extract

import (
	"context"
	"strings"
	"time"

	logx "remindbot/pkg/logx"
)

// Candidate is one reminder found in a text.
type Candidate struct {
	Text    string
	DueAt   time.Time
	Trigger string
}

// Match is a resolved instant plus the substring of the input it came from.
type Match struct {
	Time time.Time
	Text string
}

// DateResolver turns a fragment of text into an absolute instant. ok is
// false when the text holds no date.
type DateResolver interface {
	Resolve(ctx context.Context, text string, ref time.Time, preferFuture bool) (m Match, ok bool, err error)
}

type Extractor struct {
	resolver DateResolver
	triggers []string
	now      func() time.Time
	log      logx.Logger
}

type Option func(*Extractor)

func WithClock(now func() time.Time) Option {
	return func(e *Extractor) {
		if now != nil {
			e.now = now
		}
	}
}

func WithLogger(log logx.Logger) Option { return func(e *Extractor) { e.log = log } }

// WithTriggers replaces DefaultTriggers. Phrases are matched lower-cased.
func WithTriggers(triggers []string) Option {
	return func(e *Extractor) {
		out := make([]string, 0, len(triggers))
		for _, t := range triggers {
			if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
				out = append(out, t)
			}
		}
		if len(out) > 0 {
			e.triggers = out
		}
	}
}

func New(resolver DateResolver, opts ...Option) *Extractor {
	e := &Extractor{
		resolver: resolver,
		triggers: DefaultTriggers,
		now:      time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	if e.log.IsZero() {
		e.log = logx.Nop()
	}
	return e
}

// Extract scans text relative to the extractor's clock.
func (e *Extractor) Extract(ctx context.Context, text string) []Candidate {
	return e.ExtractAt(ctx, text, e.now())
}

// ExtractAt returns every (text, due) pair found in text, resolving dates
// relative to ref. Text without triggers or dates yields nil.
func (e *Extractor) ExtractAt(ctx context.Context, text string, ref time.Time) []Candidate {
	var out []Candidate
	for _, seg := range Segments(text) {
		for _, trig := range e.triggers {
			i := strings.Index(seg, trig)
			if i < 0 {
				continue
			}
			rest := strings.TrimSpace(seg[i+len(trig):])
			if rest == "" {
				continue
			}
			m, ok, err := e.resolver.Resolve(ctx, rest, ref, true)
			if err != nil {
				e.log.Debug("date resolve failed", logx.String("trigger", trig), logx.Err(err))
				continue
			}
			if !ok {
				continue
			}
			out = append(out, Candidate{
				Text:    stripDate(rest, m.Text, seg),
				DueAt:   m.Time,
				Trigger: trig,
			})
		}
	}
	return out
}

// Segments lower-cases text and splits it into sentence-like pieces.
// Empty pieces are dropped.
func Segments(text string) []string {
	parts := strings.FieldsFunc(strings.ToLower(text), isTerminator)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// stripDate removes the first occurrence of matched from s. This is
// cosmetic: leftover date words are acceptable. A reminder that would end up
// empty keeps its whole segment instead.
func stripDate(s, matched, seg string) string {
	if matched != "" {
		s = strings.Replace(s, strings.ToLower(matched), " ", 1)
	}
	words := strings.Fields(s)
	for len(words) > 0 && danglingWords[words[len(words)-1]] {
		words = words[:len(words)-1]
	}
	if len(words) == 0 {
		return strings.Join(strings.Fields(seg), " ")
	}
	return strings.Join(words, " ")
}

// danglingWords are trailing connectors left behind once a date is removed
// ("submit report by" -> "submit report").
var danglingWords = map[string]bool{
	"at": true, "on": true, "by": true, "in": true, "for": true, "before": true, "until": true,
}
