package extract

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// WhenResolver resolves English date expressions with olebedev/when.
type WhenResolver struct {
	parser *when.Parser
	loc    *time.Location
}

// NewWhenResolver returns a resolver that interprets dates in loc
// (time.Local when nil).
func NewWhenResolver(loc *time.Location) *WhenResolver {
	if loc == nil {
		loc = time.Local
	}
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return &WhenResolver{parser: w, loc: loc}
}

func (r *WhenResolver) Resolve(ctx context.Context, text string, ref time.Time, preferFuture bool) (Match, bool, error) {
	if err := ctx.Err(); err != nil {
		return Match{}, false, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Match{}, false, nil
	}
	ref = ref.In(r.loc)
	res, err := r.parser.Parse(text, ref)
	if err != nil {
		return Match{}, false, err
	}
	if res == nil {
		return Match{}, false, nil
	}
	t := res.Time
	matched := strings.TrimSpace(res.Text)
	if preferFuture {
		t = towardFuture(t, ref, classify(matched))
	}
	return Match{Time: t, Text: matched}, true, nil
}

type dateKind int

const (
	kindOther dateKind = iota
	kindTimeOfDay
	kindWeekday
	kindMonthDay
)

var (
	relativeWords = wordSet("yesterday today tomorrow tonight last ago past previous")
	monthWords    = wordSet("january february march april may june july august september october november december jan feb mar apr jun jul aug sep sept oct nov dec")
	weekdayWords  = wordSet("monday tuesday wednesday thursday friday saturday sunday mon tue tues wed thu thur thurs fri sat sun")
	clockWords    = wordSet("noon midnight morning afternoon evening night am pm o'clock")
)

func wordSet(s string) map[string]bool {
	m := map[string]bool{}
	for _, w := range strings.Fields(s) {
		m[w] = true
	}
	return m
}

// classify tells which parts of a date the matched text named, so only the
// unnamed parts are rolled forward.
func classify(matched string) dateKind {
	words := strings.FieldsFunc(strings.ToLower(matched), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != ':' && r != '\''
	})
	var month, weekday, clock bool
	for _, w := range words {
		switch {
		case relativeWords[w]:
			return kindOther
		case len(w) == 4 && isDigits(w):
			// explicit year
			return kindOther
		case monthWords[w]:
			month = true
		case weekdayWords[w]:
			weekday = true
		case clockWords[w] || isClock(w):
			clock = true
		}
	}
	if strings.ContainsAny(matched, "/-") {
		return kindOther
	}
	switch {
	case month:
		return kindMonthDay
	case weekday:
		return kindWeekday
	case clock:
		return kindTimeOfDay
	}
	return kindOther
}

// isClock matches "5", "17:30", "5pm" and "5:30am".
func isClock(w string) bool {
	return isDigits(strings.TrimSuffix(strings.TrimSuffix(strings.ReplaceAll(w, ":", ""), "am"), "pm"))
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// towardFuture rolls an instant that fell into the past to the next
// occurrence of what the text named: a bare time of day moves to tomorrow,
// a bare weekday to next week, a month and day to next year. Anything else
// is explicit and kept.
func towardFuture(t, ref time.Time, kind dateKind) time.Time {
	if !t.Before(ref) {
		return t
	}
	past := ref.Sub(t)
	switch kind {
	case kindTimeOfDay:
		if past < 24*time.Hour {
			return t.AddDate(0, 0, 1)
		}
	case kindWeekday:
		if past < 7*24*time.Hour {
			return t.AddDate(0, 0, 7)
		}
	case kindMonthDay:
		return t.AddDate(1, 0, 0)
	}
	return t
}
