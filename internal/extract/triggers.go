package extract

// DefaultTriggers are evaluated in this order for every segment. Longer
// phrases come before the phrases they contain so stripping is stable.
var DefaultTriggers = []string{
	"remind me to do",
	"remind me to",
	"remind me about",
	"set a reminder for",
	"remember to",
	"don't forget to",
	"reminder",
	"assignment",
	"submission",
	"deadline",
	"meeting",
	"class",
	"important",
	"urgent",
	"money",
	"attention",
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', ';', '\n':
		return true
	}
	return false
}
