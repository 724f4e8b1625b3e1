package notifier

import (
	"fmt"
	"time"
)

// DisplayLayout is how due instants are shown to users.
const DisplayLayout = "2006-01-02 15:04"

// FormatReminder renders the delivery message for one reminder.
func FormatReminder(text string, dueAt time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return fmt.Sprintf("⏰ Reminder: %s\nSet for: %s", text, dueAt.In(loc).Format(DisplayLayout))
}
