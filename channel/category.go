package channel

import (
	"strings"

	"github.com/pkg/errors"
)

// Category classifies a log message.
type Category uint8

const (
	Default Category = iota
	Debug
	Info
	Important
	Message
	Warning
	Error
	Fatal
)

var categoryNames = [...]string{
	Default:   "DEFAULT",
	Debug:     "DEBUG",
	Info:      "INFO",
	Important: "IMPORTANT",
	Message:   "MESSAGE",
	Warning:   "WARNING",
	Error:     "ERROR",
	Fatal:     "FATAL",
}

func (c Category) String() string {
	if int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return "UNKNOWN"
}

// ParseCategory returns the category named by s, case-insensitively. "warn"
// is accepted for Warning.
func ParseCategory(s string) (Category, error) {
	up := strings.ToUpper(strings.TrimSpace(s))
	if up == "" {
		return Default, nil
	}
	if up == "WARN" {
		return Warning, nil
	}
	for i, name := range categoryNames {
		if name == up {
			return Category(i), nil
		}
	}
	return Default, errors.Errorf("unknown category: %q", s)
}

// Entry is the input to rendering: one message for one channel.
type Entry struct {
	Channel  string
	Category Category
	Message  string
}
