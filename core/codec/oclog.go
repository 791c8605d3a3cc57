package codec

import (
	"strings"

	"github.com/charmbracelet/x/ansi"
)

var levelPrefixes = []struct {
	prefix string
	level  Level
}{
	{"DEBUG: ", LevelDebug},
	{"INFO: ", LevelInfo},
	{"WARN: ", LevelWarn},
	{"ERROR: ", LevelError},
}

// ParseLogLine parses firmware debug output of the form
// "[<millis>ms] LEVEL: message". ANSI colour sequences are removed first.
// Lines that do not match are returned whole with LevelNone.
func ParseLogLine(text string) (Level, string) {
	clean := text
	if strings.IndexByte(clean, 0x1b) >= 0 {
		clean = ansi.Strip(clean)
	}

	rest, ok := cutTimestamp(clean)
	if !ok {
		return LevelNone, clean
	}
	rest = strings.TrimLeft(rest, " \t")
	for _, p := range levelPrefixes {
		if msg, found := strings.CutPrefix(rest, p.prefix); found {
			return p.level, msg
		}
	}
	return LevelNone, clean
}

// cutTimestamp strips a leading "[<digits>ms]" and returns the remainder.
func cutTimestamp(s string) (string, bool) {
	if !strings.HasPrefix(s, "[") {
		return "", false
	}
	end := strings.IndexByte(s, ']')
	if end < 0 {
		return "", false
	}
	digits, ok := strings.CutSuffix(s[1:end], "ms")
	if !ok || digits == "" {
		return "", false
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return "", false
		}
	}
	return s[end+1:], true
}
