package logs

import "github.com/kabili207/ocbridge/core/codec"

// FilterMode selects a preset Filter.
type FilterMode uint8

const (
	FilterAll FilterMode = iota
	FilterProtocol
	FilterDebug
)

func (m FilterMode) String() string {
	switch m {
	case FilterProtocol:
		return "protocol"
	case FilterDebug:
		return "debug"
	default:
		return "all"
	}
}

// Filter decides which entries are shown. The zero value hides everything;
// use DefaultFilter or ModeFilter.
type Filter struct {
	ShowProtocol bool
	ShowDebug    bool
	ShowSystem   bool
	ShowIn       bool
	ShowOut      bool
	// MessageNames restricts protocol entries to these names. Empty allows
	// all names.
	MessageNames map[string]struct{}
	// DebugLevel restricts debug entries to one level. LevelNone allows all.
	DebugLevel codec.Level
}

// DefaultFilter shows every entry.
func DefaultFilter() Filter {
	return Filter{ShowProtocol: true, ShowDebug: true, ShowSystem: true, ShowIn: true, ShowOut: true}
}

// ModeFilter returns the filter for a preset mode.
func ModeFilter(mode FilterMode) Filter {
	f := DefaultFilter()
	switch mode {
	case FilterProtocol:
		f.ShowDebug, f.ShowSystem = false, false
	case FilterDebug:
		f.ShowProtocol, f.ShowSystem = false, false
	}
	return f
}

// Matches reports whether e passes the filter.
func (f Filter) Matches(e Entry) bool {
	switch e.Kind {
	case KindProtocol:
		if !f.ShowProtocol {
			return false
		}
		if (e.Direction == In && !f.ShowIn) || (e.Direction == Out && !f.ShowOut) {
			return false
		}
		if len(f.MessageNames) > 0 {
			if _, ok := f.MessageNames[e.MessageName]; !ok {
				return false
			}
		}
		return true
	case KindDebug:
		if !f.ShowDebug {
			return false
		}
		return f.DebugLevel == codec.LevelNone || f.DebugLevel == e.Level
	case KindSystem:
		return f.ShowSystem
	default:
		return false
	}
}
