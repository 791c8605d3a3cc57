package logs

import (
	"testing"

	"github.com/kabili207/ocbridge/core/codec"
)

func TestFilter_Matches(t *testing.T) {
	in := ProtocolIn("NoteOn", 10)
	out := ProtocolOut("NoteOff", 10)
	dbgInfo := Debug(codec.LevelInfo, "x")
	dbgNone := Debug(codec.LevelNone, "x")
	sys := System("x")

	tests := []struct {
		name   string
		filter Filter
		want   map[string]bool
	}{
		{
			name:   "default",
			filter: DefaultFilter(),
			want:   map[string]bool{"in": true, "out": true, "info": true, "none": true, "sys": true},
		},
		{
			name:   "protocol mode",
			filter: ModeFilter(FilterProtocol),
			want:   map[string]bool{"in": true, "out": true},
		},
		{
			name:   "debug mode",
			filter: ModeFilter(FilterDebug),
			want:   map[string]bool{"info": true, "none": true},
		},
		{
			name: "in only",
			filter: func() Filter {
				f := DefaultFilter()
				f.ShowOut = false
				return f
			}(),
			want: map[string]bool{"in": true, "info": true, "none": true, "sys": true},
		},
		{
			name: "names",
			filter: func() Filter {
				f := DefaultFilter()
				f.MessageNames = map[string]struct{}{"NoteOff": {}}
				return f
			}(),
			want: map[string]bool{"out": true, "info": true, "none": true, "sys": true},
		},
		{
			name: "debug level",
			filter: func() Filter {
				f := DefaultFilter()
				f.DebugLevel = codec.LevelInfo
				return f
			}(),
			want: map[string]bool{"in": true, "out": true, "info": true, "sys": true},
		},
	}

	entries := map[string]Entry{"in": in, "out": out, "info": dbgInfo, "none": dbgNone, "sys": sys}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, e := range entries {
				if got := tt.filter.Matches(e); got != tt.want[key] {
					t.Errorf("Matches(%s) = %v, want %v", key, got, tt.want[key])
				}
			}
		})
	}
}

func TestStore_Ring(t *testing.T) {
	s := NewStore(3)
	for _, msg := range []string{"a", "b", "c", "d", "e"} {
		s.Add(System(msg))
	}

	if s.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", s.Len())
	}
	got := s.Entries()
	want := []string{"c", "d", "e"}
	for i, e := range got {
		if e.Message != want[i] {
			t.Errorf("entry %d = %q, want %q", i, e.Message, want[i])
		}
	}
}

func TestStore_FilteredCount(t *testing.T) {
	s := NewStore(4)
	s.Add(System("s1"))
	s.Add(ProtocolIn("A", 1))
	s.Add(Debug(codec.LevelInfo, "d1"))
	s.Add(ProtocolOut("B", 2))

	if s.FilteredCount() != 4 {
		t.Fatalf("FilteredCount() = %d, want 4", s.FilteredCount())
	}

	s.SetMode(FilterProtocol)
	if s.Mode() != FilterProtocol {
		t.Errorf("Mode() = %v, want protocol", s.Mode())
	}
	if s.FilteredCount() != 2 {
		t.Fatalf("FilteredCount() = %d, want 2", s.FilteredCount())
	}

	// Evicts s1, which does not match; adds a match.
	s.Add(ProtocolIn("C", 3))
	if s.FilteredCount() != 3 {
		t.Errorf("FilteredCount() = %d, want 3", s.FilteredCount())
	}
	// Evicts A, which matches; adds a non-match.
	s.Add(System("s2"))
	if s.FilteredCount() != 2 {
		t.Errorf("FilteredCount() = %d, want 2", s.FilteredCount())
	}

	names := []string{}
	for _, e := range s.Entries() {
		names = append(names, e.MessageName)
	}
	if len(names) != 2 || names[0] != "B" || names[1] != "C" {
		t.Errorf("filtered entries = %v, want [B C]", names)
	}

	s.Clear()
	if s.Len() != 0 || s.FilteredCount() != 0 || len(s.Entries()) != 0 {
		t.Error("store not empty after Clear")
	}
}

func TestNewStore_DefaultCapacity(t *testing.T) {
	if got := NewStore(0).Cap(); got != DefaultMaxEntries {
		t.Errorf("Cap() = %d, want %d", got, DefaultMaxEntries)
	}
}
