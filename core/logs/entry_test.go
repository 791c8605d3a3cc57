package logs

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/kabili207/ocbridge/core/codec"
)

func fixClock(t *testing.T) {
	t.Helper()
	prev := nowFn
	nowFn = func() time.Time { return time.Date(2024, 1, 2, 12, 34, 56, 789_000_000, time.Local) }
	t.Cleanup(func() { nowFn = prev })
}

func TestEntry_Timestamp(t *testing.T) {
	fixClock(t)
	if got := System("x").Timestamp; got != "12:34:56.789" {
		t.Errorf("timestamp = %q, want 12:34:56.789", got)
	}
}

func TestEntry_MarshalJSON(t *testing.T) {
	fixClock(t)

	tests := []struct {
		name  string
		entry Entry
		want  string
	}{
		{
			name:  "protocol in",
			entry: ProtocolIn("DeviceChange", 128),
			want:  `{"timestamp":"12:34:56.789","kind":{"Protocol":{"direction":"In","message_name":"DeviceChange","size":128}}}`,
		},
		{
			name:  "protocol out",
			entry: ProtocolOut("NoteOn", 4),
			want:  `{"timestamp":"12:34:56.789","kind":{"Protocol":{"direction":"Out","message_name":"NoteOn","size":4}}}`,
		},
		{
			name:  "debug with level",
			entry: Debug(codec.LevelInfo, "Boot completed"),
			want:  `{"timestamp":"12:34:56.789","kind":{"Debug":{"level":"Info","message":"Boot completed"}}}`,
		},
		{
			name:  "debug without level",
			entry: Debug(codec.LevelNone, "plain"),
			want:  `{"timestamp":"12:34:56.789","kind":{"Debug":{"level":null,"message":"plain"}}}`,
		},
		{
			name:  "system",
			entry: System("Bridge started"),
			want:  `{"timestamp":"12:34:56.789","kind":{"System":{"message":"Bridge started"}}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.entry)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("Marshal() = %s\nwant %s", data, tt.want)
			}

			var back Entry
			if err := json.Unmarshal(data, &back); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if back != tt.entry {
				t.Errorf("round trip = %+v, want %+v", back, tt.entry)
			}
		})
	}
}

func TestEntry_UnmarshalInvalid(t *testing.T) {
	tests := []string{
		`{"timestamp":"12:00:00.000","kind":{}}`,
		`{"timestamp":"12:00:00.000","kind":{"Protocol":{"direction":"Sideways","message_name":"x","size":1}}}`,
		`not json`,
	}
	for _, in := range tests {
		var e Entry
		if err := json.Unmarshal([]byte(in), &e); err == nil {
			t.Errorf("Unmarshal(%s) succeeded, want error", in)
		}
	}
}

func TestEntry_String(t *testing.T) {
	fixClock(t)
	if got := ProtocolOut("Ping", 3).String(); !strings.Contains(got, "-> Ping (3 bytes)") {
		t.Errorf("String() = %q", got)
	}
	if got := Debug(codec.LevelWarn, "hot").String(); !strings.Contains(got, "[Warn] hot") {
		t.Errorf("String() = %q", got)
	}
}

func TestTrySend(t *testing.T) {
	ch := make(chan Entry, 1)
	if !TrySend(ch, System("a")) {
		t.Fatal("first send dropped")
	}
	if TrySend(ch, System("b")) {
		t.Fatal("send to full channel reported success")
	}
}
