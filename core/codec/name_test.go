package codec

import "testing"

func TestMessageName(t *testing.T) {
	named := append([]byte{0x49, 13}, []byte("TransportPlay")...)

	tests := []struct {
		name     string
		payload  []byte
		wantName string
		wantOK   bool
	}{
		{"with fields", append(append([]byte{}, named...), 0x01), "TransportPlay", true},
		{"exact length", named, "TransportPlay", true},
		{"empty name", []byte{0x01, 0x00}, "", true},
		{"empty payload", nil, "", false},
		{"header only", []byte{0x49}, "", false},
		{"name truncated", []byte{0x49, 10, 'H', 'e', 'l', 'l', 'o'}, "", false},
		{"invalid utf8", []byte{0x01, 2, 0xff, 0xfe}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := MessageName(tt.payload)
			if ok != tt.wantOK || got != tt.wantName {
				t.Errorf("MessageName() = (%q, %v), want (%q, %v)", got, ok, tt.wantName, tt.wantOK)
			}
		})
	}
}

func TestNameOrUnknown(t *testing.T) {
	if got := NameOrUnknown([]byte{0x49, 10, 'H'}); got != UnknownName {
		t.Errorf("NameOrUnknown() = %q, want %q", got, UnknownName)
	}
	if got := NameOrUnknown([]byte{0x01, 2, 'O', 'K'}); got != "OK" {
		t.Errorf("NameOrUnknown() = %q, want OK", got)
	}
}
