package codec

import (
	"bytes"
	"testing"
)

func TestRaw_Decode(t *testing.T) {
	input := []byte{0x01, 0x02, 0x03}
	frames := collect(Raw{}, input, nil)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if frames[0].Kind != FrameMessage || frames[0].Name != UnknownName {
		t.Errorf("frame = %+v", frames[0])
	}
	if !bytes.Equal(frames[0].Payload, input) {
		t.Errorf("payload = %v, want %v", frames[0].Payload, input)
	}

	input[0] = 0xFF
	if frames[0].Payload[0] != 0x01 {
		t.Error("payload aliases the input buffer")
	}
}

func TestRaw_Encode(t *testing.T) {
	out, err := Raw{}.Encode([]byte{0xAA}, []byte{0x00, 0x01})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !bytes.Equal(out, []byte{0xAA, 0x00, 0x01}) {
		t.Errorf("Encode() = %v", out)
	}
}
