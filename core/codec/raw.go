package codec

import "bytes"

// Raw is a pass-through codec. Each non-empty chunk handed to Decode becomes
// one message frame and Encode copies the payload unchanged.
type Raw struct{}

var _ Codec = Raw{}

// Decode emits data as a single message frame.
func (Raw) Decode(data []byte, emit func(Frame)) {
	if len(data) == 0 {
		return
	}
	payload := bytes.Clone(data)
	emit(Frame{
		Kind:    FrameMessage,
		Name:    NameOrUnknown(payload),
		Payload: payload,
	})
}

// Encode appends payload to dst.
func (Raw) Encode(dst, payload []byte) ([]byte, error) {
	return append(dst, payload...), nil
}
