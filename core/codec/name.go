package codec

import "unicode/utf8"

// UnknownName is the label used when a payload carries no readable name.
const UnknownName = "unknown"

// nameHeaderSize covers the message id and name length bytes.
const nameHeaderSize = 2

// MessageName extracts the message name from a protocol payload laid out as
// [message_id][name_len][name bytes][fields...]. It reports false when the
// payload is shorter than the declared name or the name is not UTF-8.
func MessageName(payload []byte) (string, bool) {
	if len(payload) < nameHeaderSize {
		return "", false
	}
	n := int(payload[1])
	if len(payload) < nameHeaderSize+n {
		return "", false
	}
	name := payload[nameHeaderSize : nameHeaderSize+n]
	if !utf8.Valid(name) {
		return "", false
	}
	return string(name), true
}

// NameOrUnknown returns MessageName, or UnknownName when it is unavailable.
func NameOrUnknown(payload []byte) string {
	if name, ok := MessageName(payload); ok {
		return name
	}
	return UnknownName
}
