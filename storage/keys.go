package storage

import (
	"bytes"
	"errors"
	"fmt"
)

// Segments are written back to back. A 0x00 byte inside a segment is escaped
// as 0x00 0xFF and every segment ends with 0x00 0x01, so the encoding of a
// prefix is a byte-wise prefix of every key beneath it and of nothing else.
const (
	escapeByte     byte = 0x00
	escapedNull    byte = 0xFF
	terminatorByte byte = 0x01
)

// Key is an ordered list of segments. Feed keys are a fixed namespace prefix
// followed by the event ID.
type Key []string

// Append returns a new Key with segs added to the end. The receiver is never
// modified.
func (k Key) Append(segs ...string) Key {
	out := make(Key, 0, len(k)+len(segs))
	out = append(out, k...)
	return append(out, segs...)
}

// Last returns the final segment of the key, or an empty string for an empty
// key.
func (k Key) Last() string {
	if len(k) == 0 {
		return ""
	}
	return k[len(k)-1]
}

// Encode returns the byte representation used by the backends.
func (k Key) Encode() []byte {
	n := 0
	for _, s := range k {
		n += len(s) + 2
	}
	b := make([]byte, 0, n)
	for _, s := range k {
		for i := 0; i < len(s); i++ {
			if s[i] == escapeByte {
				b = append(b, escapeByte, escapedNull)
				continue
			}
			b = append(b, s[i])
		}
		b = append(b, escapeByte, terminatorByte)
	}
	return b
}

// String is meant for log output only.
func (k Key) String() string {
	return fmt.Sprintf("%q", []string(k))
}

// DecodeKey parses the output of Key.Encode.
func DecodeKey(b []byte) (Key, error) {
	k := Key{}
	var seg bytes.Buffer
	for i := 0; i < len(b); i++ {
		if b[i] != escapeByte {
			seg.WriteByte(b[i])
			continue
		}
		if i+1 >= len(b) {
			return nil, errors.New("truncated key: dangling escape byte")
		}
		i++
		switch b[i] {
		case escapedNull:
			seg.WriteByte(escapeByte)
		case terminatorByte:
			k = append(k, seg.String())
			seg.Reset()
		default:
			return nil, fmt.Errorf("malformed key: unexpected byte 0x%02x after escape", b[i])
		}
	}
	if seg.Len() > 0 {
		return nil, errors.New("truncated key: unterminated segment")
	}
	return k, nil
}

// prefixUpperBound returns the smallest byte slice greater than every key
// that starts with p, or nil if there is no such bound.
func prefixUpperBound(p []byte) []byte {
	end := append([]byte(nil), p...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
