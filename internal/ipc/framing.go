package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	lastFragment = 0x80000000
	lengthMask   = 0x7FFFFFFF

	// DefaultMaxMessageSize bounds a reassembled message.
	DefaultMaxMessageSize = 1 << 20
)

// ErrMessageTooLarge is returned when a message exceeds the size limit.
var ErrMessageTooLarge = errors.New("ipc: message too large")

// WriteFrame writes body as a single last fragment.
func WriteFrame(w io.Writer, body []byte) error {
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame[0:4], lastFragment|uint32(len(body)))
	copy(frame[4:], body)
	_, err := w.Write(frame)
	return err
}

// ReadFrame reads fragments until the last one and returns the reassembled
// message. maxSize <= 0 selects DefaultMaxMessageSize.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}

	var msg []byte
	for {
		var headerBuf [4]byte
		if _, err := io.ReadFull(r, headerBuf[:]); err != nil {
			if len(msg) > 0 && errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}

		headerVal := binary.BigEndian.Uint32(headerBuf[:])
		length := int(headerVal & lengthMask)
		if len(msg)+length > maxSize {
			return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(msg)+length)
		}

		start := len(msg)
		msg = append(msg, make([]byte, length)...)
		if _, err := io.ReadFull(r, msg[start:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}

		if headerVal&lastFragment != 0 {
			return msg, nil
		}
	}
}
