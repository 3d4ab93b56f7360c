package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameLen bounds a single frame's payload, guarding against a corrupt
// length prefix turning into an unbounded allocation.
const MaxFrameLen = 16 * 1024 * 1024

// ReadFrame reads one length-delimited frame: a 4-byte big-endian length
// prefix followed by that many bytes of payload.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameLen {
		return nil, fmt.Errorf("wire: frame length %d exceeds max %d", n, MaxFrameLen)
	}

	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
	}
	return payload, nil
}

// WriteFrame writes payload as one length-delimited frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameLen {
		return fmt.Errorf("wire: frame length %d exceeds max %d", len(payload), MaxFrameLen)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
