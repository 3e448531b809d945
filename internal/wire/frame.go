package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// bodyHeaderLen is the header length after the length prefix:
	// category + protocol id + request number.
	bodyHeaderLen = 8

	// MaxFrameLen bounds the length prefix.  Larger frames are a protocol
	// anomaly and close the connection.
	MaxFrameLen = 1 << 20
)

var (
	ErrShortFrame    = errors.New("wire: frame shorter than header")
	ErrFrameTooLarge = errors.New("wire: frame exceeds maximum length")
	ErrBadCategory   = errors.New("wire: unknown frame category")
)

// Frame is one wire message.  The length prefix counts everything after
// itself: the body header plus the payload.
type Frame struct {
	Category Category
	Protocol ProtocolID
	ReqNum   uint32
	Payload  []byte
}

// ReadFrame reads and decodes one frame.
func ReadFrame(r io.Reader) (*Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}

	total := binary.BigEndian.Uint32(lenBuf[:])
	if total < bodyHeaderLen {
		return nil, ErrShortFrame
	}
	if total > MaxFrameLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, total)
	}

	body := make([]byte, total)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	f := &Frame{
		Category: Category(binary.BigEndian.Uint16(body[0:2])),
		Protocol: ProtocolID(binary.BigEndian.Uint16(body[2:4])),
		ReqNum:   binary.BigEndian.Uint32(body[4:8]),
		Payload:  body[8:],
	}

	switch f.Category {
	case CategoryRequest, CategoryResponse, CategoryNack:
	default:
		return nil, fmt.Errorf("%w: %d", ErrBadCategory, uint16(f.Category))
	}

	return f, nil
}

// Encode returns the full wire form of the frame, length prefix included.
func (f *Frame) Encode() []byte {
	total := bodyHeaderLen + len(f.Payload)
	buf := make([]byte, 4+total)
	binary.BigEndian.PutUint32(buf[0:4], uint32(total))
	binary.BigEndian.PutUint16(buf[4:6], uint16(f.Category))
	binary.BigEndian.PutUint16(buf[6:8], uint16(f.Protocol))
	binary.BigEndian.PutUint32(buf[8:12], f.ReqNum)
	copy(buf[12:], f.Payload)
	return buf
}

// WriteFrame encodes and writes one frame.
func WriteFrame(w io.Writer, f *Frame) error {
	if _, err := w.Write(f.Encode()); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// Nack builds a negative-acknowledgement frame echoing the request number of
// the frame that failed.
func Nack(reqNum uint32) *Frame {
	return &Frame{
		Category: CategoryNack,
		Protocol: ProtoNone,
		ReqNum:   reqNum,
	}
}
