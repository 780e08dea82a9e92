package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrMalformed marks a frame that was read whole but failed validation.
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownEvent marks a well-formed frame with an event this side does not speak.
	ErrUnknownEvent = fmt.Errorf("%w: unknown event", ErrMalformed)
	// ErrFileTooLarge marks a descriptor whose size cannot be chunked.
	ErrFileTooLarge = fmt.Errorf("%w: file too large", ErrMalformed)
	// ErrFrameTooLarge is fatal for the stream: the payload cannot be skipped safely.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
)

// Codec writes and reads length-prefixed JSON frames: a big-endian uint32
// byte count followed by one JSON object.
type Codec struct {
	maxFrame uint32
}

func NewCodec() *Codec {
	return &Codec{maxFrame: MaxFrameSize}
}

// Encode writes msg to w as one frame in a single Write.
func (c *Codec) Encode(w io.Writer, msg Message) error {
	data, err := c.EncodeToBytes(msg)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// EncodeToBytes returns a complete frame so it can be written in one call.
func (c *Codec) EncodeToBytes(msg Message) ([]byte, error) {
	body, err := c.Marshal(msg)
	if err != nil {
		return nil, err
	}
	if uint32(len(body)) > c.maxFrame {
		return nil, ErrFrameTooLarge
	}

	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[4:], body)
	return buf, nil
}

// Marshal returns the bare JSON object for msg.
func (c *Codec) Marshal(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil message", ErrMalformed)
	}
	return json.Marshal(msg.wire())
}

// Decode reads one frame. Errors wrapping ErrMalformed leave r positioned at
// the next frame; any other error means the stream is unusable.
func (c *Codec) Decode(r io.Reader) (Message, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	if length > c.maxFrame {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return c.Unmarshal(body)
}

// Unmarshal decodes a bare JSON object, rejecting unknown fields and
// anything missing for its event.
func (c *Codec) Unmarshal(body []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()

	var f frame
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", ErrMalformed)
	}
	return f.message()
}
