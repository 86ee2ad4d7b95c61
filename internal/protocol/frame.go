package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/fileshare/internal/common"
)

// Command identifies the kind of a frame.
type Command byte

const (
	CmdList     Command = 0x01
	CmdUpload   Command = 0x02
	CmdDownload Command = 0x03
	CmdDelete   Command = 0x04
	CmdClose    Command = 0x05

	CmdOK    Command = 0x81
	CmdError Command = 0x82
	CmdData  Command = 0x83
)

func (c Command) String() string {
	switch c {
	case CmdList:
		return "LIST"
	case CmdUpload:
		return "UPLOAD"
	case CmdDownload:
		return "DOWNLOAD"
	case CmdDelete:
		return "DELETE"
	case CmdClose:
		return "CLOSE"
	case CmdOK:
		return "OK"
	case CmdError:
		return "ERROR"
	case CmdData:
		return "DATA"
	}
	return fmt.Sprintf("Command(0x%02x)", byte(c))
}

// Known reports whether c is part of the protocol.
func (c Command) Known() bool {
	switch c {
	case CmdList, CmdUpload, CmdDownload, CmdDelete, CmdClose, CmdOK, CmdError, CmdData:
		return true
	}
	return false
}

// IsRequest reports whether c is sent by clients to start an operation.
func (c Command) IsRequest() bool {
	return c >= CmdList && c <= CmdClose
}

const (
	// HeaderLen is the fixed frame header size.
	HeaderLen = 5

	DefaultMaxPayload = 16 << 20
	DefaultChunkSize  = 64 << 10
)

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint32
}

func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: DefaultMaxPayload}
}

// Header is the decoded fixed part of a frame.
type Header struct {
	Command Command
	Length  uint32
}

// Frame is one complete message. It only exists while being encoded or
// decoded.
type Frame struct {
	Command Command
	Payload []byte
}

// Encode returns the wire bytes of f.
func Encode(f Frame) []byte {
	buf := make([]byte, HeaderLen+len(f.Payload))
	putHeader(buf, f.Command, uint32(len(f.Payload)))
	copy(buf[HeaderLen:], f.Payload)
	return buf
}

func putHeader(b []byte, cmd Command, n uint32) {
	b[0] = byte(cmd)
	binary.BigEndian.PutUint32(b[1:HeaderLen], n)
}

// Encoder writes frames to a buffered stream. Callers Flush once a
// response is complete.
type Encoder struct {
	w      *bufio.Writer
	limits Limits
	hdr    [HeaderLen]byte
}

func NewEncoder(w io.Writer, limits Limits) *Encoder {
	return &Encoder{w: bufio.NewWriterSize(w, DefaultChunkSize), limits: limits}
}

// WriteFrame buffers f. Payloads above the limit are refused before anything
// is written.
func (e *Encoder) WriteFrame(f Frame) error {
	if uint64(len(f.Payload)) > uint64(e.limits.MaxPayloadBytes) {
		return fmt.Errorf("encode %s with %d bytes: %w", f.Command, len(f.Payload), common.ErrMalformedFrame)
	}
	putHeader(e.hdr[:], f.Command, uint32(len(f.Payload)))
	if _, err := e.w.Write(e.hdr[:]); err != nil {
		return ioFailure(err)
	}
	if _, err := e.w.Write(f.Payload); err != nil {
		return ioFailure(err)
	}
	return nil
}

// Flush pushes buffered frames to the underlying writer.
func (e *Encoder) Flush() error {
	if err := e.w.Flush(); err != nil {
		return ioFailure(err)
	}
	return nil
}

// Decoder reads frames from a stream. After Next, the payload of the current
// frame is available through Payload; anything left unread is discarded by
// the following call to Next.
type Decoder struct {
	r         *bufio.Reader
	limits    Limits
	remaining uint32
	hdr       [HeaderLen]byte
}

func NewDecoder(r io.Reader, limits Limits) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, DefaultChunkSize), limits: limits}
}

// Next blocks until the next frame header arrives.
//
// It returns io.EOF when the stream ends cleanly between frames,
// common.ErrTruncated when it ends inside one, common.ErrMalformedFrame when
// the declared length exceeds the limit and common.ErrUnknownCommand (after
// discarding the payload, so the stream stays usable) for unrecognised
// command bytes.
func (d *Decoder) Next() (Header, error) {
	if err := d.skip(); err != nil {
		return Header{}, err
	}

	if _, err := io.ReadFull(d.r, d.hdr[:]); err != nil {
		switch {
		case errors.Is(err, io.EOF):
			return Header{}, io.EOF
		case errors.Is(err, io.ErrUnexpectedEOF):
			return Header{}, fmt.Errorf("frame header: %w", common.ErrTruncated)
		}
		return Header{}, ioFailure(err)
	}

	h := Header{
		Command: Command(d.hdr[0]),
		Length:  binary.BigEndian.Uint32(d.hdr[1:HeaderLen]),
	}
	if h.Length > d.limits.MaxPayloadBytes {
		return h, fmt.Errorf("payload length %d exceeds limit %d: %w", h.Length, d.limits.MaxPayloadBytes, common.ErrMalformedFrame)
	}
	d.remaining = h.Length
	if !h.Command.Known() {
		if err := d.skip(); err != nil {
			return h, err
		}
		return h, fmt.Errorf("command byte 0x%02x: %w", byte(h.Command), common.ErrUnknownCommand)
	}
	return h, nil
}

// Payload returns a reader over the unread payload of the current frame. It
// reports io.EOF at the frame boundary and common.ErrTruncated if the stream
// ends first.
func (d *Decoder) Payload() io.Reader {
	return payloadReader{d: d}
}

// Remaining is the number of unread payload bytes in the current frame.
func (d *Decoder) Remaining() uint32 {
	return d.remaining
}

// ReadFrame reads the next frame including its whole payload. It is meant
// for control frames; content should be consumed through DataReader.
func (d *Decoder) ReadFrame() (Frame, error) {
	h, err := d.Next()
	if err != nil {
		return Frame{Command: h.Command}, err
	}
	payload := make([]byte, h.Length)
	if _, err := io.ReadFull(d.Payload(), payload); err != nil {
		return Frame{Command: h.Command}, err
	}
	return Frame{Command: h.Command, Payload: payload}, nil
}

func (d *Decoder) skip() error {
	if d.remaining == 0 {
		return nil
	}
	_, err := io.Copy(io.Discard, d.Payload())
	return err
}

type payloadReader struct {
	d *Decoder
}

func (p payloadReader) Read(b []byte) (int, error) {
	d := p.d
	if d.remaining == 0 {
		return 0, io.EOF
	}
	if uint64(len(b)) > uint64(d.remaining) {
		b = b[:d.remaining]
	}
	n, err := d.r.Read(b)
	d.remaining -= uint32(n)
	if err != nil {
		if errors.Is(err, io.EOF) {
			if d.remaining == 0 {
				return n, nil
			}
			return n, fmt.Errorf("%s payload: %w", Command(d.hdr[0]), common.ErrTruncated)
		}
		return n, ioFailure(err)
	}
	return n, nil
}

func ioFailure(err error) error {
	return fmt.Errorf("%w: %w", common.ErrIOFailure, err)
}
