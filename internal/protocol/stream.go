package protocol

import (
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/dmitrijs2005/fileshare/internal/common"
)

// DataReader exposes the DATA frames that follow an UPLOAD header as one
// byte stream of exactly the declared size. It reads frames lazily, one at a
// time, so the whole upload never sits in memory.
//
// Any frame other than DATA before the declared size is reached, or a DATA
// frame that would overrun it, fails with common.ErrProtocolViolation.
type DataReader struct {
	dec       *Decoder
	remaining uint64
	err       error

	// BeforeFrame, when set, runs before each DATA header is read. Sessions
	// use it to refresh the connection's read deadline.
	BeforeFrame func()
}

func NewDataReader(dec *Decoder, total uint64) *DataReader {
	return &DataReader{dec: dec, remaining: total}
}

func (r *DataReader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	if r.remaining == 0 {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	for r.dec.Remaining() == 0 {
		if r.BeforeFrame != nil {
			r.BeforeFrame()
		}
		h, err := r.dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = fmt.Errorf("stream ended with %d upload bytes outstanding: %w", r.remaining, common.ErrTruncated)
			}
			return 0, r.fail(err)
		}
		if h.Command != CmdData {
			return 0, r.fail(fmt.Errorf("%s frame inside upload: %w", h.Command, common.ErrProtocolViolation))
		}
		if uint64(h.Length) > r.remaining {
			return 0, r.fail(fmt.Errorf("DATA frame of %d bytes with %d outstanding: %w", h.Length, r.remaining, common.ErrProtocolViolation))
		}
	}

	if uint64(len(p)) > r.remaining {
		p = p[:r.remaining]
	}
	n, err := r.dec.Payload().Read(p)
	r.remaining -= uint64(n)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, r.fail(err)
	}
	return n, nil
}

// Remaining is the number of declared bytes not yet read.
func (r *DataReader) Remaining() uint64 {
	return r.remaining
}

// Err reports the stream-level failure that stopped the reader, if any.
// A nil Err with Remaining > 0 means the consumer stopped early and the rest
// can still be drained.
func (r *DataReader) Err() error {
	return r.err
}

// Drain discards the outstanding declared bytes.
func (r *DataReader) Drain() error {
	_, err := io.Copy(io.Discard, r)
	return err
}

func (r *DataReader) fail(err error) error {
	r.err = err
	return err
}

// Chunks yields successive chunks read from r into buf until EOF. The
// sequence is lazy and single use: each yielded slice aliases buf and is only
// valid until the next iteration. A read error is yielded once with a nil
// chunk and ends the sequence.
func Chunks(r io.Reader, buf []byte) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for {
			n, err := io.ReadFull(r, buf)
			if n > 0 {
				if !yield(buf[:n], nil) {
					return
				}
			}
			switch {
			case err == nil:
				continue
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
				return
			default:
				yield(nil, err)
				return
			}
		}
	}
}

// DataWriter splits everything written to it into DATA frames of at most
// chunk bytes. It is the sending half of an upload.
type DataWriter struct {
	enc   *Encoder
	chunk int
}

func NewDataWriter(enc *Encoder, chunk int) *DataWriter {
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	return &DataWriter{enc: enc, chunk: chunk}
}

func (w *DataWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		n := min(len(p), w.chunk)
		if err := w.enc.WriteFrame(Frame{Command: CmdData, Payload: p[:n]}); err != nil {
			return written, err
		}
		written += n
		p = p[n:]
	}
	return written, nil
}
