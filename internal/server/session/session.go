// Package session owns one accepted connection end to end: it reads request
// frames, dispatches them to the storage backend and writes responses, one
// request at a time and in arrival order.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/fileshare/internal/common"
	"github.com/dmitrijs2005/fileshare/internal/logging"
	"github.com/dmitrijs2005/fileshare/internal/protocol"
	"github.com/dmitrijs2005/fileshare/internal/storage"
	"github.com/google/uuid"
)

// State is the lifecycle stage of a session.
type State int32

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Config tunes a session.
type Config struct {
	Limits protocol.Limits
	// ChunkSize bounds the DATA frames sent for downloads.
	ChunkSize int
	// IdleTimeout closes a session that sends nothing for this long. It also
	// bounds each DATA frame read and each response write. Zero disables it.
	IdleTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Limits:      protocol.DefaultLimits(),
		ChunkSize:   protocol.DefaultChunkSize,
		IdleTimeout: 5 * time.Minute,
	}
}

// errDrained ends the request loop after a Drain.
var errDrained = errors.New("session drained")

// Session is the server side of one client connection.
type Session struct {
	id     string
	conn   net.Conn
	store  storage.Backend
	cfg    Config
	logger logging.Logger

	dec *protocol.Decoder
	enc *protocol.Encoder
	buf []byte

	state atomic.Int32

	mu       sync.Mutex
	idle     bool
	draining bool

	requests int
	bytesIn  int64
	bytesOut int64
}

// New wraps conn. The session does nothing until Serve is called.
func New(conn net.Conn, store storage.Backend, cfg Config, l logging.Logger) *Session {
	if cfg.ChunkSize <= 0 || uint64(cfg.ChunkSize) > uint64(cfg.Limits.MaxPayloadBytes) {
		cfg.ChunkSize = int(min(uint64(protocol.DefaultChunkSize), uint64(cfg.Limits.MaxPayloadBytes)))
	}
	id := uuid.NewString()
	return &Session{
		id:     id,
		conn:   conn,
		store:  store,
		cfg:    cfg,
		logger: l.With("module", "session", "session_id", id, "peer", conn.RemoteAddr().String()),
		dec:    protocol.NewDecoder(conn, cfg.Limits),
		enc:    protocol.NewEncoder(conn, cfg.Limits),
		buf:    make([]byte, cfg.ChunkSize),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return State(s.state.Load()) }

// Drain asks the session to stop after the request in progress. A session
// waiting for its next request is woken up and ends immediately.
func (s *Session) Drain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draining = true
	if s.idle {
		_ = s.conn.SetReadDeadline(time.Now())
	}
}

// Close drops the connection immediately, aborting any request in progress.
func (s *Session) Close() error {
	return s.conn.Close()
}

// Serve runs the request loop until the client sends CLOSE, the peer goes
// away, the session is drained or a fatal error occurs. ctx bounds storage
// operations; cancelling it aborts an in-flight upload without publishing it.
// The returned error is nil for orderly endings.
func (s *Session) Serve(ctx context.Context) (err error) {
	s.logger.Debug(ctx, "session opened")
	defer func() {
		s.state.Store(int32(StateClosing))
		closeErr := s.conn.Close()
		s.state.Store(int32(StateClosed))
		if err == nil && closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
			err = closeErr
		}
		s.logger.Info(ctx, "session closed",
			"requests", s.requests, "bytes_in", s.bytesIn, "bytes_out", s.bytesOut, "cause", causeOf(err))
	}()

	for {
		h, err := s.nextRequest()
		switch {
		case err == nil:
		case errors.Is(err, errDrained), errors.Is(err, io.EOF):
			return nil
		case errors.Is(err, common.ErrUnknownCommand):
			s.logger.Warn(ctx, "unknown command", "error", err)
			if err := s.respond(protocol.ErrorFrame(err)); err != nil {
				return err
			}
			continue
		case isTimeout(err):
			return fmt.Errorf("idle timeout after %s: %w", s.cfg.IdleTimeout, err)
		case common.IsFatal(err):
			return s.abort(err)
		default:
			return err
		}

		s.requests++
		done, err := s.dispatch(ctx, h)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// nextRequest waits for the next frame header with the idle deadline armed.
func (s *Session) nextRequest() (protocol.Header, error) {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return protocol.Header{}, errDrained
	}
	s.armRead()
	s.idle = true
	s.mu.Unlock()

	h, err := s.dec.Next()

	s.mu.Lock()
	s.idle = false
	draining := s.draining
	if err == nil {
		// a Drain that raced the header read may have expired the deadline;
		// the accepted request runs on a fresh one
		s.armRead()
	}
	s.mu.Unlock()

	if err != nil && draining && isTimeout(err) {
		return h, errDrained
	}
	return h, err
}

func (s *Session) dispatch(ctx context.Context, h protocol.Header) (done bool, err error) {
	if !h.Command.IsRequest() {
		return false, s.abort(fmt.Errorf("unexpected %s frame: %w", h.Command, common.ErrProtocolViolation))
	}

	payload := make([]byte, h.Length)
	if _, err := io.ReadFull(s.dec.Payload(), payload); err != nil {
		if common.IsFatal(err) {
			return false, s.abort(err)
		}
		return false, err
	}

	log := s.logger.With("command", h.Command.String())
	switch h.Command {
	case protocol.CmdList:
		return false, s.handleList(ctx, log)
	case protocol.CmdUpload:
		return false, s.handleUpload(ctx, log, payload)
	case protocol.CmdDownload:
		return false, s.handleDownload(ctx, log, string(payload))
	case protocol.CmdDelete:
		return false, s.handleDelete(ctx, log, string(payload))
	case protocol.CmdClose:
		log.Debug(ctx, "close requested")
		return true, s.respond(protocol.Frame{Command: protocol.CmdOK})
	}
	return false, s.abort(fmt.Errorf("unhandled %s: %w", h.Command, common.ErrProtocolViolation))
}

// respond writes frames and flushes them. Errors are transport failures and
// end the session.
func (s *Session) respond(frames ...protocol.Frame) error {
	s.armWrite()
	for _, f := range frames {
		if err := s.enc.WriteFrame(f); err != nil {
			return err
		}
	}
	return s.enc.Flush()
}

// fail reports a recoverable operation error to the client.
func (s *Session) fail(ctx context.Context, log logging.Logger, err error) error {
	if errors.Is(err, common.ErrIOFailure) {
		log.Error(ctx, "operation failed", "error", err)
	} else {
		log.Info(ctx, "operation rejected", "error", err)
	}
	return s.respond(protocol.ErrorFrame(err))
}

// abort sends a best-effort ERROR for a fatal protocol error and returns the
// error so the loop ends.
func (s *Session) abort(err error) error {
	s.logger.Warn(context.Background(), "protocol error, closing session", "error", err)
	_ = s.respond(protocol.ErrorFrame(err))
	return err
}

func (s *Session) armRead() {
	var deadline time.Time
	if s.cfg.IdleTimeout > 0 {
		deadline = time.Now().Add(s.cfg.IdleTimeout)
	}
	_ = s.conn.SetReadDeadline(deadline)
}

func (s *Session) armWrite() {
	if s.cfg.IdleTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.IdleTimeout))
	}
}

func isTimeout(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}

func causeOf(err error) string {
	if err == nil {
		return "orderly"
	}
	return err.Error()
}
