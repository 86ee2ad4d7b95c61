// Package tcp implements the connection acceptor: it owns the listening
// socket and runs one session per accepted connection.
package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/fileshare/internal/logging"
	"github.com/dmitrijs2005/fileshare/internal/netx"
	"github.com/dmitrijs2005/fileshare/internal/server/session"
	"github.com/dmitrijs2005/fileshare/internal/storage"
)

// ErrServerClosed is returned by Serve after Shutdown was called.
var ErrServerClosed = errors.New("tcp: server closed")

// DefaultShutdownGrace is how long Serve lets sessions finish after its
// context is cancelled.
const DefaultShutdownGrace = 10 * time.Second

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

type Config struct {
	Session       session.Config
	ShutdownGrace time.Duration
	// KeepAlive is the TCP keep-alive period for accepted connections.
	// Negative disables keep-alive, zero keeps the system default.
	KeepAlive time.Duration
}

func DefaultConfig() Config {
	return Config{
		Session:       session.DefaultConfig(),
		ShutdownGrace: DefaultShutdownGrace,
	}
}

// Server accepts connections and hands each one to its own session.
type Server struct {
	store  storage.Backend
	cfg    Config
	logger logging.Logger

	mu       sync.Mutex
	lis      net.Listener
	sessions map[*session.Session]struct{}
	closing  bool

	wg     sync.WaitGroup
	active atomic.Int64
	total  atomic.Int64

	// sessions run under hardCtx, which is only cancelled when the grace
	// period runs out
	hardCtx    context.Context
	hardCancel context.CancelFunc

	ready chan struct{}
}

func New(store storage.Backend, cfg Config, l logging.Logger) *Server {
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}
	return &Server{
		store:    store,
		cfg:      cfg,
		logger:   l.With("module", "acceptor"),
		sessions: make(map[*session.Session]struct{}),
		ready:    make(chan struct{}),
	}
}

// ListenAndServe binds addr and serves on it until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve accepts connections on lis until ctx is cancelled or Shutdown is
// called. Cancelling ctx starts a graceful shutdown bounded by the
// configured grace period; Serve returns nil once every session has ended.
// After an explicit Shutdown it returns ErrServerClosed.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		lis.Close()
		return ErrServerClosed
	}
	if s.lis != nil {
		s.mu.Unlock()
		return errors.New("tcp: server already serving")
	}
	s.lis = lis
	s.hardCtx, s.hardCancel = context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Unlock()
	close(s.ready)

	stopped := make(chan struct{})
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		select {
		case <-ctx.Done():
		case <-stopped:
			return
		}
		s.logger.Info(ctx, "stopping acceptor", "grace", s.cfg.ShutdownGrace)
		sctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
		defer cancel()
		if err := s.Shutdown(sctx); err != nil {
			s.logger.Warn(ctx, "grace period expired, sessions force closed", "error", err)
		}
	}()

	s.logger.Info(ctx, "accepting connections", "address", lis.Addr().String())
	err := s.acceptLoop(ctx, lis)
	if err != nil {
		// the listener died under us; the sessions still get their grace period
		s.logger.Error(ctx, "listener failed, stopping acceptor", "error", err)
		sctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
		if serr := s.Shutdown(sctx); serr != nil {
			s.logger.Warn(ctx, "grace period expired, sessions force closed", "error", serr)
		}
		cancel()
	}
	close(stopped)
	s.wg.Wait()
	<-shutdownDone

	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return nil
	}
	return ErrServerClosed
}

func (s *Server) acceptLoop(ctx context.Context, lis net.Listener) error {
	backoff := netx.Backoff{Min: minAcceptBackoff, Max: maxAcceptBackoff}
	for {
		conn, err := lis.Accept()
		if err != nil {
			if s.isClosing() {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("accept: %w", err)
			}
			delay := backoff.Next()
			s.logger.Warn(ctx, "accept failed, retrying", "error", err, "backoff", delay)
			time.Sleep(delay)
			continue
		}
		backoff.Reset()

		if err := netx.TuneTCP(conn, s.cfg.KeepAlive); err != nil {
			s.logger.Warn(ctx, "connection setup failed", "peer", conn.RemoteAddr().String(), "error", err)
			conn.Close()
			continue
		}
		s.start(conn)
	}
}

func (s *Server) start(conn net.Conn) {
	sess := session.New(conn, s.store, s.cfg.Session, s.logger)

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.sessions[sess] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	active := s.active.Add(1)
	s.total.Add(1)
	s.logger.Info(s.hardCtx, "connection accepted",
		"peer", conn.RemoteAddr().String(), "session_id", sess.ID(), "active", active)

	go func() {
		defer s.wg.Done()
		err := sess.Serve(s.hardCtx)

		s.mu.Lock()
		delete(s.sessions, sess)
		s.mu.Unlock()
		active := s.active.Add(-1)

		if err != nil {
			s.logger.Warn(s.hardCtx, "session ended with error", "session_id", sess.ID(), "error", err, "active", active)
		} else {
			s.logger.Debug(s.hardCtx, "session ended", "session_id", sess.ID(), "active", active)
		}
	}()
}

// Shutdown stops accepting, asks every session to finish its current
// request and waits for them. When ctx expires first, storage operations are
// cancelled and the remaining connections are closed; ctx.Err() is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return s.wait(ctx)
	}
	s.closing = true
	var err error
	if s.lis != nil {
		if cerr := s.lis.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}
	for sess := range s.sessions {
		sess.Drain()
	}
	s.mu.Unlock()

	if werr := s.wait(ctx); werr != nil {
		return werr
	}
	return err
}

func (s *Server) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	s.mu.Lock()
	if s.hardCancel != nil {
		s.hardCancel()
	}
	for sess := range s.sessions {
		sess.Close()
	}
	s.mu.Unlock()
	<-done
	return ctx.Err()
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// Addr blocks until Serve has a listener and returns its address. It never
// returns if Serve is never called.
func (s *Server) Addr() net.Addr {
	<-s.ready
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lis.Addr()
}

// ActiveSessions is the number of connections currently being served.
func (s *Server) ActiveSessions() int64 { return s.active.Load() }

// TotalSessions counts every connection accepted since start.
func (s *Server) TotalSessions() int64 { return s.total.Load() }
