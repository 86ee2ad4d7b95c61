package tcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/fileshare/internal/client/client"
	"github.com/dmitrijs2005/fileshare/internal/common"
	"github.com/dmitrijs2005/fileshare/internal/logging"
	"github.com/dmitrijs2005/fileshare/internal/protocol"
	"github.com/dmitrijs2005/fileshare/internal/storage/fsstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type running struct {
	srv    *Server
	store  *fsstore.Store
	cancel context.CancelFunc
	done   chan error
}

func startServer(t *testing.T, cfg Config) *running {
	t.Helper()
	store, err := fsstore.New(context.Background(), t.TempDir(), 0, logging.Discard())
	require.NoError(t, err)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := New(store, cfg, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()

	r := &running{srv: srv, store: store, cancel: cancel, done: done}
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return r
}

func dial(t *testing.T, r *running) *client.Client {
	t.Helper()
	c, err := client.Dial(context.Background(), r.srv.Addr().String(), client.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestServe_UploadDownloadAcrossConnections(t *testing.T) {
	r := startServer(t, DefaultConfig())

	a := dial(t, r)
	_, err := a.Upload(testCtx(t), "a.txt", strings.NewReader("hello"), 5)
	require.NoError(t, err)

	b := dial(t, r)
	var buf bytes.Buffer
	n, err := b.Download(testCtx(t), "a.txt", &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, "hello", buf.String())
}

func TestServe_ConcurrentUploadsSameName(t *testing.T) {
	r := startServer(t, DefaultConfig())

	contents := [][]byte{
		bytes.Repeat([]byte("A"), 300_000),
		bytes.Repeat([]byte("B"), 200_000),
	}

	var wg sync.WaitGroup
	errs := make([]error, len(contents))
	for i, content := range contents {
		c := dial(t, r)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.Upload(testCtx(t), "x", bytes.NewReader(content), int64(len(content)))
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	rc, _, err := r.store.Get(context.Background(), "x")
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)

	if !bytes.Equal(got, contents[0]) && !bytes.Equal(got, contents[1]) {
		t.Fatalf("stored content is a splice of %d bytes", len(got))
	}
}

func TestServe_ManyClients(t *testing.T) {
	r := startServer(t, DefaultConfig())

	var wg sync.WaitGroup
	for i := range 10 {
		c := dial(t, r)
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := fmt.Sprintf("file-%02d", i)
			_, err := c.Upload(testCtx(t), name, strings.NewReader(name), int64(len(name)))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	entries, err := dial(t, r).List(testCtx(t))
	require.NoError(t, err)
	assert.Len(t, entries, 10)
	assert.Equal(t, "file-00", entries[0].Name)
}

func TestServe_OversizedFrameDoesNotAffectOthers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Session.Limits.MaxPayloadBytes = 1024
	cfg.Session.ChunkSize = 512
	r := startServer(t, cfg)

	good := dial(t, r)

	conn, err := net.Dial("tcp", r.srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte{byte(protocol.CmdList), 0x7f, 0, 0, 0})
	require.NoError(t, err)

	dec := protocol.NewDecoder(conn, protocol.DefaultLimits())
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	f, err := dec.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, protocol.CmdError, f.Command)
	code, _, err := protocol.DecodeError(f.Payload)
	require.NoError(t, err)
	assert.Equal(t, protocol.CodeMalformedFrame, code)

	_, err = dec.Next()
	assert.ErrorIs(t, err, io.EOF)

	_, err = good.List(testCtx(t))
	assert.NoError(t, err)

	extra := dial(t, r)
	_, err = extra.List(testCtx(t))
	assert.NoError(t, err)
}

func TestShutdown_StopsAcceptingAndDrainsIdle(t *testing.T) {
	r := startServer(t, DefaultConfig())
	addr := r.srv.Addr().String()

	c := dial(t, r)
	_, err := c.List(testCtx(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.srv.Shutdown(ctx))
	assert.Zero(t, r.srv.ActiveSessions())

	select {
	case err := <-r.done:
		assert.ErrorIs(t, err, ErrServerClosed)
		r.done <- nil
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}

	_, err = net.DialTimeout("tcp", addr, time.Second)
	assert.Error(t, err)

	_, err = c.List(testCtx(t))
	assert.Error(t, err)
}

// beginUpload opens a raw connection, makes sure its session is serving and
// leaves an upload of name half sent.
func beginUpload(t *testing.T, r *running, name string, size uint64) (net.Conn, *protocol.Encoder, *protocol.Decoder) {
	t.Helper()
	conn, err := net.Dial("tcp", r.srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	enc := protocol.NewEncoder(conn, protocol.DefaultLimits())
	dec := protocol.NewDecoder(conn, protocol.DefaultLimits())
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	require.NoError(t, enc.WriteFrame(protocol.Frame{Command: protocol.CmdList}))
	require.NoError(t, enc.Flush())
	f, err := dec.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, protocol.CmdOK, f.Command)

	header, err := protocol.EncodeUpload(name, size)
	require.NoError(t, err)
	require.NoError(t, enc.WriteFrame(protocol.Frame{Command: protocol.CmdUpload, Payload: header}))
	require.NoError(t, enc.WriteFrame(protocol.Frame{Command: protocol.CmdData, Payload: []byte("abc")}))
	require.NoError(t, enc.Flush())

	// give the session time to pick up the upload
	time.Sleep(100 * time.Millisecond)
	return conn, enc, dec
}

func TestShutdown_GraceLetsUploadFinish(t *testing.T) {
	r := startServer(t, DefaultConfig())
	conn, enc, dec := beginUpload(t, r, "slow", 6)

	shut := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shut <- r.srv.Shutdown(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, enc.WriteFrame(protocol.Frame{Command: protocol.CmdData, Payload: []byte("def")}))
	require.NoError(t, enc.Flush())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	f, err := dec.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, protocol.CmdOK, f.Command)

	_, err = dec.Next()
	assert.ErrorIs(t, err, io.EOF)
	require.NoError(t, <-shut)

	rc, size, err := r.store.Get(context.Background(), "slow")
	require.NoError(t, err)
	rc.Close()
	assert.Equal(t, int64(6), size)
}

func TestShutdown_ForceClosesAfterGrace(t *testing.T) {
	r := startServer(t, DefaultConfig())

	beginUpload(t, r, "stuck", 100)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := r.srv.Shutdown(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	assert.Zero(t, r.srv.ActiveSessions())

	_, _, err = r.store.Get(context.Background(), "stuck")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestServe_ContextCancelReturnsNil(t *testing.T) {
	store, err := fsstore.New(context.Background(), t.TempDir(), 0, logging.Discard())
	require.NoError(t, err)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := New(store, DefaultConfig(), logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()

	select {
	case err := <-done:
		t.Fatalf("server exited too early: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after context cancel")
	}
}

func TestListenAndServe_BadAddress(t *testing.T) {
	store, err := fsstore.New(context.Background(), t.TempDir(), 0, logging.Discard())
	require.NoError(t, err)

	srv := New(store, DefaultConfig(), logging.Discard())
	err = srv.ListenAndServe(context.Background(), "127.0.0.1:99999")
	assert.Error(t, err)
}

// flakyListener fails a few accepts before delegating.
type flakyListener struct {
	net.Listener
	mu    sync.Mutex
	fails int
}

func (l *flakyListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	if l.fails > 0 {
		l.fails--
		l.mu.Unlock()
		return nil, errors.New("too many open files")
	}
	l.mu.Unlock()
	return l.Listener.Accept()
}

func TestServe_AcceptErrorsAreIsolated(t *testing.T) {
	store, err := fsstore.New(context.Background(), t.TempDir(), 0, logging.Discard())
	require.NoError(t, err)
	inner, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := New(store, DefaultConfig(), logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, &flakyListener{Listener: inner, fails: 3}) }()
	defer func() {
		cancel()
		<-done
	}()

	c, err := client.Dial(testCtx(t), srv.Addr().String(), client.DefaultOptions())
	require.NoError(t, err)
	defer c.Close()
	_, err = c.List(testCtx(t))
	assert.NoError(t, err)
	assert.Equal(t, int64(1), srv.TotalSessions())
}

func TestServe_ListenerFailureDrainsSessions(t *testing.T) {
	store, err := fsstore.New(context.Background(), t.TempDir(), 0, logging.Discard())
	require.NoError(t, err)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Session.IdleTimeout = 0
	srv := New(store, cfg, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()

	c, err := client.Dial(testCtx(t), srv.Addr().String(), client.DefaultOptions())
	require.NoError(t, err)
	defer c.Close()
	_, err = c.List(testCtx(t))
	require.NoError(t, err)
	require.Equal(t, int64(1), srv.ActiveSessions())

	// closed behind the server's back, not through Shutdown
	require.NoError(t, lis.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, net.ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatalf("Serve still running after its listener failed, active=%d", srv.ActiveSessions())
	}
	assert.Zero(t, srv.ActiveSessions())

	_, err = c.List(testCtx(t))
	assert.Error(t, err)
}

func TestAddr_WaitsForServe(t *testing.T) {
	store, err := fsstore.New(context.Background(), t.TempDir(), 0, logging.Discard())
	require.NoError(t, err)
	srv := New(store, DefaultConfig(), logging.Discard())

	got := make(chan net.Addr, 1)
	go func() { got <- srv.Addr() }()

	select {
	case <-got:
		t.Fatal("Addr returned before Serve")
	case <-time.After(50 * time.Millisecond):
	}

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()
	defer func() {
		cancel()
		<-done
	}()

	select {
	case addr := <-got:
		assert.Equal(t, lis.Addr().String(), addr.String())
	case <-time.After(5 * time.Second):
		t.Fatal("Addr did not return once Serve started")
	}
}
