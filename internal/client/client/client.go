package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/dmitrijs2005/fileshare/internal/common"
	"github.com/dmitrijs2005/fileshare/internal/protocol"
)

type Options struct {
	Limits    protocol.Limits
	ChunkSize int
	// DialTimeout bounds connection setup when ctx has no deadline.
	DialTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		Limits:      protocol.DefaultLimits(),
		ChunkSize:   protocol.DefaultChunkSize,
		DialTimeout: 10 * time.Second,
	}
}

type Client struct {
	conn   net.Conn
	enc    *protocol.Encoder
	dec    *protocol.Decoder
	chunk  int
	mu     sync.Mutex
	broken error
}

// Dial connects to a server at addr.
func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
	d := net.Dialer{Timeout: opts.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return New(conn, opts), nil
}

// New wraps an established connection.
func New(conn net.Conn, opts Options) *Client {
	if opts.Limits.MaxPayloadBytes == 0 {
		opts.Limits = protocol.DefaultLimits()
	}
	if opts.ChunkSize <= 0 || uint64(opts.ChunkSize) > uint64(opts.Limits.MaxPayloadBytes) {
		opts.ChunkSize = int(min(uint64(protocol.DefaultChunkSize), uint64(opts.Limits.MaxPayloadBytes)))
	}
	return &Client{
		conn:  conn,
		enc:   protocol.NewEncoder(conn, opts.Limits),
		dec:   protocol.NewDecoder(conn, opts.Limits),
		chunk: opts.ChunkSize,
	}
}

// RemoteAddr is the server address.
func (c *Client) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Err reports why the connection became unusable, or nil while it still
// accepts requests.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.broken
}

// List returns the files offered by the server, sorted by name.
func (c *Client) List(ctx context.Context) ([]protocol.Entry, error) {
	var entries []protocol.Entry
	err := c.do(ctx, func() error {
		f, err := c.roundTrip(protocol.Frame{Command: protocol.CmdList})
		if err != nil {
			return err
		}
		entries, err = protocol.DecodeList(f.Payload)
		return err
	})
	return entries, err
}

// Upload sends size bytes read from r under name and returns the size the
// server stored. r must provide at least size bytes.
func (c *Client) Upload(ctx context.Context, name string, r io.Reader, size int64) (uint64, error) {
	if size < 0 {
		return 0, fmt.Errorf("negative upload size %d", size)
	}
	header, err := protocol.EncodeUpload(name, uint64(size))
	if err != nil {
		return 0, err
	}

	var stored uint64
	err = c.do(ctx, func() error {
		if err := c.enc.WriteFrame(protocol.Frame{Command: protocol.CmdUpload, Payload: header}); err != nil {
			return c.fail(err)
		}
		n, err := io.CopyN(protocol.NewDataWriter(c.enc, c.chunk), r, size)
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = fmt.Errorf("source ended after %d of %d bytes: %w", n, size, common.ErrIncompleteWrite)
			}
			// the server still waits for the declared bytes
			return c.fail(err)
		}
		if err := c.enc.Flush(); err != nil {
			return c.transportFail(err)
		}
		f, err := c.response()
		if err != nil {
			return err
		}
		stored, err = protocol.DecodeSize(f.Payload)
		return err
	})
	return stored, err
}

// Download writes the content of name to w and returns the number of bytes
// received. If w fails the rest of the transfer is still consumed so the
// connection stays usable.
func (c *Client) Download(ctx context.Context, name string, w io.Writer) (int64, error) {
	return c.DownloadFunc(ctx, name, func(int64) (io.Writer, error) { return w, nil })
}

// DownloadFunc is Download with the destination chosen once the size is
// known, e.g. to preallocate or to show progress.
func (c *Client) DownloadFunc(ctx context.Context, name string, open func(size int64) (io.Writer, error)) (int64, error) {
	var received int64
	err := c.do(ctx, func() error {
		f, err := c.roundTrip(protocol.Frame{Command: protocol.CmdDownload, Payload: []byte(name)})
		if err != nil {
			return err
		}
		size, err := protocol.DecodeSize(f.Payload)
		if err != nil {
			return c.fail(err)
		}

		w, werr := open(int64(size))
		for uint64(received) < size {
			f, err := c.readFrame()
			if err != nil {
				return err
			}
			switch f.Command {
			case protocol.CmdData:
			case protocol.CmdError:
				return remoteError(f.Payload)
			default:
				return c.fail(fmt.Errorf("%s frame inside download: %w", f.Command, common.ErrProtocolViolation))
			}
			if uint64(received)+uint64(len(f.Payload)) > size {
				return c.fail(fmt.Errorf("download overran announced %d bytes: %w", size, common.ErrProtocolViolation))
			}
			if werr == nil {
				_, werr = w.Write(f.Payload)
			}
			received += int64(len(f.Payload))
		}

		if _, err := c.response(); err != nil {
			return err
		}
		return werr
	})
	return received, err
}

// Delete removes name from the server.
func (c *Client) Delete(ctx context.Context, name string) error {
	return c.do(ctx, func() error {
		_, err := c.roundTrip(protocol.Frame{Command: protocol.CmdDelete, Payload: []byte(name)})
		return err
	})
}

// Close ends the session politely and closes the connection.
func (c *Client) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := c.do(ctx, func() error {
		_, err := c.roundTrip(protocol.Frame{Command: protocol.CmdClose})
		return err
	})
	cerr := c.conn.Close()
	if errors.Is(err, ErrBroken) {
		err = nil
	}
	if err != nil {
		return err
	}
	return cerr
}

// do runs one request with ctx bound to the connection deadlines.
func (c *Client) do(ctx context.Context, fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken != nil {
		return fmt.Errorf("%w: %w", ErrBroken, c.broken)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline, _ := ctx.Deadline()
	_ = c.conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	err := fn()
	if err != nil && ctx.Err() != nil && c.broken != nil {
		return fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	return err
}

func (c *Client) roundTrip(req protocol.Frame) (protocol.Frame, error) {
	if err := c.enc.WriteFrame(req); err != nil {
		return protocol.Frame{}, c.fail(err)
	}
	if err := c.enc.Flush(); err != nil {
		return protocol.Frame{}, c.transportFail(err)
	}
	return c.response()
}

// response reads the single OK or ERROR answering a request.
func (c *Client) response() (protocol.Frame, error) {
	f, err := c.readFrame()
	if err != nil {
		return f, err
	}
	switch f.Command {
	case protocol.CmdOK:
		return f, nil
	case protocol.CmdError:
		return f, remoteError(f.Payload)
	}
	return f, c.fail(fmt.Errorf("unexpected %s response: %w", f.Command, common.ErrProtocolViolation))
}

func (c *Client) readFrame() (protocol.Frame, error) {
	f, err := c.dec.ReadFrame()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = fmt.Errorf("server closed the connection: %w", io.ErrUnexpectedEOF)
		}
		return f, c.fail(err)
	}
	return f, nil
}

// transportFail handles a failed write: the server may have answered with
// an ERROR before closing, which explains the failure better.
func (c *Client) transportFail(err error) error {
	_ = c.conn.SetReadDeadline(time.Now().Add(time.Second))
	if f, rerr := c.dec.ReadFrame(); rerr == nil && f.Command == protocol.CmdError {
		return c.fail(remoteError(f.Payload))
	}
	return c.fail(err)
}

// fail marks the connection unusable.
func (c *Client) fail(err error) error {
	c.broken = err
	return err
}
