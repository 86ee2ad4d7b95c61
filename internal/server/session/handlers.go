package session

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/fileshare/internal/common"
	"github.com/dmitrijs2005/fileshare/internal/logging"
	"github.com/dmitrijs2005/fileshare/internal/protocol"
)

func (s *Session) handleList(ctx context.Context, log logging.Logger) error {
	files, err := s.store.List(ctx)
	if err != nil {
		return s.fail(ctx, log, err)
	}
	entries := make([]protocol.Entry, len(files))
	for i, f := range files {
		entries[i] = protocol.Entry{Name: f.Name, Size: uint64(f.Size)}
	}
	payload, err := protocol.EncodeList(entries, s.cfg.Limits.MaxPayloadBytes)
	if err != nil {
		return s.fail(ctx, log, err)
	}
	log.Debug(ctx, "listed", "entries", len(entries))
	return s.respond(protocol.Frame{Command: protocol.CmdOK, Payload: payload})
}

// handleUpload streams the DATA frames that follow the header straight into
// the backend. Whatever the outcome, exactly one response is sent once the
// declared bytes were consumed; if the byte stream itself broke, the session
// ends instead.
func (s *Session) handleUpload(ctx context.Context, log logging.Logger, payload []byte) error {
	name, size, err := protocol.DecodeUpload(payload)
	if err != nil {
		return s.abort(err)
	}
	log = log.With("name", name, "size", size)

	data := protocol.NewDataReader(s.dec, size)
	data.BeforeFrame = s.armRead

	n, err := s.store.Put(ctx, name, data)
	s.bytesIn += int64(size - data.Remaining())
	if err != nil {
		if streamErr := data.Err(); streamErr != nil {
			log.Warn(ctx, "upload stream broken", "error", err)
			if common.IsFatal(streamErr) {
				return s.abort(streamErr)
			}
			return streamErr
		}
		if data.Remaining() > 0 {
			if drainErr := data.Drain(); drainErr != nil {
				if common.IsFatal(drainErr) {
					return s.abort(drainErr)
				}
				return drainErr
			}
		}
		return s.fail(ctx, log, err)
	}
	if data.Remaining() != 0 {
		// backends read to EOF; anything else is a backend bug
		return s.fail(ctx, log, fmt.Errorf("backend stopped with %d bytes unread: %w", data.Remaining(), common.ErrIOFailure))
	}

	log.Info(ctx, "file stored", "stored", n)
	return s.respond(protocol.Frame{Command: protocol.CmdOK, Payload: protocol.EncodeSize(uint64(n))})
}

// handleDownload announces the size, streams the snapshot as DATA frames and
// ends with an empty OK. A backend failure after the announcement replaces
// the trailer with an ERROR.
func (s *Session) handleDownload(ctx context.Context, log logging.Logger, name string) error {
	log = log.With("name", name)

	rc, size, err := s.store.Get(ctx, name)
	if err != nil {
		return s.fail(ctx, log, err)
	}
	defer rc.Close()

	s.armWrite()
	if err := s.enc.WriteFrame(protocol.Frame{Command: protocol.CmdOK, Payload: protocol.EncodeSize(uint64(size))}); err != nil {
		return err
	}

	var sent int64
	var readErr error
	for chunk, err := range protocol.Chunks(rc, s.buf) {
		if err != nil {
			readErr = fmt.Errorf("read %s: %w: %w", name, common.ErrIOFailure, err)
			break
		}
		if sent+int64(len(chunk)) > size {
			readErr = fmt.Errorf("%s grew past its announced %d bytes: %w", name, size, common.ErrIOFailure)
			break
		}
		s.armWrite()
		if err := s.enc.WriteFrame(protocol.Frame{Command: protocol.CmdData, Payload: chunk}); err != nil {
			return err
		}
		sent += int64(len(chunk))
	}
	s.bytesOut += sent
	if readErr == nil && sent != size {
		readErr = fmt.Errorf("%s ended after %d of %d bytes: %w", name, sent, size, common.ErrIOFailure)
	}
	if readErr != nil {
		return s.fail(ctx, log, readErr)
	}

	log.Info(ctx, "file sent", "size", size)
	return s.respond(protocol.Frame{Command: protocol.CmdOK})
}

func (s *Session) handleDelete(ctx context.Context, log logging.Logger, name string) error {
	log = log.With("name", name)
	if err := s.store.Delete(ctx, name); err != nil {
		return s.fail(ctx, log, err)
	}
	log.Info(ctx, "file deleted")
	return s.respond(protocol.Frame{Command: protocol.CmdOK})
}
