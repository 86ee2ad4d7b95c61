// Package pgstore keeps files in PostgreSQL as fixed size chunk rows.
//
// Every upload writes a fresh blob (a uuid keyed set of chunks) and swaps
// the files row to it in the same transaction as the chunk inserts, so a
// name points either at the old or the new complete blob. Writers of a name
// are serialized with a transaction scoped advisory lock. Reads run in a
// read-only REPEATABLE READ transaction: the chunks of the blob seen at the
// start stay visible until the reader is closed, even if the file is
// replaced or deleted meanwhile.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/fileshare/internal/common"
	"github.com/dmitrijs2005/fileshare/internal/dbx"
	"github.com/dmitrijs2005/fileshare/internal/logging"
	"github.com/dmitrijs2005/fileshare/internal/storage"
	"github.com/dmitrijs2005/fileshare/internal/storage/pgstore/migrations"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// DefaultChunkSize is the size of one chunk row.
const DefaultChunkSize = 256 * 1024

// Open connects to dsn through the pgx driver and checks the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	return db, nil
}

// RunMigrations brings the schema up to date.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	return nil
}

var _ storage.Backend = (*Store)(nil)

type Store struct {
	db         *sql.DB
	chunkSize  int
	maxNameLen int
	logger     logging.Logger
}

func New(db *sql.DB, chunkSize, maxNameLen int, l logging.Logger) *Store {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Store{
		db:         db,
		chunkSize:  chunkSize,
		maxNameLen: maxNameLen,
		logger:     l.With("module", "pgstore"),
	}
}

func (s *Store) Put(ctx context.Context, name string, r io.Reader) (int64, error) {
	if err := storage.ValidateName(name, s.maxNameLen); err != nil {
		return 0, err
	}

	blobID := uuid.New()
	var size int64
	var streamErr error

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := newRepository(tx)
		if err := repo.lockName(ctx, name); err != nil {
			return err
		}

		src := storage.ContextReader(ctx, r)
		buf := make([]byte, s.chunkSize)
		for seq := 0; ; seq++ {
			n, err := io.ReadFull(src, buf)
			if n > 0 {
				if err := repo.insertChunk(ctx, blobID, seq, buf[:n]); err != nil {
					return err
				}
				size += int64(n)
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			if err != nil {
				streamErr = err
				return err
			}
		}

		oldBlob, _, err := repo.file(ctx, name)
		switch {
		case errors.Is(err, common.ErrNotFound):
			oldBlob = uuid.Nil
		case err != nil:
			return err
		}
		if err := repo.upsertFile(ctx, name, blobID, size); err != nil {
			return err
		}
		if oldBlob != uuid.Nil {
			return repo.deleteChunks(ctx, oldBlob)
		}
		return nil
	})
	if err != nil {
		if streamErr != nil || ctx.Err() != nil {
			return 0, fmt.Errorf("put %s: %w: %w", name, common.ErrIncompleteWrite, err)
		}
		return 0, fmt.Errorf("put %s: %w: %w", name, common.ErrIOFailure, err)
	}
	s.logger.Debug(ctx, "file stored", "name", name, "blob_id", blobID.String(), "size", size)
	return size, nil
}

func (s *Store) Get(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	if err := storage.ValidateName(name, s.maxNameLen); err != nil {
		return nil, 0, err
	}
	tx, err := s.db.BeginTx(ctx, dbx.SnapshotTx)
	if err != nil {
		return nil, 0, fmt.Errorf("get %s: %w: %w", name, common.ErrIOFailure, err)
	}
	repo := newRepository(tx)
	blobID, size, err := repo.file(ctx, name)
	if err != nil {
		_ = tx.Rollback()
		if errors.Is(err, common.ErrNotFound) {
			return nil, 0, fmt.Errorf("get %s: %w", name, err)
		}
		return nil, 0, fmt.Errorf("get %s: %w: %w", name, common.ErrIOFailure, err)
	}
	return &blobReader{ctx: ctx, tx: tx, repo: repo, blobID: blobID}, size, nil
}

func (s *Store) List(ctx context.Context) ([]storage.FileInfo, error) {
	files, err := newRepository(s.db).list(ctx)
	if err != nil {
		return nil, fmt.Errorf("list: %w: %w", common.ErrIOFailure, err)
	}
	return files, nil
}

func (s *Store) Delete(ctx context.Context, name string) error {
	if err := storage.ValidateName(name, s.maxNameLen); err != nil {
		return err
	}
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := newRepository(tx)
		if err := repo.lockName(ctx, name); err != nil {
			return err
		}
		blobID, _, err := repo.file(ctx, name)
		if err != nil {
			return err
		}
		if err := repo.deleteFile(ctx, name); err != nil {
			return err
		}
		return repo.deleteChunks(ctx, blobID)
	})
	switch {
	case errors.Is(err, common.ErrNotFound):
		return fmt.Errorf("delete %s: %w", name, err)
	case err != nil:
		return fmt.Errorf("delete %s: %w: %w", name, common.ErrIOFailure, err)
	}
	return nil
}

// blobReader streams the chunks of one blob inside the snapshot
// transaction opened by Get.
type blobReader struct {
	ctx    context.Context
	tx     *sql.Tx
	repo   *repository
	blobID uuid.UUID
	seq    int
	cur    []byte
	done   bool
}

func (b *blobReader) Read(p []byte) (int, error) {
	for len(b.cur) == 0 {
		if b.done {
			return 0, io.EOF
		}
		data, err := b.repo.chunk(b.ctx, b.blobID, b.seq)
		if errors.Is(err, sql.ErrNoRows) {
			b.done = true
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("read chunk %d: %w: %w", b.seq, common.ErrIOFailure, err)
		}
		b.cur = data
		b.seq++
	}
	n := copy(p, b.cur)
	b.cur = b.cur[n:]
	return n, nil
}

// Close ends the snapshot transaction.
func (b *blobReader) Close() error {
	err := b.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}
