package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/fileshare/internal/common"
	"github.com/dmitrijs2005/fileshare/internal/dbx"
	"github.com/dmitrijs2005/fileshare/internal/storage"
	"github.com/google/uuid"
)

// repository holds the SQL of the store. It runs against either the pool or
// a transaction.
type repository struct {
	db dbx.DBTX
}

func newRepository(db dbx.DBTX) *repository {
	return &repository{db: db}
}

// lockName takes a transaction scoped advisory lock for name, serializing
// writers across server processes.
func (r *repository) lockName(ctx context.Context, name string) error {
	if _, err := r.db.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, name); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	return nil
}

func (r *repository) insertChunk(ctx context.Context, blobID uuid.UUID, seq int, data []byte) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO chunks (blob_id, seq, data) VALUES ($1, $2, $3)`, blobID, seq, data)
	if err != nil {
		return fmt.Errorf("insert chunk %d: %w", seq, err)
	}
	return nil
}

// file returns the blob and size stored under name, or common.ErrNotFound.
func (r *repository) file(ctx context.Context, name string) (uuid.UUID, int64, error) {
	var blobID uuid.UUID
	var size int64
	err := r.db.QueryRowContext(ctx, `SELECT blob_id, size FROM files WHERE name = $1`, name).Scan(&blobID, &size)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, 0, common.ErrNotFound
	}
	if err != nil {
		return uuid.Nil, 0, fmt.Errorf("select file: %w", err)
	}
	return blobID, size, nil
}

func (r *repository) upsertFile(ctx context.Context, name string, blobID uuid.UUID, size int64) error {
	query := `INSERT INTO files (name, blob_id, size, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (name)
		DO UPDATE SET
			blob_id = EXCLUDED.blob_id,
			size = EXCLUDED.size,
			updated_at = EXCLUDED.updated_at`
	if _, err := r.db.ExecContext(ctx, query, name, blobID, size); err != nil {
		return fmt.Errorf("upsert file: %w", err)
	}
	return nil
}

func (r *repository) deleteFile(ctx context.Context, name string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE name = $1`, name); err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

func (r *repository) deleteChunks(ctx context.Context, blobID uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM chunks WHERE blob_id = $1`, blobID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}

// chunk returns chunk seq of a blob. Past the last chunk the error is
// sql.ErrNoRows.
func (r *repository) chunk(ctx context.Context, blobID uuid.UUID, seq int) ([]byte, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx, `SELECT data FROM chunks WHERE blob_id = $1 AND seq = $2`, blobID, seq).Scan(&data)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// list returns every file in byte order of the name.
func (r *repository) list(ctx context.Context) ([]storage.FileInfo, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name, size FROM files ORDER BY name COLLATE "C"`)
	if err != nil {
		return nil, fmt.Errorf("select files: %w", err)
	}
	defer rows.Close()

	var result []storage.FileInfo
	for rows.Next() {
		var fi storage.FileInfo
		if err := rows.Scan(&fi.Name, &fi.Size); err != nil {
			return nil, err
		}
		result = append(result, fi)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
