package postgres

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/khoj/internal/facematch"
	"github.com/kozaktomas/khoj/internal/gallery"
)

const upsertFace = `
	INSERT INTO gallery_faces (embedding_index, identity_id, display_name, auxiliary_info, dim, embedding)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (embedding_index) DO UPDATE SET
		identity_id = EXCLUDED.identity_id,
		display_name = EXCLUDED.display_name,
		auxiliary_info = EXCLUDED.auxiliary_info,
		dim = EXCLUDED.dim,
		embedding = EXCLUDED.embedding
`

// Repository stores gallery records in the gallery_faces table.
type Repository struct {
	pool *Pool
}

// NewRepository creates a repository on pool.
func NewRepository(pool *Pool) *Repository {
	return &Repository{pool: pool}
}

// AppendRecord upserts the record at index.
func (r *Repository) AppendRecord(ctx context.Context, index int, rec gallery.Record) error {
	_, err := r.pool.db.ExecContext(ctx, upsertFace,
		index, rec.IdentityID, rec.DisplayName, rec.AuxiliaryInfo, len(rec.Vector), pgvector.NewVector(rec.Vector))
	if err != nil {
		return fmt.Errorf("upsert gallery face %d: %w", index, err)
	}
	return nil
}

// ReplaceAll makes the table an exact copy of records in one transaction.
func (r *Repository) ReplaceAll(ctx context.Context, records []gallery.Record) error {
	tx, err := r.pool.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM gallery_faces"); err != nil {
		return fmt.Errorf("clear gallery faces: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, upsertFace)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, rec := range records {
		if _, err := stmt.ExecContext(ctx,
			i, rec.IdentityID, rec.DisplayName, rec.AuxiliaryInfo, len(rec.Vector), pgvector.NewVector(rec.Vector)); err != nil {
			return fmt.Errorf("insert gallery face %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit gallery faces: %w", err)
	}
	return nil
}

// LoadRecords returns the stored records in index order. Gaps in the
// index sequence or rows of another dimension are reported as corruption.
func (r *Repository) LoadRecords(ctx context.Context, dim int) ([]gallery.Record, error) {
	rows, err := r.pool.db.QueryContext(ctx, `
		SELECT embedding_index, identity_id, display_name, auxiliary_info, embedding
		FROM gallery_faces
		ORDER BY embedding_index
	`)
	if err != nil {
		return nil, fmt.Errorf("query gallery faces: %w", err)
	}
	defer rows.Close()

	var records []gallery.Record
	for rows.Next() {
		var (
			index int
			rec   gallery.Record
			vec   pgvector.Vector
		)
		if err := rows.Scan(&index, &rec.IdentityID, &rec.DisplayName, &rec.AuxiliaryInfo, &vec); err != nil {
			return nil, fmt.Errorf("scan gallery face: %w", err)
		}
		if index != len(records) {
			return nil, &gallery.StorageCorruptError{
				Path:   "postgres:gallery_faces",
				Reason: fmt.Sprintf("expected embedding_index %d, found %d", len(records), index),
			}
		}
		rec.Vector = vec.Slice()
		if err := facematch.CheckDim(rec.Vector, dim); err != nil {
			return nil, fmt.Errorf("gallery face %d: %w", index, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate gallery faces: %w", err)
	}
	return records, nil
}

// Count returns the number of mirrored records.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM gallery_faces").Scan(&count); err != nil {
		return 0, fmt.Errorf("count gallery faces: %w", err)
	}
	return count, nil
}
