package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nxt-spp/pricelist-pipeline/constants"
	"github.com/nxt-spp/pricelist-pipeline/internal/pricelist"
)

// UploadStore persists pricelist upload metadata.
type UploadStore struct {
	db *sql.DB
}

func NewUploadStore(db *sql.DB) *UploadStore {
	return &UploadStore{db: db}
}

// Create registers an uploaded file.
func (s *UploadStore) Create(ctx context.Context, u pricelist.Upload) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pricelist_upload (id, supplier_id, storage_path, filename, file_kind, size_bytes)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID.String(), u.SupplierID.String(), u.StoragePath, u.Filename, string(u.Kind), u.SizeBytes,
	)
	if err != nil {
		return fmt.Errorf("inserting upload %s: %w", u.ID, err)
	}
	return nil
}

// GetUpload fetches one upload by ID.
func (s *UploadStore) GetUpload(ctx context.Context, id uuid.UUID) (*pricelist.Upload, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, supplier_id, storage_path, filename, file_kind, size_bytes
		FROM pricelist_upload WHERE id = $1`, id.String())

	var u pricelist.Upload
	var uid, sid, kind string
	if err := row.Scan(&uid, &sid, &u.StoragePath, &u.Filename, &kind, &u.SizeBytes); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("upload %s: %w", id, err)
		}
		return nil, fmt.Errorf("querying upload %s: %w", id, err)
	}
	var err error
	if u.ID, err = uuid.Parse(uid); err != nil {
		return nil, fmt.Errorf("upload %s has malformed id: %w", id, err)
	}
	if u.SupplierID, err = uuid.Parse(sid); err != nil {
		return nil, fmt.Errorf("upload %s has malformed supplier id: %w", id, err)
	}
	u.Kind = constants.FileKind(kind)
	return &u, nil
}
