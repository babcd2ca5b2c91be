package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/udisondev/hackgrid/internal/model"
)

// SoftwareRepository manages installed programs.
type SoftwareRepository struct {
	db *pgxpool.Pool
}

// NewSoftwareRepository creates a new SoftwareRepository.
func NewSoftwareRepository(db *pgxpool.Pool) *SoftwareRepository {
	return &SoftwareRepository{db: db}
}

const softwareCols = `id, owner_id, server_id, type, name, version, size_mb,
	effectiveness, stealth, reliability, min_cpu, min_ram, hidden,
	yield_per_hour, installed_at, last_collected`

func scanSoftware(row pgx.Row) (*model.Software, error) {
	var s model.Software
	var typ string
	var lastCollected *time.Time
	err := row.Scan(&s.ID, &s.OwnerID, &s.ServerID, &typ, &s.Name, &s.Version,
		&s.SizeMB, &s.Effectiveness, &s.Stealth, &s.Reliability,
		&s.MinCPU, &s.MinRAM, &s.Hidden, &s.YieldPerHour,
		&s.InstalledAt, &lastCollected)
	if err != nil {
		return nil, err
	}
	s.Type = model.SoftwareType(typ)
	if lastCollected != nil {
		s.LastCollected = *lastCollected
	}
	return &s, nil
}

// Delete removes a software row (uninstall).
func (r *SoftwareRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM software WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting software %d: %w", id, err)
	}
	return nil
}

// ByOwner returns every program the player owns, wherever installed.
func (r *SoftwareRepository) ByOwner(ctx context.Context, ownerID int64) ([]model.Software, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+softwareCols+` FROM software WHERE owner_id = $1 ORDER BY id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("loading software of player %d: %w", ownerID, err)
	}
	defer rows.Close()
	return collectSoftware(rows)
}

// All returns every software row, for world cache warm-up.
func (r *SoftwareRepository) All(ctx context.Context) ([]model.Software, error) {
	rows, err := r.db.Query(ctx, `SELECT `+softwareCols+` FROM software ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("loading software: %w", err)
	}
	defer rows.Close()
	return collectSoftware(rows)
}

func collectSoftware(rows pgx.Rows) ([]model.Software, error) {
	var out []model.Software
	for rows.Next() {
		s, err := scanSoftware(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning software row: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}
