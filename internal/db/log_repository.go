package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/udisondev/hackgrid/internal/model"
)

// LogRepository reads the append-only log. Writes and tombstones
// happen inside effect transactions only.
type LogRepository struct {
	db *pgxpool.Pool
}

// NewLogRepository creates a new LogRepository.
func NewLogRepository(db *pgxpool.Pool) *LogRepository {
	return &LogRepository{db: db}
}

// ByServer returns the server's visible (non-tombstoned) entries,
// newest first.
func (r *LogRepository) ByServer(ctx context.Context, serverID int64, limit int) ([]model.LogEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, type, player_id, target_id, server_id, pid, message, tombstoned, created_at
		 FROM logs
		 WHERE server_id = $1 AND NOT tombstoned
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		serverID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("loading logs of server %d: %w", serverID, err)
	}
	defer rows.Close()

	var out []model.LogEntry
	for rows.Next() {
		var l model.LogEntry
		var typ string
		err := rows.Scan(&l.ID, &typ, &l.PlayerID, &l.TargetID, &l.ServerID,
			&l.PID, &l.Message, &l.Tombstoned, &l.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning log row: %w", err)
		}
		l.Type = model.LogType(typ)
		out = append(out, l)
	}
	return out, rows.Err()
}
