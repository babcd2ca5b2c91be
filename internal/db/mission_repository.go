package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/udisondev/hackgrid/internal/model"
)

// MissionRepository manages mission templates and player instances.
// Objective progress moves inside effect transactions only.
type MissionRepository struct {
	db *pgxpool.Pool
}

// NewMissionRepository creates a new MissionRepository.
func NewMissionRepository(db *pgxpool.Pool) *MissionRepository {
	return &MissionRepository{db: db}
}

// Templates returns every mission available at or below level.
func (r *MissionRepository) Templates(ctx context.Context, level int) ([]model.MissionTemplate, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, key, category, difficulty, reward_money, reward_xp, required_level
		 FROM mission_templates
		 WHERE required_level <= $1
		 ORDER BY required_level, id`, level)
	if err != nil {
		return nil, fmt.Errorf("loading mission templates: %w", err)
	}
	defer rows.Close()

	var out []model.MissionTemplate
	for rows.Next() {
		var t model.MissionTemplate
		err := rows.Scan(&t.ID, &t.Key, &t.Category, &t.Difficulty,
			&t.RewardMoney, &t.RewardXP, &t.RequiredLevel)
		if err != nil {
			return nil, fmt.Errorf("scanning mission template row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Objectives returns the requirements of a template.
func (r *MissionRepository) Objectives(ctx context.Context, missionID int64) ([]model.Objective, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, mission_id, kind, target_ip, quantity, required
		 FROM objectives WHERE mission_id = $1 ORDER BY id`, missionID)
	if err != nil {
		return nil, fmt.Errorf("loading objectives of mission %d: %w", missionID, err)
	}
	defer rows.Close()

	var out []model.Objective
	for rows.Next() {
		var o model.Objective
		err := rows.Scan(&o.ID, &o.MissionID, &o.Kind, &o.TargetIP, &o.Quantity, &o.Required)
		if err != nil {
			return nil, fmt.Errorf("scanning objective row: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Accept creates an ACTIVE user mission instance and returns its id.
// A player may hold at most one open instance per template.
func (r *MissionRepository) Accept(ctx context.Context, playerID, missionID int64, at time.Time) (int64, error) {
	var open int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM user_missions
		 WHERE player_id = $1 AND mission_id = $2 AND status = 'ACTIVE'`,
		playerID, missionID,
	).Scan(&open)
	if err != nil {
		return 0, fmt.Errorf("checking open instances of mission %d: %w", missionID, err)
	}
	if open > 0 {
		return 0, fmt.Errorf("mission %d already active for player %d", missionID, playerID)
	}

	var id int64
	err = r.db.QueryRow(ctx,
		`INSERT INTO user_missions (player_id, mission_id, status, accepted_at)
		 VALUES ($1, $2, 'ACTIVE', $3)
		 RETURNING id`,
		playerID, missionID, at,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("accepting mission %d for player %d: %w", missionID, playerID, err)
	}
	return id, nil
}

// Abandon closes an ACTIVE user mission without reward.
func (r *MissionRepository) Abandon(ctx context.Context, userMissionID int64, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE user_missions SET status = 'ABANDONED', closed_at = $2
		 WHERE id = $1 AND status = 'ACTIVE'`,
		userMissionID, at,
	)
	if err != nil {
		return fmt.Errorf("abandoning user mission %d: %w", userMissionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user mission %d is not active", userMissionID)
	}
	return nil
}

// ActiveByPlayer returns the player's open mission instances with
// per-objective progress.
func (r *MissionRepository) ActiveByPlayer(ctx context.Context, playerID int64) ([]model.UserMission, []model.ObjectiveProgress, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, player_id, mission_id, status, accepted_at
		 FROM user_missions
		 WHERE player_id = $1 AND status = 'ACTIVE'
		 ORDER BY id`, playerID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading missions of player %d: %w", playerID, err)
	}
	defer rows.Close()

	var missions []model.UserMission
	for rows.Next() {
		var um model.UserMission
		var status string
		err := rows.Scan(&um.ID, &um.PlayerID, &um.MissionID, &status, &um.AcceptedAt)
		if err != nil {
			return nil, nil, fmt.Errorf("scanning user mission row: %w", err)
		}
		um.Status = model.MissionStatus(status)
		missions = append(missions, um)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	prows, err := r.db.Query(ctx,
		`SELECT op.user_mission_id, op.objective_id, op.done
		 FROM objective_progress op
		 JOIN user_missions um ON um.id = op.user_mission_id
		 WHERE um.player_id = $1 AND um.status = 'ACTIVE'`, playerID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading objective progress of player %d: %w", playerID, err)
	}
	defer prows.Close()

	var progress []model.ObjectiveProgress
	for prows.Next() {
		var op model.ObjectiveProgress
		if err := prows.Scan(&op.UserMissionID, &op.ObjectiveID, &op.Done); err != nil {
			return nil, nil, fmt.Errorf("scanning progress row: %w", err)
		}
		progress = append(progress, op)
	}
	return missions, progress, prows.Err()
}
