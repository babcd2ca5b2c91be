// Package effect commits the durable consequences of terminal process
// transitions. One transaction per process: the terminal row, the
// action's mutations and the idempotency marker commit together, so a
// crash either applies everything or nothing.
package effect

import (
	"context"
	"time"

	"github.com/udisondev/hackgrid/internal/model"
)

// Store opens effect transactions against the durable store.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of mutations an effect transaction may perform. All
// methods operate inside one database transaction and roll back
// together.
type Tx interface {
	// MarkApplied records the idempotency marker for pid. It reports
	// true when the marker already existed, meaning the effects were
	// committed by an earlier attempt and must not run again.
	MarkApplied(ctx context.Context, pid int64) (already bool, err error)

	SaveProcess(ctx context.Context, p *model.Process) error

	InsertCredential(ctx context.Context, c *model.Credential) error

	// InsertSoftware stores a new software row and returns its id.
	InsertSoftware(ctx context.Context, sw *model.Software) (int64, error)
	TouchCollected(ctx context.Context, softwareID int64, at time.Time) error

	// AccountForUpdate loads a bank account with a row lock, nil when
	// the account does not exist.
	AccountForUpdate(ctx context.Context, id int64) (*model.BankAccount, error)
	AddBalance(ctx context.Context, accountID, delta int64) error
	InsertTransaction(ctx context.Context, t *model.BankTransaction) error

	AddPlayerFunds(ctx context.Context, playerID, delta int64) error
	AddPlayerXP(ctx context.Context, playerID, delta int64) error
	// AddPlayerReputation shifts a player's reputation by delta,
	// clamped to the documented range on write.
	AddPlayerReputation(ctx context.Context, playerID int64, delta int) error

	InsertLog(ctx context.Context, l *model.LogEntry) error
	// TombstoneLogs marks the given entries on a server as wiped and
	// returns how many rows matched.
	TombstoneLogs(ctx context.Context, serverID int64, ids []int64) (int, error)

	// OpenObjectives lists unfinished objectives of the player's ACTIVE
	// missions matching kind and target (an objective with empty
	// target_ip matches any target).
	OpenObjectives(ctx context.Context, playerID int64, kind, targetIP string) ([]OpenObjective, error)
	AdvanceObjective(ctx context.Context, userMissionID, objectiveID int64, by int) error
	// RequiredRemaining counts required objectives of the user mission
	// that are still short of their quantity.
	RequiredRemaining(ctx context.Context, userMissionID int64) (int, error)
	// CompleteMission transitions the user mission to COMPLETED and
	// returns its template for reward payout.
	CompleteMission(ctx context.Context, userMissionID int64, at time.Time) (*model.MissionTemplate, error)
}

// OpenObjective is one advanceable objective row.
type OpenObjective struct {
	UserMissionID int64
	ObjectiveID   int64
	Remaining     int
}
