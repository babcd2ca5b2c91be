package effect

import (
	"context"
	"errors"
	"time"

	"github.com/udisondev/hackgrid/internal/model"
)

// memStore is an in-memory Store double. Transactions mutate it
// directly; beginFailures injects transient open errors to exercise the
// retry policy.
type memStore struct {
	beginFailures int

	applied   map[int64]bool
	processes map[int64]model.Process
	creds     []model.Credential
	software  map[int64]model.Software
	nextSW    int64
	accounts  map[int64]*model.BankAccount
	txns      []model.BankTransaction
	logs      []model.LogEntry

	playerFunds map[int64]int64
	playerXP    map[int64]int64
	playerRep   map[int64]int

	templates    map[int64]model.MissionTemplate
	objectives   map[int64]model.Objective
	userMissions map[int64]*model.UserMission
	progress     map[[2]int64]int
}

func newMemStore() *memStore {
	return &memStore{
		applied:      make(map[int64]bool),
		processes:    make(map[int64]model.Process),
		software:     make(map[int64]model.Software),
		nextSW:       1000,
		accounts:     make(map[int64]*model.BankAccount),
		playerFunds:  make(map[int64]int64),
		playerXP:     make(map[int64]int64),
		playerRep:    make(map[int64]int),
		templates:    make(map[int64]model.MissionTemplate),
		objectives:   make(map[int64]model.Objective),
		userMissions: make(map[int64]*model.UserMission),
		progress:     make(map[[2]int64]int),
	}
}

var errTxOpen = errors.New("connection refused")

func (s *memStore) WithTx(_ context.Context, fn func(tx Tx) error) error {
	if s.beginFailures > 0 {
		s.beginFailures--
		return errTxOpen
	}
	return fn(&memTx{s: s})
}

type memTx struct {
	s *memStore
}

func (t *memTx) MarkApplied(_ context.Context, pid int64) (bool, error) {
	if t.s.applied[pid] {
		return true, nil
	}
	t.s.applied[pid] = true
	return false, nil
}

func (t *memTx) SaveProcess(_ context.Context, p *model.Process) error {
	t.s.processes[p.PID] = *p
	return nil
}

func (t *memTx) InsertCredential(_ context.Context, c *model.Credential) error {
	t.s.creds = append(t.s.creds, *c)
	return nil
}

func (t *memTx) InsertSoftware(_ context.Context, sw *model.Software) (int64, error) {
	t.s.nextSW++
	cp := *sw
	cp.ID = t.s.nextSW
	t.s.software[cp.ID] = cp
	return cp.ID, nil
}

func (t *memTx) TouchCollected(_ context.Context, softwareID int64, at time.Time) error {
	sw, ok := t.s.software[softwareID]
	if !ok {
		return nil
	}
	sw.LastCollected = at
	t.s.software[softwareID] = sw
	return nil
}

func (t *memTx) AccountForUpdate(_ context.Context, id int64) (*model.BankAccount, error) {
	acc, ok := t.s.accounts[id]
	if !ok {
		return nil, nil
	}
	cp := *acc
	return &cp, nil
}

func (t *memTx) AddBalance(_ context.Context, accountID, delta int64) error {
	acc, ok := t.s.accounts[accountID]
	if !ok {
		return errors.New("no such account")
	}
	acc.Balance += delta
	return nil
}

func (t *memTx) InsertTransaction(_ context.Context, tr *model.BankTransaction) error {
	t.s.txns = append(t.s.txns, *tr)
	return nil
}

func (t *memTx) AddPlayerFunds(_ context.Context, playerID, delta int64) error {
	t.s.playerFunds[playerID] += delta
	return nil
}

func (t *memTx) AddPlayerXP(_ context.Context, playerID, delta int64) error {
	t.s.playerXP[playerID] += delta
	return nil
}

func (t *memTx) AddPlayerReputation(_ context.Context, playerID int64, delta int) error {
	t.s.playerRep[playerID] = model.ClampReputation(t.s.playerRep[playerID] + delta)
	return nil
}

func (t *memTx) InsertLog(_ context.Context, l *model.LogEntry) error {
	cp := *l
	cp.ID = int64(len(t.s.logs) + 1)
	t.s.logs = append(t.s.logs, cp)
	return nil
}

func (t *memTx) TombstoneLogs(_ context.Context, serverID int64, ids []int64) (int, error) {
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	n := 0
	for i, l := range t.s.logs {
		if want[l.ID] && l.ServerID == serverID && !l.Tombstoned {
			t.s.logs[i].Tombstoned = true
			n++
		}
	}
	return n, nil
}

func (t *memTx) OpenObjectives(_ context.Context, playerID int64, kind, targetIP string) ([]OpenObjective, error) {
	var out []OpenObjective
	for umID, um := range t.s.userMissions {
		if um.PlayerID != playerID || um.Status != model.MissionActive {
			continue
		}
		for objID, obj := range t.s.objectives {
			if obj.MissionID != um.MissionID || obj.Kind != kind {
				continue
			}
			if obj.TargetIP != "" && obj.TargetIP != targetIP {
				continue
			}
			done := t.s.progress[[2]int64{umID, objID}]
			if done >= obj.Quantity {
				continue
			}
			out = append(out, OpenObjective{
				UserMissionID: umID,
				ObjectiveID:   objID,
				Remaining:     obj.Quantity - done,
			})
		}
	}
	return out, nil
}

func (t *memTx) AdvanceObjective(_ context.Context, userMissionID, objectiveID int64, by int) error {
	key := [2]int64{userMissionID, objectiveID}
	done := t.s.progress[key] + by
	if q := t.s.objectives[objectiveID].Quantity; done > q {
		done = q
	}
	t.s.progress[key] = done
	return nil
}

func (t *memTx) RequiredRemaining(_ context.Context, userMissionID int64) (int, error) {
	um, ok := t.s.userMissions[userMissionID]
	if !ok {
		return 0, errors.New("no such user mission")
	}
	n := 0
	for objID, obj := range t.s.objectives {
		if obj.MissionID != um.MissionID || !obj.Required {
			continue
		}
		if t.s.progress[[2]int64{userMissionID, objID}] < obj.Quantity {
			n++
		}
	}
	return n, nil
}

func (t *memTx) CompleteMission(_ context.Context, userMissionID int64, at time.Time) (*model.MissionTemplate, error) {
	um, ok := t.s.userMissions[userMissionID]
	if !ok || um.Status != model.MissionActive {
		return nil, nil
	}
	um.Status = model.MissionCompleted
	um.ClosedAt = at
	tpl := t.s.templates[um.MissionID]
	return &tpl, nil
}
