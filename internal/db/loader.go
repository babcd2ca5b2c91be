package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/udisondev/hackgrid/internal/resource"
	"github.com/udisondev/hackgrid/internal/world"
)

// LoadWorld warms the world cache and resource budgets from the
// durable store. Runs once at boot, before engine recovery.
func LoadWorld(ctx context.Context, pool *pgxpool.Pool, wc *world.Cache, acct *resource.Accountant, now time.Time) error {
	servers, err := NewServerRepository(pool).All(ctx)
	if err != nil {
		return fmt.Errorf("warming servers: %w", err)
	}
	for i := range servers {
		s := servers[i]
		wc.PutServer(&s)
		acct.SetBudget(s.ID, resource.Triple{CPU: s.CPUTotal, RAM: s.RAMTotal, NET: s.NETTotal})
	}

	players, err := NewPlayerRepository(pool).All(ctx)
	if err != nil {
		return fmt.Errorf("warming players: %w", err)
	}
	for i := range players {
		p := players[i]
		wc.PutPlayer(&p)
	}

	software, err := NewSoftwareRepository(pool).All(ctx)
	if err != nil {
		return fmt.Errorf("warming software: %w", err)
	}
	for i := range software {
		s := software[i]
		wc.PutSoftware(&s)
	}

	creds, err := NewCredentialRepository(pool).AllValid(ctx, now)
	if err != nil {
		return fmt.Errorf("warming credentials: %w", err)
	}
	for i := range creds {
		c := creds[i]
		wc.GrantCredential(&c)
	}

	slog.Info("world cache warmed",
		"servers", len(servers),
		"players", len(players),
		"software", len(software),
		"credentials", len(creds))
	return nil
}
