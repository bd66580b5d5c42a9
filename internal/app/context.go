// Package app wires a workspace together for the CLI: config, database,
// migrations and engine in one open call.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pactline/internal/config"
	"pactline/internal/db"
	"pactline/internal/domain"
	"pactline/internal/engine"
	"pactline/internal/migrate"
	"pactline/internal/repo"
)

// Env is an opened workspace.
type Env struct {
	Workspace string
	DB        *sql.DB
	Config    *config.Config
	Engine    engine.Engine
}

// Open loads workspace config (defaults when no pactline.yml exists), opens
// the database and runs pending migrations.
func Open(workspace string) (*Env, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Env{
		Workspace: workspace,
		DB:        conn,
		Config:    cfg,
		Engine:    engine.New(conn, cfg),
	}, nil
}

func (e *Env) Close() error {
	return e.DB.Close()
}

// ResolveActor builds the acting identity for a CLI invocation. Name and
// role fall back to the stored party record when the flags leave them out.
func (e *Env) ResolveActor(ctx context.Context, id, name, role string) (domain.Actor, error) {
	if id == "" {
		return domain.Actor{}, fmt.Errorf("actor not specified; use --actor-id")
	}
	actor := domain.Actor{ID: id, Name: name, Role: role}
	if actor.Name != "" && actor.Role != "" {
		return actor, nil
	}
	p, err := e.Engine.Repo.GetParty(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return actor, nil
		}
		return domain.Actor{}, err
	}
	if actor.Name == "" {
		actor.Name = p.Name
	}
	if actor.Role == "" {
		actor.Role = p.Role
	}
	return actor, nil
}
