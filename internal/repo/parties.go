package repo

import (
	"context"
	"database/sql"
	"time"

	"pactline/internal/domain"
)

// EnsureParty inserts the party if missing; existing rows are untouched.
func (r Repo) EnsureParty(ctx context.Context, tx *sql.Tx, p domain.Party) error {
	if p.CreatedAt == "" {
		p.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `INSERT INTO parties(id,role,name,residency,created_at) VALUES (?,?,?,?,?)
ON CONFLICT(id) DO NOTHING`,
		p.ID, p.Role, nullable(p.Name), nullable(p.Residency), p.CreatedAt)
	return err
}

func (r Repo) UpsertParty(ctx context.Context, p domain.Party) error {
	if p.CreatedAt == "" {
		p.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO parties(id,role,name,residency,created_at) VALUES (?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET role=excluded.role, name=excluded.name, residency=excluded.residency`,
		p.ID, p.Role, nullable(p.Name), nullable(p.Residency), p.CreatedAt)
	return err
}

func (r Repo) GetParty(ctx context.Context, id string) (domain.Party, error) {
	var p domain.Party
	var name, residency sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,role,name,residency,created_at FROM parties WHERE id=?`, id).
		Scan(&p.ID, &p.Role, &name, &residency, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Name = name.String
	p.Residency = residency.String
	return p, nil
}

func (r Repo) ListParties(ctx context.Context, role string) ([]domain.Party, error) {
	query := `SELECT id,role,name,residency,created_at FROM parties`
	var args []any
	if role != "" {
		query += ` WHERE role=?`
		args = append(args, role)
	}
	query += ` ORDER BY created_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Party
	for rows.Next() {
		var p domain.Party
		var name, residency sql.NullString
		if err := rows.Scan(&p.ID, &p.Role, &name, &residency, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Name = name.String
		p.Residency = residency.String
		res = append(res, p)
	}
	return res, rows.Err()
}
