package repo

import (
	"context"

	"pactline/internal/domain"
)

// InsertNotification stores one alert for a party. Called post-commit by the
// store-backed sink, so it runs outside any contract transaction.
func (r Repo) InsertNotification(ctx context.Context, n domain.Notification) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO notifications(id,party_id,title,message,severity,link,read,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		n.ID, n.PartyID, n.Title, n.Message, nullable(n.Severity), nullable(n.Link), boolInt(n.Read), n.CreatedAt)
	return err
}

func (r Repo) ListNotifications(ctx context.Context, partyID string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	query := `SELECT id,party_id,title,message,COALESCE(severity,''),COALESCE(link,''),read,created_at FROM notifications WHERE party_id=?`
	args := []any{partyID}
	if unreadOnly {
		query += ` AND read=0`
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var read int
		if err := rows.Scan(&n.ID, &n.PartyID, &n.Title, &n.Message, &n.Severity, &n.Link, &read, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Read = read != 0
		res = append(res, n)
	}
	return res, rows.Err()
}

// MarkNotificationRead flips the read flag. The party filter keeps one
// party from acknowledging another's notifications; a foreign id reads as
// not found.
func (r Repo) MarkNotificationRead(ctx context.Context, id, partyID string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET read=1 WHERE id=? AND party_id=?`, id, partyID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
