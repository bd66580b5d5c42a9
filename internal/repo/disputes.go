package repo

import (
	"context"
	"database/sql"

	"pactline/internal/domain"
)

// ListDisputeCases synthesizes the admin dispute queue from stored state:
// disputed milestones, fixed contracts in disputed status, and pending
// termination end requests. Cases are never stored; the tagged Kind is the
// discriminator.
func (r Repo) ListDisputeCases(ctx context.Context) ([]domain.DisputeCase, error) {
	var cases []domain.DisputeCase

	rows, err := r.DB.QueryContext(ctx, `SELECT m.id, m.contract_id, c.client_id, c.creator_id, COALESCE(m.dispute_reason,''), m.disputed_at
FROM milestones m JOIN contracts c ON c.id=m.contract_id
WHERE m.status=? ORDER BY m.contract_id, m.position`, domain.MilestoneDisputed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var dc domain.DisputeCase
		var disputedAt sql.NullString
		if err := rows.Scan(&dc.MilestoneID, &dc.ContractID, &dc.ClientID, &dc.CreatorID, &dc.Reason, &disputedAt); err != nil {
			return nil, err
		}
		dc.Kind = domain.DisputeKindMilestone
		dc.RaisedAt = disputedAt.String
		cases = append(cases, dc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	crows, err := r.DB.QueryContext(ctx, `SELECT id, client_id, creator_id, updated_at FROM contracts
WHERE status=? AND payment_type=? ORDER BY updated_at DESC`, domain.ContractDisputed, domain.PaymentTypeFixed)
	if err != nil {
		return nil, err
	}
	defer crows.Close()
	for crows.Next() {
		var dc domain.DisputeCase
		if err := crows.Scan(&dc.ContractID, &dc.ClientID, &dc.CreatorID, &dc.RaisedAt); err != nil {
			return nil, err
		}
		dc.Kind = domain.DisputeKindContract
		cases = append(cases, dc)
	}
	if err := crows.Err(); err != nil {
		return nil, err
	}

	trows, err := r.DB.QueryContext(ctx, `SELECT id, client_id, creator_id, COALESCE(end_reason,''), COALESCE(end_requested_at,'')
FROM contracts WHERE end_status=? AND end_type=? ORDER BY end_requested_at DESC`, domain.EndPending, domain.EndTypeTermination)
	if err != nil {
		return nil, err
	}
	defer trows.Close()
	for trows.Next() {
		var dc domain.DisputeCase
		if err := trows.Scan(&dc.ContractID, &dc.ClientID, &dc.CreatorID, &dc.Reason, &dc.RaisedAt); err != nil {
			return nil, err
		}
		dc.Kind = domain.DisputeKindTermination
		cases = append(cases, dc)
	}
	return cases, trows.Err()
}
