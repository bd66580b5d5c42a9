package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"pactline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ErrVersionConflict is returned when a save races a concurrent write to the
// same contract; callers reload and retry.
var ErrVersionConflict = errors.New("contract version conflict")

const contractColumns = `id,client_id,client_name,creator_id,creator_name,title,description,status,
payment_type,payment_method,amount,currency,duration_days,revision_policy,previous_terms_json,expiry_date,
end_requester_id,end_requester_name,end_type,end_reason,end_status,end_rejection_reason,end_requested_at,
is_client_reviewed,is_creator_reviewed,funded_amount,version,created_at,updated_at`

func (r Repo) InsertContractTx(ctx context.Context, tx *sql.Tx, c domain.Contract) error {
	prevJSON, err := marshalTerms(c.PreviousTerms)
	if err != nil {
		return err
	}
	var end domain.EndRequest
	if c.EndRequest != nil {
		end = *c.EndRequest
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO contracts(`+contractColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.ClientID, nullable(c.ClientName), c.CreatorID, nullable(c.CreatorName), c.Title, nullable(c.Description), c.Status,
		c.Terms.PaymentType, c.Terms.PaymentMethod, c.Terms.Amount, c.Terms.Currency, c.Terms.DurationDays, nullable(c.Terms.RevisionPolicy), prevJSON, nullable(c.ExpiryDate),
		nullable(end.RequesterID), nullable(end.RequesterName), nullable(end.Type), nullable(end.Reason), nullable(end.Status), nullable(end.RejectionReason), nullable(end.RequestedAt),
		boolInt(c.IsClientReviewed), boolInt(c.IsCreatorReviewed), c.FundedAmount, c.Version, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert contract: %w", err)
	}
	return r.replaceMilestonesTx(ctx, tx, c.ID, c.Terms.Milestones)
}

// UpdateContractTx persists a mutated contract guarded by the optimistic
// version check. The in-memory Version is the one the caller loaded; the row
// is bumped to Version+1 only if nobody wrote in between.
func (r Repo) UpdateContractTx(ctx context.Context, tx *sql.Tx, c domain.Contract) error {
	prevJSON, err := marshalTerms(c.PreviousTerms)
	if err != nil {
		return err
	}
	var end domain.EndRequest
	if c.EndRequest != nil {
		end = *c.EndRequest
	}
	res, err := tx.ExecContext(ctx, `UPDATE contracts SET
client_name=?, creator_name=?, title=?, description=?, status=?,
payment_type=?, payment_method=?, amount=?, currency=?, duration_days=?, revision_policy=?, previous_terms_json=?, expiry_date=?,
end_requester_id=?, end_requester_name=?, end_type=?, end_reason=?, end_status=?, end_rejection_reason=?, end_requested_at=?,
is_client_reviewed=?, is_creator_reviewed=?, funded_amount=?, version=version+1, updated_at=?
WHERE id=? AND version=?`,
		nullable(c.ClientName), nullable(c.CreatorName), c.Title, nullable(c.Description), c.Status,
		c.Terms.PaymentType, c.Terms.PaymentMethod, c.Terms.Amount, c.Terms.Currency, c.Terms.DurationDays, nullable(c.Terms.RevisionPolicy), prevJSON, nullable(c.ExpiryDate),
		nullable(end.RequesterID), nullable(end.RequesterName), nullable(end.Type), nullable(end.Reason), nullable(end.Status), nullable(end.RejectionReason), nullable(end.RequestedAt),
		boolInt(c.IsClientReviewed), boolInt(c.IsCreatorReviewed), c.FundedAmount, c.UpdatedAt,
		c.ID, c.Version)
	if err != nil {
		return fmt.Errorf("update contract: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		var exists int
		row := tx.QueryRowContext(ctx, `SELECT 1 FROM contracts WHERE id=?`, c.ID)
		if scanErr := row.Scan(&exists); scanErr == sql.ErrNoRows {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	return r.replaceMilestonesTx(ctx, tx, c.ID, c.Terms.Milestones)
}

func (r Repo) replaceMilestonesTx(ctx context.Context, tx *sql.Tx, contractID string, milestones []domain.Milestone) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM milestones WHERE contract_id=?`, contractID); err != nil {
		return err
	}
	for _, m := range milestones {
		var sub domain.Submission
		if m.Submission != nil {
			sub = *m.Submission
		}
		var proof domain.PaymentProof
		if m.PaymentProof != nil {
			proof = *m.PaymentProof
		}
		var res domain.Resolution
		if m.DisputeResolution != nil {
			res = *m.DisputeResolution
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO milestones(id,contract_id,position,title,description,amount,status,
submission_link,submission_note,submitted_at,proof_content,proof_method,proof_sent_at,
revision_notes,revisions_used,dispute_reason,disputed_at,resolution_action,resolution_message,resolution_proposed_by,resolution_proposed_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			m.ID, contractID, m.Position, m.Title, nullable(m.Description), m.Amount, m.Status,
			nullable(sub.Link), nullable(sub.Note), nullable(sub.SubmittedAt), nullable(proof.Content), nullable(proof.Method), nullable(proof.SentAt),
			nullable(m.RevisionNotes), m.RevisionsUsed, nullable(m.DisputeReason), nullable(m.DisputedAt), nullable(res.Action), nullable(res.Message), nullable(res.ProposedBy), nullable(res.ProposedAt)); err != nil {
			return fmt.Errorf("insert milestone %s: %w", m.ID, err)
		}
	}
	return nil
}

func (r Repo) GetContract(ctx context.Context, id string) (domain.Contract, error) {
	return r.getContract(ctx, r.DB.QueryRowContext, r.DB.QueryContext, id)
}

func (r Repo) GetContractTx(ctx context.Context, tx *sql.Tx, id string) (domain.Contract, error) {
	return r.getContract(ctx, tx.QueryRowContext, tx.QueryContext, id)
}

type queryRowFunc func(ctx context.Context, query string, args ...any) *sql.Row
type queryFunc func(ctx context.Context, query string, args ...any) (*sql.Rows, error)

func (r Repo) getContract(ctx context.Context, queryRow queryRowFunc, query queryFunc, id string) (domain.Contract, error) {
	c, err := scanContract(queryRow(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id=?`, id))
	if err != nil {
		return c, err
	}
	c.Terms.Milestones, err = listMilestones(ctx, query, c.ID)
	if err != nil {
		return c, err
	}
	c.History, err = listHistory(ctx, query, c.ID)
	return c, err
}

func scanContract(row *sql.Row) (domain.Contract, error) {
	var c domain.Contract
	var clientName, creatorName, description, revisionPolicy, prevJSON, expiry sql.NullString
	var endRequester, endRequesterName, endType, endReason, endStatus, endRejection, endRequestedAt sql.NullString
	var durationDays sql.NullInt64
	var clientReviewed, creatorReviewed int
	err := row.Scan(&c.ID, &c.ClientID, &clientName, &c.CreatorID, &creatorName, &c.Title, &description, &c.Status,
		&c.Terms.PaymentType, &c.Terms.PaymentMethod, &c.Terms.Amount, &c.Terms.Currency, &durationDays, &revisionPolicy, &prevJSON, &expiry,
		&endRequester, &endRequesterName, &endType, &endReason, &endStatus, &endRejection, &endRequestedAt,
		&clientReviewed, &creatorReviewed, &c.FundedAmount, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.ClientName = clientName.String
	c.CreatorName = creatorName.String
	c.Description = description.String
	c.Terms.RevisionPolicy = revisionPolicy.String
	c.ExpiryDate = expiry.String
	if durationDays.Valid {
		c.Terms.DurationDays = int(durationDays.Int64)
	}
	if prevJSON.Valid && prevJSON.String != "" {
		var prev domain.Terms
		if err := json.Unmarshal([]byte(prevJSON.String), &prev); err != nil {
			return c, fmt.Errorf("decode previous terms: %w", err)
		}
		c.PreviousTerms = &prev
	}
	if endRequester.Valid && endRequester.String != "" {
		c.EndRequest = &domain.EndRequest{
			RequesterID:     endRequester.String,
			RequesterName:   endRequesterName.String,
			Type:            endType.String,
			Reason:          endReason.String,
			Status:          endStatus.String,
			RejectionReason: endRejection.String,
			RequestedAt:     endRequestedAt.String,
		}
	}
	c.IsClientReviewed = clientReviewed != 0
	c.IsCreatorReviewed = creatorReviewed != 0
	return c, nil
}

const milestoneColumns = `id,position,title,description,amount,status,
submission_link,submission_note,submitted_at,proof_content,proof_method,proof_sent_at,
revision_notes,revisions_used,dispute_reason,disputed_at,resolution_action,resolution_message,resolution_proposed_by,resolution_proposed_at`

func listMilestones(ctx context.Context, query queryFunc, contractID string) ([]domain.Milestone, error) {
	rows, err := query(ctx, `SELECT `+milestoneColumns+` FROM milestones WHERE contract_id=? ORDER BY position ASC`, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Milestone
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func scanMilestone(rows *sql.Rows) (domain.Milestone, error) {
	var m domain.Milestone
	var description, subLink, subNote, subAt, proofContent, proofMethod, proofAt sql.NullString
	var revNotes, dispReason, dispAt, resAction, resMessage, resProposedBy, resProposedAt sql.NullString
	if err := rows.Scan(&m.ID, &m.Position, &m.Title, &description, &m.Amount, &m.Status,
		&subLink, &subNote, &subAt, &proofContent, &proofMethod, &proofAt,
		&revNotes, &m.RevisionsUsed, &dispReason, &dispAt, &resAction, &resMessage, &resProposedBy, &resProposedAt); err != nil {
		return m, err
	}
	m.Description = description.String
	m.RevisionNotes = revNotes.String
	m.DisputeReason = dispReason.String
	m.DisputedAt = dispAt.String
	if subLink.Valid || subNote.Valid || subAt.Valid {
		m.Submission = &domain.Submission{Link: subLink.String, Note: subNote.String, SubmittedAt: subAt.String}
	}
	if proofContent.Valid {
		m.PaymentProof = &domain.PaymentProof{Content: proofContent.String, Method: proofMethod.String, SentAt: proofAt.String}
	}
	if resAction.Valid && resAction.String != "" {
		m.DisputeResolution = &domain.Resolution{
			Action:     resAction.String,
			Message:    resMessage.String,
			ProposedBy: resProposedBy.String,
			ProposedAt: resProposedAt.String,
		}
	}
	return m, nil
}

// AppendHistoryTx adds one audit entry; the table is append-only.
func (r Repo) AppendHistoryTx(ctx context.Context, tx *sql.Tx, h domain.HistoryEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO contract_history(contract_id,type,actor_id,actor_name,note,created_at) VALUES (?,?,?,?,?,?)`,
		h.ContractID, h.Type, h.ActorID, nullable(h.ActorName), nullable(h.Note), h.CreatedAt)
	return err
}

func listHistory(ctx context.Context, query queryFunc, contractID string) ([]domain.HistoryEntry, error) {
	rows, err := query(ctx, `SELECT id,contract_id,type,actor_id,COALESCE(actor_name,''),COALESCE(note,''),created_at FROM contract_history WHERE contract_id=? ORDER BY id ASC`, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HistoryEntry
	for rows.Next() {
		var h domain.HistoryEntry
		if err := rows.Scan(&h.ID, &h.ContractID, &h.Type, &h.ActorID, &h.ActorName, &h.Note, &h.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

type ContractFilters struct {
	PartyID         string
	Status          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

// ListContracts returns contract headers (no milestones or history) newest
// first with cursor pagination.
func (r Repo) ListContracts(ctx context.Context, f ContractFilters) ([]domain.Contract, error) {
	var clauses []string
	var args []any
	if f.PartyID != "" {
		clauses = append(clauses, "(client_id=? OR creator_id=?)")
		args = append(args, f.PartyID, f.PartyID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + contractColumns + ` FROM contracts ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Contract
	for rows.Next() {
		c, err := scanContractRows(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func scanContractRows(rows *sql.Rows) (domain.Contract, error) {
	var c domain.Contract
	var clientName, creatorName, description, revisionPolicy, prevJSON, expiry sql.NullString
	var endRequester, endRequesterName, endType, endReason, endStatus, endRejection, endRequestedAt sql.NullString
	var durationDays sql.NullInt64
	var clientReviewed, creatorReviewed int
	err := rows.Scan(&c.ID, &c.ClientID, &clientName, &c.CreatorID, &creatorName, &c.Title, &description, &c.Status,
		&c.Terms.PaymentType, &c.Terms.PaymentMethod, &c.Terms.Amount, &c.Terms.Currency, &durationDays, &revisionPolicy, &prevJSON, &expiry,
		&endRequester, &endRequesterName, &endType, &endReason, &endStatus, &endRejection, &endRequestedAt,
		&clientReviewed, &creatorReviewed, &c.FundedAmount, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return c, err
	}
	c.ClientName = clientName.String
	c.CreatorName = creatorName.String
	c.Description = description.String
	c.Terms.RevisionPolicy = revisionPolicy.String
	c.ExpiryDate = expiry.String
	if durationDays.Valid {
		c.Terms.DurationDays = int(durationDays.Int64)
	}
	if endRequester.Valid && endRequester.String != "" {
		c.EndRequest = &domain.EndRequest{
			RequesterID:     endRequester.String,
			RequesterName:   endRequesterName.String,
			Type:            endType.String,
			Reason:          endReason.String,
			Status:          endStatus.String,
			RejectionReason: endRejection.String,
			RequestedAt:     endRequestedAt.String,
		}
	}
	c.IsClientReviewed = clientReviewed != 0
	c.IsCreatorReviewed = creatorReviewed != 0
	return c, nil
}

// LatestEventsFrom pages the event feed backwards from a cursor. A non-empty
// partyID restricts the feed to contracts that party is on; admins pass "".
func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, contractID, evtType, partyID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if partyID != "" {
		clauses = append(clauses, "contract_id IN (SELECT id FROM contracts WHERE client_id=? OR creator_id=?)")
		args = append(args, partyID, partyID)
	}
	if contractID != "" {
		clauses = append(clauses, "contract_id=?")
		args = append(args, contractID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,contract_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, contractID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if contractID != "" {
		clauses = append(clauses, "contract_id=?")
		args = append(args, contractID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,contract_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var contractID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &contractID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		e.ContractID = contractID.String
		e.EntityID = entityID.String
		e.Payload = payload.String
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID, optionally per contract.
func (r Repo) LatestEventID(ctx context.Context, contractID string) (int64, error) {
	query := `SELECT COALESCE(MAX(id),0) FROM events`
	var args []any
	if contractID != "" {
		query += ` WHERE contract_id=?`
		args = append(args, contractID)
	}
	var id int64
	if err := r.DB.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// CountContractsByStatus summarizes the store for status output.
func (r Repo) CountContractsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM contracts GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

func marshalTerms(t *domain.Terms) (any, error) {
	if t == nil {
		return nil, nil
	}
	b, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode terms: %w", err)
	}
	return string(b), nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
