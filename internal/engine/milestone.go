package engine

import (
	"context"
	"fmt"

	"pactline/internal/domain"
	"pactline/internal/escrow"
	"pactline/internal/events"
)

// SubmitWork hands a milestone over for the client's review. Submissions
// are frozen while an end request is pending so the two flows cannot race.
func (e Engine) SubmitWork(ctx context.Context, contractID, milestoneID, link, note string, actor domain.Actor) (domain.Contract, error) {
	c, err := e.Repo.GetContract(ctx, contractID)
	if err != nil {
		return domain.Contract{}, err
	}
	if err := requireCreator(c, actor, "submit work"); err != nil {
		return domain.Contract{}, err
	}
	if c.Status != domain.ContractActive {
		return domain.Contract{}, InvalidTransitionError{Entity: "contract", From: c.Status, Action: "submit_work"}
	}
	if c.HasPendingEndRequest() {
		return domain.Contract{}, BusinessRuleError{Rule: "end request pending", Detail: "resolve the contract end request before submitting work"}
	}
	m := c.MilestoneByID(milestoneID)
	if m == nil {
		return domain.Contract{}, ValidationError{Field: "milestone_id", Reason: "not part of this contract"}
	}
	if m.Status != domain.MilestoneInProgress {
		return domain.Contract{}, InvalidTransitionError{Entity: "milestone", From: m.Status, Action: "submit_work"}
	}

	m.Status = domain.MilestoneUnderReview
	m.Submission = &domain.Submission{Link: link, Note: note, SubmittedAt: e.nowRFC3339()}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Contract{}, err
	}
	defer tx.Rollback()
	if err := e.saveTx(ctx, tx, &c); err != nil {
		return domain.Contract{}, err
	}
	if err := e.appendHistory(ctx, tx, c.ID, "work_submitted", actor, m.Title); err != nil {
		return domain.Contract{}, err
	}
	if err := e.Events.Append(ctx, tx, "milestone.submitted", c.ID, "milestone", m.ID, actor.ID, events.EventPayload{
		"title": m.Title, "link": link,
	}); err != nil {
		return domain.Contract{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Contract{}, err
	}

	e.notify(ctx, c.ClientID, "Work submitted",
		fmt.Sprintf("%s delivered %q for review", actor.Name, m.Title), "info", c.ID)
	return e.Repo.GetContract(ctx, c.ID)
}

// RequestChanges sends a milestone back for revision. The terms revision
// policy caps how many times; once the ceiling is hit the client must
// either approve or raise a dispute.
func (e Engine) RequestChanges(ctx context.Context, contractID, milestoneID, note string, actor domain.Actor) (domain.Contract, error) {
	c, err := e.Repo.GetContract(ctx, contractID)
	if err != nil {
		return domain.Contract{}, err
	}
	if err := requireClient(c, actor, "request changes"); err != nil {
		return domain.Contract{}, err
	}
	m := c.MilestoneByID(milestoneID)
	if m == nil {
		return domain.Contract{}, ValidationError{Field: "milestone_id", Reason: "not part of this contract"}
	}
	if m.Status != domain.MilestoneUnderReview {
		return domain.Contract{}, InvalidTransitionError{Entity: "milestone", From: m.Status, Action: "request_changes"}
	}
	if limit := revisionLimit(c.Terms.RevisionPolicy); limit != revisionsUnlimited && m.RevisionsUsed >= limit {
		return domain.Contract{}, BusinessRuleError{
			Rule:   "revision limit exhausted",
			Detail: fmt.Sprintf("policy %q allows %d revisions; approve the work or raise a dispute", c.Terms.RevisionPolicy, limit),
		}
	}

	m.Status = domain.MilestoneInProgress
	m.RevisionNotes = note
	m.RevisionsUsed++

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Contract{}, err
	}
	defer tx.Rollback()
	if err := e.saveTx(ctx, tx, &c); err != nil {
		return domain.Contract{}, err
	}
	if err := e.appendHistory(ctx, tx, c.ID, "changes_requested", actor, note); err != nil {
		return domain.Contract{}, err
	}
	if err := e.Events.Append(ctx, tx, "milestone.changes_requested", c.ID, "milestone", m.ID, actor.ID, events.EventPayload{
		"title": m.Title, "revisions_used": m.RevisionsUsed,
	}); err != nil {
		return domain.Contract{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Contract{}, err
	}

	e.notify(ctx, c.CreatorID, "Changes requested",
		fmt.Sprintf("%s requested changes on %q", actor.Name, m.Title), "warning", c.ID)
	return e.Repo.GetContract(ctx, c.ID)
}

// Approve accepts submitted work. Escrow milestones settle immediately out
// of the deposit; direct milestones stay under review until the client
// records the off-platform payment proof.
func (e Engine) Approve(ctx context.Context, contractID, milestoneID string, actor domain.Actor) (domain.Contract, error) {
	c, err := e.Repo.GetContract(ctx, contractID)
	if err != nil {
		return domain.Contract{}, err
	}
	if err := requireClient(c, actor, "approve work"); err != nil {
		return domain.Contract{}, err
	}
	m := c.MilestoneByID(milestoneID)
	if m == nil {
		return domain.Contract{}, ValidationError{Field: "milestone_id", Reason: "not part of this contract"}
	}
	if m.Status != domain.MilestoneUnderReview {
		return domain.Contract{}, InvalidTransitionError{Entity: "milestone", From: m.Status, Action: "approve"}
	}

	if c.Terms.PaymentMethod == domain.PaymentMethodEscrow {
		return e.settleMilestone(ctx, c, m, actor, "milestone_released")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Contract{}, err
	}
	defer tx.Rollback()
	if err := e.saveTx(ctx, tx, &c); err != nil {
		return domain.Contract{}, err
	}
	if err := e.appendHistory(ctx, tx, c.ID, "milestone_approved", actor, m.Title); err != nil {
		return domain.Contract{}, err
	}
	if err := e.Events.Append(ctx, tx, "milestone.approved", c.ID, "milestone", m.ID, actor.ID, events.EventPayload{
		"title": m.Title,
	}); err != nil {
		return domain.Contract{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Contract{}, err
	}

	e.notify(ctx, c.CreatorID, "Work approved",
		fmt.Sprintf("%q approved; payment of %d %s is on its way", m.Title, m.Amount, c.Terms.Currency), "info", c.ID)
	return e.Repo.GetContract(ctx, c.ID)
}

// SubmitPaymentProof records the client's off-platform payment evidence on
// a direct milestone awaiting verification.
func (e Engine) SubmitPaymentProof(ctx context.Context, contractID, milestoneID, content, method string, actor domain.Actor) (domain.Contract, error) {
	c, err := e.Repo.GetContract(ctx, contractID)
	if err != nil {
		return domain.Contract{}, err
	}
	if err := requireClient(c, actor, "submit payment proof"); err != nil {
		return domain.Contract{}, err
	}
	if c.Terms.PaymentMethod != domain.PaymentMethodDirect {
		return domain.Contract{}, BusinessRuleError{Rule: "escrow settles on approval", Detail: "payment proof applies to direct-payment contracts only"}
	}
	if content == "" {
		return domain.Contract{}, ValidationError{Field: "content", Reason: "is required"}
	}
	m := c.MilestoneByID(milestoneID)
	if m == nil {
		return domain.Contract{}, ValidationError{Field: "milestone_id", Reason: "not part of this contract"}
	}
	// payment_verify re-submission covers a retry_payment resolution where
	// the first transfer never arrived.
	if m.Status != domain.MilestoneUnderReview && m.Status != domain.MilestonePaymentVerify {
		return domain.Contract{}, InvalidTransitionError{Entity: "milestone", From: m.Status, Action: "submit_payment_proof"}
	}

	m.Status = domain.MilestonePaymentVerify
	m.PaymentProof = &domain.PaymentProof{Content: content, Method: method, SentAt: e.nowRFC3339()}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Contract{}, err
	}
	defer tx.Rollback()
	if err := e.saveTx(ctx, tx, &c); err != nil {
		return domain.Contract{}, err
	}
	if err := e.appendHistory(ctx, tx, c.ID, "payment_proof_submitted", actor, m.Title); err != nil {
		return domain.Contract{}, err
	}
	if err := e.Events.Append(ctx, tx, "milestone.payment_proof", c.ID, "milestone", m.ID, actor.ID, events.EventPayload{
		"title": m.Title, "method": method,
	}); err != nil {
		return domain.Contract{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Contract{}, err
	}

	e.notify(ctx, c.CreatorID, "Payment sent",
		fmt.Sprintf("%s sent payment for %q; confirm once received", actor.Name, m.Title), "info", c.ID)
	return e.Repo.GetContract(ctx, c.ID)
}

// ConfirmPayment is the creator acknowledging receipt of a direct payment,
// settling the milestone.
func (e Engine) ConfirmPayment(ctx context.Context, contractID, milestoneID string, actor domain.Actor) (domain.Contract, error) {
	c, err := e.Repo.GetContract(ctx, contractID)
	if err != nil {
		return domain.Contract{}, err
	}
	if err := requireCreator(c, actor, "confirm payment"); err != nil {
		return domain.Contract{}, err
	}
	m := c.MilestoneByID(milestoneID)
	if m == nil {
		return domain.Contract{}, ValidationError{Field: "milestone_id", Reason: "not part of this contract"}
	}
	if m.Status != domain.MilestonePaymentVerify {
		return domain.Contract{}, InvalidTransitionError{Entity: "milestone", From: m.Status, Action: "confirm_payment"}
	}
	if m.PaymentProof == nil {
		return domain.Contract{}, BusinessRuleError{Rule: "no payment proof on file", Detail: "the client has not recorded a payment yet"}
	}

	return e.settleMilestone(ctx, c, m, actor, "payment_confirmed")
}

// RaiseDispute freezes a milestone for admin attention. The raiser must
// state a reason and attest to having tried resolving it with the other
// party first.
func (e Engine) RaiseDispute(ctx context.Context, contractID, milestoneID, reason string, triedResolving bool, actor domain.Actor) (domain.Contract, error) {
	c, err := e.Repo.GetContract(ctx, contractID)
	if err != nil {
		return domain.Contract{}, err
	}
	if err := requireParty(c, actor); err != nil {
		return domain.Contract{}, err
	}
	if reason == "" {
		return domain.Contract{}, ValidationError{Field: "reason", Reason: "is required"}
	}
	if !triedResolving {
		return domain.Contract{}, BusinessRuleError{Rule: "direct resolution first", Detail: "confirm you have tried resolving this with the other party"}
	}
	m := c.MilestoneByID(milestoneID)
	if m == nil {
		return domain.Contract{}, ValidationError{Field: "milestone_id", Reason: "not part of this contract"}
	}
	switch m.Status {
	case domain.MilestoneInProgress, domain.MilestoneUnderReview, domain.MilestonePaymentVerify:
	default:
		return domain.Contract{}, InvalidTransitionError{Entity: "milestone", From: m.Status, Action: "dispute"}
	}

	m.Status = domain.MilestoneDisputed
	m.DisputeReason = reason
	m.DisputedAt = e.nowRFC3339()
	m.DisputeResolution = nil

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Contract{}, err
	}
	defer tx.Rollback()
	if err := e.saveTx(ctx, tx, &c); err != nil {
		return domain.Contract{}, err
	}
	if err := e.appendHistory(ctx, tx, c.ID, "dispute_raised", actor, reason); err != nil {
		return domain.Contract{}, err
	}
	if err := e.Events.Append(ctx, tx, "milestone.disputed", c.ID, "milestone", m.ID, actor.ID, events.EventPayload{
		"title": m.Title, "reason": reason,
	}); err != nil {
		return domain.Contract{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Contract{}, err
	}

	e.notify(ctx, c.CounterpartyOf(actor.ID), "Dispute raised",
		fmt.Sprintf("%s disputed %q: %s", actor.Name, m.Title, reason), "error", c.ID)
	return e.Repo.GetContract(ctx, c.ID)
}

// settleMilestone marks a milestone paid, advances the next one, completes
// the contract when everything is settled, and records the payout breakdown.
func (e Engine) settleMilestone(ctx context.Context, c domain.Contract, m *domain.Milestone, actor domain.Actor, historyType string) (domain.Contract, error) {
	m.Status = domain.MilestonePaid
	completed := e.advanceMilestones(&c)

	isEscrow := c.Terms.PaymentMethod == domain.PaymentMethodEscrow
	residency := e.creatorResidency(ctx, c)
	commission := e.Fees.Commission(m.Amount, isEscrow)
	tax := e.Fees.WithholdingTax(m.Amount-commission, residency)
	takeHome := e.Fees.TakeHome(m.Amount, isEscrow, residency)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Contract{}, err
	}
	defer tx.Rollback()
	if err := e.saveTx(ctx, tx, &c); err != nil {
		return domain.Contract{}, err
	}
	if err := e.appendHistory(ctx, tx, c.ID, historyType, actor, m.Title); err != nil {
		return domain.Contract{}, err
	}
	if err := e.Events.Append(ctx, tx, "milestone.paid", c.ID, "milestone", m.ID, actor.ID, events.EventPayload{
		"title": m.Title, "amount": m.Amount,
		"commission": commission, "withholding_tax": tax, "take_home": takeHome,
	}); err != nil {
		return domain.Contract{}, err
	}
	if completed {
		if err := e.appendHistory(ctx, tx, c.ID, "contract_completed", actor, ""); err != nil {
			return domain.Contract{}, err
		}
		if err := e.Events.Append(ctx, tx, "contract.completed", c.ID, "contract", c.ID, actor.ID, nil); err != nil {
			return domain.Contract{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Contract{}, err
	}

	e.notify(ctx, c.CreatorID, "Milestone paid",
		fmt.Sprintf("%q settled: %d %s take-home after %d commission and %d tax", m.Title, takeHome, c.Terms.Currency, commission, tax), "info", c.ID)
	if completed {
		e.notify(ctx, c.ClientID, "Contract completed",
			fmt.Sprintf("All milestones on %s are settled", c.Title), "info", c.ID)
	}
	return e.Repo.GetContract(ctx, c.ID)
}

func (e Engine) creatorResidency(ctx context.Context, c domain.Contract) string {
	p, err := e.Repo.GetParty(ctx, c.CreatorID)
	if err != nil || p.Residency == "" {
		return escrow.ResidencyNonResident
	}
	return p.Residency
}
