package engine

import (
	"context"
	"fmt"

	"pactline/internal/domain"
	"pactline/internal/events"
)

// ProposeResolution offers the other party a way out of a milestone
// dispute without admin intervention: resume the work, or retry the
// payment on a direct contract.
func (e Engine) ProposeResolution(ctx context.Context, contractID, milestoneID, action, message string, actor domain.Actor) (domain.Contract, error) {
	c, err := e.Repo.GetContract(ctx, contractID)
	if err != nil {
		return domain.Contract{}, err
	}
	if err := requireParty(c, actor); err != nil {
		return domain.Contract{}, err
	}
	switch action {
	case domain.ResolutionResumeWork:
	case domain.ResolutionRetryPayment:
		if c.Terms.PaymentMethod != domain.PaymentMethodDirect {
			return domain.Contract{}, BusinessRuleError{Rule: "nothing to retry", Detail: "retry_payment applies to direct-payment contracts only"}
		}
	default:
		return domain.Contract{}, ValidationError{Field: "action", Reason: "must be resume_work or retry_payment"}
	}
	m := c.MilestoneByID(milestoneID)
	if m == nil {
		return domain.Contract{}, ValidationError{Field: "milestone_id", Reason: "not part of this contract"}
	}
	if m.Status != domain.MilestoneDisputed {
		return domain.Contract{}, InvalidTransitionError{Entity: "milestone", From: m.Status, Action: "propose_resolution"}
	}

	m.DisputeResolution = &domain.Resolution{
		Action:     action,
		Message:    message,
		ProposedBy: actor.ID,
		ProposedAt: e.nowRFC3339(),
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Contract{}, err
	}
	defer tx.Rollback()
	if err := e.saveTx(ctx, tx, &c); err != nil {
		return domain.Contract{}, err
	}
	if err := e.appendHistory(ctx, tx, c.ID, "resolution_proposed", actor, action); err != nil {
		return domain.Contract{}, err
	}
	if err := e.Events.Append(ctx, tx, "milestone.resolution_proposed", c.ID, "milestone", m.ID, actor.ID, events.EventPayload{
		"title": m.Title, "action": action,
	}); err != nil {
		return domain.Contract{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Contract{}, err
	}

	e.notify(ctx, c.CounterpartyOf(actor.ID), "Resolution proposed",
		fmt.Sprintf("%s proposed to %s on %q", actor.Name, action, m.Title), "info", c.ID)
	return e.Repo.GetContract(ctx, c.ID)
}

// AcceptResolution settles a dispute amicably. Only the party who did not
// propose may accept; the agreed action then takes effect and the dispute
// fields clear.
func (e Engine) AcceptResolution(ctx context.Context, contractID, milestoneID string, actor domain.Actor) (domain.Contract, error) {
	c, err := e.Repo.GetContract(ctx, contractID)
	if err != nil {
		return domain.Contract{}, err
	}
	if err := requireParty(c, actor); err != nil {
		return domain.Contract{}, err
	}
	m := c.MilestoneByID(milestoneID)
	if m == nil {
		return domain.Contract{}, ValidationError{Field: "milestone_id", Reason: "not part of this contract"}
	}
	if m.Status != domain.MilestoneDisputed || m.DisputeResolution == nil {
		return domain.Contract{}, InvalidTransitionError{Entity: "milestone", From: m.Status, Action: "accept_resolution"}
	}
	if m.DisputeResolution.ProposedBy == actor.ID {
		return domain.Contract{}, ForbiddenError{ActorID: actor.ID, Reason: "a proposal is accepted by the other party"}
	}

	action := m.DisputeResolution.Action
	switch action {
	case domain.ResolutionResumeWork:
		m.Status = domain.MilestoneInProgress
	case domain.ResolutionRetryPayment:
		m.Status = domain.MilestonePaymentVerify
	}
	m.DisputeReason = ""
	m.DisputedAt = ""
	m.DisputeResolution = nil

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Contract{}, err
	}
	defer tx.Rollback()
	if err := e.saveTx(ctx, tx, &c); err != nil {
		return domain.Contract{}, err
	}
	if err := e.appendHistory(ctx, tx, c.ID, "dispute_resolved", actor, action); err != nil {
		return domain.Contract{}, err
	}
	if err := e.Events.Append(ctx, tx, "milestone.resolved", c.ID, "milestone", m.ID, actor.ID, events.EventPayload{
		"title": m.Title, "action": action,
	}); err != nil {
		return domain.Contract{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Contract{}, err
	}

	e.notify(ctx, c.CounterpartyOf(actor.ID), "Dispute resolved",
		fmt.Sprintf("%s accepted the %s proposal on %q", actor.Name, action, m.Title), "info", c.ID)
	return e.Repo.GetContract(ctx, c.ID)
}

// DisputeContract flags a whole fixed-payment contract as disputed. This is
// a support action, not a party-facing one: party disputes always target a
// milestone.
func (e Engine) DisputeContract(ctx context.Context, contractID, reason string, actor domain.Actor) (domain.Contract, error) {
	if actor.Role != domain.RoleAdmin {
		return domain.Contract{}, ForbiddenError{ActorID: actor.ID, Reason: "contract-level disputes are admin-only"}
	}
	if reason == "" {
		return domain.Contract{}, ValidationError{Field: "reason", Reason: "is required"}
	}
	c, err := e.Repo.GetContract(ctx, contractID)
	if err != nil {
		return domain.Contract{}, err
	}
	if c.Terms.PaymentType != domain.PaymentTypeFixed {
		return domain.Contract{}, BusinessRuleError{Rule: "milestone contracts dispute per milestone", Detail: "flag the affected milestone instead"}
	}
	if c.Status != domain.ContractActive {
		return domain.Contract{}, InvalidTransitionError{Entity: "contract", From: c.Status, Action: "dispute"}
	}

	c.Status = domain.ContractDisputed

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Contract{}, err
	}
	defer tx.Rollback()
	if err := e.saveTx(ctx, tx, &c); err != nil {
		return domain.Contract{}, err
	}
	if err := e.appendHistory(ctx, tx, c.ID, "dispute_raised", adminActor(actor), reason); err != nil {
		return domain.Contract{}, err
	}
	if err := e.Events.Append(ctx, tx, "contract.disputed", c.ID, "contract", c.ID, actor.ID, events.EventPayload{
		"reason": reason,
	}); err != nil {
		return domain.Contract{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Contract{}, err
	}

	e.notify(ctx, c.ClientID, "Contract under dispute", reason, "error", c.ID)
	e.notify(ctx, c.CreatorID, "Contract under dispute", reason, "error", c.ID)
	return e.Repo.GetContract(ctx, c.ID)
}

// AdminRulingOptions identify a dispute case and the verdict to apply.
type AdminRulingOptions struct {
	Kind        string
	ContractID  string
	MilestoneID string
	Verdict     string
	Note        string
}

// AdminRuling closes a dispute case by fiat. Milestone verdicts settle,
// cancel or send the milestone back to work; contract verdicts do the same
// at contract scope; termination verdicts are directional, granting or
// denying the filed end request depending on who filed it.
func (e Engine) AdminRuling(ctx context.Context, opts AdminRulingOptions, actor domain.Actor) (domain.Contract, error) {
	if actor.Role != domain.RoleAdmin {
		return domain.Contract{}, ForbiddenError{ActorID: actor.ID, Reason: "rulings are admin-only"}
	}
	switch opts.Verdict {
	case domain.VerdictFavorCreator, domain.VerdictFavorClient, domain.VerdictForceRevision:
	default:
		return domain.Contract{}, ValidationError{Field: "verdict", Reason: "must be favor_creator, favor_client or force_revision"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Contract{}, err
	}
	defer tx.Rollback()

	// load inside the transaction so the verdict applies to the state it
	// was checked against
	c, err := e.Repo.GetContractTx(ctx, tx, opts.ContractID)
	if err != nil {
		return domain.Contract{}, err
	}

	var ruled string
	switch opts.Kind {
	case domain.DisputeKindMilestone:
		ruled, err = e.ruleMilestone(&c, opts)
	case domain.DisputeKindContract:
		ruled, err = ruleContract(&c, opts)
	case domain.DisputeKindTermination:
		ruled, err = ruleTermination(&c, opts)
	default:
		return domain.Contract{}, ValidationError{Field: "kind", Reason: "must be milestone, contract or termination"}
	}
	if err != nil {
		return domain.Contract{}, err
	}

	if err := e.saveTx(ctx, tx, &c); err != nil {
		return domain.Contract{}, err
	}
	if err := e.appendHistory(ctx, tx, c.ID, "admin_ruling", adminActor(actor), fmt.Sprintf("%s: %s", opts.Verdict, opts.Note)); err != nil {
		return domain.Contract{}, err
	}
	if err := e.Events.Append(ctx, tx, "admin.ruling", c.ID, opts.Kind, opts.MilestoneID, actor.ID, events.EventPayload{
		"kind": opts.Kind, "verdict": opts.Verdict, "outcome": ruled,
	}); err != nil {
		return domain.Contract{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Contract{}, err
	}

	msg := fmt.Sprintf("Ruling on %s: %s", c.Title, ruled)
	e.notify(ctx, c.ClientID, "Dispute ruled", msg, "warning", c.ID)
	e.notify(ctx, c.CreatorID, "Dispute ruled", msg, "warning", c.ID)
	return e.Repo.GetContract(ctx, c.ID)
}

func (e Engine) ruleMilestone(c *domain.Contract, opts AdminRulingOptions) (string, error) {
	m := c.MilestoneByID(opts.MilestoneID)
	if m == nil {
		return "", ValidationError{Field: "milestone_id", Reason: "not part of this contract"}
	}
	if m.Status != domain.MilestoneDisputed {
		return "", InvalidTransitionError{Entity: "milestone", From: m.Status, Action: "rule"}
	}
	m.DisputeReason = ""
	m.DisputedAt = ""
	m.DisputeResolution = nil
	switch opts.Verdict {
	case domain.VerdictFavorCreator:
		m.Status = domain.MilestonePaid
		e.advanceMilestones(c)
		return "milestone paid to the creator", nil
	case domain.VerdictFavorClient:
		m.Status = domain.MilestoneCancelled
		e.advanceMilestones(c)
		return "milestone cancelled; the client owes nothing", nil
	default:
		m.Status = domain.MilestoneInProgress
		m.RevisionNotes = opts.Note
		return "milestone sent back for revision", nil
	}
}

func ruleContract(c *domain.Contract, opts AdminRulingOptions) (string, error) {
	if c.Status != domain.ContractDisputed {
		return "", InvalidTransitionError{Entity: "contract", From: c.Status, Action: "rule"}
	}
	switch opts.Verdict {
	case domain.VerdictFavorCreator:
		for i := range c.Terms.Milestones {
			if c.Terms.Milestones[i].Status != domain.MilestoneCancelled {
				c.Terms.Milestones[i].Status = domain.MilestonePaid
			}
		}
		c.Status = domain.ContractCompleted
		return "contract completed in the creator's favor", nil
	case domain.VerdictFavorClient:
		cancelOpenMilestones(c)
		c.Status = domain.ContractCancelled
		return "contract cancelled in the client's favor", nil
	default:
		c.Status = domain.ContractActive
		for i := range c.Terms.Milestones {
			m := &c.Terms.Milestones[i]
			if m.Status != domain.MilestonePaid && m.Status != domain.MilestoneCancelled {
				m.Status = domain.MilestoneInProgress
				m.RevisionNotes = opts.Note
				break
			}
		}
		return "work resumes under revision", nil
	}
}

// ruleTermination maps a directional verdict onto the filed request: the
// verdict names the party whose position prevails, so "favor client" grants
// a client-filed request but denies a creator-filed one, and vice versa.
// Force-revision always denies and sends both sides back to work.
func ruleTermination(c *domain.Contract, opts AdminRulingOptions) (string, error) {
	if !c.HasPendingEndRequest() || c.EndRequest.Type != domain.EndTypeTermination {
		return "", InvalidTransitionError{Entity: "contract", From: c.Status, Action: "rule termination"}
	}
	requesterIsClient := c.EndRequest.RequesterID == c.ClientID
	granted := (opts.Verdict == domain.VerdictFavorClient && requesterIsClient) ||
		(opts.Verdict == domain.VerdictFavorCreator && !requesterIsClient)
	if granted {
		c.EndRequest.Status = domain.EndApproved
		cancelOpenMilestones(c)
		c.Status = domain.ContractCancelled
		return "termination granted; contract cancelled", nil
	}
	c.EndRequest.Status = domain.EndRejected
	c.EndRequest.RejectionReason = opts.Note
	return "termination denied; work continues", nil
}

// adminActor normalizes the audit identity for rulings.
func adminActor(a domain.Actor) domain.Actor {
	if a.ID == "" {
		a.ID = "admin"
	}
	if a.Name == "" {
		a.Name = "admin"
	}
	return a
}
