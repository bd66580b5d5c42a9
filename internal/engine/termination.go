package engine

import (
	"context"
	"fmt"

	"pactline/internal/domain"
	"pactline/internal/events"
)

// RequestEnd files a mutual-end request: early completion or termination.
// Only one request may be pending at a time, and a client cannot file while
// the creator has a milestone actively in progress.
func (e Engine) RequestEnd(ctx context.Context, contractID, endType, reason string, actor domain.Actor) (domain.Contract, error) {
	c, err := e.Repo.GetContract(ctx, contractID)
	if err != nil {
		return domain.Contract{}, err
	}
	if err := requireParty(c, actor); err != nil {
		return domain.Contract{}, err
	}
	if c.Status != domain.ContractActive {
		return domain.Contract{}, InvalidTransitionError{Entity: "contract", From: c.Status, Action: "request_end"}
	}
	if endType != domain.EndTypeCompletion && endType != domain.EndTypeTermination {
		return domain.Contract{}, ValidationError{Field: "type", Reason: "must be completion or termination"}
	}
	if endType == domain.EndTypeTermination && reason == "" {
		return domain.Contract{}, ValidationError{Field: "reason", Reason: "is required for termination"}
	}
	if c.HasPendingEndRequest() {
		return domain.Contract{}, BusinessRuleError{Rule: "end request already pending", Detail: "resolve the open request first"}
	}
	if actor.ID == c.ClientID {
		for _, m := range c.Terms.Milestones {
			if m.Status == domain.MilestoneInProgress {
				return domain.Contract{}, BusinessRuleError{
					Rule:   "work in progress",
					Detail: fmt.Sprintf("milestone %q is being worked on; wait for its delivery or review", m.Title),
				}
			}
		}
	}

	c.EndRequest = &domain.EndRequest{
		RequesterID:   actor.ID,
		RequesterName: actor.Name,
		Type:          endType,
		Reason:        reason,
		Status:        domain.EndPending,
		RequestedAt:   e.nowRFC3339(),
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Contract{}, err
	}
	defer tx.Rollback()
	if err := e.saveTx(ctx, tx, &c); err != nil {
		return domain.Contract{}, err
	}
	if err := e.appendHistory(ctx, tx, c.ID, "end_requested", actor, endType+": "+reason); err != nil {
		return domain.Contract{}, err
	}
	if err := e.Events.Append(ctx, tx, "contract.end_requested", c.ID, "contract", c.ID, actor.ID, events.EventPayload{
		"type": endType, "reason": reason,
	}); err != nil {
		return domain.Contract{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Contract{}, err
	}

	e.notify(ctx, c.CounterpartyOf(actor.ID), "End of contract requested",
		fmt.Sprintf("%s asked to end %s (%s)", actor.Name, c.Title, endType), "warning", c.ID)
	return e.Repo.GetContract(ctx, c.ID)
}

// ResolveEnd is the counterparty answering a pending end request. Approval
// closes the contract, completed or cancelled depending on the request
// type, and cancels any unsettled milestones. Rejection keeps the contract
// running.
func (e Engine) ResolveEnd(ctx context.Context, contractID string, approve bool, rejectionReason string, actor domain.Actor) (domain.Contract, error) {
	c, err := e.Repo.GetContract(ctx, contractID)
	if err != nil {
		return domain.Contract{}, err
	}
	if err := requireParty(c, actor); err != nil {
		return domain.Contract{}, err
	}
	if !c.HasPendingEndRequest() {
		return domain.Contract{}, InvalidTransitionError{Entity: "contract", From: c.Status, Action: "resolve_end"}
	}
	if c.EndRequest.RequesterID == actor.ID {
		return domain.Contract{}, ForbiddenError{ActorID: actor.ID, Reason: "an end request is answered by the other party"}
	}

	var entryType, evtOutcome string
	if approve {
		c.EndRequest.Status = domain.EndApproved
		cancelOpenMilestones(&c)
		if c.EndRequest.Type == domain.EndTypeCompletion {
			c.Status = domain.ContractCompleted
		} else {
			c.Status = domain.ContractCancelled
		}
		entryType, evtOutcome = "end_approved", c.Status
	} else {
		c.EndRequest.Status = domain.EndRejected
		c.EndRequest.RejectionReason = rejectionReason
		entryType, evtOutcome = "end_rejected", "rejected"
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Contract{}, err
	}
	defer tx.Rollback()
	if err := e.saveTx(ctx, tx, &c); err != nil {
		return domain.Contract{}, err
	}
	if err := e.appendHistory(ctx, tx, c.ID, entryType, actor, rejectionReason); err != nil {
		return domain.Contract{}, err
	}
	if err := e.Events.Append(ctx, tx, "contract.end_resolved", c.ID, "contract", c.ID, actor.ID, events.EventPayload{
		"outcome": evtOutcome, "type": c.EndRequest.Type,
	}); err != nil {
		return domain.Contract{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Contract{}, err
	}

	title := "End request rejected"
	msg := fmt.Sprintf("%s rejected the end request on %s", actor.Name, c.Title)
	if approve {
		title = "Contract ended"
		msg = fmt.Sprintf("%s agreed to end %s (%s)", actor.Name, c.Title, c.Status)
	}
	e.notify(ctx, c.CounterpartyOf(actor.ID), title, msg, "warning", c.ID)
	return e.Repo.GetContract(ctx, c.ID)
}

// MarkReviewed records that a party left their post-contract review. One
// review per side, available once the contract has closed.
func (e Engine) MarkReviewed(ctx context.Context, contractID string, actor domain.Actor) (domain.Contract, error) {
	c, err := e.Repo.GetContract(ctx, contractID)
	if err != nil {
		return domain.Contract{}, err
	}
	if err := requireParty(c, actor); err != nil {
		return domain.Contract{}, err
	}
	if c.Status != domain.ContractCompleted && c.Status != domain.ContractCancelled {
		return domain.Contract{}, InvalidTransitionError{Entity: "contract", From: c.Status, Action: "review"}
	}
	if actor.ID == c.ClientID {
		if c.IsClientReviewed {
			return domain.Contract{}, BusinessRuleError{Rule: "already reviewed"}
		}
		c.IsClientReviewed = true
	} else {
		if c.IsCreatorReviewed {
			return domain.Contract{}, BusinessRuleError{Rule: "already reviewed"}
		}
		c.IsCreatorReviewed = true
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Contract{}, err
	}
	defer tx.Rollback()
	if err := e.saveTx(ctx, tx, &c); err != nil {
		return domain.Contract{}, err
	}
	if err := e.appendHistory(ctx, tx, c.ID, "reviewed", actor, ""); err != nil {
		return domain.Contract{}, err
	}
	if err := e.Events.Append(ctx, tx, "contract.reviewed", c.ID, "contract", c.ID, actor.ID, nil); err != nil {
		return domain.Contract{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Contract{}, err
	}
	return e.Repo.GetContract(ctx, c.ID)
}
