package server

import "pactline/internal/domain"

type CreateContractRequest struct {
	ID          string     `json:"id,omitempty"`
	ClientID    string     `json:"client_id"`
	ClientName  string     `json:"client_name,omitempty"`
	CreatorID   string     `json:"creator_id"`
	CreatorName string     `json:"creator_name,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Terms       TermsInput `json:"terms"`
	ExpiryDate  string     `json:"expiry_date,omitempty" format:"date-time"`
}

type CounterOfferRequest struct {
	Terms TermsInput `json:"terms"`
	Note  string     `json:"note,omitempty"`
}

// TermsInput carries only the fields a caller chooses. Identifiers, positions,
// statuses and the fixed-contract amount are derived server-side, so exposing
// domain.Terms here would force callers to supply them.
type TermsInput struct {
	PaymentType    string           `json:"payment_type" enum:"fixed,milestone"`
	PaymentMethod  string           `json:"payment_method" enum:"escrow,direct"`
	Amount         int64            `json:"amount,omitempty" minimum:"0"`
	Currency       string           `json:"currency,omitempty"`
	DurationDays   int              `json:"duration_days,omitempty" minimum:"0"`
	RevisionPolicy string           `json:"revision_policy,omitempty"`
	Milestones     []MilestoneInput `json:"milestones,omitempty"`
}

type MilestoneInput struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Amount      int64  `json:"amount" minimum:"1"`
}

func (t TermsInput) toTerms() domain.Terms {
	terms := domain.Terms{
		PaymentType:    t.PaymentType,
		PaymentMethod:  t.PaymentMethod,
		Amount:         t.Amount,
		Currency:       t.Currency,
		DurationDays:   t.DurationDays,
		RevisionPolicy: t.RevisionPolicy,
	}
	for _, m := range t.Milestones {
		terms.Milestones = append(terms.Milestones, domain.Milestone{
			Title:       m.Title,
			Description: m.Description,
			Amount:      m.Amount,
		})
	}
	return terms
}

type ReasonRequest struct {
	Reason string `json:"reason,omitempty"`
}

type FundRequest struct {
	Amount int64 `json:"amount" minimum:"1"`
}

type RequestEndRequest struct {
	Type   string `json:"type" enum:"completion,termination"`
	Reason string `json:"reason,omitempty"`
}

type ResolveEndRequest struct {
	Approve         bool   `json:"approve"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

type SubmitWorkRequest struct {
	Link string `json:"link,omitempty"`
	Note string `json:"note,omitempty"`
}

type NoteRequest struct {
	Note string `json:"note,omitempty"`
}

type PaymentProofRequest struct {
	Content string `json:"content"`
	Method  string `json:"method,omitempty"`
}

type DisputeRequest struct {
	Reason         string `json:"reason"`
	TriedResolving bool   `json:"tried_resolving"`
}

type ResolutionRequest struct {
	Action  string `json:"action" enum:"resume_work,retry_payment"`
	Message string `json:"message,omitempty"`
}

type RulingRequest struct {
	Kind        string `json:"kind" enum:"milestone,contract,termination"`
	ContractID  string `json:"contract_id"`
	MilestoneID string `json:"milestone_id,omitempty"`
	Verdict     string `json:"verdict" enum:"favor_creator,favor_client,force_revision"`
	Note        string `json:"note,omitempty"`
}

type paginatedContracts struct {
	Items      []domain.Contract `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type FundingQuote struct {
	Amount    int64 `json:"amount"`
	EscrowFee int64 `json:"escrow_fee"`
	Total     int64 `json:"total"`
}

type PayoutQuote struct {
	Amount         int64 `json:"amount"`
	Commission     int64 `json:"commission"`
	WithholdingTax int64 `json:"withholding_tax"`
	TakeHome       int64 `json:"take_home"`
}

type GrossUpQuote struct {
	DesiredNet int64   `json:"desired_net"`
	Gross      int64   `json:"gross"`
	TakeHome   int64   `json:"take_home"`
	Milestones []int64 `json:"milestones,omitempty"`
}

type DistributeQuote struct {
	Total    int64   `json:"total"`
	Amounts  []int64 `json:"amounts"`
	FirstCap int64   `json:"first_cap"`
}
