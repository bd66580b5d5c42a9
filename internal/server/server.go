package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"pactline/internal/domain"
	"pactline/internal/engine"
	"pactline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"out_of_turn"`
	Message string         `json:"message" example:"party holds the last offer"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Pactline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Pactline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStats(group, cfg.Engine)
	registerContracts(group, cfg.Engine)
	registerMilestones(group, cfg.Engine)
	registerDisputes(group, cfg.Engine)
	registerQuotes(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerNotifications(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var forbidden engine.ForbiddenError
	if errors.As(err, &forbidden) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), nil)
	}
	var turn engine.InvalidTurnError
	if errors.As(err, &turn) {
		return newAPIError(http.StatusConflict, "out_of_turn", err.Error(), map[string]any{"actor_id": turn.ActorID})
	}
	var transition engine.InvalidTransitionError
	if errors.As(err, &transition) {
		return newAPIError(http.StatusUnprocessableEntity, "invalid_transition", err.Error(), map[string]any{
			"entity": transition.Entity, "status": transition.From,
		})
	}
	var rule engine.BusinessRuleError
	if errors.As(err, &rule) {
		return newAPIError(http.StatusUnprocessableEntity, "business_rule", err.Error(), map[string]any{"rule": rule.Rule})
	}
	var invalid engine.ValidationError
	if errors.As(err, &invalid) {
		details := map[string]any{}
		if invalid.Field != "" {
			details["field"] = invalid.Field
		}
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), details)
	}
	if errors.Is(err, repo.ErrVersionConflict) {
		return newAPIError(http.StatusConflict, "version_conflict", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStats(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "stats",
		Method:      http.MethodGet,
		Path:        "/stats",
		Summary:     "Contract counts by status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		if _, err := actorFromContext(ctx); err != nil {
			return nil, err
		}
		counts, err := e.Repo.CountContractsByStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{"contracts": counts}}, nil
	})
}

func registerContracts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-contract",
		Method:        http.MethodPost,
		Path:          "/contracts",
		Summary:       "Create and send a contract offer",
		DefaultStatus: http.StatusCreated,
		Errors:        defaultErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateContractRequest `json:"body"`
	}) (*struct {
		Body domain.Contract `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.CreateContract(ctx, engine.ContractCreateOptions{
			ID:          input.Body.ID,
			ClientID:    input.Body.ClientID,
			ClientName:  input.Body.ClientName,
			CreatorID:   input.Body.CreatorID,
			CreatorName: input.Body.CreatorName,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Terms:       input.Body.Terms.toTerms(),
			ExpiryDate:  input.Body.ExpiryDate,
		}, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return contractBody(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-contracts",
		Method:      http.MethodGet,
		Path:        "/contracts",
		Summary:     "List contracts",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		PartyID string `query:"party_id" doc:"Filter by party; non-admin callers always see their own"`
		Status  string `query:"status"`
		Limit   int    `query:"limit" default:"50"`
		Cursor  string `query:"cursor"`
	}) (*struct {
		Body paginatedContracts `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.ListContracts(ctx, actor, repo.ContractFilters{
			PartyID:         input.PartyID,
			Status:          input.Status,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedContracts{Items: []domain.Contract{}}
		if len(items) > limit {
			resp.NextCursor = composeCursor(items[limit].CreatedAt, items[limit].ID)
			items = items[:limit]
		}
		resp.Items = items
		return &struct {
			Body paginatedContracts `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-contract",
		Method:      http.MethodGet,
		Path:        "/contracts/{id}",
		Summary:     "Get contract with milestones and history",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Contract `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.GetContract(ctx, input.ID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return contractBody(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "counter-offer",
		Method:      http.MethodPost,
		Path:        "/contracts/{id}/counter",
		Summary:     "Counter the standing offer",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body CounterOfferRequest `json:"body"`
	}) (*struct {
		Body domain.Contract `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.CounterOffer(ctx, input.ID, input.Body.Terms.toTerms(), input.Body.Note, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return contractBody(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "accept-contract",
		Method:      http.MethodPost,
		Path:        "/contracts/{id}/accept",
		Summary:     "Accept the standing offer",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Contract `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.Accept(ctx, input.ID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return contractBody(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decline-contract",
		Method:      http.MethodPost,
		Path:        "/contracts/{id}/decline",
		Summary:     "Decline the standing offer",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body ReasonRequest `json:"body"`
	}) (*struct {
		Body domain.Contract `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.Decline(ctx, input.ID, input.Body.Reason, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return contractBody(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "fund-contract",
		Method:      http.MethodPost,
		Path:        "/contracts/{id}/fund",
		Summary:     "Record the escrow deposit",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		ID   string      `path:"id"`
		Body FundRequest `json:"body"`
	}) (*struct {
		Body domain.Contract `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.FundDeposit(ctx, input.ID, input.Body.Amount, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return contractBody(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "request-end",
		Method:      http.MethodPost,
		Path:        "/contracts/{id}/end",
		Summary:     "Request mutual completion or termination",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body RequestEndRequest `json:"body"`
	}) (*struct {
		Body domain.Contract `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.RequestEnd(ctx, input.ID, input.Body.Type, input.Body.Reason, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return contractBody(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-end",
		Method:      http.MethodPost,
		Path:        "/contracts/{id}/end/resolve",
		Summary:     "Approve or reject a pending end request",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body ResolveEndRequest `json:"body"`
	}) (*struct {
		Body domain.Contract `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.ResolveEnd(ctx, input.ID, input.Body.Approve, input.Body.RejectionReason, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return contractBody(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-contract",
		Method:      http.MethodPost,
		Path:        "/contracts/{id}/review",
		Summary:     "Record the caller's post-contract review",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Contract `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.MarkReviewed(ctx, input.ID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return contractBody(c), nil
	})
}

func registerMilestones(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "submit-work",
		Method:      http.MethodPost,
		Path:        "/contracts/{id}/milestones/{milestone_id}/submit",
		Summary:     "Submit milestone work for review",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		ID          string            `path:"id"`
		MilestoneID string            `path:"milestone_id"`
		Body        SubmitWorkRequest `json:"body"`
	}) (*struct {
		Body domain.Contract `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.SubmitWork(ctx, input.ID, input.MilestoneID, input.Body.Link, input.Body.Note, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return contractBody(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "request-changes",
		Method:      http.MethodPost,
		Path:        "/contracts/{id}/milestones/{milestone_id}/request-changes",
		Summary:     "Send submitted work back for revision",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		ID          string      `path:"id"`
		MilestoneID string      `path:"milestone_id"`
		Body        NoteRequest `json:"body"`
	}) (*struct {
		Body domain.Contract `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.RequestChanges(ctx, input.ID, input.MilestoneID, input.Body.Note, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return contractBody(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-work",
		Method:      http.MethodPost,
		Path:        "/contracts/{id}/milestones/{milestone_id}/approve",
		Summary:     "Approve submitted work",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		ID          string `path:"id"`
		MilestoneID string `path:"milestone_id"`
	}) (*struct {
		Body domain.Contract `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.Approve(ctx, input.ID, input.MilestoneID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return contractBody(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-payment-proof",
		Method:      http.MethodPost,
		Path:        "/contracts/{id}/milestones/{milestone_id}/payment-proof",
		Summary:     "Record off-platform payment evidence",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		ID          string              `path:"id"`
		MilestoneID string              `path:"milestone_id"`
		Body        PaymentProofRequest `json:"body"`
	}) (*struct {
		Body domain.Contract `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.SubmitPaymentProof(ctx, input.ID, input.MilestoneID, input.Body.Content, input.Body.Method, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return contractBody(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "confirm-payment",
		Method:      http.MethodPost,
		Path:        "/contracts/{id}/milestones/{milestone_id}/confirm-payment",
		Summary:     "Confirm receipt of a direct payment",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		ID          string `path:"id"`
		MilestoneID string `path:"milestone_id"`
	}) (*struct {
		Body domain.Contract `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.ConfirmPayment(ctx, input.ID, input.MilestoneID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return contractBody(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "dispute-milestone",
		Method:      http.MethodPost,
		Path:        "/contracts/{id}/milestones/{milestone_id}/dispute",
		Summary:     "Raise a dispute on a milestone",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		ID          string         `path:"id"`
		MilestoneID string         `path:"milestone_id"`
		Body        DisputeRequest `json:"body"`
	}) (*struct {
		Body domain.Contract `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.RaiseDispute(ctx, input.ID, input.MilestoneID, input.Body.Reason, input.Body.TriedResolving, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return contractBody(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "propose-resolution",
		Method:      http.MethodPost,
		Path:        "/contracts/{id}/milestones/{milestone_id}/resolution",
		Summary:     "Propose an amicable dispute resolution",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		ID          string            `path:"id"`
		MilestoneID string            `path:"milestone_id"`
		Body        ResolutionRequest `json:"body"`
	}) (*struct {
		Body domain.Contract `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.ProposeResolution(ctx, input.ID, input.MilestoneID, input.Body.Action, input.Body.Message, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return contractBody(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "accept-resolution",
		Method:      http.MethodPost,
		Path:        "/contracts/{id}/milestones/{milestone_id}/resolution/accept",
		Summary:     "Accept the counterparty's resolution proposal",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		ID          string `path:"id"`
		MilestoneID string `path:"milestone_id"`
	}) (*struct {
		Body domain.Contract `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.AcceptResolution(ctx, input.ID, input.MilestoneID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return contractBody(c), nil
	})
}

func registerDisputes(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-disputes",
		Method:      http.MethodGet,
		Path:        "/disputes",
		Summary:     "Open dispute cases (admin)",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.DisputeCase `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		cases, err := e.ListDisputes(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		if cases == nil {
			cases = []domain.DisputeCase{}
		}
		return &struct {
			Body []domain.DisputeCase `json:"body"`
		}{Body: cases}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "admin-ruling",
		Method:      http.MethodPost,
		Path:        "/disputes/ruling",
		Summary:     "Rule on a dispute case (admin)",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		Body RulingRequest `json:"body"`
	}) (*struct {
		Body domain.Contract `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.AdminRuling(ctx, engine.AdminRulingOptions{
			Kind:        input.Body.Kind,
			ContractID:  input.Body.ContractID,
			MilestoneID: input.Body.MilestoneID,
			Verdict:     input.Body.Verdict,
			Note:        input.Body.Note,
		}, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return contractBody(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "dispute-contract",
		Method:      http.MethodPost,
		Path:        "/contracts/{id}/dispute",
		Summary:     "Flag a fixed-payment contract as disputed (admin)",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body ReasonRequest `json:"body"`
	}) (*struct {
		Body domain.Contract `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.DisputeContract(ctx, input.ID, input.Body.Reason, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return contractBody(c), nil
	})
}

func registerQuotes(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "quote-funding",
		Method:      http.MethodGet,
		Path:        "/quotes/funding",
		Summary:     "Escrow deposit required for a contract amount",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Amount int64 `query:"amount" minimum:"1"`
	}) (*struct {
		Body FundingQuote `json:"body"`
	}, error) {
		if _, err := actorFromContext(ctx); err != nil {
			return nil, err
		}
		fee := e.Fees.Fee(input.Amount)
		return &struct {
			Body FundingQuote `json:"body"`
		}{Body: FundingQuote{Amount: input.Amount, EscrowFee: fee, Total: input.Amount + fee}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "quote-payout",
		Method:      http.MethodGet,
		Path:        "/quotes/payout",
		Summary:     "Creator take-home for a payout amount",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Amount    int64  `query:"amount" minimum:"1"`
		Method    string `query:"method" enum:"escrow,direct" default:"escrow"`
		Residency string `query:"residency" enum:"resident,non_resident" default:"non_resident"`
	}) (*struct {
		Body PayoutQuote `json:"body"`
	}, error) {
		if _, err := actorFromContext(ctx); err != nil {
			return nil, err
		}
		isEscrow := input.Method != domain.PaymentMethodDirect
		commission := e.Fees.Commission(input.Amount, isEscrow)
		tax := e.Fees.WithholdingTax(input.Amount-commission, input.Residency)
		return &struct {
			Body PayoutQuote `json:"body"`
		}{Body: PayoutQuote{
			Amount:         input.Amount,
			Commission:     commission,
			WithholdingTax: tax,
			TakeHome:       e.Fees.TakeHome(input.Amount, isEscrow, input.Residency),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "quote-gross-up",
		Method:      http.MethodGet,
		Path:        "/quotes/gross-up",
		Summary:     "Nominal amount needed to net a desired take-home",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Net        int64  `query:"net" minimum:"0"`
		Milestones string `query:"milestones" doc:"Comma-separated desired net per milestone; overrides net"`
		Method     string `query:"method" enum:"escrow,direct" default:"escrow"`
		Residency  string `query:"residency" enum:"resident,non_resident" default:"non_resident"`
	}) (*struct {
		Body GrossUpQuote `json:"body"`
	}, error) {
		if _, err := actorFromContext(ctx); err != nil {
			return nil, err
		}
		isEscrow := input.Method != domain.PaymentMethodDirect
		if input.Milestones != "" {
			nets, err := parseAmountList(input.Milestones)
			if err != nil {
				return nil, huma.Error400BadRequest(err.Error())
			}
			grosses, total := e.Fees.GrossUpMilestones(nets, isEscrow, input.Residency)
			var net, takeHome int64
			for i, g := range grosses {
				net += nets[i]
				takeHome += e.Fees.TakeHome(g, isEscrow, input.Residency)
			}
			return &struct {
				Body GrossUpQuote `json:"body"`
			}{Body: GrossUpQuote{
				DesiredNet: net,
				Gross:      total,
				TakeHome:   takeHome,
				Milestones: grosses,
			}}, nil
		}
		if input.Net <= 0 {
			return nil, huma.Error400BadRequest("net or milestones is required")
		}
		gross := e.Fees.GrossUp(input.Net, isEscrow, input.Residency)
		return &struct {
			Body GrossUpQuote `json:"body"`
		}{Body: GrossUpQuote{
			DesiredNet: input.Net,
			Gross:      gross,
			TakeHome:   e.Fees.TakeHome(gross, isEscrow, input.Residency),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "quote-distribute",
		Method:      http.MethodGet,
		Path:        "/quotes/distribute",
		Summary:     "Split a total across milestones under the first-milestone cap",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Total int64 `query:"total" minimum:"1"`
		Count int   `query:"count" minimum:"2" maximum:"50"`
	}) (*struct {
		Body DistributeQuote `json:"body"`
	}, error) {
		if _, err := actorFromContext(ctx); err != nil {
			return nil, err
		}
		slices := e.Fees.AutoDistribute(input.Total, input.Count)
		if slices == nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "count must be at least 2", nil)
		}
		return &struct {
			Body DistributeQuote `json:"body"`
		}{Body: DistributeQuote{Total: input.Total, Amounts: slices, FirstCap: e.Fees.FirstMilestoneCap(input.Total)}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Event feed",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ContractID string `query:"contract_id"`
		Type       string `query:"type"`
		Cursor     int64  `query:"cursor"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		// parties see only their own contracts' events
		partyScope := actor.ID
		if actor.Role == domain.RoleAdmin {
			partyScope = ""
		}
		events, err := e.Repo.LatestEventsFrom(ctx, normalizeLimit(input.Limit), input.Cursor, input.ContractID, input.Type, partyScope)
		if err != nil {
			return nil, handleError(err)
		}
		if events == nil {
			events = []domain.Event{}
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: events}, nil
	})
}

func registerNotifications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "Caller's notifications",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Unread bool `query:"unread"`
		Limit  int  `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Notification `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListNotifications(ctx, actor.ID, input.Unread, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Notification{}
		}
		return &struct {
			Body []domain.Notification `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "read-notification",
		Method:      http.MethodPost,
		Path:        "/notifications/{id}/read",
		Summary:     "Mark a notification read",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.MarkNotificationRead(ctx, input.ID, actor.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

var defaultErrors = []int{
	http.StatusBadRequest,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

func contractBody(c domain.Contract) *struct {
	Body domain.Contract `json:"body"`
} {
	return &struct {
		Body domain.Contract `json:"body"`
	}{Body: c}
}

// parseAmountList decodes a comma-separated list of positive amounts.
func parseAmountList(s string) ([]int64, error) {
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("invalid amount %q", p)
		}
		out = append(out, v)
	}
	return out, nil
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Pactline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}
