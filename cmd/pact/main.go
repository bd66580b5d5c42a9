package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pactline/internal/app"
	"pactline/internal/config"
	"pactline/internal/db"
	"pactline/internal/domain"
	"pactline/internal/engine"
	"pactline/internal/repo"
	"pactline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "pact",
	Short: "Pactline CLI",
	Long: `Pactline runs two-sided service contracts from offer to payout.
Core concepts:
- Workspace: your .pactline directory holding the database; settings live in pactline.yml.
- Contract: an agreement between a client and a creator, negotiated turn by turn until one side accepts or declines.
- Terms: payment type (fixed or milestone), payment method (escrow or direct), amounts and revision policy; every counter-offer replaces the whole snapshot.
- Milestones: units of work that move pending -> in_progress -> under_review -> paid, one at a time in position order.
- Escrow: the client funds amount plus fee up front; approval releases the milestone. Direct contracts add a payment-verify step with proof.
- Disputes: either side can freeze a milestone; parties settle amicably or an admin rules.
- End requests: completion or termination proposals that the counterparty approves or rejects.
- Event log: diary of changes, view with 'pact log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PACTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "", "acting party identifier")
	rootCmd.PersistentFlags().String("actor-name", "", "acting party display name")
	rootCmd.PersistentFlags().String("role", "", "acting party role (client, creator, admin)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("actor-name", rootCmd.PersistentFlags().Lookup("actor-name"))
	_ = viper.BindPFlag("role", rootCmd.PersistentFlags().Lookup("role"))
}

func registerCommands() {
	rootCmd.AddCommand(contractCmd())
	rootCmd.AddCommand(milestoneCmd())
	rootCmd.AddCommand(disputeCmd())
	rootCmd.AddCommand(endCmd())
	rootCmd.AddCommand(reviewCmd())
	rootCmd.AddCommand(quoteCmd())
	rootCmd.AddCommand(partyCmd())
	rootCmd.AddCommand(keysCmd())
	rootCmd.AddCommand(notificationsCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func contractCmd() *cobra.Command {
	c := &cobra.Command{Use: "contract", Short: "Negotiate and manage contracts"}
	c.AddCommand(contractCreateCmd())
	c.AddCommand(contractListCmd())
	c.AddCommand(contractShowCmd())
	c.AddCommand(contractCounterCmd())
	c.AddCommand(contractAcceptCmd())
	c.AddCommand(contractDeclineCmd())
	c.AddCommand(contractFundCmd())
	return c
}

// termsFlags collects the negotiable snapshot from CLI flags. Milestones
// arrive as repeated --milestone "Title=Amount" values.
type termsFlags struct {
	paymentType    string
	paymentMethod  string
	amount         int64
	currency       string
	durationDays   int
	revisionPolicy string
	milestones     []string
}

func (f *termsFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.paymentType, "payment-type", domain.PaymentTypeMilestone, "payment type (fixed, milestone)")
	cmd.Flags().StringVar(&f.paymentMethod, "payment-method", domain.PaymentMethodEscrow, "payment method (escrow, direct)")
	cmd.Flags().Int64Var(&f.amount, "amount", 0, "total amount in minor units (fixed contracts)")
	cmd.Flags().StringVar(&f.currency, "currency", "", "currency code")
	cmd.Flags().IntVar(&f.durationDays, "duration-days", 0, "expected duration in days")
	cmd.Flags().StringVar(&f.revisionPolicy, "revision-policy", "", `revision policy, e.g. "2 Revisions" or "Unlimited"`)
	cmd.Flags().StringArrayVar(&f.milestones, "milestone", nil, `milestone as "Title=Amount", repeatable`)
}

func (f *termsFlags) terms() (domain.Terms, error) {
	t := domain.Terms{
		PaymentType:    f.paymentType,
		PaymentMethod:  f.paymentMethod,
		Amount:         f.amount,
		Currency:       f.currency,
		DurationDays:   f.durationDays,
		RevisionPolicy: f.revisionPolicy,
	}
	for _, spec := range f.milestones {
		title, amountStr, ok := strings.Cut(spec, "=")
		if !ok {
			return t, fmt.Errorf("milestone %q: want Title=Amount", spec)
		}
		amount, err := strconv.ParseInt(strings.TrimSpace(amountStr), 10, 64)
		if err != nil {
			return t, fmt.Errorf("milestone %q: bad amount: %w", spec, err)
		}
		t.Milestones = append(t.Milestones, domain.Milestone{
			Title:  strings.TrimSpace(title),
			Amount: amount,
		})
	}
	return t, nil
}

func contractCreateCmd() *cobra.Command {
	var opts engine.ContractCreateOptions
	var tf termsFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a contract and send the offer",
		RunE: func(cmd *cobra.Command, args []string) error {
			terms, err := tf.terms()
			if err != nil {
				return err
			}
			opts.Terms = terms
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				c, err := e.CreateContract(ctx, opts, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ClientID, "client-id", "", "client party id")
	cmd.Flags().StringVar(&opts.ClientName, "client-name", "", "client display name")
	cmd.Flags().StringVar(&opts.CreatorID, "creator-id", "", "creator party id")
	cmd.Flags().StringVar(&opts.CreatorName, "creator-name", "", "creator display name")
	cmd.Flags().StringVar(&opts.Title, "title", "", "contract title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "contract description")
	cmd.Flags().StringVar(&opts.ExpiryDate, "expiry", "", "offer expiry (RFC 3339)")
	tf.register(cmd)
	_ = cmd.MarkFlagRequired("client-id")
	_ = cmd.MarkFlagRequired("creator-id")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func contractListCmd() *cobra.Command {
	var f repo.ContractFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List contracts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				contracts, err := e.ListContracts(ctx, actor, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(contracts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Client", "Creator", "Amount", "Method"})
				for _, c := range contracts {
					tw.AppendRow(table.Row{c.ID, c.Title, c.Status, c.ClientName, c.CreatorName, c.Terms.Amount, c.Terms.PaymentMethod})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.PartyID, "party", "", "party id filter (admin only)")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "page size")
	return cmd
}

func contractShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a contract with milestones and history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				c, err := e.GetContract(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func contractCounterCmd() *cobra.Command {
	var tf termsFlags
	var note string
	cmd := &cobra.Command{
		Use:   "counter <id>",
		Short: "Make a counter-offer with replacement terms",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			terms, err := tf.terms()
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				c, err := e.CounterOffer(ctx, args[0], terms, note, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	tf.register(cmd)
	cmd.Flags().StringVar(&note, "note", "", "note for the history entry")
	return cmd
}

func contractAcceptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accept <id>",
		Short: "Accept the offer on the table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				c, err := e.Accept(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func contractDeclineCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "decline <id>",
		Short: "Decline the offer on the table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				c, err := e.Decline(ctx, args[0], reason, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "decline reason")
	return cmd
}

func contractFundCmd() *cobra.Command {
	var amount int64
	cmd := &cobra.Command{
		Use:   "fund <id>",
		Short: "Fund the escrow deposit (client only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if amount <= 0 {
				return fmt.Errorf("--amount required; run 'pact quote funding' for the expected total")
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				c, err := e.FundDeposit(ctx, args[0], amount, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().Int64Var(&amount, "amount", 0, "deposit amount in minor units (amount plus escrow fee)")
	return cmd
}

func milestoneCmd() *cobra.Command {
	m := &cobra.Command{Use: "milestone", Short: "Work through contract milestones"}
	m.AddCommand(milestoneSubmitCmd())
	m.AddCommand(milestoneRequestChangesCmd())
	m.AddCommand(milestoneApproveCmd())
	m.AddCommand(milestonePaymentProofCmd())
	m.AddCommand(milestoneConfirmPaymentCmd())
	return m
}

func milestoneSubmitCmd() *cobra.Command {
	var link, note string
	cmd := &cobra.Command{
		Use:   "submit <contract-id> <milestone-id>",
		Short: "Submit milestone work for review (creator only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				c, err := e.SubmitWork(ctx, args[0], args[1], link, note, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&link, "link", "", "deliverable link")
	cmd.Flags().StringVar(&note, "note", "", "submission note")
	return cmd
}

func milestoneRequestChangesCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "request-changes <contract-id> <milestone-id>",
		Short: "Send submitted work back for revision (client only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				c, err := e.RequestChanges(ctx, args[0], args[1], note, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "what needs to change")
	return cmd
}

func milestoneApproveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve <contract-id> <milestone-id>",
		Short: "Approve submitted work (client only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				c, err := e.Approve(ctx, args[0], args[1], actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func milestonePaymentProofCmd() *cobra.Command {
	var content, method string
	cmd := &cobra.Command{
		Use:   "payment-proof <contract-id> <milestone-id>",
		Short: "Attach payment proof on a direct contract (client only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				c, err := e.SubmitPaymentProof(ctx, args[0], args[1], content, method, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&content, "content", "", "proof reference or transfer id")
	cmd.Flags().StringVar(&method, "method", "", "payment channel used")
	_ = cmd.MarkFlagRequired("content")
	return cmd
}

func milestoneConfirmPaymentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "confirm-payment <contract-id> <milestone-id>",
		Short: "Confirm the payment arrived (creator only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				c, err := e.ConfirmPayment(ctx, args[0], args[1], actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func disputeCmd() *cobra.Command {
	d := &cobra.Command{Use: "dispute", Short: "Raise and settle disputes"}
	d.AddCommand(disputeRaiseCmd())
	d.AddCommand(disputeProposeCmd())
	d.AddCommand(disputeAcceptCmd())
	d.AddCommand(disputeContractCmd())
	d.AddCommand(disputeListCmd())
	d.AddCommand(disputeRuleCmd())
	return d
}

func disputeRaiseCmd() *cobra.Command {
	var reason string
	var triedResolving bool
	cmd := &cobra.Command{
		Use:   "raise <contract-id> <milestone-id>",
		Short: "Freeze a milestone in dispute",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				c, err := e.RaiseDispute(ctx, args[0], args[1], reason, triedResolving, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "what went wrong")
	cmd.Flags().BoolVar(&triedResolving, "tried-resolving", false, "attest you tried to settle directly first")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func disputeProposeCmd() *cobra.Command {
	var action, message string
	cmd := &cobra.Command{
		Use:   "propose <contract-id> <milestone-id>",
		Short: "Propose an amicable resolution",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				c, err := e.ProposeResolution(ctx, args[0], args[1], action, message, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "resolution action (resume_work, retry_payment)")
	cmd.Flags().StringVar(&message, "message", "", "message to the counterparty")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func disputeAcceptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accept <contract-id> <milestone-id>",
		Short: "Accept the counterparty's proposed resolution",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				c, err := e.AcceptResolution(ctx, args[0], args[1], actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func disputeContractCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "contract <contract-id>",
		Short: "Put a fixed contract in dispute (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				c, err := e.DisputeContract(ctx, args[0], reason, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why support escalated this contract")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func disputeListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List open dispute cases (admin only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				cases, err := e.ListDisputes(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cases)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Kind", "Contract", "Milestone", "Client", "Creator", "Reason"})
				for _, d := range cases {
					tw.AppendRow(table.Row{d.Kind, d.ContractID, d.MilestoneID, d.ClientID, d.CreatorID, d.Reason})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func disputeRuleCmd() *cobra.Command {
	var opts engine.AdminRulingOptions
	cmd := &cobra.Command{
		Use:   "rule",
		Short: "Issue a binding ruling on a dispute case (admin only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				c, err := e.AdminRuling(ctx, opts, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "case kind (milestone, contract, termination)")
	cmd.Flags().StringVar(&opts.ContractID, "contract", "", "contract id")
	cmd.Flags().StringVar(&opts.MilestoneID, "milestone", "", "milestone id (milestone cases)")
	cmd.Flags().StringVar(&opts.Verdict, "verdict", "", "verdict (favor_creator, favor_client, force_revision)")
	cmd.Flags().StringVar(&opts.Note, "note", "", "ruling note")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("contract")
	_ = cmd.MarkFlagRequired("verdict")
	return cmd
}

func endCmd() *cobra.Command {
	e := &cobra.Command{Use: "end", Short: "Request or resolve contract endings"}
	e.AddCommand(endRequestCmd())
	e.AddCommand(endResolveCmd())
	return e
}

func endRequestCmd() *cobra.Command {
	var endType, reason string
	cmd := &cobra.Command{
		Use:   "request <contract-id>",
		Short: "Ask the counterparty to end the contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				c, err := e.RequestEnd(ctx, args[0], endType, reason, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&endType, "type", domain.EndTypeCompletion, "end type (completion, termination)")
	cmd.Flags().StringVar(&reason, "reason", "", "reason (required for termination)")
	return cmd
}

func endResolveCmd() *cobra.Command {
	var approve bool
	var rejectionReason string
	cmd := &cobra.Command{
		Use:   "resolve <contract-id>",
		Short: "Approve or reject a pending end request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				c, err := e.ResolveEnd(ctx, args[0], approve, rejectionReason, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().BoolVar(&approve, "approve", false, "approve the request")
	cmd.Flags().StringVar(&rejectionReason, "rejection-reason", "", "reason when rejecting")
	return cmd
}

func reviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review <contract-id>",
		Short: "Mark a closed contract as reviewed by your side",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				c, err := e.MarkReviewed(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func quoteCmd() *cobra.Command {
	q := &cobra.Command{Use: "quote", Short: "Fee and payout arithmetic, no contract needed"}
	q.AddCommand(quoteFundingCmd())
	q.AddCommand(quotePayoutCmd())
	q.AddCommand(quoteGrossUpCmd())
	q.AddCommand(quoteDistributeCmd())
	return q
}

func quoteFundingCmd() *cobra.Command {
	var amount int64
	cmd := &cobra.Command{
		Use:   "funding",
		Short: "Escrow deposit for an amount",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				fees := env.Engine.Fees
				return printJSONOrTable(map[string]int64{
					"amount":     amount,
					"escrow_fee": fees.Fee(amount),
					"total":      fees.TotalFunding(amount),
				})
			})
		},
	}
	cmd.Flags().Int64Var(&amount, "amount", 0, "amount in minor units")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func quotePayoutCmd() *cobra.Command {
	var amount int64
	var method, residency string
	cmd := &cobra.Command{
		Use:   "payout",
		Short: "Creator take-home for an amount",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				fees := env.Engine.Fees
				isEscrow := method != domain.PaymentMethodDirect
				commission := fees.Commission(amount, isEscrow)
				tax := fees.WithholdingTax(amount-commission, residency)
				return printJSONOrTable(map[string]int64{
					"amount":          amount,
					"commission":      commission,
					"withholding_tax": tax,
					"take_home":       fees.TakeHome(amount, isEscrow, residency),
				})
			})
		},
	}
	cmd.Flags().Int64Var(&amount, "amount", 0, "amount in minor units")
	cmd.Flags().StringVar(&method, "method", domain.PaymentMethodEscrow, "payment method (escrow, direct)")
	cmd.Flags().StringVar(&residency, "residency", "non_resident", "creator residency (resident, non_resident)")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func quoteGrossUpCmd() *cobra.Command {
	var desiredNet int64
	var nets []int64
	var method, residency string
	cmd := &cobra.Command{
		Use:   "gross-up",
		Short: "Gross amount needed for a desired net",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				fees := env.Engine.Fees
				isEscrow := method != domain.PaymentMethodDirect
				if len(nets) > 0 {
					grosses, total := fees.GrossUpMilestones(nets, isEscrow, residency)
					var net, takeHome int64
					for i, g := range grosses {
						net += nets[i]
						takeHome += fees.TakeHome(g, isEscrow, residency)
					}
					return printJSONOrTable(map[string]any{
						"desired_net": net,
						"gross":       total,
						"take_home":   takeHome,
						"milestones":  grosses,
					})
				}
				if desiredNet <= 0 {
					return fmt.Errorf("--net or --milestones is required")
				}
				gross := fees.GrossUp(desiredNet, isEscrow, residency)
				return printJSONOrTable(map[string]int64{
					"desired_net": desiredNet,
					"gross":       gross,
					"take_home":   fees.TakeHome(gross, isEscrow, residency),
				})
			})
		},
	}
	cmd.Flags().Int64Var(&desiredNet, "net", 0, "desired net in minor units")
	cmd.Flags().Int64SliceVar(&nets, "milestones", nil, "desired net per milestone, comma-separated")
	cmd.Flags().StringVar(&method, "method", domain.PaymentMethodEscrow, "payment method (escrow, direct)")
	cmd.Flags().StringVar(&residency, "residency", "non_resident", "creator residency (resident, non_resident)")
	return cmd
}

func quoteDistributeCmd() *cobra.Command {
	var total int64
	var count int
	cmd := &cobra.Command{
		Use:   "distribute",
		Short: "Split a total across milestones with the first-milestone cap",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				fees := env.Engine.Fees
				return printJSONOrTable(map[string]any{
					"total":     total,
					"amounts":   fees.AutoDistribute(total, count),
					"first_cap": fees.FirstMilestoneCap(total),
				})
			})
		},
	}
	cmd.Flags().Int64Var(&total, "total", 0, "total amount in minor units")
	cmd.Flags().IntVar(&count, "count", 0, "number of milestones")
	_ = cmd.MarkFlagRequired("total")
	_ = cmd.MarkFlagRequired("count")
	return cmd
}

func partyCmd() *cobra.Command {
	p := &cobra.Command{Use: "party", Short: "Manage party records"}
	p.AddCommand(partyUpsertCmd())
	p.AddCommand(partyListCmd())
	return p
}

func partyUpsertCmd() *cobra.Command {
	var p domain.Party
	cmd := &cobra.Command{
		Use:   "upsert",
		Short: "Create or update a party",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				if err := env.Engine.Repo.UpsertParty(ctx, p); err != nil {
					return err
				}
				stored, err := env.Engine.Repo.GetParty(ctx, p.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(stored)
			})
		},
	}
	cmd.Flags().StringVar(&p.ID, "id", "", "party id")
	cmd.Flags().StringVar(&p.Name, "name", "", "display name")
	cmd.Flags().StringVar(&p.Role, "role", "", "role (client, creator, admin)")
	cmd.Flags().StringVar(&p.Residency, "residency", "", "tax residency (resident, non_resident)")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func partyListCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List parties",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				parties, err := env.Engine.Repo.ListParties(ctx, role)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(parties)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Role", "Residency"})
				for _, p := range parties {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Role, p.Residency})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role filter")
	return cmd
}

func keysCmd() *cobra.Command {
	k := &cobra.Command{Use: "keys", Short: "Manage API keys for the HTTP server"}
	k.AddCommand(keysCreateCmd())
	k.AddCommand(keysListCmd())
	k.AddCommand(keysDeleteCmd())
	return k
}

func keysCreateCmd() *cobra.Command {
	var partyID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the secret is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				if _, err := env.Engine.Repo.GetParty(ctx, partyID); err != nil {
					return err
				}
				raw := make([]byte, 32)
				if _, err := rand.Read(raw); err != nil {
					return err
				}
				secret := "pk_" + hex.EncodeToString(raw)
				key := domain.APIKey{
					ID:      uuid.NewString(),
					PartyID: partyID,
					Name:    name,
					KeyHash: repo.HashAPIKey(secret),
				}
				if err := env.Engine.Repo.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{
					"id":       key.ID,
					"party_id": key.PartyID,
					"name":     key.Name,
					"secret":   secret,
				})
			})
		},
	}
	cmd.Flags().StringVar(&partyID, "party", "", "party the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	_ = cmd.MarkFlagRequired("party")
	return cmd
}

func keysListCmd() *cobra.Command {
	var partyID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys (hashes only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				keys, err := env.Engine.Repo.ListAPIKeys(ctx, partyID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Party", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.PartyID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&partyID, "party", "", "party filter")
	return cmd
}

func keysDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				return env.Engine.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func notificationsCmd() *cobra.Command {
	n := &cobra.Command{Use: "notifications", Short: "Read your notification feed"}
	n.AddCommand(notificationsListCmd())
	n.AddCommand(notificationsReadCmd())
	return n
}

func notificationsListCmd() *cobra.Command {
	var unread bool
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notifications for the acting party",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				items, err := e.Repo.ListNotifications(ctx, actor.ID, unread, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Message", "Read", "Created"})
				for _, n := range items {
					tw.AppendRow(table.Row{n.ID, n.Title, n.Message, n.Read, n.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&unread, "unread", false, "unread only")
	cmd.Flags().IntVar(&limit, "limit", 50, "max notifications")
	return cmd
}

func notificationsReadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <id>",
		Short: "Mark a notification as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				return e.Repo.MarkNotificationRead(ctx, args[0], actor.ID)
			})
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Count contracts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				counts, err := env.Engine.Repo.CountContractsByStatus(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(counts)
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	c.AddCommand(configInitCmd())
	c.AddCommand(configShowCmd())
	c.AddCommand(configValidateCmd())
	return c
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default pactline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				return printJSONOrTable(env.Config)
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if filePath == "" {
				filePath = config.Path(viper.GetString("workspace"))
			}
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			fmt.Printf("%s is valid (platform %q)\n", filePath, cfg.Platform.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to config file")
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, contractID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				// local workspace access: no party scoping
				events, err := env.Engine.Repo.LatestEventsFrom(ctx, n, 0, contractID, evtType, "")
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&contractID, "contract", "", "contract id filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := app.Open(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer env.Close()
			authCfg := server.AuthConfig{
				JWTSecret:              env.Config.Auth.JWTSecret,
				AllowLegacyActorHeader: env.Config.Auth.AllowLegacyActorHeader,
			}
			if secret := os.Getenv("PACTLINE_JWT_SECRET"); secret != "" {
				authCfg.JWTSecret = secret
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowLegacyActorHeader {
				return fmt.Errorf("no JWT secret configured; set auth.jwt_secret in pactline.yml or PACTLINE_JWT_SECRET")
			}
			handler, err := server.New(server.Config{Engine: env.Engine, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Pactline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEnv(ctx context.Context, fn func(context.Context, *app.Env) error) error {
	env, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer env.Close()
	return fn(ctx, env)
}

func withActor(ctx context.Context, fn func(context.Context, engine.Engine, domain.Actor) error) error {
	return withEnv(ctx, func(ctx context.Context, env *app.Env) error {
		actor, err := env.ResolveActor(ctx, viper.GetString("actor-id"), viper.GetString("actor-name"), viper.GetString("role"))
		if err != nil {
			return err
		}
		return fn(ctx, env.Engine, actor)
	})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
