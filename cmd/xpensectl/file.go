package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirillkom/xpense/internal/config"
	"github.com/kirillkom/xpense/internal/core/domain"
	"github.com/kirillkom/xpense/internal/core/workflow"
)

type fileOptions struct {
	allocType   string
	teamID      string
	reimburseTo string
	groupID     string
	groupMode   string
	recipients  []string

	receipt string
	manual  bool
	yes     bool

	amount      string
	category    string
	date        string
	merchant    string
	description string
	capMode     string
}

func newFileCommand(cfg config.Config, opts *globalOptions) *cobra.Command {
	fo := &fileOptions{}
	cmd := &cobra.Command{
		Use:   "file",
		Short: "File a new claim: choose a type, attach a receipt, review and submit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if fo.receipt == "" && !fo.manual {
				return errors.New("pass --receipt <path> or --manual")
			}
			selection, err := fo.allocation()
			if err != nil {
				return err
			}
			client, err := opts.client(cmd, cfg)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			actor, err := client.Identity(ctx)
			if err != nil {
				return fmt.Errorf("resolve identity: %w", err)
			}

			logger := opts.logger(cmd)
			watcher := workflow.NewPollingWatcher(client, cfg.PollInterval, cfg.PollMaxAttempts, logger)
			draft := workflow.New(client, watcher, actor.UserID)
			defer func() {
				if draft.State() != workflow.StateSubmitted {
					_ = draft.Abandon()
					if c := draft.Claim(); c != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "draft %s left unsubmitted\n", c.ID)
					}
				}
			}()

			if err := draft.ChooseType(ctx, selection); err != nil {
				return fmt.Errorf("choose claim type: %w", err)
			}

			var prefill workflow.Prefill
			if fo.manual {
				if err := draft.SkipReceipt(ctx); err != nil {
					return err
				}
				prefill = draft.Prefill()
			} else {
				if err := attachReceipt(cmd, draft, fo.receipt); err != nil {
					return err
				}
				fmt.Fprintln(cmd.ErrOrStderr(), "receipt uploaded, waiting for analysis...")
				prefill, err = draft.WaitForExtraction(ctx)
				if err != nil {
					return fmt.Errorf("wait for receipt analysis: %w", err)
				}
			}

			describePrefill(cmd.ErrOrStderr(), prefill)
			fields, err := fo.review(cmd, prefill)
			if err != nil {
				return err
			}
			claim, err := draft.Confirm(ctx, fields)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "claim %s submitted (%s %s)\n", claim.ID, claim.Amount.StringFixed(2), claim.Category)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&fo.allocType, "type", "personal", "claim type: personal, team or group")
	f.StringVar(&fo.teamID, "team", "", "team id for team claims")
	f.StringVar(&fo.reimburseTo, "reimburse-to", "", "team member who receives the reimbursement")
	f.StringVar(&fo.groupID, "group", "", "group id for group claims")
	f.StringVar(&fo.groupMode, "mode", string(domain.GroupModeFullToFiler), "group mode: full_to_filer or split")
	f.StringArrayVar(&fo.recipients, "recipient", nil, "split recipient as user=amount, repeatable")
	f.StringVar(&fo.receipt, "receipt", "", "receipt image or PDF to upload")
	f.BoolVar(&fo.manual, "manual", false, "skip the receipt and enter details by hand")
	f.BoolVarP(&fo.yes, "yes", "y", false, "submit without prompting")
	f.StringVar(&fo.amount, "amount", "", "override the amount")
	f.StringVar(&fo.category, "category", "", "override the category")
	f.StringVar(&fo.date, "date", "", "override the expense date (YYYY-MM-DD)")
	f.StringVar(&fo.merchant, "merchant", "", "override the merchant")
	f.StringVar(&fo.description, "description", "", "override the description")
	f.StringVar(&fo.capMode, "cap-mode", "", "cap_only or full_deduct_next_month")
	cmd.MarkFlagsMutuallyExclusive("receipt", "manual")
	return cmd
}

func (fo *fileOptions) allocation() (domain.Allocation, error) {
	switch strings.ToLower(strings.TrimSpace(fo.allocType)) {
	case "", string(domain.AllocationPersonal):
		return domain.PersonalAllocation{}, nil
	case string(domain.AllocationTeam):
		return domain.TeamAllocation{TeamID: fo.teamID, ReimburseTo: fo.reimburseTo}, nil
	case string(domain.AllocationGroup):
		g := domain.GroupAllocation{GroupID: fo.groupID, Mode: domain.GroupMode(fo.groupMode)}
		for _, raw := range fo.recipients {
			user, amount, ok := strings.Cut(raw, "=")
			if !ok || strings.TrimSpace(user) == "" {
				return nil, fmt.Errorf("recipient %q must look like user=amount", raw)
			}
			value, err := domain.ParseAmount(amount)
			if err != nil {
				return nil, fmt.Errorf("recipient %s: %w", user, err)
			}
			g.Recipients = append(g.Recipients, domain.Recipient{UserID: strings.TrimSpace(user), Amount: value})
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown claim type %q", fo.allocType)
	}
}

func attachReceipt(cmd *cobra.Command, draft *workflow.Draft, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open receipt: %w", err)
	}
	defer file.Close()
	return draft.AttachReceipt(cmd.Context(), filepath.Base(path), file)
}

func describePrefill(w io.Writer, p workflow.Prefill) {
	switch {
	case p.ExtractionError != nil:
		fmt.Fprintf(w, "receipt analysis failed (%d): %s\n", p.ExtractionError.StatusCode, p.ExtractionError.Message)
	case p.Manual:
		fmt.Fprintf(w, "manual entry: %s\n", p.ManualReason)
	default:
		fmt.Fprintf(w, "receipt analysed, supervision %s\n", p.SupervisionLevel)
	}
	if p.LegalReviewRequired {
		fmt.Fprintln(w, "note: this expense will need legal review")
	}
}

// review merges flag overrides into the prefill. Without --yes every field is
// confirmed on stdin, where an empty answer keeps the shown value.
func (fo *fileOptions) review(cmd *cobra.Command, p workflow.Prefill) (workflow.Fields, error) {
	values := map[string]string{
		"amount":      p.Amount.StringFixed(2),
		"category":    string(p.Category),
		"date":        p.ExpenseDate,
		"merchant":    p.Merchant,
		"description": p.Description,
		"cap-mode":    fo.capMode,
	}
	overrides := map[string]string{
		"amount":      fo.amount,
		"category":    fo.category,
		"date":        fo.date,
		"merchant":    fo.merchant,
		"description": fo.description,
	}
	for name, v := range overrides {
		if cmd.Flags().Changed(name) {
			values[name] = v
		}
	}

	if !fo.yes {
		in := bufio.NewReader(cmd.InOrStdin())
		out := cmd.ErrOrStderr()
		for _, name := range []string{"amount", "category", "date", "merchant", "description", "cap-mode"} {
			answer, err := prompt(in, out, name, values[name])
			if err != nil {
				return workflow.Fields{}, err
			}
			values[name] = answer
		}
		ok, err := prompt(in, out, "submit? (y/N)", "n")
		if err != nil {
			return workflow.Fields{}, err
		}
		if !strings.EqualFold(ok, "y") && !strings.EqualFold(ok, "yes") {
			return workflow.Fields{}, errors.New("submission cancelled")
		}
	}
	return fieldsFrom(values)
}

func fieldsFrom(values map[string]string) (workflow.Fields, error) {
	amount, err := domain.ParseAmount(values["amount"])
	if err != nil {
		return workflow.Fields{}, err
	}
	fields := workflow.Fields{
		Amount:      amount,
		ExpenseDate: values["date"],
		Merchant:    values["merchant"],
		Description: values["description"],
	}
	if raw := values["category"]; raw != "" {
		category, ok := domain.ParseCategory(raw)
		if !ok {
			return workflow.Fields{}, fmt.Errorf("unknown category %q", raw)
		}
		fields.Category = category
	}
	if raw := values["cap-mode"]; raw != "" {
		mode, ok := domain.ParseCapMode(raw)
		if !ok {
			return workflow.Fields{}, fmt.Errorf("unknown cap mode %q", raw)
		}
		fields.CapMode = mode
	}
	if fields.ExpenseDate != "" {
		date, err := domain.ParseDate(fields.ExpenseDate)
		if err != nil {
			return workflow.Fields{}, err
		}
		fields.ExpenseDate = date
	}
	return fields, nil
}

func prompt(in *bufio.Reader, out io.Writer, label, current string) (string, error) {
	fmt.Fprintf(out, "%s [%s]: ", label, current)
	line, err := in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return current, nil
	}
	return line, nil
}
