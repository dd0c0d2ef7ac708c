package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/kirillkom/xpense/internal/config"
	"github.com/kirillkom/xpense/internal/core/domain"
	"github.com/kirillkom/xpense/internal/infrastructure/auth"
	"github.com/kirillkom/xpense/internal/infrastructure/xpenseapi"
	"github.com/kirillkom/xpense/internal/observability/logging"
)

type globalOptions struct {
	apiURL  string
	token   string
	verbose bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(config.Load()).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand(cfg config.Config) *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "xpensectl",
		Short:         "File and inspect expense claims",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.apiURL, "api-url", cfg.XpenseAPIURL, "claims API base URL")
	root.PersistentFlags().StringVar(&opts.token, "token", cfg.XpenseToken, "identity token")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log API calls and polling")

	root.AddCommand(
		newFileCommand(cfg, opts),
		newListCommand(cfg, opts),
		newGetCommand(cfg, opts),
		newStatusCommand(cfg, opts),
		newReceiptCommand(cfg, opts),
		newTeamCommand(cfg, opts),
		newGroupCommand(cfg, opts),
		newSummaryCommand(cfg, opts),
		newWhoAmICommand(cfg, opts),
		newTokenCommand(cfg),
	)
	return root
}

func (o *globalOptions) logger(cmd *cobra.Command) *slog.Logger {
	level := "warn"
	if o.verbose {
		level = "debug"
	}
	return logging.NewText(cmd.ErrOrStderr(), level)
}

func (o *globalOptions) client(cmd *cobra.Command, cfg config.Config) (*xpenseapi.Client, error) {
	if o.token == "" {
		return nil, fmt.Errorf("no identity token: set XPENSE_TOKEN or pass --token")
	}
	return xpenseapi.New(o.apiURL, o.token, xpenseapi.Options{
		Timeout: cfg.ClientTimeout,
		Logger:  o.logger(cmd),
	}), nil
}

func newListCommand(cfg config.Config, opts *globalOptions) *cobra.Command {
	var (
		status   string
		page     int
		pageSize int
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List claims visible to the caller",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := opts.client(cmd, cfg)
			if err != nil {
				return err
			}
			filter := domain.ClaimFilter{Page: page, PageSize: pageSize}
			if status != "" {
				parsed, ok := domain.ParseStatus(status)
				if !ok {
					return fmt.Errorf("unknown status %q", status)
				}
				filter.Status = parsed
			}
			result, err := client.ListClaims(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), result)
			}
			renderClaims(cmd.OutOrStdout(), result.Items)
			fmt.Fprintf(cmd.OutOrStdout(), "page %d, %d of %d claims\n", result.Page, len(result.Items), result.Total)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 20, "claims per page")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")
	return cmd
}

func newGetCommand(cfg config.Config, opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <claim-id>",
		Short: "Show one claim",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client(cmd, cfg)
			if err != nil {
				return err
			}
			claim, err := client.GetClaim(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), claim)
		},
	}
}

func newStatusCommand(cfg config.Config, opts *globalOptions) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "status <claim-id> <pending|approved|rejected|disbursed>",
		Short: "Move a claim through its lifecycle",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, ok := domain.ParseStatus(args[1])
			if !ok {
				return fmt.Errorf("unknown status %q", args[1])
			}
			client, err := opts.client(cmd, cfg)
			if err != nil {
				return err
			}
			claim, err := client.Transition(cmd.Context(), args[0], to, reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "claim %s is now %s\n", claim.ID, claim.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded with a rejection")
	return cmd
}

func newReceiptCommand(cfg config.Config, opts *globalOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "receipt <claim-id>",
		Short: "Download the receipt attached to a claim",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client(cmd, cfg)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err := client.DownloadReceipt(cmd.Context(), args[0], cmd.OutOrStdout())
				return err
			}
			file, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("create %s: %w", output, err)
			}
			contentType, err := client.DownloadReceipt(cmd.Context(), args[0], file)
			if closeErr := file.Close(); err == nil {
				err = closeErr
			}
			if err != nil {
				_ = os.Remove(output)
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "saved %s (%s)\n", output, contentType)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "file to write, stdout when empty")
	return cmd
}

func newSummaryCommand(cfg config.Config, opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Print claim totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := opts.client(cmd, cfg)
			if err != nil {
				return err
			}
			summary, err := client.Summary(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), summary)
		},
	}
}

func newWhoAmICommand(cfg config.Config, opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the caller and its permissions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := opts.client(cmd, cfg)
			if err != nil {
				return err
			}
			actor, err := client.Identity(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"userId":      actor.UserID,
				"permissions": actor.PermissionList(),
			})
		},
	}
}

func newTokenCommand(cfg config.Config) *cobra.Command {
	var (
		userID string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an identity token with SIGNING_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfg.SigningSecret == "" {
				return fmt.Errorf("SIGNING_SECRET is not set")
			}
			token, err := auth.NewSigner(cfg.SigningSecret).Issue(userID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id the token identifies")
	cmd.Flags().DurationVar(&ttl, "ttl", cfg.IdentityTokenTTL, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func renderClaims(w io.Writer, claims []domain.Claim) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Owner", "Status", "Category", "Amount", "Reimbursable", "Merchant", "Date"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	for _, c := range claims {
		reimbursable := ""
		if c.ReimbursableAmount != nil {
			reimbursable = c.ReimbursableAmount.StringFixed(2)
		}
		table.Append([]string{
			c.ID,
			c.OwnerID,
			string(c.Status),
			string(c.Category),
			c.Amount.StringFixed(2),
			reimbursable,
			c.Merchant,
			c.ExpenseDate,
		})
	}
	table.Render()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
