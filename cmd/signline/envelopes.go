package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"signline/internal/app"
	"signline/internal/domain"
	"signline/internal/repo"
)

func envelopeCmd() *cobra.Command {
	env := &cobra.Command{Use: "envelope", Short: "Inspect and manage envelopes"}
	env.AddCommand(envelopeListCmd())
	env.AddCommand(envelopeShowCmd())
	env.AddCommand(envelopeCancelCmd())
	env.AddCommand(envelopeResendCmd())
	return env
}

func envelopeListCmd() *cobra.Command {
	var f repo.EnvelopeFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List envelopes, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				envs, err := a.Engine.List(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(envs)
				}
				ids := make([]string, 0, len(envs))
				for _, e := range envs {
					ids = append(ids, e.ID)
				}
				counts, err := a.Engine.Repo.CountSigners(ctx, ids)
				if err != nil {
					return err
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Status", "Signers", "Routing", "Updated"})
				for _, e := range envs {
					tw.AppendRow(table.Row{e.ID, e.DocumentStatus, counts[e.ID], e.IsRoutingOrder, ago(e.UpdatedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Email, "email", "", "only envelopes with this signer")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum rows")
	return cmd
}

func envelopeShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <envelope-id>",
		Short: "Show an envelope with its signers and artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				d, err := a.Engine.Details(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				fmt.Printf("Envelope %s: %s (routing order %t, created %s)\n",
					d.Envelope.ID, d.Envelope.DocumentStatus, d.Envelope.IsRoutingOrder, ago(d.Envelope.CreatedAt))
				printSigners(d.Envelope.Signers)

				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Document", "Template", "Signed"})
				for _, doc := range d.Documents {
					tw.AppendRow(table.Row{doc.Name, doc.TemplateURL, doc.SignedURL})
				}
				tw.AppendFooter(table.Row{"merged", d.PDFURL, d.SignedPDFURL})
				tw.Render()

				if len(d.Events) > 0 {
					ev := table.NewWriter()
					ev.SetOutputMirror(os.Stdout)
					ev.AppendHeader(table.Row{"#", "Event", "Signer", "When"})
					for _, e := range d.Events {
						ev.AppendRow(table.Row{e.ID, e.Type, e.SignerEmail, ago(e.TS)})
					}
					ev.Render()
				}
				return nil
			})
		},
	}
}

func printSigners(signers []domain.Signer) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"#", "Email", "Name", "Action", "Order", "Status"})
	for i, s := range signers {
		tw.AppendRow(table.Row{i, s.Email, s.Name, s.Action, s.RoutingOrder, s.Status})
	}
	tw.Render()
}

func envelopeCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <envelope-id>",
		Short: "Cancel an envelope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				env, err := a.Engine.Cancel(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(env)
				}
				fmt.Printf("Envelope %s is %s\n", env.ID, env.DocumentStatus)
				return nil
			})
		},
	}
}

func envelopeResendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resend <envelope-id>",
		Short: "Notify every signer that has not completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.Resend(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Queued %s to %s\n",
					humanize.Plural(len(res.Notified), "notification", ""), strings.Join(res.Notified, ", "))
				return nil
			})
		},
	}
}

func webhookCmd() *cobra.Command {
	wh := &cobra.Command{Use: "webhook", Short: "Manage webhook subscriptions"}
	wh.AddCommand(webhookRegisterCmd())
	wh.AddCommand(webhookListCmd())
	return wh
}

func webhookRegisterCmd() *cobra.Command {
	var events []string
	cmd := &cobra.Command{
		Use:   "register <url>",
		Short: "Subscribe a URL to envelope events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				reg, err := a.Engine.RegisterWebhook(ctx, args[0], events)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(reg)
				}
				fmt.Printf("Registered %s\nSecret: %s\n", reg.Subscription.ID, reg.Secret)
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&events, "event", nil, "event type to deliver (repeatable, all when omitted)")
	return cmd
}

func webhookListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List webhook subscriptions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				subs, err := a.Engine.ListWebhooks(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(subs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "URL", "Events", "Active", "Created"})
				for _, s := range subs {
					evts := "all"
					if len(s.Events) > 0 {
						evts = strings.Join(s.Events, ",")
					}
					tw.AppendRow(table.Row{s.ID, s.URL, evts, s.Active, ago(s.CreatedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func tokenCmd() *cobra.Command {
	tok := &cobra.Command{Use: "token", Short: "Capability tokens"}
	tok.AddCommand(&cobra.Command{
		Use:   "issue <envelope-id> <email>",
		Short: "Print a fresh signing link for a signer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.IssueToken(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				link := a.Engine.SigningLink(t)
				if viper.GetBool("json") {
					return printJSON(map[string]string{"token": t, "link": link})
				}
				fmt.Println(link)
				return nil
			})
		},
	})
	return tok
}

func ago(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return humanize.Time(t)
}
