package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"signline/internal/app"
	"signline/internal/config"
	"signline/internal/db"
	"signline/internal/logging"
	"signline/internal/migrate"
	"signline/internal/server"
	"signline/internal/worker"
)

var rootCmd = &cobra.Command{
	Use:   "signline",
	Short: "Signline e-sign envelope service",
	Long: `Signline assembles documents into envelopes, routes them to recipients in
order, and collects signed artifacts.
- Workspace: the .signline directory holding the database and worker lock; signline.yml sits next to it.
- Envelope: the documents plus the ordered recipient list; its status follows the signers.
- Routing order: recipients with the lowest pending order are notified together, the next wave after they finish.
- Capability token: the link a recipient receives; it names the envelope and signer and nothing else.
- Worker: sends queued notifications and webhook deliveries, one per workspace.`,
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SIGNLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(envelopeCmd())
	rootCmd.AddCommand(webhookCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(backupCmd())
}

// loadConfig reads signline.yml and applies SIGNLINE_* secrets from the
// environment on top.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("token-secret"); v != "" {
		cfg.Signing.TokenSecret = v
	}
	if v := viper.GetString("api-key"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := viper.GetString("mail-password"); v != "" {
		cfg.Mail.Password = v
	}
	if v := viper.GetString("s3-secret-access-key"); v != "" {
		cfg.Storage.S3.SecretAccessKey = v
	}
	if v := viper.GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	return logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: os.Stderr})
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	a, err := app.Open(ctx, viper.GetString("workspace"), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(logging.WithContext(ctx, logger), a)
}

func serveCmd() *cobra.Command {
	var addr string
	var noWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the delivery worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if strings.TrimSpace(a.Config.Signing.TokenSecret) == "" {
					return fmt.Errorf("signing.token_secret or SIGNLINE_TOKEN_SECRET is required")
				}
				if addr == "" {
					addr = a.Config.Server.Addr
				}
				handler, err := server.New(server.Config{
					Engine:   a.Engine,
					BasePath: a.Config.Server.BasePath,
					APIKey:   a.Config.Server.APIKey,
					FilesDir: a.FilesDir,
					Logger:   a.Logger,
				})
				if err != nil {
					return err
				}
				if a.Config.Server.APIKey == "" {
					a.Logger.Warn("server.api_key is empty; envelope routes are unauthenticated")
				}

				workerDone := make(chan struct{})
				if noWorker {
					close(workerDone)
				} else {
					go func() {
						defer close(workerDone)
						err := a.Worker.Run(ctx)
						switch {
						case errors.Is(err, worker.ErrLocked):
							a.Logger.Warn("delivery worker not started", logging.FieldError, err)
						case err != nil && !errors.Is(err, context.Canceled):
							a.Logger.Error("delivery worker stopped", logging.FieldError, err)
						}
					}()
				}

				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				a.Logger.Info("serving signline API",
					"addr", addr,
					"base_path", a.Config.Server.BasePath,
					"docs", "/docs")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				<-workerDone
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	cmd.Flags().BoolVar(&noWorker, "no-worker", false, "serve without the delivery worker")
	return cmd
}

func workerCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Deliver queued notifications and webhooks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if !once {
					err := a.Worker.Run(ctx)
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				}
				st, err := a.Worker.Drain(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				fmt.Printf("notifications sent=%d failed=%d, webhooks ok=%d failed=%d, events dispatched=%d\n",
					st.Sent, st.Failed, st.WebhooksOK, st.WebhooksFailed, st.EventsDispatched)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "drain pending work once and exit")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			v, err := migrate.Migrate(cmd.Context(), conn)
			if err != nil {
				return err
			}
			fmt.Printf("%s at schema version %d\n", db.Path(workspace), v)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage signline.yml"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default signline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(workspace)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			redacted := *cfg
			redacted.Signing.TokenSecret = redact(cfg.Signing.TokenSecret)
			redacted.Server.APIKey = redact(cfg.Server.APIKey)
			redacted.Mail.Password = redact(cfg.Mail.Password)
			redacted.Storage.S3.SecretAccessKey = redact(cfg.Storage.S3.SecretAccessKey)
			if viper.GetBool("json") {
				return printJSON(redacted)
			}
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			return enc.Encode(redacted)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate signline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	}
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
