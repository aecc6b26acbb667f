package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"itevents/internal/app"
	"itevents/internal/config"
	"itevents/internal/directory"
	"itevents/internal/ics"
	appLog "itevents/internal/log"
	"itevents/internal/model"
	"itevents/internal/rank"
	"itevents/internal/telegram"
)

var version = "0.1.0-dev"

var (
	configPath string
	logLevel   string
	logFile    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "itevents",
		Short:         "IT event digest bot with manager approvals",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/itevents/config.yaml", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, error); overrides config")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Append logs to this file instead of stderr")

	rootCmd.AddCommand(serveCmd(), acquireCmd(), rankCmd(), exportCmd(), hashSecretCmd())

	if err := rootCmd.Execute(); err != nil {
		appLog.Error("command failed", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			appLog.Info("signal received, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// redirectLog appends log output to path. The file stays open for the life
// of the process.
func redirectLog(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file %s: %w", path, err)
	}
	appLog.SetOutput(f)
	return nil
}

func loadConfig() (*config.Config, error) {
	if logFile != "" {
		if err := redirectLog(logFile); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}
	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	appLog.SetLevel(appLog.ParseLevel(level))
	return cfg, nil
}

func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, app.Options{})
}

func serveCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat bot, schedules and diagnostics server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}
			appLog.Info("itevents starting", "version", version, "timezone", cfg.Timezone,
				"store_backend", cfg.StoreBackend, "listen", cfg.Listen, "sources", len(cfg.Sources))

			a, err := app.New(ctx, cfg, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			tg, err := telegram.New(cfg.BotToken, "")
			if err != nil {
				return err
			}
			err = a.Serve(ctx, tg)
			appLog.Info("itevents exiting")
			return err
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set)")
	return cmd
}

func acquireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "acquire",
		Short: "Run one acquisition cycle and print its report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := a.Events.Run(ctx)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), rep)
		},
	}
}

func rankCmd() *cobra.Command {
	var (
		user  int64
		limit int
	)
	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Print the corpus ranked for a user (or an anonymous profile)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			profile, err := lookupProfile(a, user)
			if err != nil {
				return err
			}
			crit := rank.CriteriaFor(profile, a.Config.MaxFutureDays, a.Config.MinAudience)
			res := a.Filter.Apply(a.Events.Corpus().Events, crit, profile)
			out := cmd.OutOrStdout()
			for i, e := range res.Events {
				if limit > 0 && i >= limit {
					break
				}
				fmt.Fprintf(out, "%4.1f  %s  %-8s %-12s %s\n", e.PriorityScore, e.Date, e.Locality, e.Type, e.Title)
			}
			for reason, n := range res.Rejected {
				fmt.Fprintf(cmd.ErrOrStderr(), "rejected %s: %d\n", reason, n)
			}
			return nil
		},
	}
	cmd.Flags().Int64VarP(&user, "user", "u", 0, "Rank for this user id")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Show at most this many events (0 = all)")
	return cmd
}

func exportCmd() *cobra.Command {
	var (
		user  int64
		limit int
		out   string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write an iCalendar file: a user's calendar, or the top ranked events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			var events []model.Event
			if user != 0 {
				if _, err := lookupProfile(a, user); err != nil {
					return err
				}
				events = a.Users.CalendarEntries(model.UserID(user))
			} else {
				crit := rank.CriteriaFor(nil, a.Config.MaxFutureDays, a.Config.MinAudience)
				events = a.Filter.Apply(a.Events.Corpus().Events, crit, nil).Events
				if limit > 0 && len(events) > limit {
					events = events[:limit]
				}
			}
			data := ics.Export(events, a.Calendar)
			if out == "" || out == "-" {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			appLog.Info("calendar exported", "path", out, "events", len(events))
			return nil
		},
	}
	cmd.Flags().Int64VarP(&user, "user", "u", 0, "Export this user's calendar")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Ranked events to export when no user is given")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default stdout)")
	return cmd
}

func hashSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-secret <secret>",
		Short: "Print an argon2id hash for manager_secret/admin_secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := directory.HashSecret(args[0], directory.DefaultArgon2Params)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), h)
			return nil
		},
	}
}

func lookupProfile(a *app.App, user int64) (*model.UserProfile, error) {
	if user == 0 {
		return nil, nil
	}
	p, err := a.Users.Get(model.UserID(user))
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", strconv.FormatInt(user, 10), err)
	}
	return &p, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
