package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"teamcal/internal/caldav"
	"teamcal/internal/config"
	"teamcal/internal/google"
	"teamcal/internal/schedule"
	"teamcal/internal/state"
	"teamcal/internal/syncer"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
)

// Compile-time checks that the adapters satisfy the syncer's ports.
var (
	_ syncer.Source             = (*google.CalendarClient)(nil)
	_ syncer.Target             = (*google.CalendarClient)(nil)
	_ syncer.Target             = (*caldav.Client)(nil)
	_ syncer.MembershipProvider = (*google.DirectoryClient)(nil)
	_ syncer.StateStore         = (state.Store)(nil)
	_ syncer.Trigger            = (*schedule.Scheduler)(nil)
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "teamcal",
		Usage: "Collect the team's out-of-office events into a shared calendar.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   "teamcal.yaml",
				EnvVars: []string{"TEAMCAL_CONFIG"},
				Usage:   "Path to the YAML configuration file.",
			},
		},
		Commands: []*cli.Command{
			authCommand(),
			syncCommand(),
			setupCommand(),
			statusCommand(),
			calendarsCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authenticate with a Google account to get an API token.",
		Action: func(c *cli.Context) error {
			logger := setupLogger("info")
			logger.Info("Starting Google authentication flow.")

			oauthConfig, err := google.GetOAuthConfigForAuthFlow(os.Getenv("GOOGLE_CLIENT_ID"), os.Getenv("GOOGLE_CLIENT_SECRET"))
			if err != nil {
				return fmt.Errorf("failed to get google oauth config: %w", err)
			}

			authURL := oauthConfig.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
			fmt.Printf("Go to the following link in your browser then type the "+
				"authorization code: \n%v\n", authURL)

			fmt.Print("Enter Authorization Code: ")
			reader := bufio.NewReader(os.Stdin)
			authCode, _ := reader.ReadString('\n')
			authCode = strings.TrimSpace(authCode)

			token, err := google.TokenFromWeb(c.Context, oauthConfig, authCode)
			if err != nil {
				return fmt.Errorf("unable to retrieve token from web: %w", err)
			}

			fmt.Print("Enter a name for this account (default 'default'): ")
			accountName, _ := reader.ReadString('\n')
			accountName = strings.TrimSpace(accountName)
			if accountName == "" {
				accountName = "default"
			}
			tokenFile := google.TokenFile(accountName)

			if err := google.SaveToken(tokenFile, token); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			logger.Info("Successfully authenticated and saved token.", "file", tokenFile)
			return nil
		},
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Run the out-of-office synchronization.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "once", Usage: "Run the sync cycle once and exit (default)."},
			&cli.BoolFlag{Name: "dry-run", Usage: "Log what would be imported without making changes."},
			&cli.BoolFlag{Name: "watch", Usage: "Keep running and sync on the configured schedule. Overrides --once."},
			&cli.StringFlag{Name: "schedule", Usage: "Cron spec used with --watch instead of the configured one."},
		},
		Action: func(c *cli.Context) error {
			logger := setupLogger(os.Getenv("LOG_LEVEL"))

			app, err := newApp(c.Context, logger, c.String("config"), c.Bool("dry-run"))
			if err != nil {
				return err
			}
			defer app.close()

			if c.Bool("dry-run") {
				logger.Info("Performing a dry run. No changes will be made.")
			}

			// --watch flag takes precedence
			if c.Bool("watch") {
				spec := app.cfg.Schedule
				if c.IsSet("schedule") {
					spec = c.String("schedule")
				}
				return app.serve(c.Context, spec, false)
			}

			logger.Info("Running a single sync cycle.")
			report, err := app.syncer.Sync(c.Context)
			if err != nil {
				return fmt.Errorf("single sync cycle failed: %w", err)
			}
			printReport(report)
			return nil
		},
	}
}

func setupCommand() *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Install the periodic sync trigger, run the first cycle and keep running.",
		Action: func(c *cli.Context) error {
			logger := setupLogger(os.Getenv("LOG_LEVEL"))

			app, err := newApp(c.Context, logger, c.String("config"), false)
			if err != nil {
				return err
			}
			defer app.close()

			return app.serve(c.Context, app.cfg.Schedule, true)
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the last committed run and the size of the import index.",
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			store, err := state.Open(cfg.State.Driver, cfg.State.Path)
			if err != nil {
				return fmt.Errorf("failed to open state: %w", err)
			}
			defer store.Close()

			lastRun, ok, err := store.LastRun(c.Context)
			if err != nil {
				return fmt.Errorf("failed to read last run: %w", err)
			}
			count, err := store.CountImports(c.Context)
			if err != nil {
				return fmt.Errorf("failed to count imports: %w", err)
			}
			accounts, err := google.GetTokenAccounts(".")
			if err != nil {
				return fmt.Errorf("failed to list token files: %w", err)
			}

			fmt.Printf("State:           %s (%s)\n", cfg.State.Path, cfg.State.Driver)
			if ok {
				fmt.Printf("Last run:        %s\n", lastRun.Format(time.RFC3339))
			} else {
				fmt.Println("Last run:        never")
			}
			fmt.Printf("Imported events: %d\n", count)
			fmt.Printf("Target:          %s (%s)\n", targetCalendarID(cfg), cfg.Target)
			fmt.Printf("Schedule:        %s\n", cfg.Schedule)
			fmt.Printf("Token accounts:  %s\n", strings.Join(accounts, ", "))
			return nil
		},
	}
}

func calendarsCommand() *cli.Command {
	return &cli.Command{
		Name:  "calendars",
		Usage: "List the Google calendars visible to the configured account.",
		Action: func(c *cli.Context) error {
			logger := setupLogger(os.Getenv("LOG_LEVEL"))
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			gClient, err := newGoogleClient(c.Context, logger, cfg)
			if err != nil {
				return err
			}
			ids, err := gClient.DiscoverCalendars(c.Context)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		},
	}
}

// app holds the components of one configured process.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  state.Store
	syncer *syncer.Syncer
}

func newApp(ctx context.Context, logger *slog.Logger, configPath string, dryRun bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	gClient, err := newGoogleClient(ctx, logger, cfg)
	if err != nil {
		return nil, err
	}

	var members syncer.MembershipProvider
	if len(cfg.Members) > 0 {
		logger.Info("Using static roster.", "members", len(cfg.Members))
		members = syncer.StaticRoster(cfg.Members)
	} else {
		members, err = newDirectoryClient(ctx, logger, cfg)
		if err != nil {
			return nil, err
		}
	}

	var target syncer.Target = gClient
	if cfg.Target == config.TargetCalDAV {
		target, err = caldav.NewClient(ctx, logger, cfg.CalDAV.URL, cfg.CalDAV.Username, cfg.CalDAV.Password, cfg.CalDAV.CalendarName)
		if err != nil {
			return nil, fmt.Errorf("failed to create caldav client: %w", err)
		}
	}

	store, err := state.Open(cfg.State.Driver, cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state: %w", err)
	}

	startMonth, endMonth := cfg.DSTMonths()
	s, err := syncer.NewSyncer(logger, members, gClient, target, store, syncer.Options{
		Group:            cfg.Group,
		Keywords:         cfg.Keywords,
		MonthsInAdvance:  cfg.MonthsInAdvance,
		TargetCalendarID: targetCalendarID(cfg),
		Normalizer: syncer.Normalizer{
			Rule:           syncer.DSTRule{StartMonth: startMonth, EndMonth: endMonth},
			DSTOffset:      cfg.DST.DSTOffset,
			StandardOffset: cfg.DST.StandardOffset,
		},
		CallTimeout: cfg.CallTimeout,
		DryRun:      dryRun,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create syncer: %w", err)
	}

	return &app{cfg: cfg, logger: logger, store: store, syncer: s}, nil
}

// serve installs the trigger, runs the first cycle and blocks until the
// process is interrupted. With strict set, a failing first cycle is returned.
func (a *app) serve(ctx context.Context, spec string, strict bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched := schedule.New(a.logger, time.Local)
	defer sched.Stop()

	report, err := a.syncer.Setup(ctx, sched, spec)
	switch {
	case errors.Is(err, syncer.ErrTriggerInstalled):
		return err
	case err != nil && !sched.Installed():
		return err
	case err != nil && strict:
		return fmt.Errorf("first sync cycle failed: %w", err)
	case err != nil:
		a.logger.Error("Sync cycle failed", "error", err)
	default:
		printReport(report)
	}

	a.logger.Info("Waiting for scheduled runs.", "schedule", spec, "next", sched.Next())
	<-ctx.Done()
	a.logger.Info("Shutting down.")
	return nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("Could not close state store", "error", err)
	}
}

func newGoogleClient(ctx context.Context, logger *slog.Logger, cfg *config.Config) (*google.CalendarClient, error) {
	httpClient, err := google.HTTPClient(ctx, credentials(cfg))
	if err != nil {
		return nil, err
	}
	gClient, err := google.NewClient(ctx, logger, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}
	return gClient, nil
}

func newDirectoryClient(ctx context.Context, logger *slog.Logger, cfg *config.Config) (*google.DirectoryClient, error) {
	httpClient, err := google.HTTPClient(ctx, credentials(cfg))
	if err != nil {
		return nil, err
	}
	d, err := google.NewDirectoryClient(ctx, logger, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create directory client: %w", err)
	}
	return d, nil
}

func credentials(cfg *config.Config) google.Credentials {
	return google.Credentials{
		ClientID:           cfg.Google.ClientID,
		ClientSecret:       cfg.Google.ClientSecret,
		Account:            cfg.Google.Account,
		ServiceAccountFile: cfg.Google.ServiceAccountFile,
		Impersonate:        cfg.Google.Impersonate,
	}
}

// targetCalendarID names the team calendar and is written as organizer of
// imported events. A CalDAV target without one falls back to the calendar
// name, which the CalDAV writer leaves out of ORGANIZER.
func targetCalendarID(cfg *config.Config) string {
	if cfg.TargetCalendarID != "" {
		return cfg.TargetCalendarID
	}
	return cfg.CalDAV.CalendarName
}

func printReport(r *syncer.Report) {
	if r == nil {
		return
	}
	fmt.Printf("Cycle %s: %d members, %d pairs, %d discovered, %d accepted, %d imported, %d unchanged, %d skipped, %d failures (%s)\n",
		r.CycleID, r.Members, r.Pairs, r.Discovered, r.Accepted, r.Imported, r.Unchanged, r.Skipped, len(r.Failures), r.Duration.Round(time.Millisecond))
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
