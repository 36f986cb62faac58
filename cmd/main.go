package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"

	"calagg/internal/aggregator"
	"calagg/internal/app"
	"calagg/internal/config"
	"calagg/internal/digest"
	"calagg/internal/failure"
	"calagg/internal/google"
	"calagg/internal/query"
	"calagg/internal/server"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	cliApp := &cli.App{
		Name:  "calagg",
		Usage: "Show one agenda merged from Yandex and Google calendars.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: config.DefaultConfigPath, Usage: "YAML configuration file. Without it the environment is used."},
			&cli.StringFlag{Name: "log-level", EnvVars: []string{"LOG_LEVEL"}, Usage: "debug, info, warn or error."},
		},
		Commands: []*cli.Command{
			authCommand(),
			dayCommand(query.OpToday, "Show today's events."),
			dayCommand(query.OpTomorrow, "Show tomorrow's events."),
			upcomingCommand(),
			findCommand(),
			serveCommand(),
			digestCommand(),
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, aggregator.ErrAllProvidersUnavailable):
		return 3
	case errors.Is(err, failure.ErrInvalidArgument):
		return 2
	default:
		return 1
	}
}

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{Name: "json", Usage: "Print the result as JSON."}
}

func dayCommand(op, usage string) *cli.Command {
	return &cli.Command{
		Name:  op,
		Usage: usage,
		Flags: []cli.Flag{jsonFlag()},
		Action: func(c *cli.Context) error {
			return runQuery(c, query.Command{Op: op})
		},
	}
}

func upcomingCommand() *cli.Command {
	return &cli.Command{
		Name:  query.OpUpcoming,
		Usage: "Show events starting within the next hours.",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "hours", Value: query.DefaultUpcomingHours, Usage: "How many hours ahead to look."},
			jsonFlag(),
		},
		Action: func(c *cli.Context) error {
			hours := c.Int("hours")
			return runQuery(c, query.Command{Op: query.OpUpcoming, Hours: &hours})
		},
	}
}

func findCommand() *cli.Command {
	return &cli.Command{
		Name:      query.OpFind,
		Usage:     "Find upcoming meetings by title, description or attendee.",
		ArgsUsage: "<text>",
		Flags:     []cli.Flag{jsonFlag()},
		Action: func(c *cli.Context) error {
			return runQuery(c, query.Command{Op: query.OpFind, Text: strings.Join(c.Args().Slice(), " ")})
		},
	}
}

func runQuery(c *cli.Context, cmd query.Command) error {
	if cmd.Op == query.OpUpcoming && cmd.Hours != nil && *cmd.Hours <= 0 {
		return failure.Invalid("--hours must be positive, got %d", *cmd.Hours)
	}
	logger, a, err := build(c)
	if err != nil {
		return err
	}

	res, err := a.Query.Execute(c.Context, cmd)
	if err != nil {
		return err
	}
	logger.Debug("Query finished", "query_id", res.QueryID, "events", len(res.Events))

	if c.Bool("json") {
		return printJSON(os.Stdout, res)
	}
	printAgenda(os.Stdout, heading(cmd, res, a.Location), res, a.Location)
	return nil
}

func heading(cmd query.Command, res *aggregator.Result, loc *time.Location) string {
	switch cmd.Op {
	case query.OpToday:
		return "Today, " + res.Window.From.In(loc).Format("Mon 02 Jan 2006")
	case query.OpTomorrow:
		return "Tomorrow, " + res.Window.From.In(loc).Format("Mon 02 Jan 2006")
	case query.OpUpcoming:
		hours := query.DefaultUpcomingHours
		if cmd.Hours != nil {
			hours = *cmd.Hours
		}
		return fmt.Sprintf("Next %d hours", hours)
	default:
		return fmt.Sprintf("Meetings matching %q", cmd.Text)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the queries over HTTP.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Usage: "Address to listen on, overrides server.listen."},
		},
		Action: func(c *cli.Context) error {
			logger, a, err := build(c)
			if err != nil {
				return err
			}
			srvCfg := a.Config.Server
			if c.IsSet("listen") {
				srvCfg.Listen = c.String("listen")
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return server.New(logger, a.Query, srvCfg).Start(ctx)
		},
	}
}

func digestCommand() *cli.Command {
	return &cli.Command{
		Name:  "digest",
		Usage: "Print today's agenda on a cron schedule.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "schedule", Usage: "Standard 5-field cron spec, overrides digest.schedule."},
			&cli.BoolFlag{Name: "once", Usage: "Print one digest now and exit."},
		},
		Action: func(c *cli.Context) error {
			logger, a, err := build(c)
			if err != nil {
				return err
			}
			spec := a.Config.Digest.Schedule
			if c.IsSet("schedule") {
				spec = c.String("schedule")
			}

			sink := func(_ context.Context, res *aggregator.Result, err error) {
				if err != nil {
					fmt.Fprintf(os.Stdout, "Digest unavailable: %v\n", err)
					return
				}
				printAgenda(os.Stdout, "Today, "+res.Window.From.In(a.Location).Format("Mon 02 Jan 2006"), res, a.Location)
			}
			s, err := digest.New(logger, spec, a.Location, a.Config.QueryTimeout, a.Query, sink)
			if err != nil {
				return failure.Invalid("%v", err)
			}

			if c.Bool("once") {
				s.Run(c.Context)
				return nil
			}
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			s.Start(ctx)
			return nil
		},
	}
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authenticate with a Google account to get an API token.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "account", Usage: "Account name used in the token file name."},
			&cli.StringFlag{Name: "token-dir", Value: ".", Usage: "Directory the token file is written to."},
		},
		Action: func(c *cli.Context) error {
			logger := setupLogger(c.String("log-level"))
			logger.Info("Starting Google authentication flow.")

			clientID, clientSecret := os.Getenv("GOOGLE_CLIENT_ID"), os.Getenv("GOOGLE_CLIENT_SECRET")
			if cfg, err := config.Load(c.String("config")); err == nil {
				for _, p := range cfg.Providers {
					if p.Type == config.TypeGoogle && p.ClientID != "" {
						clientID, clientSecret = p.ClientID, p.ClientSecret
						break
					}
				}
			}

			oauthCfg, err := google.GetOAuthConfigForAuthFlow(clientID, clientSecret)
			if err != nil {
				return fmt.Errorf("failed to get google oauth config: %w", err)
			}

			authURL := oauthCfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
			fmt.Printf("Go to the following link in your browser then type the "+
				"authorization code: \n%v\n", authURL)

			fmt.Print("Enter Authorization Code: ")
			reader := bufio.NewReader(os.Stdin)
			authCode, _ := reader.ReadString('\n')
			authCode = strings.TrimSpace(authCode)

			token, err := google.TokenFromWeb(c.Context, oauthCfg, authCode)
			if err != nil {
				return fmt.Errorf("unable to retrieve token from web: %w", err)
			}

			accountName := c.String("account")
			if accountName == "" {
				fmt.Print("Enter a name for this account (e.g., 'personal', 'work'): ")
				accountName, _ = reader.ReadString('\n')
				accountName = strings.TrimSpace(accountName)
			}
			tokenFile := google.TokenPath(c.String("token-dir"), accountName)

			if err := google.SaveToken(tokenFile, token); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			logger.Info("Successfully authenticated and saved token.", "file", tokenFile)
			return nil
		},
	}
}

// build loads configuration and wires the providers. A missing default
// config file falls back to the environment.
func build(c *cli.Context) (*slog.Logger, *app.App, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	level := cfg.LogLevel
	if c.IsSet("log-level") {
		level = c.String("log-level")
	}
	logger := setupLogger(level)

	a, err := app.Build(c.Context, logger, cfg, app.DefaultRegistry())
	if err != nil {
		return nil, nil, err
	}
	return logger, a, nil
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, fs.ErrNotExist) && !c.IsSet("config") {
		cfg, err = config.FromEnv(os.Getenv)
		if err != nil {
			return nil, fmt.Errorf("no %s found and the environment is incomplete: %w", config.DefaultConfigPath, err)
		}
		return cfg, nil
	}
	return nil, err
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
