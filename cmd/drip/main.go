package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/hpungsan/drip/internal/api"
	"github.com/hpungsan/drip/internal/config"
	"github.com/hpungsan/drip/internal/db"
	"github.com/hpungsan/drip/internal/logging"
	"github.com/hpungsan/drip/internal/mcp"
	"github.com/hpungsan/drip/internal/ops"
	"github.com/hpungsan/drip/internal/rest"
	"github.com/hpungsan/drip/internal/session"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"login": true, "logout": true, "whoami": true,
	"status": true, "rewrite": true, "history": true, "copy": true,
	"export": true, "upgrade": true, "plan": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
   ____       _
  |  _ \ _ __(_)_ __
  | | | | '__| | '_ \
  | |_| | |  | | |_) |
  |____/|_|  |_| .__/
               |_|

  Email drafts, rewritten in the tone you need

  Usage: drip <command> [options]
         drip --help

  MCP server mode requires piped input.`)
}

// newDeps wires the stores and remote clients selected by cfg.
// Identity always lives in the local database; usage, plan and history
// come from the configured data store.
func newDeps(baseDir string, cfg *config.Config, database *sql.DB, logger *slog.Logger) ops.Deps {
	local := db.NewStore(database)
	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second

	var store ops.DataStore = local
	if cfg.DataStore == config.DataStoreREST {
		store = rest.New(cfg.DataStoreURL, cfg.DataStoreKey, timeout, logger)
	}
	client := api.NewClient(cfg.APIBaseURL, timeout, logger)

	return ops.Deps{
		Config:   cfg,
		BaseDir:  baseDir,
		Session:  session.New(local, logger),
		Store:    store,
		Rewriter: client,
		Billing:  client,
		Logger:   logger,
	}
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion() {
		app := newCLIApp(nil)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if !isCLIMode() && len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'drip --help' for usage.\n")
		os.Exit(1)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("could not determine home directory: %w", err)
	}
	baseDir := filepath.Join(homeDir, ".drip")

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return fmt.Errorf("failed to create %s: %w", baseDir, err)
	}
	cfg, err := config.Load(baseDir)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// stdout belongs to command output and the MCP stream
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	database, err := db.Init(baseDir)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()
	db.ConfigurePool(database, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	deps := newDeps(baseDir, cfg, database, logger)
	deps.Session.Resolve(ctx)

	if isCLIMode() {
		return newCLIApp(&deps).RunContext(ctx, os.Args)
	}

	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		logger.Warn("ignoring unknown disabled_tools", "tools", unknown)
	}
	logger.Info("starting MCP server", "version", Version, "data_store", cfg.DataStore)
	return mcp.Run(deps, Version)
}
