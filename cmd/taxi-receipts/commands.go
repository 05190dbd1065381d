package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/time/rate"

	"github.com/zombor/taxi-receipts/internal/receipt"
)

const defaultImageDir = "./img"

// config holds the flags shared by every subcommand
type config struct {
	scanner     string
	openaiKey   string
	openaiModel string
	geminiKey   string
	geminiModel string
	ollamaURL   string
	ollamaModel string
	teamMembers string
	dbPath      string
	outDir      string
	logDir      string
	logLevel    string
	logFormat   string

	stdout io.Writer
	stderr io.Writer
}

func newRootCommand(stdout, stderr io.Writer) *ff.Command {
	cfg := &config{stdout: stdout, stderr: stderr}

	rootFlags := ff.NewFlagSet("taxi-receipts")
	rootFlags.StringVar(&cfg.scanner, 0, "scanner", "openai", "vision provider: openai, gemini or ollama")
	rootFlags.StringVar(&cfg.openaiKey, 0, "openai-key", "", "OpenAI API key (or set OPENAI_API_KEY env var)")
	rootFlags.StringVar(&cfg.openaiModel, 0, "openai-model", "gpt-4o", "OpenAI model name")
	rootFlags.StringVar(&cfg.geminiKey, 0, "gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
	rootFlags.StringVar(&cfg.geminiModel, 0, "gemini-model", "gemini-2.5-pro", "Google Gemini model name")
	rootFlags.StringVar(&cfg.ollamaURL, 0, "ollama-url", "http://localhost:11434", "Ollama API base URL")
	rootFlags.StringVar(&cfg.ollamaModel, 0, "ollama-model", "qwen2.5vl", "Ollama vision model name")
	rootFlags.StringVar(&cfg.teamMembers, 0, "team-members", strings.Join(receipt.DefaultTeamMembers, ","), "comma separated team roster used to reconcile names")
	rootFlags.StringVar(&cfg.dbPath, 0, "db", "taxi-receipts.db", "database file for the extraction cache and run history")
	rootFlags.StringVar(&cfg.outDir, 0, "out", ".", "directory for CSV exports")
	rootFlags.StringVar(&cfg.logDir, 0, "log-dir", "log", "directory for per-run log files")
	rootFlags.StringVar(&cfg.logLevel, 0, "log-level", "info", "log level: debug, info, warn or error")
	rootFlags.StringVar(&cfg.logFormat, 0, "log-format", "text", "log format: text or json")

	extractFlags := ff.NewFlagSet("extract").SetParent(rootFlags)
	rateLimit := extractFlags.Float64Long("rate", 0, "maximum provider requests per second (0 means unlimited)")
	refresh := extractFlags.BoolLong("refresh", "ignore cached results and extract every pair again")

	extractCmd := &ff.Command{
		Name:      "extract",
		Usage:     "taxi-receipts extract [FLAGS] [DIR]",
		ShortHelp: "extract every front/back photo pair in DIR (default ./img) into a CSV",
		Flags:     extractFlags,
		Exec: func(ctx context.Context, args []string) error {
			dir := defaultImageDir
			if len(args) > 0 {
				dir = args[0]
			}
			return cfg.runExtract(ctx, dir, *rateLimit, *refresh)
		},
	}

	serveFlags := ff.NewFlagSet("serve").SetParent(rootFlags)
	port := serveFlags.IntLong("port", 8080, "HTTP server port")
	authUser := serveFlags.StringLong("auth-user", "", "Basic auth username (optional)")
	authPass := serveFlags.StringLong("auth-pass", "", "Basic auth password (optional)")

	serveCmd := &ff.Command{
		Name:      "serve",
		Usage:     "taxi-receipts serve [FLAGS]",
		ShortHelp: "serve the extraction API and run history over HTTP",
		Flags:     serveFlags,
		Exec: func(ctx context.Context, args []string) error {
			return cfg.runServe(ctx, *port, receipt.BasicAuth{Username: *authUser, Password: *authPass})
		},
	}

	return &ff.Command{
		Name:        "taxi-receipts",
		Usage:       "taxi-receipts [FLAGS] <SUBCOMMAND> ...",
		ShortHelp:   "turn photos of Korean taxi receipts into a validated spreadsheet",
		Flags:       rootFlags,
		Subcommands: []*ff.Command{extractCmd, serveCmd},
	}
}

// roster returns the configured team, falling back to the built-in one
func (c *config) roster() receipt.Roster {
	if roster := receipt.ParseRoster(c.teamMembers); len(roster) > 0 {
		return roster
	}
	return receipt.DefaultTeamMembers
}

// app is the wired service plus what must be closed after it
type app struct {
	service *receipt.Service
	storage *receipt.LocalStorage
	closers []io.Closer
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i].Close()
	}
}

func (c *config) newApp(ctx context.Context, logger *slog.Logger) (*app, error) {
	a := &app{}

	logger.Info("Initializing database...", "path", c.dbPath)
	db, err := receipt.NewBoltDB(c.dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}
	a.closers = append(a.closers, db)

	scanner, err := c.newScanner(ctx, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, scanner)

	a.storage, err = receipt.NewLocalStorage(c.outDir)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}

	extractor := receipt.NewExtractor(scanner, receipt.NewValidator(c.roster()), logger)
	a.service = receipt.NewService(extractor, db, a.storage, logger)
	return a, nil
}

func (c *config) runExtract(ctx context.Context, dir string, rps float64, refresh bool) error {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("image directory %s not found", dir)
	}

	logFile, err := openLogFile(c.logDir, time.Now())
	if err != nil {
		return err
	}
	defer logFile.Close()

	logger, err := newLogger(io.MultiWriter(c.stderr, logFile), c.logLevel, c.logFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	a, err := c.newApp(ctx, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var bar *progressbar.ProgressBar
	opts := receipt.ProcessOptions{
		Refresh: refresh,
		Progress: func(done, total int) {
			if bar == nil {
				bar = progressbar.NewOptions(total,
					progressbar.OptionSetWriter(c.stderr),
					progressbar.OptionShowCount(),
					progressbar.OptionSetWidth(40),
					progressbar.OptionSetDescription("Extracting receipts"),
				)
			}
			bar.Set(done)
		},
	}
	if rps > 0 {
		opts.Limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}

	run, err := a.service.Process(ctx, dir, opts)
	if bar != nil {
		bar.Finish()
		fmt.Fprintln(c.stderr)
	}
	if errors.Is(err, receipt.ErrNoPairs) {
		return fmt.Errorf("no image pairs found in %s", dir)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(c.stdout, "✓ Exported %d of %d receipts to %s\n", run.Succeeded, run.Total, a.storage.Path(run.Export))
	if run.Failed > 0 {
		fmt.Fprintf(c.stdout, "✗ %d pairs failed, see %s\n", run.Failed, logFile.Name())
	}
	if run.Cancelled {
		return fmt.Errorf("run cancelled after %d of %d pairs", run.Succeeded+run.Failed, run.Total)
	}
	return nil
}

func (c *config) runServe(ctx context.Context, port int, auth receipt.BasicAuth) error {
	logger, err := newLogger(c.stderr, c.logLevel, c.logFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	a, err := c.newApp(ctx, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if auth.Username != "" || auth.Password != "" {
		logger.Info("Basic auth enabled", "user", auth.Username)
	}

	server := receipt.NewServer(a.service, auth, logger)
	return server.Start(ctx, fmt.Sprintf(":%d", port))
}
