package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/peterbourgon/ff/v4"

	"github.com/zombor/copescan/internal/rewards"
	"github.com/zombor/copescan/internal/scan"
)

// config holds the flags shared by every subcommand
type config struct {
	username    *string
	password    *string
	endpoint    *string
	timeout     *time.Duration
	dbPath      *string
	storagePath *string
	recognizer  *string
	geminiKey   *string
	geminiModel *string
	ollamaURL   *string
	ollamaModel *string
	logLevel    *string
	showVersion *bool
}

func newRootCommand(stdin io.Reader, stdout io.Writer) (*ff.Command, *config) {
	fs := ff.NewFlagSet("copescan")
	cfg := &config{
		username:    fs.StringLong("username", "", "Rewards account username"),
		password:    fs.StringLong("password", "", "Rewards account password (or set PASSWORD env var)"),
		endpoint:    fs.StringLong("endpoint", rewards.DefaultEndpoint, "Rewards submission URL"),
		timeout:     fs.DurationLong("timeout", rewards.DefaultTimeout, "Timeout for each request to the rewards site"),
		dbPath:      fs.StringLong("db", "copescan.db", "Scan history database path"),
		storagePath: fs.StringLong("storage", "./captures", "Directory for captured images"),
		recognizer:  fs.StringLong("recognizer", "tesseract", "OCR engine: 'tesseract', 'gemini' or 'ollama'"),
		geminiKey:   fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)"),
		geminiModel: fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name"),
		ollamaURL:   fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL"),
		ollamaModel: fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, qwen2-vl)"),
		logLevel:    fs.StringLong("log-level", "info", "Log level: debug, info, warn or error"),
		showVersion: fs.BoolLong("version", "Show version information"),
	}

	root := &ff.Command{
		Name:      "copescan",
		Usage:     "copescan [FLAGS] <SUBCOMMAND> ...",
		ShortHelp: "read promotional codes from wrapper photos and redeem them",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if *cfg.showVersion {
				fmt.Fprintln(stdout, version)
				return nil
			}
			return ff.ErrNoExec
		},
	}

	root.Subcommands = []*ff.Command{
		newScanCommand(fs, cfg, stdin, stdout),
		newSubmitCommand(fs, cfg, stdout),
		newHistoryCommand(fs, cfg, stdout),
		newServeCommand(fs, cfg),
	}
	return root, cfg
}

// credentials reads the rewards account, falling back to PASSWORD for the secret
func (c *config) credentials() rewards.Credentials {
	password := *c.password
	if password == "" {
		password = os.Getenv("PASSWORD")
	}
	return rewards.Credentials{
		Username: *c.username,
		Password: password,
	}
}

// session builds the rewards session. It fails before any scan when the
// account is not configured.
func (c *config) session() (*rewards.Session, error) {
	session, err := rewards.NewSession(*c.endpoint, c.credentials(), rewards.WithTimeout(*c.timeout))
	if err != nil {
		return nil, fmt.Errorf("configuring rewards session: %w", err)
	}
	slog.Info("Rewards session ready", "endpoint", session.Endpoint(), "user", *c.username)
	return session, nil
}

// openHistory opens the scan database and the image directory
func (c *config) openHistory() (*scan.BoltDB, *scan.LocalStorage, error) {
	slog.Debug("Initializing database...", "path", *c.dbPath)
	db, err := scan.NewBoltDB(*c.dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing database: %w", err)
	}

	slog.Debug("Initializing storage...", "path", *c.storagePath)
	store, err := scan.NewLocalStorage(*c.storagePath)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("initializing storage: %w", err)
	}
	return db, store, nil
}
