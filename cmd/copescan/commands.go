package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/zombor/copescan/internal/scan"
	"github.com/zombor/copescan/internal/scanning"
)

func newScanCommand(parent *ff.FlagSet, cfg *config, stdin io.Reader, stdout io.Writer) *ff.Command {
	fs := ff.NewFlagSet("scan").SetParent(parent)
	return &ff.Command{
		Name:      "scan",
		Usage:     "copescan scan [FLAGS]",
		ShortHelp: "scan wrapper photos one after another and submit the codes",
		LongHelp: "Prompts for the path of a wrapper photo, reads the code, asks for " +
			"confirmation and submits it. An empty path ends the session.",
		Flags: fs,
		Exec: func(ctx context.Context, args []string) error {
			session, err := cfg.session()
			if err != nil {
				return err
			}

			recognizer, err := newRecognizer(cfg)
			if err != nil {
				return err
			}
			defer recognizer.Close()

			db, store, err := cfg.openHistory()
			if err != nil {
				return err
			}
			defer db.Close()

			term := NewTerminal(stdin, stdout)
			workflow := scan.NewWorkflow(scanning.NewExtractor(recognizer), session, term,
				scan.WithJournal(db),
				scan.WithImageStorage(store),
			)
			return scanLoop(ctx, workflow, term)
		},
	}
}

// scanLoop runs one workflow pass per captured image until the user stops
func scanLoop(ctx context.Context, workflow *scan.Workflow, term *Terminal) error {
	for ctx.Err() == nil {
		result, err := workflow.Run(ctx, term)
		switch {
		case errors.Is(err, errInputFailed):
			// stdin is gone, nothing more can be asked
			return err
		case errors.Is(err, scan.ErrCaptureUnavailable):
			term.Printf("Could not load the image: %v\n", err)
			continue
		case err != nil:
			slog.Error("Scan failed", "error", err)
			term.Printf("Scan failed: %v\n", err)
			continue
		}

		if !result.Captured {
			return nil
		}
		term.Report(result)
	}
	return nil
}

func newSubmitCommand(parent *ff.FlagSet, cfg *config, stdout io.Writer) *ff.Command {
	fs := ff.NewFlagSet("submit").SetParent(parent)
	return &ff.Command{
		Name:      "submit",
		Usage:     "copescan submit [FLAGS] CODE",
		ShortHelp: "submit a code typed by hand",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("submit takes exactly one code, got %d arguments", len(args))
			}

			session, err := cfg.session()
			if err != nil {
				return err
			}

			db, store, err := cfg.openHistory()
			if err != nil {
				return err
			}
			defer db.Close()

			service := scan.NewService(db, store, nil, session)
			record, err := service.SubmitCode(ctx, args[0])
			if err != nil {
				return err
			}

			fmt.Fprintf(stdout, "%s: %s\n", record.Code, describeStatus(record))
			return nil
		},
	}
}

func newHistoryCommand(parent *ff.FlagSet, cfg *config, stdout io.Writer) *ff.Command {
	fs := ff.NewFlagSet("history").SetParent(parent)
	limit := fs.IntLong("limit", 20, "Number of scans to show (0 for all)")
	return &ff.Command{
		Name:      "history",
		Usage:     "copescan history [FLAGS]",
		ShortHelp: "list past scans, newest first",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			db, store, err := cfg.openHistory()
			if err != nil {
				return err
			}
			defer db.Close()

			scans, err := scan.NewService(db, store, nil, nil).ListScans(*limit)
			if err != nil {
				return err
			}
			return printHistory(stdout, scans)
		},
	}
}

// printHistory writes scans as an aligned table
func printHistory(w io.Writer, scans []*scan.Scan) error {
	if len(scans) == 0 {
		_, err := fmt.Fprintln(w, "No scans yet.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tSOURCE\tCODE\tSTATUS\tID")
	for _, s := range scans {
		code := s.Code
		if code == "" {
			code = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			s.CreatedAt.Local().Format(time.DateTime), s.Source, code, describeStatus(s), s.ID)
	}
	return tw.Flush()
}

// describeStatus renders a scan's status with its reason when there is one
func describeStatus(s *scan.Scan) string {
	if s.Reason == "" {
		return string(s.Status)
	}
	return fmt.Sprintf("%s (%s)", s.Status, s.Reason)
}

func newServeCommand(parent *ff.FlagSet, cfg *config) *ff.Command {
	fs := ff.NewFlagSet("serve").SetParent(parent)
	var (
		port     = fs.IntLong("port", 8080, "HTTP server port")
		authUser = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
	)
	return &ff.Command{
		Name:      "serve",
		Usage:     "copescan serve [FLAGS]",
		ShortHelp: "serve the scan API for a phone client",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			session, err := cfg.session()
			if err != nil {
				return err
			}

			recognizer, err := newRecognizer(cfg)
			if err != nil {
				return err
			}
			defer recognizer.Close()

			db, store, err := cfg.openHistory()
			if err != nil {
				return err
			}
			defer db.Close()

			registry := prometheus.NewRegistry()
			registry.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			service := scan.NewService(db, store, scanning.NewExtractor(recognizer), session)
			service.UseMetrics(scan.NewMetrics(registry))

			server := scan.NewServer(service, scan.BasicAuth{
				Username: *authUser,
				Password: *authPass,
			}, registry)

			if *authUser != "" || *authPass != "" {
				slog.Info("Basic auth enabled", "user", *authUser)
			}
			return server.Start(ctx, fmt.Sprintf(":%d", *port))
		},
	}
}
