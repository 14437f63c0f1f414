package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"replbridge/internal/store"
)

const (
	tableColRunID   = 12
	tableColCommand = 16
	tableColWorkDir = 36
)

// handleHistory prints recorded transcripts from the store.
func handleHistory(cfgPath string, args []string) {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	runID := fs.String("run", "", "Run ID to show (default: latest)")
	limit := fs.Int("limit", 200, "Maximum entries (or runs for list)")

	fs.Usage = func() {
		fmt.Println("Usage: replbridge history [options]")
		fmt.Println("       replbridge history list [options]")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fatalf("flag parsing: %v", err)
	}

	cfg := loadConfig(cfgPath)
	st, err := openStore(cfg)
	if err != nil {
		fatalf("open transcript store: %v", err)
	}
	defer st.Close()

	if fs.NArg() > 0 && fs.Arg(0) == "list" {
		listRuns(st, *limit)
		return
	}
	if fs.NArg() > 0 {
		fatalf("unexpected arguments: %v", fs.Args())
	}

	id := *runID
	if id == "" {
		latest, err := st.LatestRun()
		if err != nil {
			fatalf("no recorded runs")
		}
		id = latest.ID
	}

	entries, err := st.History(id, *limit)
	if err != nil {
		fatalf("load transcript: %v", err)
	}
	for _, e := range entries {
		switch e.Kind {
		case store.KindCommand:
			fmt.Printf("> %s\n", e.Text)
		case store.KindOutput:
			fmt.Print(e.Text)
			if !strings.HasSuffix(e.Text, "\n") {
				fmt.Println()
			}
		case store.KindError:
			fmt.Printf("! %s\n", firstLine(e.Text))
		case store.KindState:
			fmt.Printf("-- interpreter %s at %s\n", e.Text, e.At.Format(time.TimeOnly))
		}
	}
}

func listRuns(st *store.Store, limit int) {
	runs, err := st.Runs(limit)
	if err != nil {
		fatalf("list runs: %v", err)
	}
	if len(runs) == 0 {
		fmt.Println("No recorded runs.")
		return
	}

	fmt.Printf("%-*s  %-*s  %-*s  %s\n",
		tableColRunID, "RUN", tableColCommand, "COMMAND", tableColWorkDir, "WORKDIR", "STARTED")
	for _, r := range runs {
		ended := "live"
		if !r.EndedAt.IsZero() {
			ended = r.EndedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		fmt.Printf("%-*s  %-*s  %-*s  %s (%s)\n",
			tableColRunID, truncate(r.ID, tableColRunID),
			tableColCommand, truncate(r.Command, tableColCommand),
			tableColWorkDir, truncate(r.WorkDir, tableColWorkDir),
			r.StartedAt.Format("2006-01-02 15:04"), ended)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
