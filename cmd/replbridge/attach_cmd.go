package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"replbridge/internal/logging"
	"replbridge/internal/proto"
)

// handleAttach starts the interpreter and wires the terminal straight
// through to it: raw keystrokes in, raw output back. The bridge still
// watches the stream, so breakpoints and the error log stay current for
// other frontends (web) while the user types interactively.
func handleAttach(cfgPath string, args []string) {
	fs := flag.NewFlagSet("attach", flag.ContinueOnError)
	dir := fs.String("dir", "", "Interpreter working directory (overrides config)")

	fs.Usage = func() {
		fmt.Println("Usage: replbridge attach [options]")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Detach with Ctrl+Q. The interpreter keeps running.")
	}
	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fatalf("flag parsing: %v", err)
	}

	cfg := loadConfig(cfgPath)
	if *dir != "" {
		cfg.WorkDir = *dir
	}

	initLogging(cfg)
	defer logging.Shutdown()

	sess, err := proto.NewSession(cfg)
	if err != nil {
		fatalf("%v", err)
	}
	defer sess.Close()

	if err := sess.Start(); err != nil {
		fatalf("start interpreter: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintln(os.Stderr, "Attached. Detach with Ctrl+Q.")
	if err := sess.Attach(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fatalf("attach: %v", err)
	}
}
