package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"replbridge/internal/logging"
	"replbridge/internal/proto"
	"replbridge/internal/tui"
	"replbridge/internal/web"
)

// handleRun starts the interpreter under the interactive monitor.
func handleRun(cfgPath string, args []string) {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	dir := fs.String("dir", "", "Interpreter working directory (overrides config)")
	command := fs.String("command", "", "Interpreter executable (overrides config)")
	theme := fs.String("theme", "", "Color theme: dark, light, or system (overrides config)")
	noStore := fs.Bool("no-store", false, "Disable transcript recording for this run")
	noWatch := fs.Bool("no-watch", false, "Disable source file watching for this run")

	fs.Usage = func() {
		fmt.Println("Usage: replbridge run [options] [-- interpreter args]")
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
	if *dir != "" {
		cfg.WorkDir = *dir
	}
	if *command != "" {
		cfg.Command = *command
	}
	if *theme != "" {
		cfg.Theme = *theme
	}
	cfg.Args = append(cfg.Args, fs.Args()...)

	initLogging(cfg)
	defer logging.Shutdown()

	sess, err := proto.NewSession(cfg)
	if err != nil {
		fatalf("%v", err)
	}
	defer sess.Close()

	if cfg.Store.Enabled && !*noStore {
		st, err := openStore(cfg)
		if err != nil {
			fatalf("open transcript store: %v", err)
		}
		rec, err := startRecorder(sess, st, cfg)
		if err != nil {
			fatalf("start transcript recorder: %v", err)
		}
		defer rec.stop()
	}

	if cfg.Watch.Enabled && !*noWatch {
		stopWatch, err := startBreakpointWatch(sess)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: file watching disabled: %v\n", err)
		} else {
			defer stopWatch()
		}
	}

	if cfg.Web.Enabled {
		srv := web.NewServer(web.Config{
			ListenAddr:      cfg.Web.ListenAddr,
			Token:           cfg.Web.Token,
			ReadOnly:        cfg.Web.ReadOnly,
			EventsPerSecond: cfg.Web.EventsPerSecond,
		}, sess)
		go func() {
			if err := srv.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: web server failed: %v\n", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	if err := sess.Start(); err != nil {
		fatalf("start interpreter: %v", err)
	}

	tui.InitTheme(tui.ResolveTheme(cfg.Theme))
	monitor := tui.NewMonitor(sess)
	defer monitor.Close()

	p := tea.NewProgram(monitor, tea.WithAltScreen())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		p.Send(tea.Quit())
	}()

	if _, err := p.Run(); err != nil {
		fatalf("%v", err)
	}
}
