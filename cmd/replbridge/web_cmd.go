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

	"replbridge/internal/logging"
	"replbridge/internal/proto"
	"replbridge/internal/web"
)

// handleWeb runs the bridge headless: interpreter plus the HTTP/websocket
// server, no terminal UI. Meant for editor integrations that drive the
// session entirely over the API.
func handleWeb(cfgPath string, args []string) {
	fs := flag.NewFlagSet("web", flag.ContinueOnError)
	listenAddr := fs.String("listen", "", "Listen address (overrides config)")
	token := fs.String("token", "", "Bearer token for API/WS access (overrides config)")
	readOnly := fs.Bool("read-only", false, "Serve state and events only, no input")
	dir := fs.String("dir", "", "Interpreter working directory (overrides config)")

	fs.Usage = func() {
		fmt.Println("Usage: replbridge web [options]")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  replbridge web")
		fmt.Println("  replbridge web --listen 127.0.0.1:9000 --token s3cret")
		fmt.Println("  replbridge web --read-only")
	}
	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fatalf("flag parsing: %v", err)
	}
	if fs.NArg() > 0 {
		fatalf("unexpected arguments: %v", fs.Args())
	}

	cfg := loadConfig(cfgPath)
	if *listenAddr != "" {
		cfg.Web.ListenAddr = *listenAddr
	}
	if *token != "" {
		cfg.Web.Token = *token
	}
	if *readOnly {
		cfg.Web.ReadOnly = true
	}
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

	if cfg.Store.Enabled {
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

	if cfg.Watch.Enabled {
		stopWatch, err := startBreakpointWatch(sess)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: file watching disabled: %v\n", err)
		} else {
			defer stopWatch()
		}
	}

	if err := sess.Start(); err != nil {
		fatalf("start interpreter: %v", err)
	}

	srv := web.NewServer(web.Config{
		ListenAddr:      cfg.Web.ListenAddr,
		Token:           cfg.Web.Token,
		ReadOnly:        cfg.Web.ReadOnly,
		EventsPerSecond: cfg.Web.EventsPerSecond,
	}, sess)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	fmt.Printf("Listening on http://%s\n", srv.Addr())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			fatalf("web server: %v", err)
		}
	case <-sigChan:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: shutdown: %v\n", err)
	}
}
