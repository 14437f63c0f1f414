package main

import (
	"fmt"
	"os"
	"path/filepath"

	"replbridge/internal/config"
	"replbridge/internal/proto"
	"replbridge/internal/store"
	"replbridge/internal/watch"
)

// openStore opens the transcript database at the configured path, or
// ~/.replbridge/transcript.db by default.
func openStore(cfg *config.Config) (*store.Store, error) {
	path := cfg.Store.Path
	if path == "" {
		dir, err := config.BridgeDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, "transcript.db")
	}
	return store.Open(path)
}

// recorder streams session events into the transcript database.
type recorder struct {
	st     *store.Store
	runID  string
	cancel func()
	done   chan struct{}
}

// startRecorder begins a new run and records commands, output, errors,
// and state transitions until stopped.
func startRecorder(sess *proto.Session, st *store.Store, cfg *config.Config) (*recorder, error) {
	runID, err := st.BeginRun(cfg.Command, cfg.Dialect, cfg.WorkDir)
	if err != nil {
		return nil, err
	}

	events, cancel := sess.Subscribe()
	r := &recorder{st: st, runID: runID, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(r.done)
		for e := range events {
			switch e.Type {
			case proto.EventCommandSent:
				_ = st.Append(runID, store.KindCommand, e.Output)
			case proto.EventOutput:
				_ = st.Append(runID, store.KindOutput, e.Output)
			case proto.EventErrorLogged:
				if e.Error != nil {
					_ = st.Append(runID, store.KindError, e.Error.Text)
				}
			case proto.EventStateChanged:
				state := "stopped"
				if e.Running {
					state = "running"
				}
				_ = st.Append(runID, store.KindState, state)
			}
		}
	}()
	return r, nil
}

// stop ends the run and closes the database.
func (r *recorder) stop() {
	r.cancel()
	<-r.done
	_ = r.st.EndRun(r.runID)
	_ = r.st.Close()
}

// startBreakpointWatch wires filesystem watching to the breakpoint table:
// the watched file set follows the table, and on-disk edits mark the
// affected breakpoints stale.
func startBreakpointWatch(sess *proto.Session) (func(), error) {
	w, err := watch.New(func(file string) {
		sess.MarkBreakpointsStale(file)
	})
	if err != nil {
		return nil, err
	}

	events, cancel := sess.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range events {
			if e.Type != proto.EventBreakpointsChanged {
				continue
			}
			seen := make(map[string]bool)
			files := make([]string, 0, len(e.Breakpoints))
			for _, bp := range e.Breakpoints {
				if bp.File == "" || seen[bp.File] {
					continue
				}
				seen[bp.File] = true
				files = append(files, bp.File)
			}
			w.SetFiles(files)
		}
	}()

	return func() {
		cancel()
		<-done
		_ = w.Close()
	}, nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
