package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"replbridge/internal/debug"
	"replbridge/internal/proto"
	"replbridge/internal/scrape"
)

type frameJSON struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Routine string `json:"routine,omitempty"`
}

func toFrameJSON(f *scrape.Frame) *frameJSON {
	if f == nil {
		return nil
	}
	return &frameJSON{File: f.File, Line: f.Line, Routine: f.Routine}
}

type breakpointJSON struct {
	File         string `json:"file"`
	Line         int    `json:"line"`
	RemoteIndex  int    `json:"remoteIndex"`
	RemoteModule string `json:"remoteModule,omitempty"`
	Count        int    `json:"count,omitempty"`
	State        string `json:"state"`
	Stale        bool   `json:"stale,omitempty"`
}

func toBreakpointJSON(bps []debug.Breakpoint) []breakpointJSON {
	out := make([]breakpointJSON, 0, len(bps))
	for _, bp := range bps {
		out = append(out, breakpointJSON{
			File:         bp.File,
			Line:         bp.Line,
			RemoteIndex:  bp.RemoteIndex,
			RemoteModule: bp.RemoteModule,
			Count:        bp.Count,
			State:        bp.State.String(),
			Stale:        bp.Stale,
		})
	}
	return out
}

type errorJSON struct {
	Text  string     `json:"text"`
	Frame *frameJSON `json:"frame,omitempty"`
	Col   int        `json:"col,omitempty"`
	At    time.Time  `json:"at"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	writeJSON(w, map[string]any{
		"ok":       true,
		"running":  s.sess.Running(),
		"readOnly": s.cfg.ReadOnly,
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}
	writeJSON(w, map[string]any{
		"running":         s.sess.Running(),
		"workDir":         s.sess.WorkDir(),
		"frame":           toFrameJSON(s.sess.HaltFrame()),
		"stackIndex":      s.sess.StackIndex(),
		"stackDepth":      s.sess.StackDepth(),
		"errors":          len(s.sess.Errors()),
		"lastOutputAgeMs": s.sess.LastOutputAge().Milliseconds(),
	})
}

func (s *Server) handleBreakpoints(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	switch r.Method {
	case http.MethodGet:
		if r.URL.Query().Get("refresh") == "1" {
			// Concurrent refreshes collapse into one interpreter query.
			_, _, _ = s.refreshGroup.Do("refresh", func() (any, error) {
				s.sess.RefreshBreakpoints()
				return nil, nil
			})
		}
		writeJSON(w, map[string]any{"breakpoints": toBreakpointJSON(s.sess.Breakpoints())})

	case http.MethodPost:
		if s.cfg.ReadOnly {
			writeAPIError(w, http.StatusForbidden, "READ_ONLY", "mutations are disabled in read-only mode")
			return
		}
		var req struct {
			File  string `json:"file"`
			Line  int    `json:"line"`
			Count int    `json:"count"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.File == "" || req.Line <= 0 {
			writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "file and positive line are required")
			return
		}
		if err := s.sess.SetBreakpoint(req.File, req.Line, req.Count, nil); err != nil {
			s.writeSessionError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		writeJSON(w, map[string]any{"accepted": true})

	case http.MethodDelete:
		if s.cfg.ReadOnly {
			writeAPIError(w, http.StatusForbidden, "READ_ONLY", "mutations are disabled in read-only mode")
			return
		}
		var req struct {
			File string `json:"file"`
			Line int    `json:"line"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.File == "" || req.Line <= 0 {
			writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "file and positive line are required")
			return
		}
		if err := s.sess.ClearBreakpoint(req.File, req.Line); err != nil {
			writeAPIError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
			return
		}
		writeJSON(w, map[string]any{"cleared": true})

	default:
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	}
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}
	entries := s.sess.Errors()
	out := make([]errorJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, errorJSON{
			Text:  e.Text,
			Frame: toFrameJSON(e.Frame),
			Col:   e.Col,
			At:    e.At,
		})
	}
	writeJSON(w, map[string]any{"errors": out})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}
	if s.cfg.ReadOnly {
		writeAPIError(w, http.StatusForbidden, "READ_ONLY", "input is disabled in read-only mode")
		return
	}

	var req struct {
		Command string `json:"command"`
		Silent  bool   `json:"silent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Command == "" {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "command is required")
		return
	}
	if err := s.sess.Submit(req.Command, proto.SubmitOptions{Silent: req.Silent}); err != nil {
		s.writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]any{"accepted": true})
}

func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, proto.ErrNotRunning) {
		writeAPIError(w, http.StatusConflict, "NOT_RUNNING", "interpreter is not running")
		return
	}
	writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
}
