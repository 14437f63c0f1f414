package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"replbridge/internal/proto"
)

type wsClientMessage struct {
	Type    string `json:"type"`
	Command string `json:"command,omitempty"`
	Silent  bool   `json:"silent,omitempty"`
}

type wsServerMessage struct {
	Type        string           `json:"type"`
	Event       string           `json:"event,omitempty"`
	Code        string           `json:"code,omitempty"`
	Message     string           `json:"message,omitempty"`
	Frame       *frameJSON       `json:"frame,omitempty"`
	Breakpoints []breakpointJSON `json:"breakpoints,omitempty"`
	Error       *errorJSON       `json:"error,omitempty"`
	Output      string           `json:"output,omitempty"`
	Running     bool             `json:"running,omitempty"`
	ReadOnly    bool             `json:"readOnly,omitempty"`
	Note        string           `json:"note,omitempty"`
	Time        time.Time        `json:"time,omitempty"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     allowWSOrigin,
}

func allowWSOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil || originURL.Host == "" {
		return false
	}
	return strings.EqualFold(originURL.Host, r.Host)
}

// wsConnWriter serializes writes from the event pump and the read loop.
type wsConnWriter struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsConnWriter) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteJSON(v)
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	writer := &wsConnWriter{conn: conn}

	_ = writer.WriteJSON(wsServerMessage{
		Type:     "status",
		Event:    "connected",
		Running:  s.sess.Running(),
		ReadOnly: s.cfg.ReadOnly,
		Time:     time.Now().UTC(),
	})

	events, cancel := s.sess.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go s.pumpEvents(writer, events, done)
	defer close(done)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				webLog.Warn("websocket_closed_unexpectedly", slog.String("error", err.Error()))
			}
			return
		}

		var msg wsClientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			_ = writer.WriteJSON(wsServerMessage{
				Type: "error", Code: "INVALID_MESSAGE",
				Message: "invalid json payload", Time: time.Now().UTC(),
			})
			continue
		}

		switch msg.Type {
		case "ping":
			_ = writer.WriteJSON(wsServerMessage{
				Type: "status", Event: "pong", Time: time.Now().UTC(),
			})
		case "submit":
			if s.cfg.ReadOnly {
				_ = writer.WriteJSON(wsServerMessage{
					Type: "error", Code: "READ_ONLY",
					Message: "input is disabled in read-only mode", Time: time.Now().UTC(),
				})
				continue
			}
			if err := s.sess.Submit(msg.Command, proto.SubmitOptions{Silent: msg.Silent}); err != nil {
				_ = writer.WriteJSON(wsServerMessage{
					Type: "error", Code: "SUBMIT_FAILED",
					Message: err.Error(), Time: time.Now().UTC(),
				})
			}
		default:
			_ = writer.WriteJSON(wsServerMessage{
				Type: "error", Code: "UNSUPPORTED_MESSAGE",
				Message: "supported message types: ping,submit", Time: time.Now().UTC(),
			})
		}
	}
}

// pumpEvents forwards session events to the connection. Raw output events
// are rate-limited per connection; control events always go through.
func (s *Server) pumpEvents(writer *wsConnWriter, events <-chan proto.Event, done <-chan struct{}) {
	limiter := rate.NewLimiter(rate.Limit(s.cfg.EventsPerSecond), int(s.cfg.EventsPerSecond)+1)

	for {
		select {
		case <-done:
			return
		case <-s.baseCtx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Type == proto.EventOutput && !limiter.Allow() {
				continue
			}
			if err := writer.WriteJSON(toWSMessage(e)); err != nil {
				return
			}
		}
	}
}

func toWSMessage(e proto.Event) wsServerMessage {
	msg := wsServerMessage{Type: "event", Event: e.Type.String(), Time: time.Now().UTC()}
	switch e.Type {
	case proto.EventFrameChanged:
		msg.Frame = toFrameJSON(e.Frame)
		msg.Note = e.Note
	case proto.EventBreakpointsChanged:
		msg.Breakpoints = toBreakpointJSON(e.Breakpoints)
	case proto.EventErrorLogged:
		if e.Error != nil {
			msg.Error = &errorJSON{
				Text:  e.Error.Text,
				Frame: toFrameJSON(e.Error.Frame),
				Col:   e.Error.Col,
				At:    e.Error.At,
			}
		}
	case proto.EventOutput, proto.EventCommandSent:
		msg.Output = e.Output
	case proto.EventStateChanged:
		msg.Running = e.Running
	}
	return msg
}
