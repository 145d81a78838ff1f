package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/sprite-ai/fixrev/internal/engine"
	"github.com/sprite-ai/fixrev/internal/model"
	"github.com/sprite-ai/fixrev/internal/review"
	"github.com/sprite-ai/fixrev/internal/risk"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024 * 64,
	WriteBufferSize: 1024 * 64,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local dev; restrict in production
	},
}

// WebSocket message types from client.
const (
	wsMsgLoad = "load"
	wsMsgKey  = "key"
)

// WebSocket message types to client.
const (
	wsMsgGroup   = "group"
	wsMsgOutcome = "outcome"
	wsMsgReport  = "report"
	wsMsgError   = "error"
)

// wsMessage is the envelope for WebSocket messages in both directions.
type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// wsLoad is the payload for "load" messages.
type wsLoad struct {
	Findings  []model.Finding `json:"findings"`
	Summarize bool            `json:"summarize,omitempty"`
}

// wsKey is the payload for "key" messages. The empty key is Enter.
type wsKey struct {
	Key string `json:"key"`
}

// wsGroup presents the group awaiting a decision.
type wsGroup struct {
	Position int               `json:"position"`
	Total    int               `json:"total"`
	Group    *model.PatchGroup `json:"group"`
	Keys     []string          `json:"keys"`
}

// wsOutcome answers a key.
type wsOutcome struct {
	Key      string      `json:"key"`
	Message  string      `json:"message,omitempty"`
	Settled  []wsSettled `json:"settled,omitempty"`
	Diff     string      `json:"diff,omitempty"`
	Validate bool        `json:"validate"`
	Done     bool        `json:"done"`
}

type wsSettled struct {
	ID    string           `json:"id"`
	State model.GroupState `json:"state"`
	Note  string           `json:"note,omitempty"`
}

// errClientGone ends a review whose connection dropped.
var errClientGone = errors.New("websocket client disconnected")

// wsDriver drives a review session with keys read from a connection.
type wsDriver struct {
	conn *websocket.Conn
}

// Drive implements review.Driver.
func (d wsDriver) Drive(ctx context.Context, s *review.Session) error {
	s.Start()
	if !s.Done() {
		d.present(s)
	}
	for !s.Done() {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := readWSMessage(d.conn)
		if err != nil {
			return err
		}
		if msg.Type != wsMsgKey {
			sendWSError(d.conn, "review in progress; expected a key message, got "+msg.Type)
			continue
		}
		var req wsKey
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			sendWSError(d.conn, "invalid key data")
			continue
		}
		k, ok := review.ParseKey(req.Key)
		if !ok {
			sendWSError(d.conn, fmt.Sprintf("unknown key %q; choose y, a, r, d, s, v or q", req.Key))
			continue
		}

		out := s.Handle(ctx, k)
		resp := wsOutcome{
			Key:      k.String(),
			Message:  out.Message,
			Diff:     out.Diff,
			Validate: out.Validate,
			Done:     out.Done,
		}
		for _, g := range out.Settled {
			resp.Settled = append(resp.Settled, wsSettled{ID: g.ID, State: g.State, Note: g.Note})
		}
		sendWSMessage(d.conn, wsMsgOutcome, resp)

		if out.Advanced && !out.Done {
			d.present(s)
		}
	}
	return nil
}

func (d wsDriver) present(s *review.Session) {
	pos, total := s.Position()
	g := s.Current()
	keys := []string{"y", "a", "r", "d", "s", "v", "q"}
	if risk.IsSafe(g) {
		keys = append(keys, "enter")
	}
	sendWSMessage(d.conn, wsMsgGroup, wsGroup{Position: pos, Total: total, Group: g, Keys: keys})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	for {
		msg, err := readWSMessage(conn)
		if err != nil {
			return
		}

		switch msg.Type {
		case wsMsgLoad:
			if err := s.runWSReview(ctx, conn, msg.Data); errors.Is(err, errClientGone) {
				return
			}
		case wsMsgKey:
			sendWSError(conn, "no findings loaded")
		default:
			sendWSError(conn, "unknown message type: "+msg.Type)
		}
	}
}

// runWSReview runs one complete review over the loaded findings and sends
// the report.
func (s *Server) runWSReview(ctx context.Context, conn *websocket.Conn, data json.RawMessage) error {
	var req wsLoad
	if err := json.Unmarshal(data, &req); err != nil {
		sendWSError(conn, "invalid load data")
		return nil
	}
	if len(req.Findings) == 0 {
		sendWSError(conn, "findings are required")
		return nil
	}

	e := s.newEngine()
	report, err := e.Run(ctx, req.Findings, wsDriver{conn: conn}, engine.Options{Fix: true, Summarize: req.Summarize})
	if err != nil {
		if errors.Is(err, errClientGone) {
			return err
		}
		sendWSError(conn, err.Error())
		return nil
	}
	sendWSMessage(conn, wsMsgReport, report)
	return nil
}

func readWSMessage(conn *websocket.Conn) (wsMessage, error) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("websocket read: %v", err)
			}
			return wsMessage{}, fmt.Errorf("%w: %v", errClientGone, err)
		}

		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			sendWSError(conn, "invalid message format")
			continue
		}
		return msg, nil
	}
}

func sendWSMessage(conn *websocket.Conn, msgType string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		log.Printf("ws marshal: %v", err)
		return
	}
	msg := wsMessage{Type: msgType, Data: raw}
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("ws write: %v", err)
	}
}

func sendWSError(conn *websocket.Conn, errMsg string) {
	sendWSMessage(conn, wsMsgError, map[string]string{"message": errMsg})
}
