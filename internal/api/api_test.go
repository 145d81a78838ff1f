package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sprite-ai/fixrev/internal/ai"
	"github.com/sprite-ai/fixrev/internal/ai/aitest"
	"github.com/sprite-ai/fixrev/internal/config"
	"github.com/sprite-ai/fixrev/internal/cost"
	"github.com/sprite-ai/fixrev/internal/engine"
	"github.com/sprite-ai/fixrev/internal/metrics"
	"github.com/sprite-ai/fixrev/internal/model"
	"github.com/sprite-ai/fixrev/internal/workspace"
)

const summaryReply = `{"overview": "Two spacing issues.", "key_patterns": ["operator spacing"], "priority_actions": ["run the formatter"], "estimated_effort": "5 minutes"}`

var testFindings = []model.Finding{
	{Tool: "ruff", RuleCode: "E225", File: "a.py", LineStart: 2, Message: "missing whitespace around operator"},
	{Tool: "ruff", RuleCode: "E225", File: "b.py", LineStart: 1, Message: "missing whitespace around operator"},
}

func respond(req ai.Request) aitest.Reply {
	usage := model.Usage{InputTokens: 100, OutputTokens: 10}
	switch {
	case strings.Contains(req.Prompt, "digest"), strings.Contains(req.Prompt, "Digest"):
		return aitest.Reply{Text: summaryReply, Usage: usage}
	case strings.Contains(req.Prompt, "File: a.py"):
		return aitest.Reply{Usage: usage, Text: `{"edits": [{"file": "a.py", "original_code": "x=1", "suggested_code": "x = 1"}], "risk_level": "safe-style"}`}
	default:
		return aitest.Reply{Usage: usage, Text: `{"edits": [{"file": "b.py", "original_code": "y=2", "suggested_code": "y = 2"}], "risk_level": "behavioral-risk"}`}
	}
}

func testRoot(t *testing.T) workspace.Root {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"a.py": "import os\nx=1\n",
		"b.py": "y=2\nprint(y)\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	root, err := workspace.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	return root
}

// newTestServer serves engines backed by a scripted provider. A nil
// provider yields engines with AI disabled.
func newTestServer(t *testing.T, p ai.Provider) (*Server, workspace.Root) {
	t.Helper()
	root := testRoot(t)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	newEngine := func() *engine.Engine {
		if p == nil {
			return engine.New(config.Default(), root, m, logger)
		}
		cfg := config.Default()
		cfg.AI.Enabled = true
		return &engine.Engine{
			Config:   cfg,
			Root:     root,
			Provider: p,
			Ledger:   cost.NewLedger(m),
			Health:   &ai.Health{},
			Metrics:  m,
			Logger:   logger,
			Sleep:    func(context.Context, time.Duration) error { return nil },
		}
	}
	return New(":0", newEngine, reg), root
}

func post(t *testing.T, srv *Server, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json decode: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %q", resp["status"])
	}
}

func TestGroupEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	w := post(t, srv, "/api/group", findingsRequest{Findings: testFindings})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Total  int `json:"total"`
		Groups []struct {
			ID       string          `json:"id"`
			Findings []model.Finding `json:"findings"`
			State    string          `json:"state"`
		} `json:"groups"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json decode: %v", err)
	}
	if resp.Total != 2 {
		t.Errorf("total = %d, want 2", resp.Total)
	}
	if len(resp.Groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(resp.Groups))
	}
	if resp.Groups[0].ID != "G001" || resp.Groups[0].Findings[0].File != "a.py" {
		t.Errorf("first group = %+v", resp.Groups[0])
	}
	if resp.Groups[0].State != "pending" {
		t.Errorf("state = %q, want pending", resp.Groups[0].State)
	}
}

func TestGroupEndpointErrors(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	w := post(t, srv, "/api/group", findingsRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty findings: expected 400, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/group", strings.NewReader("{bad json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad json: expected 400, got %d", rec.Code)
	}
}

func TestSummaryEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &aitest.Provider{Respond: respond})

	w := post(t, srv, "/api/summary", findingsRequest{Findings: testFindings})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp summaryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json decode: %v", err)
	}
	if resp.Summary == nil || resp.Summary.Overview != "Two spacing issues." {
		t.Errorf("summary = %+v", resp.Summary)
	}
	if resp.Cost == nil || resp.Cost.Calls != 1 {
		t.Errorf("cost = %+v, want one call", resp.Cost)
	}
}

func TestSummaryUnavailable(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	w := post(t, srv, "/api/summary", findingsRequest{Findings: testFindings})
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}

	w = post(t, srv, "/api/summary", findingsRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &aitest.Provider{Respond: respond})

	post(t, srv, "/api/summary", findingsRequest{Findings: testFindings})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "fixrev_tokens_total") {
		t.Errorf("metrics output missing token counter:\n%s", w.Body.String())
	}
}

func dialWS(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(wsMessage{Type: msgType, Data: raw}); err != nil {
		t.Fatalf("ws write %s: %v", msgType, err)
	}
}

func expect(t *testing.T, conn *websocket.Conn, msgType string, into any) {
	t.Helper()
	var msg wsMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ws read %s: %v", msgType, err)
	}
	if msg.Type != msgType {
		t.Fatalf("expected %q message, got %q: %s", msgType, msg.Type, msg.Data)
	}
	if into != nil {
		if err := json.Unmarshal(msg.Data, into); err != nil {
			t.Fatalf("unmarshal %s: %v", msgType, err)
		}
	}
}

type groupMsg struct {
	Position int `json:"position"`
	Total    int `json:"total"`
	Group    struct {
		ID   string `json:"id"`
		Risk string `json:"risk"`
		Diff string `json:"diff"`
	} `json:"group"`
	Keys []string `json:"keys"`
}

type outcomeMsg struct {
	Key     string `json:"key"`
	Message string `json:"message"`
	Diff    string `json:"diff"`
	Settled []struct {
		ID    string `json:"id"`
		State string `json:"state"`
	} `json:"settled"`
	Done bool `json:"done"`
}

type reportMsg struct {
	RunID  string `json:"run_id"`
	Notice string `json:"notice"`
	Counts struct {
		Applied  int `json:"applied"`
		Rejected int `json:"rejected"`
	} `json:"counts"`
	Groups []struct {
		State string `json:"state"`
	} `json:"groups"`
}

func TestWebSocketReviewSession(t *testing.T) {
	srv, root := newTestServer(t, &aitest.Provider{Respond: respond})
	conn := dialWS(t, srv)

	send(t, conn, wsMsgLoad, wsLoad{Findings: testFindings})

	var g1 groupMsg
	expect(t, conn, wsMsgGroup, &g1)
	if g1.Position != 1 || g1.Total != 2 || g1.Group.ID != "G001" {
		t.Errorf("first group = %+v", g1)
	}
	if g1.Group.Risk != "safe-style" || !strings.Contains(g1.Group.Diff, "+x = 1") {
		t.Errorf("first group risk %q diff %q", g1.Group.Risk, g1.Group.Diff)
	}

	send(t, conn, wsMsgKey, wsKey{Key: "d"})
	var shown outcomeMsg
	expect(t, conn, wsMsgOutcome, &shown)
	if shown.Diff != g1.Group.Diff || len(shown.Settled) != 0 {
		t.Errorf("diff outcome = %+v", shown)
	}

	send(t, conn, wsMsgKey, wsKey{Key: ""})
	var accepted outcomeMsg
	expect(t, conn, wsMsgOutcome, &accepted)
	if len(accepted.Settled) != 1 || accepted.Settled[0].State != "applied" || accepted.Done {
		t.Errorf("accept outcome = %+v", accepted)
	}

	var g2 groupMsg
	expect(t, conn, wsMsgGroup, &g2)
	if g2.Group.ID != "G002" || g2.Group.Risk != "behavioral-risk" {
		t.Errorf("second group = %+v", g2)
	}
	if len(g1.Keys) != 8 || len(g2.Keys) != 7 {
		t.Errorf("keys = %v / %v, enter only offered for safe-style", g1.Keys, g2.Keys)
	}

	send(t, conn, wsMsgKey, wsKey{Key: "r"})
	var rejected outcomeMsg
	expect(t, conn, wsMsgOutcome, &rejected)
	if !rejected.Done || rejected.Settled[0].State != "rejected" {
		t.Errorf("reject outcome = %+v", rejected)
	}

	var report reportMsg
	expect(t, conn, wsMsgReport, &report)
	if report.RunID == "" {
		t.Error("missing run id")
	}
	if report.Counts.Applied != 1 || report.Counts.Rejected != 1 {
		t.Errorf("counts = %+v", report.Counts)
	}

	got, err := os.ReadFile(filepath.Join(string(root), "a.py"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "import os\nx = 1\n" {
		t.Errorf("a.py = %q", got)
	}
}

func TestWebSocketBadInput(t *testing.T) {
	srv, _ := newTestServer(t, &aitest.Provider{Respond: respond})
	conn := dialWS(t, srv)

	send(t, conn, wsMsgKey, wsKey{Key: "y"})
	expect(t, conn, wsMsgError, nil)

	send(t, conn, "bogus", nil)
	expect(t, conn, wsMsgError, nil)

	send(t, conn, wsMsgLoad, wsLoad{})
	expect(t, conn, wsMsgError, nil)

	send(t, conn, wsMsgLoad, wsLoad{Findings: testFindings})
	expect(t, conn, wsMsgGroup, nil)

	send(t, conn, wsMsgKey, wsKey{Key: "x"})
	expect(t, conn, wsMsgError, nil)

	send(t, conn, wsMsgKey, wsKey{Key: "q"})
	var quit outcomeMsg
	expect(t, conn, wsMsgOutcome, &quit)
	if !quit.Done {
		t.Error("q should end the review")
	}

	var report reportMsg
	expect(t, conn, wsMsgReport, &report)
	for _, g := range report.Groups {
		if g.State != "fetched" {
			t.Errorf("state = %q, want fetched after quit", g.State)
		}
	}
}

func TestWebSocketDegraded(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	conn := dialWS(t, srv)

	send(t, conn, wsMsgLoad, wsLoad{Findings: testFindings})

	var report reportMsg
	expect(t, conn, wsMsgReport, &report)
	if report.Notice == "" {
		t.Error("expected a degradation notice")
	}
	if len(report.Groups) != 2 || report.Groups[0].State != "pending" {
		t.Errorf("groups = %+v", report.Groups)
	}
}
