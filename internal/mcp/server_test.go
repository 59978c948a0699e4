package mcpserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"dbconduit/internal/domain"
	"dbconduit/internal/service"
	"dbconduit/internal/source"
)

type toolResponse struct {
	Result *struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	} `json:"result"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// callTool sends a tools/call request and returns the text payload, or the
// error message with ok=false.
func callTool(t *testing.T, s *Server, name string, args map[string]any) (string, bool) {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params":  map[string]any{"name": name, "arguments": args},
	})
	require.NoError(t, err)

	out, err := json.Marshal(s.mcp.HandleMessage(context.Background(), raw))
	require.NoError(t, err)

	var resp toolResponse
	require.NoError(t, json.Unmarshal(out, &resp))
	if resp.Error != nil {
		return resp.Error.Message, false
	}
	require.NotNil(t, resp.Result)
	text := ""
	if len(resp.Result.Content) > 0 {
		text = resp.Result.Content[0].Text
	}
	return text, !resp.Result.IsError
}

func newTestServer(t *testing.T, rows int) *Server {
	t.Helper()
	path := filepath.Join(t.TempDir(), "a.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)
	for i := 0; i < rows; i++ {
		_, err = db.Exec(`INSERT INTO items (name) VALUES (?)`, "item")
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	h := service.NewHandler(service.Options{})
	h.AddSource(source.NewMemorySource("memory", domain.ConnectionSpec{Name: "db1", Type: "sqlite", URL: path}))
	s := New(context.Background(), Deps{Handler: h, PageSize: 10})
	t.Cleanup(func() {
		s.Close()
		h.Close(context.Background())
	})
	return s
}

func TestTools_ExecuteAndDisplay(t *testing.T) {
	s := newTestServer(t, 25)

	text, ok := callTool(t, s, "connection_execute", map[string]any{
		"connectionId": "sqlitedb1",
		"query":        "SELECT id, name FROM items ORDER BY id",
	})
	require.True(t, ok, text)
	var call domain.CallDetails
	require.NoError(t, json.Unmarshal([]byte(text), &call))
	require.NotEmpty(t, call.ID)

	require.Eventually(t, func() bool {
		text, ok := callTool(t, s, "call_get", map[string]any{"callId": call.ID})
		require.True(t, ok, text)
		var det domain.CallDetails
		require.NoError(t, json.Unmarshal([]byte(text), &det))
		return det.State == domain.CallStateArchived
	}, 5*time.Second, 20*time.Millisecond)

	text, ok = callTool(t, s, "call_display_result", map[string]any{"callId": call.ID, "from": 20})
	require.True(t, ok, text)
	var p page
	require.NoError(t, json.Unmarshal([]byte(text), &p))
	assert.Equal(t, 25, p.Total)
	assert.Len(t, p.Rows, 5)
	assert.Equal(t, domain.Header{"id", "name"}, p.Header)
	assert.Equal(t, "archived", p.State)
}

func TestTools_SourcesAndConnections(t *testing.T) {
	s := newTestServer(t, 1)

	text, ok := callTool(t, s, "get_sources", nil)
	require.True(t, ok, text)
	assert.Contains(t, text, `"name": "memory"`)
	assert.Contains(t, text, `"saves": true`)

	text, ok = callTool(t, s, "source_remove_connections", map[string]any{
		"id":          "memory",
		"connections": []any{map[string]any{"name": "db1", "type": "sqlite"}},
	})
	require.True(t, ok, text)
	assert.Equal(t, "[]", text)

	_, ok = callTool(t, s, "connection_get_structure", map[string]any{"connectionId": "sqlitedb1"})
	assert.False(t, ok)
}

func TestTools_UnknownCall(t *testing.T) {
	s := newTestServer(t, 1)
	_, ok := callTool(t, s, "call_cancel", map[string]any{"callId": "missing"})
	assert.False(t, ok)

	text, ok := callTool(t, s, "call_display_result", map[string]any{"callId": "missing"})
	require.True(t, ok, text)
	assert.Contains(t, text, `"total": 0`)
}

func TestTools_Helpers(t *testing.T) {
	s := newTestServer(t, 1)
	text, ok := callTool(t, s, "connection_get_helpers", map[string]any{
		"connectionId": "sqlitedb1",
		"table":        "items",
	})
	require.True(t, ok, text)
	var helpers map[string]string
	require.NoError(t, json.Unmarshal([]byte(text), &helpers))
	assert.Equal(t, `SELECT COUNT(*) FROM "items"`, helpers["Count"])
}

type recordingEmitter struct{ events chan PendingAction }

func (r *recordingEmitter) Emit(_ context.Context, name string, data any) {
	if pa, ok := data.(PendingAction); ok && name == approvalRequired {
		r.events <- pa
	}
}

func TestApprovalQueue_ApproveAndReject(t *testing.T) {
	em := &recordingEmitter{events: make(chan PendingAction, 2)}
	q := NewApprovalQueue(context.Background(), em)

	done := make(chan error, 1)
	go func() {
		_, err := q.Request("connection_execute", "DROP TABLE x")
		done <- err
	}()
	pa := <-em.events
	assert.Equal(t, "DROP TABLE x", pa.Description)
	require.True(t, q.Approve(pa.ID))
	require.NoError(t, <-done)
	assert.False(t, q.Approve(pa.ID))

	go func() {
		_, err := q.Request("connection_execute", "DELETE FROM x")
		done <- err
	}()
	pa = <-em.events
	require.True(t, q.Reject(pa.ID))
	assert.Error(t, <-done)
}

type eventNames struct {
	mu    sync.Mutex
	names []string
}

func (e *eventNames) Emit(_ context.Context, name string, _ any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.names = append(e.names, name)
}

func TestApprovalQueue_TimeoutDismisses(t *testing.T) {
	em := &eventNames{}
	q := NewApprovalQueue(context.Background(), em)
	q.timeout = 20 * time.Millisecond

	approved, err := q.Request("connection_execute", "UPDATE x SET y = 1")
	assert.False(t, approved)
	assert.ErrorContains(t, err, "timed out")

	em.mu.Lock()
	defer em.mu.Unlock()
	assert.Equal(t, []string{"approval_required", "approval_dismissed"}, em.names)
}

func TestIsWrite(t *testing.T) {
	assert.True(t, isWrite("  delete from t"))
	assert.True(t, isWrite("DROP TABLE t"))
	assert.False(t, isWrite("SELECT * FROM updates"))
	assert.False(t, isWrite(`{"collection": "users"}`))
}

func TestParseTarget(t *testing.T) {
	target, err := parseTarget(map[string]any{"output": "buffer", "handle": float64(3)})
	require.NoError(t, err)
	assert.Equal(t, domain.BufferTarget{Handle: 3}, target)

	target, err = parseTarget(map[string]any{"output": "clipboard"})
	require.NoError(t, err)
	assert.Equal(t, domain.ClipboardTarget{Register: "+"}, target)

	_, err = parseTarget(map[string]any{"output": "file"})
	assert.Error(t, err)
	_, err = parseTarget(map[string]any{"output": "printer"})
	assert.Error(t, err)
}

func TestConnIDFromURI(t *testing.T) {
	assert.Equal(t, "sqlitedb1", connIDFromURI("dbconduit://connection/sqlitedb1/calls"))
	assert.Empty(t, connIDFromURI("dbconduit://connections"))
}

func TestToParams(t *testing.T) {
	params, err := toParams(domain.CallStateChange{CallID: "c", NewState: domain.CallStateArchived})
	require.NoError(t, err)
	assert.Equal(t, "c", params["callId"])
	assert.Equal(t, "archived", params["newState"])

	params, err = toParams([]string{"a"})
	require.NoError(t, err)
	assert.Contains(t, params, "data")
}
