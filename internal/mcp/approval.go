package mcpserver

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
)

// EventEmitter allows the approval queue to notify the editor.
type EventEmitter interface {
	Emit(ctx context.Context, event string, data any)
}

// Approval events sent to the editor.
const (
	approvalRequired  = "approval_required"
	approvalDismissed = "approval_dismissed"
)

// PendingAction is a write statement awaiting user approval.
type PendingAction struct {
	ID          string `json:"id"`
	Tool        string `json:"tool"`
	Description string `json:"description"`
	CreatedAt   string `json:"createdAt"`
}

type actionResult struct {
	approved bool
}

// ApprovalQueue holds write statements until the editor approves or rejects them.
type ApprovalQueue struct {
	mu      sync.Mutex
	pending map[string]chan actionResult
	ctx     context.Context
	emitter EventEmitter
	timeout time.Duration
}

func NewApprovalQueue(ctx context.Context, emitter EventEmitter) *ApprovalQueue {
	return &ApprovalQueue{
		pending: make(map[string]chan actionResult),
		ctx:     ctx,
		emitter: emitter,
		timeout: 120 * time.Second,
	}
}

// Request announces an action and blocks until it is approved, rejected or
// times out.
func (q *ApprovalQueue) Request(tool, description string) (bool, error) {
	id := uuid.New().String()
	ch := make(chan actionResult, 1)

	q.mu.Lock()
	q.pending[id] = ch
	q.mu.Unlock()
	defer q.cleanup(id)

	q.emitter.Emit(q.ctx, approvalRequired, PendingAction{
		ID:          id,
		Tool:        tool,
		Description: description,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
	})

	select {
	case result := <-ch:
		if !result.approved {
			return false, fmt.Errorf("action rejected by user: %s", tool)
		}
		return true, nil
	case <-time.After(q.timeout):
		q.emitter.Emit(q.ctx, approvalDismissed, map[string]string{"id": id})
		return false, fmt.Errorf("action timed out after %s: %s", q.timeout, tool)
	case <-q.ctx.Done():
		return false, q.ctx.Err()
	}
}

// Approve resolves a pending action. It reports whether the ID was pending.
func (q *ApprovalQueue) Approve(actionID string) bool {
	return q.resolve(actionID, true)
}

// Reject resolves a pending action as refused.
func (q *ApprovalQueue) Reject(actionID string) bool {
	return q.resolve(actionID, false)
}

func (q *ApprovalQueue) resolve(actionID string, approved bool) bool {
	q.mu.Lock()
	ch, ok := q.pending[actionID]
	q.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- actionResult{approved: approved}:
	default:
	}
	return true
}

func (q *ApprovalQueue) cleanup(id string) {
	q.mu.Lock()
	delete(q.pending, id)
	q.mu.Unlock()
}

// isWrite reports whether a statement modifies data or schema.
func isWrite(query string) bool {
	upper := strings.ToUpper(strings.TrimSpace(query))
	for _, kw := range []string{"UPDATE", "DELETE", "DROP", "INSERT", "ALTER", "TRUNCATE", "CREATE", "REPLACE"} {
		if strings.HasPrefix(upper, kw) {
			return true
		}
	}
	return false
}

func (s *Server) registerApprovalTools() {
	if s.approval == nil {
		return
	}
	s.mcp.AddTool(mcp.NewTool("approve_action",
		mcp.WithDescription("Approve a pending write statement"),
		mcp.WithString("id", mcp.Description("Pending action ID"), mcp.Required()),
	), s.handleResolveAction(true))

	s.mcp.AddTool(mcp.NewTool("reject_action",
		mcp.WithDescription("Reject a pending write statement"),
		mcp.WithString("id", mcp.Description("Pending action ID"), mcp.Required()),
	), s.handleResolveAction(false))
}

func (s *Server) handleResolveAction(approve bool) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := requireString(req.GetArguments(), "id")
		if err != nil {
			return nil, err
		}
		resolve := s.approval.Reject
		if approve {
			resolve = s.approval.Approve
		}
		if ok := resolve(id); !ok {
			return nil, fmt.Errorf("no pending action %s", id)
		}
		return textResult("ok"), nil
	}
}
