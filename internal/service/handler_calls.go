package service

import (
	"context"
	"fmt"

	"dbconduit/internal/core"
	"dbconduit/internal/domain"
	"dbconduit/internal/export"
	"dbconduit/internal/log"
)

// DisplaySink renders a page of results in the editor.
type DisplaySink interface {
	Display(header domain.Header, rows []domain.Row, from, total int) error
}

func (h *Handler) connection(id string) (*core.Connection, error) {
	conn, ok := h.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrConnectionUnknown, id)
	}
	return conn, nil
}

func (h *Handler) call(id string) (*core.Call, error) {
	call, ok := h.registry.FindCall(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrCallUnknown, id)
	}
	return call, nil
}

// ConnectionExecute submits query and returns without waiting for it.
// The only error is an unknown connection; query failures surface as the
// call's terminal state.
func (h *Handler) ConnectionExecute(id, query string) (domain.CallDetails, error) {
	conn, err := h.connection(id)
	if err != nil {
		return domain.CallDetails{}, err
	}
	return conn.Execute(query).Details(), nil
}

// ConnectionGetStructure returns the browse tree of a connection.
func (h *Handler) ConnectionGetStructure(id string) ([]domain.StructureNode, error) {
	conn, err := h.connection(id)
	if err != nil {
		return nil, err
	}
	return conn.GetStructure(h.ctx)
}

// ConnectionListDatabases returns the selected database and the alternatives.
func (h *Handler) ConnectionListDatabases(id string) (string, []string, error) {
	conn, err := h.connection(id)
	if err != nil {
		return "", nil, err
	}
	return conn.ListDatabases()
}

// ConnectionSelectDatabase switches the database of a connection.
func (h *Handler) ConnectionSelectDatabase(id, db string) error {
	conn, err := h.connection(id)
	if err != nil {
		return err
	}
	return conn.SelectDatabase(db)
}

// ConnectionGetCalls returns the call history of a connection, oldest first.
// An unknown connection has no calls.
func (h *Handler) ConnectionGetCalls(id string) []domain.CallDetails {
	conn, err := h.connection(id)
	if err != nil {
		return nil
	}
	return conn.GetCalls()
}

// ConnectionGetHelpers returns the helper queries for one relation.
func (h *Handler) ConnectionGetHelpers(id string, opts domain.HelperOptions) map[string]string {
	conn, err := h.connection(id)
	if err != nil {
		return nil
	}
	return conn.GetHelpers(opts, h.extraHelpers(conn.Params().Type))
}

// GetCall returns a snapshot of any call in any history.
func (h *Handler) GetCall(id string) (domain.CallDetails, error) {
	call, err := h.call(id)
	if err != nil {
		return domain.CallDetails{}, err
	}
	return call.Details(), nil
}

// WaitCall blocks until the call is terminal or ctx is done. It returns the
// call's details at that point, with ctx's error if it gave up first.
func (h *Handler) WaitCall(ctx context.Context, id string) (domain.CallDetails, error) {
	call, err := h.call(id)
	if err != nil {
		return domain.CallDetails{}, err
	}
	select {
	case <-call.Done():
		return call.Details(), nil
	case <-ctx.Done():
		return call.Details(), ctx.Err()
	}
}

// CallCancel requests cancellation. Cancelling a finished call does nothing.
func (h *Handler) CallCancel(id string) error {
	call, err := h.call(id)
	if err != nil {
		return err
	}
	call.Cancel()
	return nil
}

// CallDisplayResult hands rows [from, to) to sink and returns the number of
// rows known so far. Unknown calls and sink failures yield zero.
func (h *Handler) CallDisplayResult(id string, sink DisplaySink, from, to int) int {
	call, err := h.call(id)
	if err != nil {
		return 0
	}
	rows, total := call.GetRange(from, to)
	if sink == nil {
		return total
	}
	if err := sink.Display(call.Header(), rows, from, total); err != nil {
		log.Logger.WithField("call_id", id).WithError(err).Warn("display result")
		return 0
	}
	return total
}

// CallStoreResult exports rows [from, to) of a call. A negative to waits for
// the call to finish and exports every row from from on.
func (h *Handler) CallStoreResult(id string, format export.Format, target domain.OutputTarget, from, to int) error {
	call, err := h.call(id)
	if err != nil {
		return err
	}
	if to < 0 {
		select {
		case <-call.Done():
		case <-h.ctx.Done():
			return h.ctx.Err()
		}
		_, to = call.GetRange(0, 0)
	}
	rows, _ := call.GetRange(from, to)
	data, err := export.Encode(format, call.Header(), rows)
	if err != nil {
		return fmt.Errorf("encode %s: %w", format, err)
	}
	if err := export.Deliver(target, data, h.sinks); err != nil {
		return fmt.Errorf("deliver to %s: %w", domain.OutputKind(target), err)
	}
	log.Logger.WithField("call_id", id).WithField("rows", len(rows)).
		WithField("target", domain.OutputKind(target)).Info("result stored")
	return nil
}
