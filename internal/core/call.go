package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"dbconduit/internal/dbclient"
	"dbconduit/internal/domain"
	"dbconduit/internal/event"
	"dbconduit/internal/log"
)

// drainChunk is how many rows the background pipeline pulls per lock hold,
// letting readers interleave with archiving.
const drainChunk = 200

// Call is one query execution against one connection.
//
// State only moves forward and never leaves a terminal state. Only the
// execution pipeline transitions a call after it has started executing.
type Call struct {
	id        string
	connID    string
	query     string
	timestamp time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	emitter    event.Emitter
	onTerminal func(domain.CallDetails)

	mu        sync.RWMutex
	state     domain.CallState
	timeTaken time.Duration
	errMsg    string
	iter      *ResultIterator
}

func newCall(parent context.Context, connID, query string, emitter event.Emitter) *Call {
	ctx, cancel := context.WithCancel(parent)
	return &Call{
		id:        uuid.New().String(),
		connID:    connID,
		query:     query,
		timestamp: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		emitter:   emitter,
		state:     domain.CallStateUnknown,
	}
}

// restoreCall rebuilds a finished call from its record. iter may be nil.
func restoreCall(d domain.CallDetails, iter *ResultIterator) *Call {
	done := make(chan struct{})
	close(done)
	return &Call{
		id:        d.ID,
		connID:    d.ConnID,
		query:     d.Query,
		timestamp: time.UnixMicro(d.Timestamp),
		ctx:       context.Background(),
		cancel:    func() {},
		done:      done,
		state:     d.State,
		timeTaken: time.Duration(d.TimeTaken) * time.Microsecond,
		errMsg:    d.Error,
		iter:      iter,
	}
}

// ID returns the call identifier.
func (c *Call) ID() string { return c.id }

// Done is closed once the call is terminal.
func (c *Call) Done() <-chan struct{} { return c.done }

// State returns the current state.
func (c *Call) State() domain.CallState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Details returns a snapshot. For running calls TimeTaken is the elapsed time so far.
func (c *Call) Details() domain.CallDetails {
	c.mu.RLock()
	defer c.mu.RUnlock()

	taken := c.timeTaken
	if !c.state.IsTerminal() && c.state != domain.CallStateUnknown {
		taken = time.Since(c.timestamp)
	}
	return domain.CallDetails{
		ID:        c.id,
		ConnID:    c.connID,
		Query:     c.query,
		State:     c.state,
		TimeTaken: taken.Microseconds(),
		Timestamp: c.timestamp.UnixMicro(),
		Error:     c.errMsg,
	}
}

// Header returns the result columns, or nil before retrieving.
func (c *Call) Header() domain.Header {
	it := c.iterator()
	if it == nil {
		return nil
	}
	return it.Header()
}

// GetRange returns rows [from, to) and the number of rows known so far.
func (c *Call) GetRange(from, to int) ([]domain.Row, int) {
	it := c.iterator()
	if it == nil {
		return nil, 0
	}
	rows, total, err := it.GetRange(c.ctx, from, to)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Logger.WithField("call_id", c.id).WithError(err).Debug("range read hit an error")
	}
	return rows, total
}

// Cancel asks the pipeline to stop. It is a no-op on a terminal call.
func (c *Call) Cancel() {
	c.mu.RLock()
	terminal := c.state.IsTerminal()
	c.mu.RUnlock()
	if terminal {
		return
	}
	c.cancel()
}

func (c *Call) iterator() *ResultIterator {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.iter
}

// transition moves to next and publishes the change. It refuses to leave a
// terminal state or to repeat the current one.
func (c *Call) transition(next domain.CallState) bool {
	c.mu.Lock()
	prev := c.state
	if prev.IsTerminal() || prev == next {
		c.mu.Unlock()
		return false
	}
	c.state = next
	if next.IsTerminal() {
		c.timeTaken = time.Since(c.timestamp)
	}
	c.mu.Unlock()

	log.Logger.WithFields(logrus.Fields{
		"call_id": c.id,
		"from":    prev,
		"to":      next,
	}).Debug("call state changed")

	if c.emitter != nil {
		c.emitter.Emit(context.Background(), event.CallStateChanged, domain.CallStateChange{
			CallID:    c.id,
			ConnID:    c.connID,
			OldState:  prev,
			NewState:  next,
			Timestamp: time.Now().UnixMicro(),
		})
	}
	return true
}

// run executes the query and drains the result into cache.
// The call must already be in the executing state.
func (c *Call) run(driver dbclient.Driver, cache RowCache) {
	defer close(c.done)

	cursor, err := driver.Query(c.ctx, c.query)
	if err != nil {
		c.finish(domain.CallStateExecutingFailed, err)
		return
	}

	it := NewResultIterator(cursor, cache)
	c.mu.Lock()
	c.iter = it
	c.mu.Unlock()
	c.transition(domain.CallStateRetrieving)

	for {
		exhausted, err := it.Advance(c.ctx, drainChunk)
		switch {
		case err == nil && exhausted:
			c.finish(domain.CallStateArchived, nil)
			return
		case err == nil:
			continue
		case errors.Is(err, ErrCacheWrite):
			c.finish(domain.CallStateArchiveFailed, err)
			return
		case errors.Is(err, ErrDrain):
			c.finish(domain.CallStateRetrievingFailed, err)
			return
		default:
			c.finish(domain.CallStateCanceled, err)
			return
		}
	}
}

// finish moves to a terminal state. A requested cancellation wins over
// whatever state the pipeline reached.
func (c *Call) finish(state domain.CallState, err error) {
	if c.ctx.Err() != nil {
		state = domain.CallStateCanceled
		err = nil
	}
	if it := c.iterator(); it != nil {
		it.Close()
	}

	c.mu.Lock()
	if err != nil {
		c.errMsg = err.Error()
	}
	c.mu.Unlock()

	if !c.transition(state) {
		return
	}
	c.cancel()

	if state != domain.CallStateArchived && state != domain.CallStateCanceled {
		log.Logger.WithFields(logrus.Fields{
			"call_id": c.id,
			"state":   state,
		}).WithError(err).Warn("call failed")
	}
	if c.onTerminal != nil {
		c.onTerminal(c.Details())
	}
}
