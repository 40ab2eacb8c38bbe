// Package chain provides the execution substrate the exchange runs on:
// globally serialized, all-or-nothing transactions.
//
// Every mutation made inside Runtime.Execute is paired with an undo entry in
// the transaction journal. If the transaction function fails, or a
// pre-commit hook fails, the journal is unwound and no effect is visible.
// Calls that arrive with a context already carrying an open transaction run
// as nested frames of it, the way a contract call runs inside the caller's
// transaction, so re-entrant callbacks never deadlock on the global lock.
package chain

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrNoTransaction is returned when a mutation is attempted outside Execute.
	ErrNoTransaction = errors.New("chain: no open transaction")

	// ErrReadOnly is returned when a mutation is attempted inside View.
	ErrReadOnly = errors.New("chain: mutation inside read-only view")
)

// Log is an entry appended to the transaction log. Logs of a reverted frame
// are discarded together with its state changes.
type Log struct {
	Seq   uint64
	Topic string
	Data  any
}

// Committer runs at the end of a top-level transaction, before it becomes
// final. Returning an error reverts the whole transaction.
type Committer func(ctx context.Context, logs []Log) error

// Listener observes logs of committed transactions. Listeners run while the
// runtime is still locked, so they must not block.
type Listener func(logs []Log)

// Runtime serializes transactions over shared state.
type Runtime struct {
	mu         sync.RWMutex
	seq        uint64
	committers []Committer
	listeners  []Listener
}

// NewRuntime creates a runtime with no hooks.
func NewRuntime() *Runtime {
	return &Runtime{}
}

// AddCommitter registers a pre-commit hook. Not safe to call concurrently
// with Execute; register hooks during setup.
func (r *Runtime) AddCommitter(c Committer) {
	r.committers = append(r.committers, c)
}

// AddListener registers a post-commit observer.
func (r *Runtime) AddListener(l Listener) {
	r.listeners = append(r.listeners, l)
}

type txKey struct{}

// Tx is an open transaction. It is only valid inside the function passed to
// Execute and must not be retained.
type Tx struct {
	rt       *Runtime
	undo     []func()
	logs     []Log
	readOnly bool
}

// FromContext returns the transaction carried by ctx, if any.
func FromContext(ctx context.Context) (*Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*Tx)
	return tx, ok
}

// Writable returns the open writable transaction carried by ctx.
func Writable(ctx context.Context) (*Tx, error) {
	tx, ok := FromContext(ctx)
	if !ok {
		return nil, ErrNoTransaction
	}
	if tx.readOnly {
		return nil, ErrReadOnly
	}
	return tx, nil
}

// Execute runs fn atomically. See the package documentation.
func (r *Runtime) Execute(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	if tx, ok := FromContext(ctx); ok && tx.rt == r {
		if tx.readOnly {
			return ErrReadOnly
		}
		return tx.frame(ctx, fn)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &Tx{rt: r}
	seqMark := r.seq
	ctx = context.WithValue(ctx, txKey{}, tx)
	if err := tx.frame(ctx, fn); err != nil {
		return err
	}
	for _, c := range r.committers {
		if err := c(ctx, tx.logs); err != nil {
			tx.revertTo(0, 0)
			r.seq = seqMark
			return err
		}
	}
	for _, l := range r.listeners {
		l(tx.logs)
	}
	return nil
}

// View runs fn with shared access. Reads inside an open transaction see its
// uncommitted state.
func (r *Runtime) View(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx, ok := FromContext(ctx); ok && tx.rt == r {
		return fn(ctx)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	return fn(context.WithValue(ctx, txKey{}, &Tx{rt: r, readOnly: true}))
}

// frame runs fn and unwinds its effects if it fails or panics.
func (tx *Tx) frame(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	undoMark, logMark, seqMark := len(tx.undo), len(tx.logs), tx.rt.seq
	ok := false
	defer func() {
		if !ok {
			tx.revertTo(undoMark, logMark)
			tx.rt.seq = seqMark
		}
	}()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	ok = true
	return nil
}

func (tx *Tx) revertTo(undoMark, logMark int) {
	for i := len(tx.undo) - 1; i >= undoMark; i-- {
		tx.undo[i]()
	}
	tx.undo = tx.undo[:undoMark]
	tx.logs = tx.logs[:logMark]
}

// Journal records an undo function for a mutation already applied.
func (tx *Tx) Journal(undo func()) {
	tx.undo = append(tx.undo, undo)
}

// Emit appends a log entry and returns its sequence number.
func (tx *Tx) Emit(topic string, data any) uint64 {
	tx.rt.seq++
	tx.logs = append(tx.logs, Log{Seq: tx.rt.seq, Topic: topic, Data: data})
	return tx.rt.seq
}

// Resume continues log numbering after seq, for a runtime restored from a
// persisted log. Call it during setup, before any Execute.
func (r *Runtime) Resume(seq uint64) {
	r.seq = seq
}
