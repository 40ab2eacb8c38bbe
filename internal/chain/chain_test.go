package chain

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// counter is a journaled int used as test state.
type counter struct{ v int }

func (c *counter) add(tx *Tx, n int) {
	old := c.v
	c.v += n
	tx.Journal(func() { c.v = old })
}

var errBoom = errors.New("boom")

func TestExecute_CommitsOnSuccess(t *testing.T) {
	rt := NewRuntime()
	c := &counter{}

	var got []Log
	rt.AddListener(func(logs []Log) { got = append(got, logs...) })

	err := rt.Execute(context.Background(), func(ctx context.Context, tx *Tx) error {
		c.add(tx, 5)
		tx.Emit("added", 5)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.v != 5 {
		t.Errorf("expected 5, got %d", c.v)
	}
	if len(got) != 1 || got[0].Seq != 1 || got[0].Topic != "added" {
		t.Errorf("unexpected logs: %+v", got)
	}
}

func TestExecute_RevertsOnError(t *testing.T) {
	rt := NewRuntime()
	c := &counter{v: 1}

	notified := false
	rt.AddListener(func([]Log) { notified = true })

	err := rt.Execute(context.Background(), func(ctx context.Context, tx *Tx) error {
		c.add(tx, 10)
		c.add(tx, 100)
		tx.Emit("added", 110)
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected errBoom, got %v", err)
	}
	if c.v != 1 {
		t.Errorf("state should be reverted to 1, got %d", c.v)
	}
	if notified {
		t.Error("listeners must not see reverted transactions")
	}
}

func TestExecute_RevertsOnPanic(t *testing.T) {
	rt := NewRuntime()
	c := &counter{}

	func() {
		defer func() { recover() }()
		rt.Execute(context.Background(), func(ctx context.Context, tx *Tx) error {
			c.add(tx, 3)
			panic("bad")
		})
	}()
	if c.v != 0 {
		t.Errorf("panic must revert state, got %d", c.v)
	}

	// The lock must have been released.
	if err := rt.Execute(context.Background(), func(context.Context, *Tx) error { return nil }); err != nil {
		t.Fatal(err)
	}
}

func TestExecute_CommitterFailureReverts(t *testing.T) {
	rt := NewRuntime()
	c := &counter{}
	rt.AddCommitter(func(ctx context.Context, logs []Log) error {
		if len(logs) != 1 {
			t.Errorf("committer should see 1 log, got %d", len(logs))
		}
		return errBoom
	})

	err := rt.Execute(context.Background(), func(ctx context.Context, tx *Tx) error {
		c.add(tx, 7)
		tx.Emit("x", nil)
		return nil
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected errBoom, got %v", err)
	}
	if c.v != 0 {
		t.Errorf("expected revert, got %d", c.v)
	}
}

func TestExecute_NestedFrameRevertsOnlyItself(t *testing.T) {
	rt := NewRuntime()
	c := &counter{}

	var seqs []uint64
	rt.AddListener(func(logs []Log) {
		for _, l := range logs {
			seqs = append(seqs, l.Seq)
		}
	})

	err := rt.Execute(context.Background(), func(ctx context.Context, tx *Tx) error {
		c.add(tx, 1)
		tx.Emit("outer", nil)

		// Nested call with the same context: no deadlock, own snapshot.
		inner := rt.Execute(ctx, func(ctx context.Context, tx *Tx) error {
			c.add(tx, 50)
			tx.Emit("inner", nil)
			return errBoom
		})
		if !errors.Is(inner, errBoom) {
			t.Errorf("expected inner errBoom, got %v", inner)
		}

		tx.Emit("after", nil)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.v != 1 {
		t.Errorf("expected only the outer mutation, got %d", c.v)
	}
	if len(seqs) != 2 || seqs[0] != 1 || seqs[1] != 2 {
		t.Errorf("reverted log should free its sequence number, got %v", seqs)
	}
}

func TestView_RejectsMutation(t *testing.T) {
	rt := NewRuntime()
	err := rt.View(context.Background(), func(ctx context.Context) error {
		if _, err := Writable(ctx); !errors.Is(err, ErrReadOnly) {
			t.Errorf("expected ErrReadOnly from Writable, got %v", err)
		}
		return rt.Execute(ctx, func(context.Context, *Tx) error { return nil })
	})
	if !errors.Is(err, ErrReadOnly) {
		t.Errorf("expected ErrReadOnly, got %v", err)
	}
}

func TestWritable_OutsideTransaction(t *testing.T) {
	if _, err := Writable(context.Background()); !errors.Is(err, ErrNoTransaction) {
		t.Errorf("expected ErrNoTransaction, got %v", err)
	}
}

func TestExecute_Serialized(t *testing.T) {
	rt := NewRuntime()
	c := &counter{}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rt.Execute(context.Background(), func(ctx context.Context, tx *Tx) error {
				c.add(tx, 1)
				return nil
			})
		}()
	}
	wg.Wait()
	if c.v != 50 {
		t.Errorf("expected 50, got %d", c.v)
	}
}
