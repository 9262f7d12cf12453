package actor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestDoSerializes(t *testing.T) {
	m := NewMailbox(8)
	defer m.Close()
	ctx := context.Background()

	// Counter is unguarded on purpose: the mailbox is the only
	// synchronization. The race detector flags any violation.
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Do(ctx, func() { counter++ }); err != nil {
				t.Errorf("Do: %v", err)
			}
		}()
	}
	wg.Wait()
	got := 0
	if err := m.Do(ctx, func() { got = counter }); err != nil {
		t.Fatal(err)
	}
	if got != 50 {
		t.Errorf("counter = %d, want 50", got)
	}
}

func TestSubmitOrder(t *testing.T) {
	m := NewMailbox(8)
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		if err := m.Submit(func() { order = append(order, i) }); err != nil {
			t.Fatal(err)
		}
	}
	m.Close()
	for i, v := range order {
		if v != i {
			t.Fatalf("order = %v", order)
		}
	}
	if len(order) != 5 {
		t.Errorf("ran %d of 5 submissions", len(order))
	}
}

func TestDoCancelledContext(t *testing.T) {
	m := NewMailbox(1)
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	block := make(chan struct{})
	if err := m.Submit(func() { <-block }); err != nil {
		t.Fatal(err)
	}
	// The queue slot is free but the worker is busy; the cancelled context
	// wins either before enqueue or while waiting for completion.
	err := m.Do(ctx, func() {})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do with cancelled ctx = %v", err)
	}
	close(block)
}

func TestCloseDrainsPendingWork(t *testing.T) {
	m := NewMailbox(16)
	ran := 0
	for i := 0; i < 10; i++ {
		if err := m.Submit(func() { ran++ }); err != nil {
			t.Fatal(err)
		}
	}
	m.Close()
	if ran != 10 {
		t.Errorf("ran = %d, want 10", ran)
	}
}

func TestAfterClose(t *testing.T) {
	m := NewMailbox(4)
	m.Close()
	m.Close() // idempotent

	if err := m.Submit(func() {}); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit after close = %v, want ErrClosed", err)
	}
	if err := m.Do(context.Background(), func() {}); !errors.Is(err, ErrClosed) {
		t.Errorf("Do after close = %v, want ErrClosed", err)
	}
}

func TestConcurrentSubmitAndClose(t *testing.T) {
	m := NewMailbox(4)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Submit(func() { time.Sleep(time.Microsecond) })
		}()
	}
	time.Sleep(time.Millisecond)
	m.Close()
	wg.Wait()
}
