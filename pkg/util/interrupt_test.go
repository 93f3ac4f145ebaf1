package util

import (
	"context"
	"sync"
	"syscall"
	"testing"
	"time"
)

func TestWaitForInterruptContextRunsCallback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var called bool
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		waitForInterruptContext(ctx, func() { called = true })
	}()

	cancel()
	wg.Wait()
	if !called {
		t.Fatalf("callback not run after cancellation")
	}
}

func TestNotifyHangupCallsFn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan struct{}, 1)
	NotifyHangup(ctx, func() { got <- struct{}{} })

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGHUP); err != nil {
		t.Fatalf("send SIGHUP: %v", err)
	}
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatalf("hangup handler not called")
	}
}
