package server

import (
	"context"
	"testing"
	"time"
)

func TestConnManager_AddRemove(t *testing.T) {
	cm := NewConnManager()

	ctx, cancel := context.WithCancel(context.Background())
	ac := cm.Add(cancel)
	if ac.ID == "" {
		t.Fatal("expected an id")
	}
	if _, ok := cm.Get(ac.ID); !ok {
		t.Error("expected connection to exist")
	}

	cm.Remove(ac)

	if _, ok := cm.Get(ac.ID); ok {
		t.Error("expected connection to be removed")
	}
	if ctx.Err() == nil {
		t.Error("expected Remove to cancel the connection")
	}

	// Removing twice is harmless.
	cm.Remove(ac)
}

func TestConnManager_CloseAll(t *testing.T) {
	cm := NewConnManager()

	var ctxs []context.Context
	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		ctxs = append(ctxs, ctx)
		cm.Add(cancel)
	}
	if cm.Len() != 3 {
		t.Fatalf("got %d connections, want 3", cm.Len())
	}

	cm.CloseAll()

	if cm.Len() != 0 {
		t.Error("expected all connections to be cleared")
	}
	for i, ctx := range ctxs {
		if ctx.Err() == nil {
			t.Errorf("connection %d was not cancelled", i)
		}
	}
}

func TestConnManager_WaitForRemove(t *testing.T) {
	cm := NewConnManager()
	ac := cm.Add(nil)

	cm.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := cm.Wait(ctx); err == nil {
		t.Fatal("expected Wait to block while a handler is still running")
	}

	cm.Remove(ac)
	cm.Remove(ac)
	if err := cm.Wait(context.Background()); err != nil {
		t.Fatalf("Wait after Remove: %v", err)
	}
}

func TestConnManager_AddAfterCloseAll(t *testing.T) {
	cm := NewConnManager()
	cm.CloseAll()

	ctx, cancel := context.WithCancel(context.Background())
	ac := cm.Add(cancel)

	if ctx.Err() == nil {
		t.Error("expected a late connection to be cancelled immediately")
	}
	if cm.Len() != 0 {
		t.Error("expected a late connection not to be tracked")
	}
	cm.Remove(ac)
	if err := cm.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}
