package server

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// ActiveConn tracks one open WebSocket client.
type ActiveConn struct {
	ID     string
	Cancel context.CancelFunc // cancels the connection's in-flight execution

	tracked bool
	removed bool
}

// ConnManager tracks open WebSocket connections so shutdown can stop them.
type ConnManager struct {
	mu     sync.RWMutex
	conns  map[string]*ActiveConn
	closed bool
	active sync.WaitGroup
}

// NewConnManager creates a new ConnManager.
func NewConnManager() *ConnManager {
	return &ConnManager{
		conns: make(map[string]*ActiveConn),
	}
}

// Add registers a connection and returns it with a fresh ID. Every Add must
// be paired with a Remove once the connection's handler is done. After
// CloseAll, the connection is cancelled right away and not tracked.
func (cm *ConnManager) Add(cancel context.CancelFunc) *ActiveConn {
	ac := &ActiveConn{ID: uuid.NewString(), Cancel: cancel}
	cm.mu.Lock()
	if cm.closed {
		cm.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return ac
	}
	ac.tracked = true
	cm.conns[ac.ID] = ac
	cm.active.Add(1)
	cm.mu.Unlock()
	return ac
}

// Get returns an active connection if it exists.
func (cm *ConnManager) Get(id string) (*ActiveConn, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	ac, ok := cm.conns[id]
	return ac, ok
}

// Len returns the number of open connections.
func (cm *ConnManager) Len() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.conns)
}

// Remove forgets a connection, cancels its work and marks its handler done.
func (cm *ConnManager) Remove(ac *ActiveConn) {
	cm.mu.Lock()
	if ac.removed {
		cm.mu.Unlock()
		return
	}
	ac.removed = true
	delete(cm.conns, ac.ID)
	cm.mu.Unlock()

	if ac.Cancel != nil {
		ac.Cancel()
	}
	if ac.tracked {
		cm.active.Done()
	}
}

// CloseAll cancels every open connection and refuses new ones.
func (cm *ConnManager) CloseAll() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.closed = true
	for id, ac := range cm.conns {
		if ac.Cancel != nil {
			ac.Cancel()
		}
		delete(cm.conns, id)
	}
}

// Wait blocks until every tracked connection has been removed, or ctx ends.
func (cm *ConnManager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		cm.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
