package testhelper

import (
	"context"
	"fmt"
	"sync"

	"github.com/splitlease/proposal-sync/internal/domain/mirror"
)

// MockMirror is a mock implementation of mirror.Mirror for testing
type MockMirror struct {
	mu         sync.Mutex
	Writes     []mirror.Write
	ShouldFail bool
}

// Apply records w unless the mock is set to fail
func (m *MockMirror) Apply(_ context.Context, w mirror.Write) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return fmt.Errorf("mock mirror: apply %s/%s failed", w.Table, w.RecordID)
	}
	m.Writes = append(m.Writes, w)
	return nil
}

func (m *MockMirror) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Writes)
}
