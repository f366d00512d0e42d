package testutils

import (
	"sync"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// MockBatch records appended rows. Methods other than Append, Send, Abort, IsSent
// and Rows panic through the nil embedded interface.
type MockBatch struct {
	driver.Batch

	mu        sync.Mutex
	AppendErr error
	SendErr   error
	Appended  [][]any
	sent      bool
	aborted   bool
}

func (b *MockBatch) Append(v ...any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.AppendErr != nil {
		return b.AppendErr
	}
	b.Appended = append(b.Appended, v)
	return nil
}

func (b *MockBatch) Send() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = true
	return b.SendErr
}

func (b *MockBatch) Abort() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.aborted = true
	return nil
}

func (b *MockBatch) IsSent() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sent
}

func (b *MockBatch) Aborted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.aborted
}

func (b *MockBatch) Rows() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Appended)
}
