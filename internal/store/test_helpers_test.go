package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/opsd/internal/model"
	"github.com/roach88/opsd/internal/testutil"
)

// createTestStore creates a new store in a temp directory, driven by a
// step clock so timestamps are distinct and predictable.
func createTestStore(t *testing.T) (*Store, *testutil.StepClock) {
	t.Helper()
	clock := testutil.NewStepClock(testutil.Epoch, time.Millisecond)
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, clock
}

// createTestOperation persists an operation with one pending channel per
// kind. Channel ids are "<opID>-<kind>".
func createTestOperation(t *testing.T, s *Store, opID string, kinds ...model.ChannelKind) *model.OperationView {
	t.Helper()
	op := model.Operation{ID: opID, Type: model.OperationSendNotification}
	chs := make([]model.Channel, 0, len(kinds))
	for _, k := range kinds {
		chs = append(chs, model.Channel{ID: fmt.Sprintf("%s-%s", opID, k), Kind: k})
	}
	view, err := s.CreateOperationWithChannels(context.Background(), op, chs)
	if err != nil {
		t.Fatalf("CreateOperationWithChannels() failed: %v", err)
	}
	return view
}
