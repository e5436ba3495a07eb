package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/opsd/internal/model"
)

func TestGetOperation_NotFound(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	_, err := s.GetOperation(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = s.GetChannel(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = s.ListChannels(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = s.GetOperationView(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestGetOperationView(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	createTestOperation(t, s, "op-1", model.ChannelEmail, model.ChannelWhatsApp)

	view, err := s.GetOperationView(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, "op-1", view.ID)
	require.Len(t, view.Channels, 2)
	assert.Equal(t, model.ChannelEmail, view.Channels[0].Kind)
	assert.Equal(t, model.ChannelWhatsApp, view.Channels[1].Kind)

	empty := createTestOperation(t, s, "op-2")
	assert.NotNil(t, empty.Channels)
	view, err = s.GetOperationView(ctx, "op-2")
	require.NoError(t, err)
	assert.NotNil(t, view.Channels, "empty slice, not nil")
	assert.Empty(t, view.Channels)
}

func TestGetOperation_Idempotent(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	createTestOperation(t, s, "op-1", model.ChannelEmail)

	_, _, err := s.UpdateChannelStatus(ctx, "op-1-email", model.StatusFailed, "bounced")
	require.NoError(t, err)

	first, err := s.GetOperationView(ctx, "op-1")
	require.NoError(t, err)
	require.Equal(t, model.StatusFailed, first.Status)

	for i := 0; i < 5; i++ {
		again, err := s.GetOperationView(ctx, "op-1")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestListOperations_Pagination(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 25; i++ {
		createTestOperation(t, s, fmt.Sprintf("op-%02d", i))
	}

	var seen []string
	for page := 1; page <= 3; page++ {
		p, err := s.ListOperations(ctx, model.Filter{}, page, 10)
		require.NoError(t, err)
		assert.Equal(t, 25, p.Total)
		assert.Equal(t, 3, p.Pages())
		assert.Equal(t, page, p.Page)
		assert.Equal(t, 10, p.PageSize)
		if page < 3 {
			assert.Len(t, p.Items, 10)
		} else {
			assert.Len(t, p.Items, 5)
		}
		for _, op := range p.Items {
			seen = append(seen, op.ID)
		}
	}

	require.Len(t, seen, 25)
	assert.Equal(t, "op-25", seen[0], "newest first")
	assert.Equal(t, "op-01", seen[24])

	again, err := s.ListOperations(ctx, model.Filter{}, 1, 10)
	require.NoError(t, err)
	for i, op := range again.Items {
		assert.Equal(t, seen[i], op.ID, "ordering is stable across calls")
	}

	past, err := s.ListOperations(ctx, model.Filter{}, 4, 10)
	require.NoError(t, err)
	assert.Empty(t, past.Items)
	assert.Equal(t, 25, past.Total)
}

func TestListOperations_TieBreakOnID(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	at := s.clock()
	for _, id := range []string{"b", "c", "a"} {
		_, err := s.CreateOperation(ctx, model.Operation{ID: id, Type: model.OperationSendEmail, CreatedAt: at})
		require.NoError(t, err)
	}

	p, err := s.ListOperations(ctx, model.Filter{}, 1, 10)
	require.NoError(t, err)
	require.Len(t, p.Items, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{p.Items[0].ID, p.Items[1].ID, p.Items[2].ID})
}

func TestListOperations_Filter(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	async := true
	_, err := s.CreateOperation(ctx, model.Operation{ID: "a", Type: model.OperationGeneratePDF, IsAsync: true})
	require.NoError(t, err)
	_, err = s.CreateOperation(ctx, model.Operation{ID: "b", Type: model.OperationSendEmail})
	require.NoError(t, err)
	_, err = s.UpdateOperationStatus(ctx, "b", model.StatusDone, "")
	require.NoError(t, err)

	tests := []struct {
		name   string
		filter model.Filter
		want   []string
	}{
		{"all", model.Filter{}, []string{"b", "a"}},
		{"status", model.Filter{Status: model.StatusDone}, []string{"b"}},
		{"type", model.Filter{Type: model.OperationGeneratePDF}, []string{"a"}},
		{"async", model.Filter{Async: &async}, []string{"a"}},
		{"none", model.Filter{Status: model.StatusFailed}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := s.ListOperations(ctx, tt.filter, 1, 10)
			require.NoError(t, err)
			var ids []string
			for _, op := range p.Items {
				ids = append(ids, op.ID)
			}
			assert.Equal(t, tt.want, ids)
			assert.Equal(t, len(tt.want), p.Total)
		})
	}
}

func TestListOperations_InvalidPage(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	_, err := s.ListOperations(ctx, model.Filter{}, 0, 10)
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = s.ListOperations(ctx, model.Filter{}, 1, 0)
	assert.ErrorIs(t, err, model.ErrValidation)
}
