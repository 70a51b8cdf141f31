package purchase

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(start time.Time) func() time.Time {
	now := start
	return func() time.Time {
		now = now.Add(time.Millisecond)
		return now
	}
}

func TestStoreCreateAndGet(t *testing.T) {
	s := NewMemoryStore()

	rec, err := s.Create("p-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, "user-1", rec.UserID)
	assert.Equal(t, rec.CreatedAt, rec.UpdatedAt)

	got, err := s.Get("p-1")
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	_, err = s.Create("p-1", "user-2")
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestStoreGetUnknown(t *testing.T) {
	_, err := NewMemoryStore().Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = NewMemoryStore().Transition("missing", Update{Status: StatusProcessing})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreTransitions(t *testing.T) {
	result := &Result{Success: true, TotalAmount: decimal.NewFromInt(10)}

	tests := []struct {
		name    string
		path    []Update
		wantErr bool
	}{
		{"happy path", []Update{{Status: StatusProcessing}, {Status: StatusProcessing, Message: "step"}, {Status: StatusCompleted, Result: result}}, false},
		{"fail while processing", []Update{{Status: StatusProcessing}, {Status: StatusFailed, Error: "boom"}}, false},
		{"cancelled before start", []Update{{Status: StatusFailed, Error: "cancelled"}}, false},
		{"skip processing", []Update{{Status: StatusCompleted, Result: result}}, true},
		{"back to pending", []Update{{Status: StatusProcessing}, {Status: StatusPending}}, true},
		{"completed without result", []Update{{Status: StatusProcessing}, {Status: StatusCompleted}}, true},
		{"failed without error", []Update{{Status: StatusProcessing}, {Status: StatusFailed}}, true},
		{"out of completed", []Update{{Status: StatusProcessing}, {Status: StatusCompleted, Result: result}, {Status: StatusFailed, Error: "late"}}, true},
		{"out of failed", []Update{{Status: StatusFailed, Error: "x"}, {Status: StatusProcessing}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewMemoryStore()
			_, err := s.Create("p", "u")
			require.NoError(t, err)

			var last error
			for _, u := range tt.path {
				if _, last = s.Transition("p", u); last != nil {
					break
				}
			}
			if tt.wantErr {
				assert.ErrorIs(t, last, ErrInvalidTransition)
			} else {
				assert.NoError(t, last)
			}
		})
	}
}

func TestTerminalRecordIsNotMutated(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Create("p", "u")
	require.NoError(t, err)
	_, err = s.Transition("p", Update{Status: StatusFailed, Message: "Checkout failed: x", Error: "x"})
	require.NoError(t, err)
	before, err := s.Get("p")
	require.NoError(t, err)

	_, err = s.Transition("p", Update{Status: StatusFailed, Message: "again", Error: "y"})
	require.ErrorIs(t, err, ErrInvalidTransition)

	after, err := s.Get("p")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestStoreTimestampsAndCopies(t *testing.T) {
	s := NewMemoryStore()
	s.now = fixedClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))

	created, err := s.Create("p", "u")
	require.NoError(t, err)
	processing, err := s.Transition("p", Update{Status: StatusProcessing, Message: "working"})
	require.NoError(t, err)
	assert.True(t, processing.UpdatedAt.After(created.UpdatedAt))
	assert.Equal(t, created.CreatedAt, processing.CreatedAt)

	done, err := s.Transition("p", Update{Status: StatusCompleted, Result: &Result{Success: true, Message: "ok"}})
	require.NoError(t, err)
	assert.Equal(t, "working", done.Message)
	assert.False(t, done.UpdatedAt.Before(done.CreatedAt))

	done.Result.Message = "tampered"
	stored, err := s.Get("p")
	require.NoError(t, err)
	assert.Equal(t, "ok", stored.Result.Message)
}

func TestStoreClockGoingBackwardsKeepsUpdatedAtMonotonic(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	times := []time.Time{base, base.Add(-time.Hour)}
	s.now = func() time.Time {
		next := times[0]
		if len(times) > 1 {
			times = times[1:]
		}
		return next
	}

	created, err := s.Create("p", "u")
	require.NoError(t, err)
	updated, err := s.Transition("p", Update{Status: StatusProcessing})
	require.NoError(t, err)
	assert.Equal(t, created.UpdatedAt, updated.UpdatedAt)
}
