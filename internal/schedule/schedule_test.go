package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "steamnewsbot/pkg/logx"
)

func TestValidateSpec(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateSpec("*/5 * * * *"))
	assert.NoError(t, ValidateSpec("@daily"))
	assert.NoError(t, ValidateSpec("@every 10m"))
	assert.Error(t, ValidateSpec(""))
	assert.Error(t, ValidateSpec("not a spec"))
	assert.Error(t, ValidateSpec("* * *"))
}

func TestNewRejectsBadTimezone(t *testing.T) {
	t.Parallel()

	_, err := New("Not/AZone", logx.Nop())
	assert.Error(t, err)

	s, err := New("", logx.Nop())
	require.NoError(t, err)
	require.NotNil(t, s)

	s, err = New("UTC", logx.Nop())
	require.NoError(t, err)
	require.NotNil(t, s)
}

func TestAddValidation(t *testing.T) {
	t.Parallel()

	s, err := New("", logx.Nop())
	require.NoError(t, err)

	noop := func(context.Context) error { return nil }
	assert.Error(t, s.Add("", "@daily", 0, noop))
	assert.Error(t, s.Add("x", "@daily", 0, nil))
	assert.Error(t, s.Add("x", "bogus", 0, noop))
	assert.NoError(t, s.Add("x", "@daily", 0, noop))
	// Upsert by name: re-adding must not error.
	assert.NoError(t, s.Add("x", "@hourly", 0, noop))
	assert.Error(t, s.AddInterval("y", 0, 0, noop))
}

func TestIntervalJobRuns(t *testing.T) {
	t.Parallel()

	s, err := New("", logx.Nop())
	require.NoError(t, err)

	var runs atomic.Int32
	require.NoError(t, s.AddInterval("tick", 50*time.Millisecond, 0, func(context.Context) error {
		runs.Add(1)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	deadline := time.After(3 * time.Second)
	for runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("job never ran")
		case <-time.After(10 * time.Millisecond):
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	s.Stop(stopCtx)
}
