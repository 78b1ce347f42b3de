package probe

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_OrderAndOutcome(t *testing.T) {
	probes := []Probe{
		{Name: "slow", Check: func(ctx context.Context) error {
			time.Sleep(20 * time.Millisecond)
			return nil
		}, Critical: true},
		{Name: "broken", Check: func(context.Context) error { return errors.New("minor issue") }},
	}

	results := Run(context.Background(), probes)
	require.Len(t, results, 2)
	assert.Equal(t, "slow", results[0].Probe.Name)
	assert.True(t, results[0].Passed())
	assert.GreaterOrEqual(t, results[0].Duration, 20*time.Millisecond)
	assert.Equal(t, "broken", results[1].Probe.Name)
	assert.False(t, results[1].Passed())
}

func TestRun_Concurrent(t *testing.T) {
	var running, peak atomic.Int32
	check := func(context.Context) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		running.Add(-1)
		return nil
	}
	Run(context.Background(), []Probe{{Name: "a", Check: check}, {Name: "b", Check: check}, {Name: "c", Check: check}})
	assert.Equal(t, int32(3), peak.Load())
}

func TestRun_Timeout(t *testing.T) {
	results := Run(context.Background(), []Probe{{
		Name:    "hangs",
		Timeout: 10 * time.Millisecond,
		Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}, {
		Name:    "ignores context",
		Timeout: 10 * time.Millisecond,
		Check: func(ctx context.Context) error {
			time.Sleep(30 * time.Millisecond)
			return nil
		},
	}})
	assert.ErrorIs(t, results[0].Error, context.DeadlineExceeded)
	assert.ErrorContains(t, results[1].Error, "timed out")
}

func TestAnalyzeResults(t *testing.T) {
	fail := errors.New("fail")
	tests := []struct {
		name    string
		results []Result
		wantErr bool
	}{
		{"all pass", []Result{{Probe: Probe{Name: "db", Critical: true}}}, false},
		{"critical failure", []Result{{Probe: Probe{Name: "db", Critical: true}, Error: fail}}, true},
		{"optional failure", []Result{{Probe: Probe{Name: "network"}, Error: fail}}, false},
		{"mixed", []Result{
			{Probe: Probe{Name: "network"}, Error: fail},
			{Probe: Probe{Name: "db", Critical: true}, Error: fail},
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := AnalyzeResults(tt.results)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, fail)
				assert.Contains(t, err.Error(), "db")
				return
			}
			assert.NoError(t, err)
		})
	}
}
