package location

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roamgo/pkg/config"
	"roamgo/pkg/model"
	"roamgo/pkg/remote"
	"roamgo/pkg/store"
)

type fakeIdentity struct{ uid string }

func (f fakeIdentity) UserID() (string, bool) { return f.uid, f.uid != "" }

func testConfig() config.LocationConfig {
	return config.LocationConfig{
		MinRefreshInterval: config.Duration(time.Minute),
		MoveFraction:       0.25,
		HistoryEnabled:     true,
		HistoryRes:         9,
		HeadingWindow:      5,
	}
}

func TestSubscribe_ImmediateCallback(t *testing.T) {
	s := New(testConfig(), Deps{})

	var got []model.LocationState
	unsub := s.Subscribe(func(st model.LocationState) { got = append(got, st) })
	require.Len(t, got, 1, "called before Subscribe returns")
	assert.False(t, got[0].Initialized)
	assert.Nil(t, got[0].Coordinate)

	_, err := s.Update(context.Background(), 51.5007, -0.1246, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[1].Initialized)
	assert.InDelta(t, 51.5007, got[1].Coordinate.Lat, 1e-9)

	// A late subscriber sees the current state at once
	var late model.LocationState
	s.Subscribe(func(st model.LocationState) { late = st })
	require.NotNil(t, late.Coordinate)
	assert.InDelta(t, -0.1246, late.Coordinate.Lon, 1e-9)

	unsub()
	unsub()
	_, err = s.Update(context.Background(), 51.5010, -0.1246, nil)
	require.NoError(t, err)
	assert.Len(t, got, 2, "no callbacks after unsubscribe")
}

func TestSubscribe_CopiesState(t *testing.T) {
	s := New(testConfig(), Deps{})
	_, err := s.Update(context.Background(), 10, 20, nil)
	require.NoError(t, err)

	s.Subscribe(func(st model.LocationState) {
		if st.Coordinate != nil {
			st.Coordinate.Lat = -1
		}
	})
	p, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, 10.0, p.Lat)
}

func TestSubscribe_ConcurrentUpdates(t *testing.T) {
	s := New(testConfig(), Deps{})
	var mu sync.Mutex
	count := 0
	s.Subscribe(func(model.LocationState) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = s.Update(context.Background(), 50+float64(i)*0.001, 8, nil)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 21, count)
}

func TestUpdate_Heading(t *testing.T) {
	s := New(testConfig(), Deps{})
	ctx := context.Background()

	st, err := s.Update(ctx, 51.5000, -0.1246, nil)
	require.NoError(t, err)
	assert.Zero(t, st.Heading)

	st, err = s.Update(ctx, 51.5010, -0.1246, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0, st.Heading, 0.5, "moving north")

	h := 123.0
	st, err = s.Update(ctx, 51.5020, -0.1246, &h)
	require.NoError(t, err)
	assert.Equal(t, 123.0, st.Heading, "explicit heading wins")
}

func TestUpdate_Invalid(t *testing.T) {
	s := New(testConfig(), Deps{})
	_, err := s.Update(context.Background(), 91, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidCoordinate)
	st := s.State()
	assert.Nil(t, st.Coordinate)
	assert.NotEmpty(t, st.LastError)

	_, err = s.Update(context.Background(), 1, 1, nil)
	require.NoError(t, err)
	assert.Empty(t, s.State().LastError)
}

func TestPermissionAndError(t *testing.T) {
	s := New(testConfig(), Deps{})
	s.SetPermission(false)
	st := s.State()
	assert.False(t, st.PermissionGranted)
	assert.NotEmpty(t, st.LastError)

	s.ReportError("gps timeout")
	st = s.State()
	assert.Equal(t, "gps timeout", st.LastError)
	assert.True(t, st.Initialized)
}

func TestPersistAndRestore(t *testing.T) {
	ctx := context.Background()
	local := store.NewMemoryStore()

	s := New(testConfig(), Deps{Local: local})
	assert.False(t, s.Restore(ctx))
	_, err := s.Update(ctx, 48.8584, 2.2945, nil)
	require.NoError(t, err)

	restarted := New(testConfig(), Deps{Local: local})
	var seen model.LocationState
	restarted.Subscribe(func(st model.LocationState) { seen = st })
	require.True(t, restarted.Restore(ctx))
	require.NotNil(t, seen.Coordinate)
	assert.Equal(t, 48.8584, seen.Coordinate.Lat)
	assert.True(t, seen.Initialized)

	require.NoError(t, local.SetState(ctx, store.KeyLastKnownLocation, "{not json"))
	assert.False(t, New(testConfig(), Deps{Local: local}).Restore(ctx))
}

func TestHistory_RecordsOnCellChange(t *testing.T) {
	ctx := context.Background()
	rs := remote.NewMemoryStore()
	s := New(testConfig(), Deps{Remote: rs, Identity: fakeIdentity{uid: "u1"}})
	base := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	s.SetClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})

	_, err := s.Update(ctx, 51.5007, -0.1246, nil)
	require.NoError(t, err)
	// A few meters away: same resolution-9 cell
	_, err = s.Update(ctx, 51.50071, -0.12461, nil)
	require.NoError(t, err)
	// Several kilometers away: a new cell
	_, err = s.Update(ctx, 51.5300, -0.1000, nil)
	require.NoError(t, err)

	hist, err := s.History(ctx)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "u1", hist[0].UserID)
	assert.NotEqual(t, hist[0].Cell, hist[1].Cell)
	assert.True(t, hist[0].RecordedAt.Before(hist[1].RecordedAt))
	assert.NotEqual(t, hist[0].ID, hist[1].ID)
}

func TestHistory_SkippedWhenSignedOut(t *testing.T) {
	ctx := context.Background()
	rs := remote.NewMemoryStore()
	s := New(testConfig(), Deps{Remote: rs, Identity: fakeIdentity{}})
	_, err := s.Update(ctx, 51.5007, -0.1246, nil)
	require.NoError(t, err)
	assert.Zero(t, rs.Writes())

	hist, err := s.History(ctx)
	require.NoError(t, err)
	assert.Empty(t, hist)
}
