package visited

import (
	"context"
	"strconv"
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

type fakeIdentity struct {
	mu  sync.Mutex
	uid string
}

func (f *fakeIdentity) UserID() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uid, f.uid != ""
}

func (f *fakeIdentity) set(uid string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uid = uid
}

type fixture struct {
	cache  *Cache
	local  *store.MemoryStore
	remote *remote.MemoryStore
	ident  *fakeIdentity
	now    time.Time
}

func newFixture(t *testing.T, uid string) *fixture {
	t.Helper()
	f := &fixture{
		local:  store.NewMemoryStore(),
		remote: remote.NewMemoryStore(),
		ident:  &fakeIdentity{uid: uid},
		now:    time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC),
	}
	f.cache = New(config.VisitedConfig{
		TTL:        config.Duration(7 * 24 * time.Hour),
		BatchSize:  10,
		RetryDelay: config.Duration(10 * time.Millisecond),
	}, Deps{Local: f.local, Remote: f.remote, Identity: f.ident})
	f.cache.SetClock(func() time.Time { return f.now })
	t.Cleanup(f.cache.Close)
	return f
}

func summary(id string) model.PlaceSummary {
	return model.PlaceSummary{ID: id, Name: "Place " + id, Lat: 51.5, Lon: -0.12, Types: []string{"museum"}}
}

func seedRemote(t *testing.T, f *fixture, uid string, ids ...string) {
	t.Helper()
	for _, id := range ids {
		doc, err := remote.NewDocument(remote.UserCollection(uid, remote.SubVisitedPlaces), id,
			model.VisitedPlace{PlaceID: id, VisitedAt: f.now})
		require.NoError(t, err)
		require.NoError(t, f.remote.Put(context.Background(), doc))
	}
}

func TestIsPlaceVisited_Memoized(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "u1")
	seedRemote(t, f, "u1", "a")

	assert.True(t, f.cache.IsPlaceVisited(ctx, "a"))
	assert.False(t, f.cache.IsPlaceVisited(ctx, "b"))
	reads := f.remote.Reads()

	// Positive and negative answers are both memoized
	assert.True(t, f.cache.IsPlaceVisited(ctx, "a"))
	assert.False(t, f.cache.IsPlaceVisited(ctx, "b"))
	assert.Equal(t, reads, f.remote.Reads())

	// After the TTL the remote is asked again
	seedRemote(t, f, "u1", "b")
	f.now = f.now.Add(8 * 24 * time.Hour)
	assert.True(t, f.cache.IsPlaceVisited(ctx, "b"))
	assert.Greater(t, f.remote.Reads(), reads)

	assert.False(t, f.cache.IsPlaceVisited(ctx, ""))
}

func TestIsPlaceVisited_LocalFallback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")
	require.True(t, f.cache.SaveVisitedPlace(ctx, summary("a")))
	assert.Zero(t, f.remote.Writes(), "unauthenticated saves stay local")

	f.cache.ResetMemo()
	assert.True(t, f.cache.IsPlaceVisited(ctx, "a"))
	assert.False(t, f.cache.IsPlaceVisited(ctx, "b"))
	assert.Zero(t, f.remote.Reads())

	// A failing remote falls back to the local list without memoizing misses
	f.ident.set("u1")
	f.cache.ResetMemo()
	f.remote.FailReads(assert.AnError)
	assert.True(t, f.cache.IsPlaceVisited(ctx, "a"))
	assert.False(t, f.cache.IsPlaceVisited(ctx, "c"))
	assert.Equal(t, 1, f.cache.MemoSize())
}

func TestCheckVisitedPlaces_Batches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "u1")

	var places []model.PlaceSummary
	for i := 0; i < 25; i++ {
		places = append(places, summary("p"+strconv.Itoa(i)))
	}
	seedRemote(t, f, "u1", "p3", "p17", "p24")

	// p0 is memoized, so only 24 IDs need a lookup
	assert.False(t, f.cache.IsPlaceVisited(ctx, "p0"))
	before := f.remote.Reads()

	out := f.cache.CheckVisitedPlaces(ctx, places)
	require.Len(t, out, 25)
	assert.EqualValues(t, 3, f.remote.Reads()-before, "24 lookups in batches of 10")
	for i := range out {
		want := out[i].ID == "p3" || out[i].ID == "p17" || out[i].ID == "p24"
		assert.Equal(t, want, out[i].IsVisited, out[i].ID)
		assert.False(t, places[i].IsVisited, "input untouched")
	}

	before = f.remote.Reads()
	out = f.cache.CheckVisitedPlaces(ctx, places)
	assert.Equal(t, before, f.remote.Reads(), "all memoized")
	assert.True(t, out[3].IsVisited)
}

func TestCheckVisitedPlaces_RemoteFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")
	require.True(t, f.cache.SaveVisitedPlace(ctx, summary("a")))
	f.cache.ResetMemo()

	f.ident.set("u1")
	f.remote.FailReads(assert.AnError)
	out := f.cache.CheckVisitedPlaces(ctx, []model.PlaceSummary{summary("a"), summary("b")})
	assert.True(t, out[0].IsVisited)
	assert.False(t, out[1].IsVisited)
}

func TestSaveVisitedPlace_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "u1")

	require.True(t, f.cache.SaveVisitedPlace(ctx, summary("a")))
	writes := f.remote.Writes()
	assert.Equal(t, 1, f.remote.Count(remote.UserCollection("u1", remote.SubVisitedPlaces)))

	require.True(t, f.cache.SaveVisitedPlace(ctx, summary("a")))
	f.cache.ResetMemo()
	require.True(t, f.cache.SaveVisitedPlace(ctx, summary("a")))
	assert.Equal(t, writes, f.remote.Writes(), "re-saving writes nothing")

	list := f.cache.VisitedPlaces(ctx)
	require.Len(t, list, 1)
	assert.Equal(t, "Place a", list[0].Name)
	assert.Equal(t, f.now, list[0].VisitedAt.UTC())

	assert.False(t, f.cache.SaveVisitedPlace(ctx, model.PlaceSummary{}))
}

func TestSaveVisitedPlace_RetryOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "u1")
	coll := remote.UserCollection("u1", remote.SubVisitedPlaces)

	f.remote.FailWrites(assert.AnError)
	assert.True(t, f.cache.SaveVisitedPlace(ctx, summary("a")), "held locally")
	assert.Equal(t, 0, f.remote.Count(coll))
	f.remote.FailWrites(nil)

	assert.Eventually(t, func() bool { return f.remote.Count(coll) == 1 },
		time.Second, 5*time.Millisecond)

	// The retry runs once only
	f.remote.FailWrites(assert.AnError)
	assert.True(t, f.cache.SaveVisitedPlace(ctx, summary("b")))
	writes := f.remote.Writes()
	assert.Eventually(t, func() bool { return f.remote.Writes() == writes+1 },
		time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, writes+1, f.remote.Writes())
}

func TestSaveVisitedPlace_BothTiersFail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "u1")
	f.local.FailWrites(assert.AnError)
	f.remote.FailWrites(assert.AnError)
	assert.False(t, f.cache.SaveVisitedPlace(ctx, summary("a")))
	f.cache.Close()
	assert.False(t, f.cache.IsPlaceVisited(ctx, "a"), "nothing holds the visit")

	f.local.FailWrites(nil)
	f.remote.FailWrites(nil)
	assert.True(t, f.cache.SaveVisitedPlace(ctx, summary("a")))
	assert.Equal(t, 1, f.remote.Count(remote.UserCollection("u1", remote.SubVisitedPlaces)))
	assert.Len(t, f.cache.localList(ctx), 1)
}

func TestSaveVisitedPlace_LocalFailureNotMemoized(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")
	f.local.FailWrites(assert.AnError)
	assert.False(t, f.cache.SaveVisitedPlace(ctx, summary("p1")))
	assert.False(t, f.cache.IsPlaceVisited(ctx, "p1"))

	f.local.FailWrites(nil)
	assert.True(t, f.cache.SaveVisitedPlace(ctx, summary("p1")))
	assert.True(t, f.cache.IsPlaceVisited(ctx, "p1"))
	list := f.cache.VisitedPlaces(ctx)
	require.Len(t, list, 1)
	assert.Equal(t, "p1", list[0].PlaceID)
}

func TestVisitedPlaces_Order(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")
	for i, id := range []string{"a", "b", "c"} {
		f.now = f.now.Add(time.Duration(i+1) * time.Hour)
		require.True(t, f.cache.SaveVisitedPlace(ctx, summary(id)))
	}
	list := f.cache.VisitedPlaces(ctx)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{list[0].PlaceID, list[1].PlaceID, list[2].PlaceID})
}
