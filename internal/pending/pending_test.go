package pending

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nftwatch/internal/ledger"
	"nftwatch/internal/nft"
	logx "nftwatch/pkg/logx"
)

type fakeSource struct {
	mu    sync.Mutex
	items map[string]nft.Item
	errs  map[string]error
	calls map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{items: map[string]nft.Item{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeSource) put(it nft.Item) {
	f.mu.Lock()
	f.items[it.ID] = it
	f.mu.Unlock()
}

func (f *fakeSource) GetItem(_ context.Context, id string) (nft.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id]++
	if err := f.errs[id]; err != nil {
		return nft.Item{}, err
	}
	it, ok := f.items[id]
	if !ok {
		return nft.Item{}, errors.New("not found")
	}
	return it, nil
}

type sink struct{ got []nft.Item }

func (s *sink) Enqueue(_ context.Context, it nft.Item) { s.got = append(s.got, it) }

type env struct {
	now  time.Time
	set  *Set
	src  *fakeSource
	led  *ledger.Ledger
	sink *sink
	res  *Resolver
	skin string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC), set: NewSet(), src: newFakeSource(), sink: &sink{}}
	clock := func() time.Time { return e.now }
	e.led = ledger.New(ledger.NewMemory(), 10*time.Minute, ledger.WithClock(clock))
	e.res = NewResolver(e.set, e.src, e.led, e.sink, Config{
		MaxAge:     5 * time.Minute,
		Rules:      nft.Rules{CollectionName: "Orcs"},
		SkinFilter: func() string { return e.skin },
		Now:        clock,
	}, logx.Nop())
	return e
}

func orc(id string, sale nft.SaleState, skin string) nft.Item {
	it := nft.Item{ID: id, CollectionName: "Orcs", Sale: sale}
	if skin != "" {
		it.Attributes = []nft.Attribute{{TraitType: "Skin Tone", Value: skin}}
	}
	return it
}

func TestSetAddKeepsFirstSeen(t *testing.T) {
	s := NewSet()
	t0 := time.Unix(100, 0)
	require.True(t, s.Add("0:ABC", t0))
	require.False(t, s.Add("0:abc", t0.Add(time.Minute)))
	e, ok := s.Get("0:abc")
	require.True(t, ok)
	assert.Equal(t, t0, e.FirstSeen)
	assert.Equal(t, "0:ABC", e.ID)
	assert.False(t, s.Add("  ", t0))
	assert.Equal(t, 1, s.Clear())
}

func TestExpiredEntryIsIgnoredAndNeverDelivered(t *testing.T) {
	e := newEnv(t)
	e.src.put(orc("0:x", nft.Unpriced(), ""))
	e.set.Add("0:x", e.now)

	e.now = e.now.Add(5*time.Minute + time.Millisecond)
	sum, ok := e.res.Tick(context.Background())
	require.True(t, ok)

	assert.Equal(t, 1, sum.Expired)
	assert.False(t, e.set.Has("0:x"))
	assert.True(t, e.led.IsIgnored("0:x"))
	assert.Empty(t, e.sink.got)
	assert.Zero(t, e.src.calls["0:x"], "expiry is decided before fetching")

	// Even if it gets priced later it stays out.
	e.src.put(orc("0:x", nft.PricedNano(nft.NanoPerTON), ""))
	e.res.Tick(context.Background())
	assert.Empty(t, e.sink.got)
}

func TestPricedEntryIsPromoted(t *testing.T) {
	e := newEnv(t)
	e.set.Add("0:x", e.now)
	e.src.put(orc("0:x", nft.Unpriced(), ""))

	sum, _ := e.res.Tick(context.Background())
	assert.Equal(t, Summary{Checked: 1, Remaining: 1}, sum)

	e.src.put(orc("0:x", nft.PricedNano(3*nft.NanoPerTON), ""))
	sum, _ = e.res.Tick(context.Background())
	assert.Equal(t, 1, sum.Promoted)
	require.Len(t, e.sink.got, 1)
	assert.False(t, e.set.Has("0:x"))
	assert.False(t, e.led.ShouldDeliver(context.Background(), "0:x", "3"))
}

func TestFetchFailureLeavesEntry(t *testing.T) {
	e := newEnv(t)
	e.set.Add("0:x", e.now)
	e.src.errs["0:x"] = errors.New("timeout")

	sum, _ := e.res.Tick(context.Background())
	assert.Equal(t, 1, sum.FetchFailed)
	assert.True(t, e.set.Has("0:x"))
	assert.False(t, e.led.IsIgnored("0:x"))
}

func TestDisqualification(t *testing.T) {
	e := newEnv(t)
	e.skin = "urban"
	e.set.Add("0:wrong", e.now)
	e.set.Add("0:skin", e.now.Add(time.Second))
	e.set.Add("0:ok", e.now.Add(2*time.Second))
	e.src.put(nft.Item{ID: "0:wrong", CollectionName: "Elves", Sale: nft.PricedNano(1)})
	e.src.put(orc("0:skin", nft.PricedNano(1), "Forest"))
	e.src.put(orc("0:ok", nft.PricedNano(1), "Urban"))

	sum, _ := e.res.Tick(context.Background())
	assert.Equal(t, 2, sum.Disqualified)
	assert.Equal(t, 1, sum.Promoted)
	assert.True(t, e.led.IsIgnored("0:wrong"))
	assert.True(t, e.led.IsIgnored("0:skin"))
	assert.Zero(t, e.set.Len())
}

func TestIgnoredEntryIsDropped(t *testing.T) {
	e := newEnv(t)
	e.set.Add("0:x", e.now)
	e.led.Ignore("0:X")
	sum, _ := e.res.Tick(context.Background())
	assert.Equal(t, 1, sum.Dropped)
	assert.Zero(t, e.set.Len())
}

func TestTickIsNotReentrant(t *testing.T) {
	e := newEnv(t)
	e.res.busy.Store(true)
	_, ok := e.res.Tick(context.Background())
	assert.False(t, ok)
}
