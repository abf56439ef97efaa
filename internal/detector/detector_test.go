package detector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nftwatch/internal/ledger"
	"nftwatch/internal/nft"
	"nftwatch/internal/pending"
	logx "nftwatch/pkg/logx"
)

type fakeIndexer struct {
	ids     []string
	listErr error
	items   map[string]nft.Item
	paged   bool
	gets    []string
	offsets []int64
}

func (f *fakeIndexer) ListRecentItems(_ context.Context, offset int64, limit int) ([]string, error) {
	f.offsets = append(f.offsets, offset)
	if f.listErr != nil {
		return nil, f.listErr
	}
	if len(f.ids) > limit {
		return f.ids[:limit], nil
	}
	return f.ids, nil
}

func (f *fakeIndexer) GetItem(_ context.Context, id string) (nft.Item, error) {
	f.gets = append(f.gets, id)
	it, ok := f.items[id]
	if !ok {
		return nft.Item{}, errors.New("boom")
	}
	return it, nil
}

func (f *fakeIndexer) Paged() bool { return f.paged }

type memCursor struct{ off int64 }

func (c *memCursor) Offset() int64 { return c.off }
func (c *memCursor) Advance(_ context.Context, n int) error {
	c.off += int64(n)
	return nil
}

type sink struct{ got []string }

func (s *sink) Enqueue(_ context.Context, it nft.Item) { s.got = append(s.got, it.ID) }

type env struct {
	idx    *fakeIndexer
	led    *ledger.Ledger
	pend   *pending.Set
	sink   *sink
	cursor *memCursor
	skin   string
	det    *Detector
	now    time.Time
}

func newEnv(idx *fakeIndexer) *env {
	e := &env{idx: idx, pend: pending.NewSet(), sink: &sink{}, cursor: &memCursor{}, now: time.Unix(1_700_000_000, 0)}
	clock := func() time.Time { return e.now }
	e.led = ledger.New(nil, 10*time.Minute, ledger.WithClock(clock))
	e.det = New(idx, e.led, e.pend, e.sink, e.cursor, Config{
		Limit:      5,
		Rules:      nft.Rules{CollectionName: "Orcs"},
		SkinFilter: func() string { return e.skin },
		Now:        clock,
	}, logx.Nop())
	return e
}

func orc(id string, sale nft.SaleState) nft.Item {
	return nft.Item{ID: id, CollectionName: "Orcs", Sale: sale,
		Attributes: []nft.Attribute{{TraitType: "Skin Tone", Value: "Urban"}}}
}

func TestTickRoutesItems(t *testing.T) {
	idx := &fakeIndexer{
		ids: []string{"0:priced", "0:unpriced", "0:elf", "0:broken"},
		items: map[string]nft.Item{
			"0:priced":   orc("0:priced", nft.PricedNano(2*nft.NanoPerTON)),
			"0:unpriced": orc("0:unpriced", nft.Unpriced()),
			"0:elf":      {ID: "0:elf", CollectionName: "Elves"},
		},
	}
	e := newEnv(idx)

	sum, ok := e.det.Tick(context.Background())
	require.True(t, ok)
	assert.Equal(t, 4, sum.Listed)
	assert.Equal(t, 1, sum.Queued)
	assert.Equal(t, 1, sum.Pending)
	assert.Equal(t, 1, sum.Rejected)
	assert.Equal(t, 1, sum.Failed)

	assert.Equal(t, []string{"0:priced"}, e.sink.got)
	assert.True(t, e.pend.Has("0:unpriced"))
	assert.True(t, e.led.IsIgnored("0:elf"))
	assert.False(t, e.led.IsIgnored("0:broken"), "fetch failures are retried next tick")
	assert.False(t, e.led.ShouldDeliver(context.Background(), "0:priced", "2"))
}

func TestSecondTickSkipsIgnoredAndDuplicates(t *testing.T) {
	idx := &fakeIndexer{
		ids: []string{"0:priced", "0:elf", "0:unpriced"},
		items: map[string]nft.Item{
			"0:priced":   orc("0:priced", nft.PricedNano(nft.NanoPerTON)),
			"0:elf":      {ID: "0:elf", CollectionName: "Elves"},
			"0:unpriced": orc("0:unpriced", nft.Unpriced()),
		},
	}
	e := newEnv(idx)
	e.det.Tick(context.Background())
	first, _ := e.pend.Get("0:unpriced")
	idx.gets = nil

	e.now = e.now.Add(time.Minute)
	sum, _ := e.det.Tick(context.Background())
	assert.Equal(t, 1, sum.Ignored)
	assert.Equal(t, 1, sum.Duplicate)
	assert.NotContains(t, idx.gets, "0:elf")
	assert.Len(t, e.sink.got, 1)

	again, _ := e.pend.Get("0:unpriced")
	assert.Equal(t, first.FirstSeen, again.FirstSeen, "first seen is not refreshed")
}

func TestPriceChangeRequeues(t *testing.T) {
	idx := &fakeIndexer{ids: []string{"0:a"}, items: map[string]nft.Item{"0:a": orc("0:a", nft.PricedNano(nft.NanoPerTON))}}
	e := newEnv(idx)
	e.det.Tick(context.Background())

	idx.items["0:a"] = orc("0:a", nft.PricedNano(2*nft.NanoPerTON))
	e.det.Tick(context.Background())
	assert.Equal(t, []string{"0:a", "0:a"}, e.sink.got)
}

func TestSkinFilterSkipsWithoutIgnoring(t *testing.T) {
	idx := &fakeIndexer{ids: []string{"0:a"}, items: map[string]nft.Item{"0:a": orc("0:a", nft.PricedNano(nft.NanoPerTON))}}
	e := newEnv(idx)
	e.skin = "forest"

	sum, _ := e.det.Tick(context.Background())
	assert.Equal(t, 1, sum.Filtered)
	assert.False(t, e.led.IsIgnored("0:a"))
	assert.Empty(t, e.sink.got)

	e.skin = "URBAN"
	e.det.Tick(context.Background())
	assert.Equal(t, []string{"0:a"}, e.sink.got)
}

func TestPricedItemClearsPending(t *testing.T) {
	idx := &fakeIndexer{ids: []string{"0:a"}, items: map[string]nft.Item{"0:a": orc("0:a", nft.Unpriced())}}
	e := newEnv(idx)
	e.det.Tick(context.Background())
	require.True(t, e.pend.Has("0:a"))

	idx.items["0:a"] = orc("0:a", nft.PricedNano(5*nft.NanoPerTON))
	e.det.Tick(context.Background())
	assert.False(t, e.pend.Has("0:a"))
}

func TestCursorAdvancesUntilFirstFailure(t *testing.T) {
	idx := &fakeIndexer{
		paged: true,
		ids:   []string{"0:a", "0:b", "0:broken", "0:c"},
		items: map[string]nft.Item{
			"0:a": orc("0:a", nft.Unpriced()),
			"0:b": orc("0:b", nft.Unpriced()),
			"0:c": orc("0:c", nft.Unpriced()),
		},
	}
	e := newEnv(idx)
	e.cursor.off = 40

	sum, _ := e.det.Tick(context.Background())
	assert.Equal(t, 2, sum.Advanced)
	assert.Equal(t, int64(42), sum.Offset)
	assert.Equal(t, int64(40), idx.offsets[0])
	assert.True(t, e.pend.Has("0:c"), "items after a failure are still processed")
}

func TestUnpagedSourceNeverAdvances(t *testing.T) {
	idx := &fakeIndexer{ids: []string{"0:a"}, items: map[string]nft.Item{"0:a": orc("0:a", nft.Unpriced())}}
	e := newEnv(idx)
	sum, _ := e.det.Tick(context.Background())
	assert.Zero(t, sum.Advanced)
	assert.Zero(t, e.cursor.off)
}

func TestListFailureSkipsTick(t *testing.T) {
	e := newEnv(&fakeIndexer{listErr: errors.New("throttled")})
	sum, ok := e.det.Tick(context.Background())
	assert.True(t, ok)
	assert.True(t, sum.ListFailed)
}

func TestTickIsNotReentrant(t *testing.T) {
	e := newEnv(&fakeIndexer{})
	e.det.running.Store(true)
	_, ok := e.det.Tick(context.Background())
	assert.False(t, ok)
}
