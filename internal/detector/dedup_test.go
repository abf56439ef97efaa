package detector

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
	"nftwatch/internal/pending"
	logx "nftwatch/pkg/logx"
)

// barrierSource holds every GetItem until parties callers are inside it, so
// the poll and resolve ticks look at the same item at the same moment.
type barrierSource struct {
	item    nft.Item
	parties int

	mu      sync.Mutex
	arrived int
	release chan struct{}
}

func newBarrierSource(it nft.Item, parties int) *barrierSource {
	return &barrierSource{item: it, parties: parties, release: make(chan struct{})}
}

func (b *barrierSource) ListRecentItems(context.Context, int64, int) ([]string, error) {
	return []string{b.item.ID}, nil
}

func (b *barrierSource) GetItem(ctx context.Context, _ string) (nft.Item, error) {
	b.mu.Lock()
	b.arrived++
	if b.arrived == b.parties {
		close(b.release)
	}
	b.mu.Unlock()

	select {
	case <-b.release:
	case <-time.After(2 * time.Second):
	case <-ctx.Done():
		return nft.Item{}, ctx.Err()
	}
	return b.item, nil
}

func (b *barrierSource) Paged() bool { return false }

type lockedSink struct {
	mu  sync.Mutex
	got []string
}

func (s *lockedSink) Enqueue(_ context.Context, it nft.Item) {
	s.mu.Lock()
	s.got = append(s.got, it.ID)
	s.mu.Unlock()
}

func TestPollAndResolveDeliverOnce(t *testing.T) {
	for i := 0; i < 20; i++ {
		ctx := context.Background()
		now := time.Unix(1_700_000_000, 0)
		clock := func() time.Time { return now }
		rules := nft.Rules{CollectionName: "Orcs"}

		src := newBarrierSource(orc("0:abc", nft.PricedNano(5*nft.NanoPerTON)), 2)
		led := ledger.New(nil, 10*time.Minute, ledger.WithClock(clock))
		pend := pending.NewSet()
		pend.Add("0:abc", now)
		out := &lockedSink{}

		det := New(src, led, pend, out, nil, Config{Limit: 5, Rules: rules, Now: clock}, logx.Nop())
		res := pending.NewResolver(pend, src, led, out, pending.Config{Rules: rules, Now: clock}, logx.Nop())

		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); det.Tick(ctx) }()
		go func() { defer wg.Done(); res.Tick(ctx) }()
		wg.Wait()

		require.Equal(t, []string{"0:abc"}, out.got, "run %d", i)
		assert.False(t, pend.Has("0:abc"))
	}
}

// refusingBackend answers lookups but fails every write.
type refusingBackend struct{ *ledger.Memory }

func (refusingBackend) Reserve(context.Context, string, time.Time, time.Duration) (bool, error) {
	return false, errors.New("READONLY")
}

func TestLedgerWriteFailureDoesNotEnqueue(t *testing.T) {
	idx := &fakeIndexer{ids: []string{"0:a"}, items: map[string]nft.Item{"0:a": orc("0:a", nft.PricedNano(nft.NanoPerTON))}}
	out := &sink{}
	led := ledger.New(refusingBackend{ledger.NewMemory()}, time.Minute)
	det := New(idx, led, pending.NewSet(), out, nil, Config{Rules: nft.Rules{CollectionName: "Orcs"}}, logx.Nop())

	sum, ok := det.Tick(context.Background())
	require.True(t, ok)
	assert.Empty(t, out.got, "an item that could not be marked must not be queued")
	assert.Zero(t, sum.Queued)
	assert.False(t, led.IsIgnored("0:a"), "retried on a later tick")
}
