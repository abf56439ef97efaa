package notifier

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nftwatch/internal/eventbus"
	"nftwatch/internal/media"
	kit "nftwatch/internal/transport"
	logx "nftwatch/pkg/logx"
)

type sent struct {
	kind string // "text" | "photo"
	to   kit.ChatTarget
	text string
	url  string
	data []byte
}

type fakeAdapter struct {
	mu       sync.Mutex
	sent     []sent
	textErrs int
	photoErr error
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }
func (f *fakeAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}
func (f *fakeAdapter) AnswerCallback(context.Context, string, string) error { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.textErrs > 0 {
		f.textErrs--
		return kit.MessageRef{}, errors.New("telegram: 502")
	}
	f.sent = append(f.sent, sent{kind: "text", to: to, text: text})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) SendPhoto(_ context.Context, to kit.ChatTarget, p kit.Photo, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.photoErr != nil {
		return kit.MessageRef{}, f.photoErr
	}
	s := sent{kind: "photo", to: to, text: p.Caption, url: p.URL}
	if p.Data != nil {
		s.data, _ = io.ReadAll(p.Data)
	}
	f.sent = append(f.sent, s)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) all() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

type fakeImages struct {
	passthrough bool
	err         error
}

func (f fakeImages) Passthrough() bool            { return f.passthrough }
func (f fakeImages) ResolveURL(ref string) string { return media.ResolveURL(ref, "https://gw/ipfs/") }
func (f fakeImages) Fetch(_ context.Context, ref string) (media.Image, error) {
	if f.err != nil {
		return media.Image{}, f.err
	}
	return media.Image{Data: []byte("jpeg:" + ref)}, nil
}

var target = kit.ChatTarget{ChatID: -100, ThreadID: 7}

func newService(ad kit.Adapter, cfg Config, opts ...Option) *Service {
	opts = append([]Option{WithTarget(target)}, opts...)
	return New(cfg, ad, logx.Nop(), nil, opts...)
}

func TestSendImageUploadsFetchedImage(t *testing.T) {
	ad := &fakeAdapter{}
	s := newService(ad, Config{}, WithImages(fakeImages{}))

	require.NoError(t, s.SendImage(context.Background(), "ipfs://Qm/1.png", "<b>Orc</b>"))
	got := ad.all()
	require.Len(t, got, 1)
	assert.Equal(t, "photo", got[0].kind)
	assert.Equal(t, target, got[0].to)
	assert.Equal(t, "<b>Orc</b>", got[0].text)
	assert.Equal(t, []byte("jpeg:ipfs://Qm/1.png"), got[0].data)
}

func TestSendImagePassthroughUsesURL(t *testing.T) {
	ad := &fakeAdapter{}
	s := newService(ad, Config{}, WithImages(fakeImages{passthrough: true}))

	require.NoError(t, s.SendImage(context.Background(), "ipfs://Qm/1.png", "x"))
	got := ad.all()
	require.Len(t, got, 1)
	assert.Equal(t, "https://gw/ipfs/Qm/1.png", got[0].url)
	assert.Nil(t, got[0].data)
}

func TestSendImageTruncatesCaption(t *testing.T) {
	ad := &fakeAdapter{}
	s := newService(ad, Config{}, WithImages(fakeImages{}))

	var b strings.Builder
	for i := 0; i < 60; i++ {
		b.WriteString("• Attribute: some long value⚡10\n")
	}
	require.NoError(t, s.SendImage(context.Background(), "https://cdn/1.png", b.String()))

	got := ad.all()
	require.Len(t, got, 1)
	assert.LessOrEqual(t, utf8.RuneCountInString(got[0].text), 1024)
	assert.True(t, strings.HasSuffix(got[0].text, "\n…"), "cut at a line break")
}

func TestSendImageFallsBackToText(t *testing.T) {
	tests := []struct {
		name   string
		ref    string
		images ImageSource
		ad     *fakeAdapter
	}{
		{"empty ref", "", fakeImages{}, &fakeAdapter{}},
		{"no image source", "https://cdn/1.png", nil, &fakeAdapter{}},
		{"fetch fails", "https://cdn/1.png", fakeImages{err: errors.New("404")}, &fakeAdapter{}},
		{"photo fails", "https://cdn/1.png", fakeImages{}, &fakeAdapter{photoErr: errors.New("wrong file type")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newService(tt.ad, Config{}, WithImages(tt.images))
			require.NoError(t, s.SendImage(context.Background(), tt.ref, "caption"))
			got := tt.ad.all()
			require.Len(t, got, 1)
			assert.Equal(t, "text", got[0].kind)
			assert.Equal(t, "caption", got[0].text)
		})
	}
}

func TestSendImageWithoutTarget(t *testing.T) {
	s := New(Config{}, &fakeAdapter{}, logx.Nop(), nil)
	assert.ErrorIs(t, s.SendImage(context.Background(), "", "x"), ErrNoTarget)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNotifyRetriesAndPrefixes(t *testing.T) {
	ad := &fakeAdapter{textErrs: 2}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	s := New(Config{Enabled: true, RatePerSec: 100, RetryMax: 3, RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond},
		ad, logx.Nop(), bus, WithTarget(target))
	s.Start(context.Background())
	defer s.Stop(context.Background())

	require.NoError(t, s.Notify(context.Background(), LevelError, "watcher failed to start"))
	waitFor(t, func() bool { return len(ad.all()) == 1 })
	assert.Equal(t, "🚨 watcher failed to start", ad.all()[0].text)

	select {
	case ev := <-events:
		assert.Equal(t, eventbus.NotifierSent, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no notifier.sent event")
	}
	assert.Len(t, s.Snapshot(), 1)
}

func TestNotifyDedupWindow(t *testing.T) {
	ad := &fakeAdapter{}
	s := newService(ad, Config{Enabled: true, RatePerSec: 100, DedupWindow: time.Minute})
	s.Start(context.Background())

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Notify(context.Background(), LevelInfo, "watcher started"))
	}
	require.NoError(t, s.Notify(context.Background(), LevelInfo, "watcher stopped"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)

	var texts []string
	for _, m := range ad.all() {
		texts = append(texts, m.text)
	}
	assert.ElementsMatch(t, []string{"watcher started", "watcher stopped"}, texts)
}

func TestNotifyLifecycle(t *testing.T) {
	s := newService(&fakeAdapter{}, Config{Enabled: false})
	assert.ErrorIs(t, s.Notify(context.Background(), LevelInfo, "x"), ErrDisabled)

	s.Apply(Config{Enabled: true})
	assert.ErrorIs(t, s.Notify(context.Background(), LevelInfo, "x"), ErrStopped)

	s.Start(context.Background())
	require.NoError(t, s.Notify(context.Background(), LevelInfo, "x"))
	s.Stop(context.Background())
	assert.ErrorIs(t, s.Notify(context.Background(), LevelInfo, "y"), ErrStopped)
}

func TestRetryDelayIsCapped(t *testing.T) {
	cfg := Config{RetryBase: time.Second, RetryMaxDelay: 3 * time.Second}
	for attempt := 1; attempt <= 6; attempt++ {
		d := retryDelay(cfg, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 3*time.Second)
	}
}
