package commands

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "nftwatch/internal/transport"
	"nftwatch/internal/transport/telegram/router"
	"nftwatch/internal/watcher"
	logx "nftwatch/pkg/logx"
)

type sent struct {
	text string
	opt  *kit.SendOptions
}

type fakeAdapter struct {
	mu      sync.Mutex
	texts   []sent
	edits   []sent
	answers []string
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, sent{text, opt})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.texts)}, nil
}

func (f *fakeAdapter) EditText(_ context.Context, _ kit.MessageRef, text string, opt *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, sent{text, opt})
	return nil
}

func (f *fakeAdapter) AnswerCallback(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
	return nil
}

type fakeWatcher struct {
	running  bool
	startErr error
	stopErr  error
	skin     string
	st       watcher.Status
}

func (w *fakeWatcher) Start(context.Context) error {
	if w.startErr != nil {
		return w.startErr
	}
	if w.running {
		return watcher.ErrAlreadyRunning
	}
	w.running = true
	return nil
}

func (w *fakeWatcher) Stop(context.Context) error {
	if !w.running {
		return watcher.ErrNotRunning
	}
	w.running = false
	return w.stopErr
}

func (w *fakeWatcher) Status() watcher.Status {
	st := w.st
	st.Running = w.running
	st.SkinFilter = w.skin
	return st
}

func (w *fakeWatcher) SetSkinFilter(v string) { w.skin = v }

type fakeIgnores struct{ n int }

func (f *fakeIgnores) ClearIgnored() int {
	n := f.n
	f.n = 0
	return n
}

func newReq(ad kit.Adapter, args ...string) *router.Request {
	return &router.Request{
		Chat:    kit.ChatTarget{ChatID: -100},
		Args:    args,
		Adapter: ad,
		Logger:  logx.Nop(),
	}
}

func cbReq(ad kit.Adapter) *router.Request {
	r := newReq(ad)
	r.Update = kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "cb", ChatID: -100, MessageID: 9}}
	return r
}

func buttons(opt *kit.SendOptions) []string {
	var out []string
	if opt == nil {
		return nil
	}
	for _, row := range opt.Keyboard {
		for _, b := range row {
			out = append(out, b.Data)
		}
	}
	return out
}

func testStatus() watcher.Status {
	return watcher.Status{
		Offset:    42,
		Intervals: watcher.Intervals{Poll: time.Second, Resolve: time.Second, Drain: 500 * time.Millisecond},
	}
}

func TestStartReplyCarriesOffsetAndControls(t *testing.T) {
	ad := &fakeAdapter{}
	w := &fakeWatcher{st: testStatus()}
	h := New(w, &fakeIgnores{})

	require.NoError(t, h.start(context.Background(), newReq(ad)))
	require.Len(t, ad.texts, 1)
	got := ad.texts[0]
	assert.Contains(t, got.text, "Watcher started")
	assert.Contains(t, got.text, "<code>42</code>")
	assert.Contains(t, got.text, "poll 1s · resolve 1s · drain 500ms")
	assert.Equal(t, "HTML", got.opt.ParseMode)
	assert.Equal(t, []string{"watch:stop", "watch:status"}, buttons(got.opt))

	require.NoError(t, h.start(context.Background(), newReq(ad)), "already running is not an error")
	assert.True(t, strings.HasPrefix(ad.texts[1].text, "ℹ️ Watcher is already running"))
}

func TestStartFailureReplies(t *testing.T) {
	ad := &fakeAdapter{}
	boom := errors.New("state unreadable")
	h := New(&fakeWatcher{startErr: boom}, &fakeIgnores{})

	err := h.start(context.Background(), newReq(ad))
	require.ErrorIs(t, err, boom)
	require.Len(t, ad.texts, 1)
	assert.Equal(t, "❌ Watcher failed to start: state unreadable", ad.texts[0].text)
	assert.Equal(t, []string{"watch:start"}, buttons(ad.texts[0].opt))
}

func TestStopReplyOffersRestart(t *testing.T) {
	ad := &fakeAdapter{}
	w := &fakeWatcher{running: true, st: testStatus()}
	h := New(w, &fakeIgnores{})

	require.NoError(t, h.stop(context.Background(), newReq(ad)))
	assert.Equal(t, "⏹ <b>Watcher stopped</b>\nLast offset: <code>42</code>", ad.texts[0].text)
	assert.Equal(t, []string{"watch:start"}, buttons(ad.texts[0].opt))

	require.NoError(t, h.stop(context.Background(), newReq(ad)))
	assert.Equal(t, "ℹ️ Watcher is not running", ad.texts[1].text)
}

func TestSkinCommands(t *testing.T) {
	ad := &fakeAdapter{}
	w := &fakeWatcher{}
	h := New(w, &fakeIgnores{})

	require.NoError(t, h.trackSkin(context.Background(), newReq(ad)))
	assert.Contains(t, ad.texts[0].text, "Usage")
	assert.Empty(t, w.skin)

	require.NoError(t, h.trackSkin(context.Background(), newReq(ad, "Light", "<b>")))
	assert.Equal(t, "Light <b>", w.skin)
	assert.Equal(t, "🎨 Tracking Skin Tone <b>Light &lt;b&gt;</b>", ad.texts[1].text)

	require.NoError(t, h.untrackSkin(context.Background(), newReq(ad)))
	assert.Empty(t, w.skin)
}

func TestClearIgnored(t *testing.T) {
	ad := &fakeAdapter{}
	ign := &fakeIgnores{n: 3}
	h := New(&fakeWatcher{}, ign)

	require.NoError(t, h.clearIgnored(context.Background(), newReq(ad)))
	assert.Equal(t, "🧹 Cleared 3 ignored item(s)", ad.texts[0].text)
	assert.Zero(t, ign.n)
}

func TestCallbacksEditInPlace(t *testing.T) {
	ad := &fakeAdapter{}
	w := &fakeWatcher{st: testStatus()}
	h := New(w, &fakeIgnores{})

	require.NoError(t, h.cbStart(context.Background(), cbReq(ad), ""))
	require.NoError(t, h.cbStop(context.Background(), cbReq(ad), ""))
	require.NoError(t, h.cbStatus(context.Background(), cbReq(ad), ""))

	assert.Empty(t, ad.texts)
	require.Len(t, ad.edits, 2)
	assert.Contains(t, ad.edits[0].text, "Watcher started")
	assert.Contains(t, ad.edits[1].text, "Watcher stopped")
	assert.Equal(t, []string{"stopped · offset 42 · pending 0 · queue 0 · sent 0"}, ad.answers)
}

func TestRoutesRegisterOnRouter(t *testing.T) {
	h := New(&fakeWatcher{}, &fakeIgnores{})
	cmds, cbs := h.Routes()
	for _, c := range cmds {
		assert.Equal(t, router.AccessOwnerOnly, c.Access, c.Name)
		assert.NotNil(t, c.Handle, c.Name)
	}
	assert.Len(t, cbs, 3)

	m := router.NewCommandManager(logx.Nop(), &fakeAdapter{}, []int64{1})
	m.SetRegistry(cmds, cbs)
}

func TestStatusText(t *testing.T) {
	st := testStatus()
	st.Collection = "Tribe & Co"
	st.Restarts = 2
	out := StatusText(st)
	assert.True(t, strings.HasPrefix(out, "🔴 <b>Watcher stopped</b>\n"))
	assert.Contains(t, out, "Collection: Tribe &amp; Co\n")
	assert.Contains(t, out, "Skin Tone: any\n")
	assert.True(t, strings.HasSuffix(out, "Watchdog restarts: 2"))
}
