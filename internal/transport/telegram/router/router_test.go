package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "nftwatch/internal/transport"
	logx "nftwatch/pkg/logx"
)

type fakeAdapter struct {
	mu      sync.Mutex
	texts   []string
	answers []string
	menu    []kit.BotCommand
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }
func (f *fakeAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.texts)}, nil
}

func (f *fakeAdapter) AnswerCallback(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
	return nil
}

func (f *fakeAdapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.menu = cmds
	return nil
}

func (f *fakeAdapter) snapshot() ([]string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...), append([]string(nil), f.answers...)
}

func msg(from int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: -100, FromID: from, Text: text}}
}

func callback(from int64, data string) kit.Update {
	return kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "cb1", ChatID: -100, FromID: from, Data: data}}
}

func start(t *testing.T, m *CommandManager) chan<- kit.Update {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.DispatchLoop(ctx, updates)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return updates
}

func TestOwnerOnlyCommands(t *testing.T) {
	ad := &fakeAdapter{}
	m := NewCommandManager(logx.Nop(), ad, []int64{1})
	var got []string
	var mu sync.Mutex
	m.SetRegistry([]Command{{
		Name:    "watch_start",
		Aliases: []string{"ws"},
		Access:  AccessOwnerOnly,
		Handle: func(ctx context.Context, req *Request) error {
			mu.Lock()
			got = append(got, req.Command)
			mu.Unlock()
			return nil
		},
	}}, nil)
	updates := start(t, m)

	updates <- msg(2, "/watch_start")
	updates <- msg(1, "/watch_start@nftwatch_bot")
	updates <- msg(1, "/ws")
	updates <- msg(1, "hello")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"watch_start", "watch_start"}, got)
	texts, _ := ad.snapshot()
	assert.Equal(t, []string{"⛔ owner only"}, texts)
}

func TestCallbacksRequireOwner(t *testing.T) {
	ad := &fakeAdapter{}
	m := NewCommandManager(logx.Nop(), ad, []int64{1})
	payloads := make(chan string, 2)
	m.SetRegistry(nil, []CallbackRoute{{
		Group:  "watch",
		Action: "status",
		Handle: func(ctx context.Context, req *Request, payload string) error {
			payloads <- payload
			return nil
		},
	}})
	updates := start(t, m)

	updates <- callback(2, "watch:status")
	updates <- callback(1, "watch:status:x")

	select {
	case p := <-payloads:
		assert.Equal(t, "x", p)
	case <-time.After(2 * time.Second):
		t.Fatal("callback not handled")
	}
	require.Eventually(t, func() bool {
		_, answers := ad.snapshot()
		return len(answers) == 2
	}, time.Second, 5*time.Millisecond)
	_, answers := ad.snapshot()
	assert.Equal(t, []string{"forbidden", ""}, answers)
}

func TestRestrictToChat(t *testing.T) {
	ad := &fakeAdapter{}
	m := NewCommandManager(logx.Nop(), ad, []int64{1})
	m.SetRegistry(nil, nil)
	m.RestrictToChat(-200)
	updates := start(t, m)

	updates <- msg(1, "/help")
	time.Sleep(50 * time.Millisecond)
	texts, _ := ad.snapshot()
	assert.Empty(t, texts)

	m.RestrictToChat(0)
	updates <- msg(1, "/help")
	require.Eventually(t, func() bool {
		texts, _ := ad.snapshot()
		return len(texts) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHelpAndMenu(t *testing.T) {
	ad := &fakeAdapter{}
	m := NewCommandManager(logx.Nop(), ad, nil)
	noop := func(context.Context, *Request) error { return nil }
	m.SetRegistry([]Command{
		{Name: "watch_status", Description: "watcher status", Access: AccessOwnerOnly, Handle: noop},
		{Name: "Track-Skin", Usage: "/track_skin <value>", Description: "filter by <skin>", Access: AccessOwnerOnly, Handle: noop},
		{Name: "broken"},
	}, nil)

	help := m.helpText()
	assert.Contains(t, help, "<code>/watch_status</code> · watcher status")
	assert.Contains(t, help, "<code>/track_skin &lt;value&gt;</code> · filter by &lt;skin&gt;")
	assert.NotContains(t, help, "broken")

	require.NoError(t, m.PublishMenu(context.Background()))
	require.Len(t, ad.menu, 3)
	assert.Equal(t, kit.BotCommand{Command: "track_skin", Description: "🔒 filter by <skin>"}, ad.menu[1])
	assert.Equal(t, "help", ad.menu[2].Command)
}

func TestSanitizeTelegramCommand(t *testing.T) {
	tests := map[string]string{
		"watch_start":  "watch_start",
		" Watch-Stop ": "watch_stop",
		"a  b":         "a_b",
		"__x__":        "x",
		"ok!?":         "ok",
	}
	for in, want := range tests {
		assert.Equal(t, want, sanitizeTelegramCommand(in), in)
	}
}
