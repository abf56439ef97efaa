// Package commands holds the owner-only Telegram commands that drive the watcher.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	kit "nftwatch/internal/transport"
	"nftwatch/internal/transport/telegram/router"
	"nftwatch/internal/watcher"
	"nftwatch/pkg/tgui"
)

// Watcher is the controller surface the commands use.
type Watcher interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() watcher.Status
	SetSkinFilter(v string)
}

// Ignores clears the permanent ignore set.
type Ignores interface {
	ClearIgnored() int
}

type Handlers struct {
	w   Watcher
	ign Ignores
}

func New(w Watcher, ign Ignores) *Handlers { return &Handlers{w: w, ign: ign} }

const cbGroup = "watch"

var htmlOpt = &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}

// Routes returns the commands and inline callbacks to register on the router.
func (h *Handlers) Routes() ([]router.Command, []router.CallbackRoute) {
	owner := router.AccessOwnerOnly
	cmds := []router.Command{
		{Name: "watch_start", Description: "start the watcher", Access: owner, Timeout: 15 * time.Second, Handle: h.start},
		{Name: "watch_stop", Description: "stop the watcher", Access: owner, Timeout: 15 * time.Second, Handle: h.stop},
		{Name: "watch_status", Description: "watcher status", Access: owner, Handle: h.status},
		{Name: "track_skin", Usage: "/track_skin <value>", Description: "only deliver this Skin Tone", Access: owner, Handle: h.trackSkin},
		{Name: "untrack_skin", Description: "deliver every Skin Tone", Access: owner, Handle: h.untrackSkin},
		{Name: "clear_ignored", Description: "forget ignored items", Access: owner, Handle: h.clearIgnored},
	}
	cbs := []router.CallbackRoute{
		{Group: cbGroup, Action: "start", Timeout: 15 * time.Second, Handle: h.cbStart},
		{Group: cbGroup, Action: "stop", Timeout: 15 * time.Second, Handle: h.cbStop},
		{Group: cbGroup, Action: "status", Handle: h.cbStatus},
	}
	return cmds, cbs
}

func (h *Handlers) start(ctx context.Context, req *router.Request) error {
	text, kb, err := h.doStart(ctx)
	if _, serr := req.Adapter.SendText(ctx, req.Chat, text, withKeyboard(kb)); serr != nil {
		return serr
	}
	return err
}

func (h *Handlers) stop(ctx context.Context, req *router.Request) error {
	text, kb, err := h.doStop(ctx)
	if _, serr := req.Adapter.SendText(ctx, req.Chat, text, withKeyboard(kb)); serr != nil {
		return serr
	}
	return err
}

func (h *Handlers) status(ctx context.Context, req *router.Request) error {
	st := h.w.Status()
	kb := runningKeyboard
	if !st.Running {
		kb = stoppedKeyboard
	}
	_, err := req.Adapter.SendText(ctx, req.Chat, StatusText(st), withKeyboard(kb))
	return err
}

func (h *Handlers) trackSkin(ctx context.Context, req *router.Request) error {
	v := strings.TrimSpace(strings.Join(req.Args, " "))
	if v == "" {
		_, err := req.Reply(ctx, "Usage: <code>/track_skin &lt;value&gt;</code>", nil)
		return err
	}
	h.w.SetSkinFilter(v)
	_, err := req.Reply(ctx, "🎨 Tracking Skin Tone "+tgui.B(v).String(), nil)
	return err
}

func (h *Handlers) untrackSkin(ctx context.Context, req *router.Request) error {
	h.w.SetSkinFilter("")
	_, err := req.Reply(ctx, "🎨 Skin Tone filter cleared", nil)
	return err
}

func (h *Handlers) clearIgnored(ctx context.Context, req *router.Request) error {
	n := h.ign.ClearIgnored()
	_, err := req.Reply(ctx, fmt.Sprintf("🧹 Cleared %d ignored item(s)", n), nil)
	return err
}

func (h *Handlers) cbStart(ctx context.Context, req *router.Request, _ string) error {
	text, kb, err := h.doStart(ctx)
	if eerr := editCallbackMessage(ctx, req, text, kb); eerr != nil {
		return eerr
	}
	return err
}

func (h *Handlers) cbStop(ctx context.Context, req *router.Request, _ string) error {
	text, kb, err := h.doStop(ctx)
	if eerr := editCallbackMessage(ctx, req, text, kb); eerr != nil {
		return eerr
	}
	return err
}

func (h *Handlers) cbStatus(ctx context.Context, req *router.Request, _ string) error {
	cb := req.Update.Callback
	if cb == nil {
		return nil
	}
	return req.Adapter.AnswerCallback(ctx, cb.ID, StatusToast(h.w.Status()))
}

// doStart returns the reply text and keyboard. ErrAlreadyRunning is not an error for the user.
func (h *Handlers) doStart(ctx context.Context) (string, [][]kit.Button, error) {
	err := h.w.Start(ctx)
	st := h.w.Status()
	switch {
	case errors.Is(err, watcher.ErrAlreadyRunning):
		return "ℹ️ Watcher is already running\n\n" + StatusText(st), runningKeyboard, nil
	case err != nil:
		return "❌ Watcher failed to start: " + tgui.Esc(err.Error()).String(), stoppedKeyboard, err
	}
	return fmt.Sprintf("▶️ <b>Watcher started</b>\nOffset: <code>%d</code>\nIntervals: poll %s · resolve %s · drain %s",
		st.Offset, st.Intervals.Poll, st.Intervals.Resolve, st.Intervals.Drain), runningKeyboard, nil
}

func (h *Handlers) doStop(ctx context.Context) (string, [][]kit.Button, error) {
	err := h.w.Stop(ctx)
	st := h.w.Status()
	switch {
	case errors.Is(err, watcher.ErrNotRunning):
		return "ℹ️ Watcher is not running", stoppedKeyboard, nil
	case err != nil:
		return fmt.Sprintf("⚠️ Watcher stopped, but saving failed: %s\nOffset: <code>%d</code>", tgui.Esc(err.Error()), st.Offset), stoppedKeyboard, err
	}
	return fmt.Sprintf("⏹ <b>Watcher stopped</b>\nLast offset: <code>%d</code>", st.Offset), stoppedKeyboard, nil
}

var (
	runningKeyboard = [][]kit.Button{{
		{Text: "⏹ Stop", Data: tgui.Data(cbGroup, "stop", "")},
		{Text: "📊 Status", Data: tgui.Data(cbGroup, "status", "")},
	}}
	stoppedKeyboard = [][]kit.Button{{
		{Text: "▶️ Start again", Data: tgui.Data(cbGroup, "start", "")},
	}}
)

func withKeyboard(kb [][]kit.Button) *kit.SendOptions {
	opt := *htmlOpt
	opt.Keyboard = kb
	return &opt
}

func editCallbackMessage(ctx context.Context, req *router.Request, text string, kb [][]kit.Button) error {
	cb := req.Update.Callback
	if cb == nil {
		return nil
	}
	ref := kit.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}
	return req.Adapter.EditText(ctx, ref, text, withKeyboard(kb))
}
