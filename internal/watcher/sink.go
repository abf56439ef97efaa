package watcher

import (
	"context"
	"sync"
	"time"

	"nftwatch/internal/caption"
	"nftwatch/internal/delivery"
	"nftwatch/internal/nft"
	"nftwatch/internal/scoring"
)

// scoredSink scores promoted items and pushes them to the delivery queue.
type scoredSink struct {
	q      *delivery.Queue
	scores *scoring.Store
	now    func() time.Time
}

func (s scoredSink) Enqueue(_ context.Context, it nft.Item) {
	s.q.Push(delivery.Job{
		Item:       it,
		Score:      scoring.Score(it, s.scores.Get()),
		EnqueuedAt: s.now(),
	})
}

// ImagePoster posts a caption with an optional image.
// *notifier.Service implements it.
type ImagePoster interface {
	SendImage(ctx context.Context, imageRef, caption string) error
}

// CaptionSender renders the caption for a job and posts it.
type CaptionSender struct {
	out ImagePoster

	mu  sync.RWMutex
	r   *caption.Renderer
	opt caption.Options
}

func NewCaptionSender(out ImagePoster, r *caption.Renderer, opt caption.Options) *CaptionSender {
	return &CaptionSender{out: out, r: r, opt: opt}
}

// Set swaps the template and options, e.g. on config reload.
func (s *CaptionSender) Set(r *caption.Renderer, opt caption.Options) {
	s.mu.Lock()
	if r != nil {
		s.r = r
	}
	s.opt = opt
	s.mu.Unlock()
}

func (s *CaptionSender) Send(ctx context.Context, j delivery.Job) error {
	s.mu.RLock()
	r, opt := s.r, s.opt
	s.mu.RUnlock()

	text, err := r.Render(caption.Build(j.Item, j.Score, opt))
	if err != nil {
		return err
	}
	return s.out.SendImage(ctx, j.Item.ImageRef, text)
}
