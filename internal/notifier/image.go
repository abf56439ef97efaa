package notifier

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"nftwatch/internal/media"
	kit "nftwatch/internal/transport"
	logx "nftwatch/pkg/logx"
	"nftwatch/pkg/tgui"
)

// ImageSource turns an item image reference into an uploadable image.
// *media.Fetcher implements it.
type ImageSource interface {
	Passthrough() bool
	ResolveURL(ref string) string
	Fetch(ctx context.Context, ref string) (media.Image, error)
}

var htmlOpts = &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}

// SendImage posts caption with the image at imageRef to the default target.
// The caption is cut to the photo caption limit at a line break. Without an
// image, or when the photo cannot be sent, the caption goes out as text.
func (s *Service) SendImage(ctx context.Context, imageRef, caption string) error {
	return s.SendImageTo(ctx, s.Target(), imageRef, caption)
}

func (s *Service) SendImageTo(ctx context.Context, to kit.ChatTarget, imageRef, caption string) error {
	if to.ChatID == 0 {
		return ErrNoTarget
	}
	s.mu.Lock()
	ad := s.adapter
	src := s.images
	s.mu.Unlock()
	if ad == nil {
		return errors.New("notifier: no adapter")
	}

	caption = tgui.TruncLines(caption, tgui.MaxCaptionLen)
	ps, canPhoto := ad.(kit.PhotoSender)
	imageRef = strings.TrimSpace(imageRef)
	if imageRef == "" || !canPhoto || src == nil {
		return s.sendText(ctx, ad, to, caption)
	}

	photo := kit.Photo{Caption: caption}
	if src.Passthrough() {
		photo.URL = src.ResolveURL(imageRef)
	} else {
		img, err := src.Fetch(ctx, imageRef)
		if err != nil {
			s.log.Warn("image fetch failed, sending text", logx.Err(err))
			return s.sendText(ctx, ad, to, caption)
		}
		photo.Data = bytes.NewReader(img.Data)
	}

	if _, err := ps.SendPhoto(ctx, to, photo, htmlOpts); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warn("photo send failed, sending text", logx.Err(err))
		return s.sendText(ctx, ad, to, caption)
	}
	s.appendHistory(caption)
	return nil
}

func (s *Service) sendText(ctx context.Context, ad kit.Adapter, to kit.ChatTarget, text string) error {
	for _, chunk := range tgui.Chunks(text, tgui.SafeChunkLen) {
		if _, err := ad.SendText(ctx, to, chunk, htmlOpts); err != nil {
			return err
		}
	}
	s.appendHistory(text)
	return nil
}
