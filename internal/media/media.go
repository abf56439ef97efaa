// Package media fetches item images, rewrites ipfs:// references to an HTTP
// gateway and normalizes them to a fixed-width JPEG for photo messages.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	logx "nftwatch/pkg/logx"
)

const (
	DefaultGateway  = "https://ipfs.io/ipfs/"
	DefaultWidth    = 350
	DefaultMaxBytes = 10 << 20
	jpegQuality     = 88
)

var ErrTooLarge = errors.New("media: image too large")

type Config struct {
	Gateway string
	// Width is the output width. A negative width disables fetching; callers
	// send the resolved URL instead.
	Width    int
	MaxBytes int64
	Timeout  time.Duration
}

// Image is a ready-to-upload JPEG.
type Image struct {
	Data   []byte
	URL    string
	Width  int
	Height int
}

type Fetcher struct {
	cfg    Config
	client *http.Client
	log    logx.Logger
}

type Option func(*Fetcher)

func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		if c != nil {
			f.client = c
		}
	}
}

func New(cfg Config, log logx.Logger, opts ...Option) *Fetcher {
	if strings.TrimSpace(cfg.Gateway) == "" {
		cfg.Gateway = DefaultGateway
	}
	if cfg.Width == 0 {
		cfg.Width = DefaultWidth
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	f := &Fetcher{cfg: cfg, log: log, client: &http.Client{Timeout: cfg.Timeout}}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Passthrough reports whether images should be sent by URL.
func (f *Fetcher) Passthrough() bool { return f.cfg.Width < 0 }

// ResolveURL maps ipfs:// references through the gateway.
func (f *Fetcher) ResolveURL(ref string) string { return ResolveURL(ref, f.cfg.Gateway) }

func ResolveURL(ref, gateway string) string {
	ref = strings.TrimSpace(ref)
	rest, ok := strings.CutPrefix(ref, "ipfs://")
	if !ok {
		return ref
	}
	rest = strings.TrimPrefix(rest, "ipfs/")
	if gateway == "" {
		gateway = DefaultGateway
	}
	if !strings.HasSuffix(gateway, "/") {
		gateway += "/"
	}
	return gateway + rest
}

// Fetch downloads ref and re-encodes it as JPEG, scaled down to the
// configured width. Smaller images keep their size.
func (f *Fetcher) Fetch(ctx context.Context, ref string) (Image, error) {
	u := f.ResolveURL(ref)
	if u == "" {
		return Image{}, errors.New("media: empty image reference")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Image{}, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return Image{}, fmt.Errorf("media: get: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Image{}, fmt.Errorf("media: get %s: status %d", u, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBytes+1))
	if err != nil {
		return Image{}, fmt.Errorf("media: read: %w", err)
	}
	if int64(len(data)) > f.cfg.MaxBytes {
		return Image{}, ErrTooLarge
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Image{}, fmt.Errorf("media: decode: %w", err)
	}
	out, w, h, err := Normalize(img, f.cfg.Width)
	if err != nil {
		return Image{}, err
	}
	f.log.Trace("image normalized", logx.String("format", format), logx.Int("width", w), logx.Int("height", h), logx.Int("bytes", len(out)))
	return Image{Data: out, URL: u, Width: w, Height: h}, nil
}

// Normalize scales img down to maxWidth (keeping the aspect ratio), flattens
// transparency onto white and encodes a JPEG.
func Normalize(img image.Image, maxWidth int) ([]byte, int, int, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, 0, 0, errors.New("media: empty image")
	}
	if maxWidth > 0 && w > maxWidth {
		h = max(1, int(float64(h)*float64(maxWidth)/float64(w)))
		w = maxWidth
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, 0, 0, err
	}
	return buf.Bytes(), w, h, nil
}
