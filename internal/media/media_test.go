package media

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "nftwatch/pkg/logx"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestResolveURL(t *testing.T) {
	tests := map[string]string{
		"ipfs://Qm123/1.png":      "https://gw.test/ipfs/Qm123/1.png",
		"ipfs://ipfs/Qm123/1.png": "https://gw.test/ipfs/Qm123/1.png",
		"https://cdn/1.png":       "https://cdn/1.png",
		"  ":                      "",
	}
	for in, want := range tests {
		assert.Equal(t, want, ResolveURL(in, "https://gw.test/ipfs"), in)
	}
	assert.Equal(t, DefaultGateway+"Qm", ResolveURL("ipfs://Qm", ""))
}

func TestFetchResizes(t *testing.T) {
	src := pngBytes(t, 700, 500)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ipfs/Qm/1.png", r.URL.Path)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(src)
	}))
	defer srv.Close()

	f := New(Config{Gateway: srv.URL + "/ipfs/"}, logx.Nop())
	img, err := f.Fetch(context.Background(), "ipfs://Qm/1.png")
	require.NoError(t, err)
	assert.Equal(t, 350, img.Width)
	assert.Equal(t, 250, img.Height)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(img.Data))
	require.NoError(t, err)
	assert.Equal(t, 350, cfg.Width)
}

func TestFetchKeepsSmallImages(t *testing.T) {
	src := pngBytes(t, 100, 80)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write(src) }))
	defer srv.Close()

	img, err := New(Config{}, logx.Nop()).Fetch(context.Background(), srv.URL+"/a.png")
	require.NoError(t, err)
	assert.Equal(t, 100, img.Width)
	assert.Equal(t, 80, img.Height)
}

func TestFetchErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		case "/big":
			_, _ = w.Write(bytes.Repeat([]byte{1}, 2048))
		default:
			_, _ = w.Write([]byte("not an image"))
		}
	}))
	defer srv.Close()

	f := New(Config{MaxBytes: 1024}, logx.Nop())
	_, err := f.Fetch(context.Background(), srv.URL+"/missing")
	assert.Error(t, err)
	_, err = f.Fetch(context.Background(), srv.URL+"/big")
	assert.ErrorIs(t, err, ErrTooLarge)
	_, err = f.Fetch(context.Background(), srv.URL+"/junk")
	assert.Error(t, err)
	_, err = f.Fetch(context.Background(), "")
	assert.Error(t, err)
}

func TestPassthrough(t *testing.T) {
	assert.True(t, New(Config{Width: -1}, logx.Nop()).Passthrough())
	assert.False(t, New(Config{}, logx.Nop()).Passthrough())
}
