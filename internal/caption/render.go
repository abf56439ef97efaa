package caption

import (
	_ "embed"
	"fmt"
	"html"
	"os"
	"regexp"
	"strings"

	"github.com/osteele/liquid"
)

//go:embed templates/listing.liquid
var defaultTemplate string

var blankRuns = regexp.MustCompile(`\n{3,}`)

// Renderer renders Fragments with a liquid template.
type Renderer struct {
	tpl *liquid.Template
}

func newEngine() *liquid.Engine {
	e := liquid.NewEngine()
	// h escapes text for Telegram HTML.
	e.RegisterFilter("h", func(s any) string {
		if s == nil {
			return ""
		}
		return html.EscapeString(fmt.Sprint(s))
	})
	return e
}

// NewRenderer parses src; an empty src uses the embedded template.
func NewRenderer(src string) (*Renderer, error) {
	if strings.TrimSpace(src) == "" {
		src = defaultTemplate
	}
	tpl, err := newEngine().ParseString(src)
	if err != nil {
		return nil, fmt.Errorf("caption template: %w", err)
	}
	return &Renderer{tpl: tpl}, nil
}

// LoadRenderer reads the template at path, or uses the embedded one when
// path is empty.
func LoadRenderer(path string) (*Renderer, error) {
	if strings.TrimSpace(path) == "" {
		return NewRenderer("")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return NewRenderer(string(b))
}

func (r *Renderer) Render(f Fragments) (string, error) {
	attrs := make([]map[string]any, 0, len(f.Attributes))
	for _, a := range f.Attributes {
		attrs = append(attrs, map[string]any{
			"trait_type": a.TraitType,
			"value":      a.Value,
			"power":      a.Power,
			"synergy":    a.Synergy,
		})
	}
	out, err := r.tpl.RenderString(map[string]any{
		"name":          f.Name,
		"tier":          f.Tier,
		"priced":        f.Priced,
		"price":         f.Price,
		"power_text":    f.PowerText,
		"total":         f.Total,
		"display_total": f.DisplayTotal,
		"link":          f.Link,
		"collection":    f.Collection,
		"attributes":    attrs,
		"footer":        f.Footer,
	})
	if err != nil {
		return "", fmt.Errorf("caption render: %w", err)
	}
	return tidy(out), nil
}

// tidy trims the result and collapses runs of blank lines left by tags.
func tidy(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.TrimSpace(blankRuns.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
}
