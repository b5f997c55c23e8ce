package build

import (
	"html"
	"strings"

	"github.com/opendict/lexicore/entry"
)

// RenderHTML renders one entry as the self-contained HTML fragment embedded
// in distributable artifacts. The markup is flat and class-tagged so offline
// dictionary apps can restyle it with their own CSS.
func RenderHTML(e *entry.Entry) string {
	var b strings.Builder
	b.WriteString(`<div class="entry">`)
	b.WriteString(`<h1 class="word">`)
	b.WriteString(html.EscapeString(e.Headword))
	b.WriteString(`</h1>`)

	if len(e.Senses) > 0 {
		b.WriteString(`<section class="section"><ol>`)
		for _, s := range e.Senses {
			b.WriteString(`<li>`)
			line := make([]string, 0, 3)
			if s.PartOfSpeech != "" {
				line = append(line, s.PartOfSpeech)
			}
			if s.Definition != "" {
				line = append(line, s.Definition)
			}
			if s.Translation != "" {
				line = append(line, s.Translation)
			}
			if len(line) > 0 {
				b.WriteString(`<div class="def-line">`)
				b.WriteString(html.EscapeString(strings.Join(line, " ")))
				b.WriteString(`</div>`)
			}
			if s.Example != "" {
				b.WriteString(`<ul class="examples"><li>`)
				b.WriteString(html.EscapeString(s.Example))
				b.WriteString(`</li></ul>`)
			}
			b.WriteString(`</li>`)
		}
		b.WriteString(`</ol></section>`)
	}

	if len(e.SurfaceForms) > 0 {
		b.WriteString(`<section class="section"><h2 class="title">Forms</h2><ul>`)
		for _, sf := range e.SurfaceForms {
			b.WriteString(`<li>`)
			b.WriteString(html.EscapeString(sf))
			b.WriteString(`</li>`)
		}
		b.WriteString(`</ul></section>`)
	}

	b.WriteString(`</div>`)
	return b.String()
}
