package tgui

import (
	"fmt"
	"html"
	"strings"
)

// H is text already safe for ParseMode HTML.
type H string

func (h H) String() string { return string(h) }

func Esc(s string) H { return H(html.EscapeString(s)) }

// Raw marks s as safe HTML without escaping.
func Raw(s string) H { return H(s) }

func tag(name string, inner H) H { return H("<" + name + ">" + string(inner) + "</" + name + ">") }

func B(s string) H    { return tag("b", Esc(s)) }
func I(s string) H    { return tag("i", Esc(s)) }
func Code(s string) H { return tag("code", Esc(s)) }

// Pre renders a preformatted block. Keep it short: a block split across
// two messages loses its closing tags.
func Pre(s string) H { return tag("pre", Esc(s)) }

func Link(text, url string) H {
	return H(fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(url), html.EscapeString(text)))
}

// JoinH joins the non-blank parts with sep.
func JoinH(sep string, parts ...H) H {
	var b strings.Builder
	n := 0
	for _, p := range parts {
		if strings.TrimSpace(string(p)) == "" {
			continue
		}
		if n > 0 {
			b.WriteString(sep)
		}
		b.WriteString(string(p))
		n++
	}
	return H(b.String())
}
