package draft

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"

	"github.com/sells-group/product-patterns/internal/document"
)

const (
	defaultDigestBudget = 12000
	maxMetaLines        = 40
	maxElementLines     = 40
	maxSnippetRunes     = 600
	maxValueRunes       = 120
)

// candidateSelector picks elements likely to hold product data.
const candidateSelector = "[itemprop], h1, [data-price], [data-sku], " +
	"[class*=price], [id*=price], [class*=title], [class*=stock], " +
	"[class*=availability], [class*=sku], [class*=product-image] img"

// Digest summarizes doc for a model prompt: canonical URL, meta tags,
// embedded data objects and candidate elements. The result never exceeds
// budget bytes; budget <= 0 uses the default.
func Digest(doc *document.Document, budget int) string {
	if budget <= 0 {
		budget = defaultDigestBudget
	}
	var b strings.Builder

	if u := doc.URL(); u != nil {
		fmt.Fprintf(&b, "URL: %s\n", u.String())
	}

	keys := doc.MetaKeys()
	if len(keys) > 0 {
		b.WriteString("\nMETA (kind=meta, locator=key):\n")
		for i, k := range keys {
			if i == maxMetaLines {
				fmt.Fprintf(&b, "  ... %d more\n", len(keys)-i)
				break
			}
			v, _ := doc.Meta(k)
			fmt.Fprintf(&b, "  %s = %s\n", k, clip(v, maxValueRunes))
		}
	}

	names := doc.ObjectNames()
	if len(names) > 0 {
		b.WriteString("\nEMBEDDED (kind=embedded, locator=object#path or object@Type#path):\n")
		for _, name := range names {
			for i, o := range doc.Objects(name) {
				fmt.Fprintf(&b, "  [%s #%d] source=%s", name, i, o.Source)
				if types := o.Types(); len(types) > 0 {
					fmt.Fprintf(&b, " types=%s", strings.Join(types, ","))
				}
				b.WriteString("\n")
				if keys := topKeys(o.JSON); len(keys) > 0 {
					fmt.Fprintf(&b, "    keys: %s\n", strings.Join(keys, ", "))
				}
				fmt.Fprintf(&b, "    json: %s\n", clip(compact(o.JSON), maxSnippetRunes))
			}
		}
	}

	lines := candidateLines(doc)
	if len(lines) > 0 {
		b.WriteString("\nELEMENTS (kind=dom, locator=css selector with optional @attr):\n")
		for _, l := range lines {
			b.WriteString("  ")
			b.WriteString(l)
			b.WriteString("\n")
		}
	}

	out := b.String()
	if len(out) > budget {
		cut := budget
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = out[:cut] + "\n[truncated]\n"
	}
	return out
}

func candidateLines(doc *document.Document) []string {
	var lines []string
	doc.Selection().Find(candidateSelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if len(lines) == maxElementLines {
			return false
		}
		desc := describe(s)
		text := clip(strings.Join(strings.Fields(s.Text()), " "), maxValueRunes)
		if text == "" && len(s.Nodes) > 0 && len(s.Nodes[0].Attr) == 0 {
			return true
		}
		lines = append(lines, fmt.Sprintf("<%s> %q", desc, text))
		return true
	})
	return lines
}

// describe renders an element as tag#id.class [attr=value ...].
func describe(s *goquery.Selection) string {
	n := s.Nodes[0]
	var b strings.Builder
	b.WriteString(n.Data)
	if id, ok := s.Attr("id"); ok && id != "" {
		b.WriteString("#" + id)
	}
	if cls, ok := s.Attr("class"); ok {
		for _, c := range strings.Fields(cls) {
			b.WriteString("." + c)
		}
	}
	var attrs []string
	for _, a := range n.Attr {
		switch {
		case a.Key == "id" || a.Key == "class" || a.Key == "style":
			continue
		case a.Key == "itemprop" || a.Key == "content" || a.Key == "src" ||
			a.Key == "href" || strings.HasPrefix(a.Key, "data-"):
			attrs = append(attrs, fmt.Sprintf("%s=%q", a.Key, clip(a.Val, 80)))
		}
	}
	sort.Strings(attrs)
	if len(attrs) > 0 {
		b.WriteString(" " + strings.Join(attrs, " "))
	}
	return b.String()
}

func topKeys(js string) []string {
	r := gjson.Parse(js)
	if r.IsArray() {
		r = r.Get("0")
	}
	if !r.IsObject() {
		return nil
	}
	var keys []string
	r.ForEach(func(k, _ gjson.Result) bool {
		keys = append(keys, k.String())
		return len(keys) < 30
	})
	return keys
}

func compact(js string) string {
	return strings.Join(strings.Fields(js), " ")
}

func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}
