package document

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/net/html"
)

// LDJSON is the object name under which every JSON-LD block is addressable.
const LDJSON = "ld+json"

// EmbeddedSource says where an embedded object came from.
type EmbeddedSource string

const (
	SourceLDJSON     EmbeddedSource = "ld+json"
	SourceScriptJSON EmbeddedSource = "script_json"
	SourceAssignment EmbeddedSource = "assignment"
)

// EmbeddedObject is one JSON value found inside a script element.
type EmbeddedObject struct {
	Name   string
	Source EmbeddedSource
	JSON   string
}

// Types returns the schema.org @type values of the object, if any.
func (o EmbeddedObject) Types() []string {
	t := gjson.Get(o.JSON, `\@type`)
	if !t.Exists() {
		return nil
	}
	if t.IsArray() {
		var out []string
		for _, v := range t.Array() {
			out = append(out, v.String())
		}
		return out
	}
	return []string{t.String()}
}

// HasType reports whether the object declares the given @type, ignoring
// case and any schema.org URL prefix.
func (o EmbeddedObject) HasType(want string) bool {
	want = strings.ToLower(want)
	for _, t := range o.Types() {
		t = strings.ToLower(t)
		if i := strings.LastIndexAny(t, "/:"); i >= 0 {
			t = t[i+1:]
		}
		if t == want {
			return true
		}
	}
	return false
}

// Objects returns every embedded object registered under name, in document
// order. The returned slice must not be modified.
func (d *Document) Objects(name string) []EmbeddedObject {
	idx := d.byName[name]
	if len(idx) == 0 {
		return nil
	}
	out := make([]EmbeddedObject, 0, len(idx))
	for _, i := range idx {
		out = append(out, d.embedded[i])
	}
	return out
}

// HasObject reports whether any embedded object is registered under name.
func (d *Document) HasObject(name string) bool {
	return len(d.byName[name]) > 0
}

// ObjectNames returns the distinct embedded object names in document order.
func (d *Document) ObjectNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, o := range d.embedded {
		if !seen[o.Name] {
			seen[o.Name] = true
			names = append(names, o.Name)
		}
	}
	return names
}

func (d *Document) addObject(name string, src EmbeddedSource, js string) {
	d.byName[name] = append(d.byName[name], len(d.embedded))
	d.embedded = append(d.embedded, EmbeddedObject{Name: name, Source: src, JSON: js})
}

func (d *Document) indexScript(n *html.Node) {
	var typ, id string
	for _, a := range n.Attr {
		switch strings.ToLower(a.Key) {
		case "type":
			typ = strings.ToLower(strings.TrimSpace(a.Val))
		case "id":
			id = strings.TrimSpace(a.Val)
		}
	}
	body := scriptText(n)
	if strings.TrimSpace(body) == "" {
		return
	}

	switch {
	case typ == "application/ld+json":
		d.addLDJSON(body)
	case typ == "application/json" && id != "":
		body = strings.TrimSpace(body)
		if gjson.Valid(body) {
			d.addObject(id, SourceScriptJSON, body)
		}
	case typ == "" || strings.Contains(typ, "javascript") || typ == "module":
		for _, a := range findAssignments(body) {
			d.addObject(a.name, SourceAssignment, a.json)
		}
	}
}

func scriptText(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

// addLDJSON registers a JSON-LD block. Top-level arrays and @graph members
// are flattened into individual objects.
func (d *Document) addLDJSON(body string) {
	body = strings.TrimSpace(body)
	body = strings.TrimPrefix(body, "<!--")
	body = strings.TrimSuffix(body, "-->")
	body = strings.TrimSpace(body)
	if !gjson.Valid(body) {
		return
	}
	var add func(v gjson.Result)
	add = func(v gjson.Result) {
		switch {
		case v.IsArray():
			for _, el := range v.Array() {
				add(el)
			}
		case v.IsObject():
			if g := v.Get(`\@graph`); g.IsArray() {
				for _, el := range g.Array() {
					add(el)
				}
				if !v.Get(`\@type`).Exists() {
					return
				}
			}
			d.addObject(LDJSON, SourceLDJSON, v.Raw)
		}
	}
	add(gjson.Parse(body))
}

type assignment struct {
	name string
	json string
}

var assignRe = regexp.MustCompile(`(?:^|[;\s{}(,])(?:(?:var|let|const)\s+)?((?:window|self|globalThis)\s*\.\s*)?([A-Za-z_$][\w$]*(?:\.[A-Za-z_$][\w$]*)*)\s*=\s*([{\[])`)

// findAssignments returns the JSON literals assigned to globals in a
// script body. Only literals that are valid JSON are kept.
func findAssignments(body string) []assignment {
	var out []assignment
	for _, m := range assignRe.FindAllStringSubmatchIndex(body, -1) {
		name := body[m[4]:m[5]]
		start := m[6]
		end := matchBrace(body, start)
		if end < 0 {
			continue
		}
		literal := body[start : end+1]
		if !gjson.Valid(literal) {
			continue
		}
		out = append(out, assignment{name: name, json: literal})
	}
	return out
}

// matchBrace returns the index of the bracket closing the one at start,
// skipping over string literals, or -1 when unbalanced.
func matchBrace(s string, start int) int {
	depth := 0
	var quote byte
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'', '`':
			quote = c
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
