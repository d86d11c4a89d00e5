// Package document parses raw product-page HTML into a read-only handle
// that extraction strategies query. All indexes are built once in Parse;
// nothing mutates a Document afterwards.
package document

import (
	"bytes"
	"io"
	"net/url"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ErrUnparsable marks input that cannot be treated as an HTML document at
// all. It is the only document-level failure; field lookups never fail.
var ErrUnparsable = eris.New("document: unparsable input")

// maxDocumentBytes bounds how much input Parse will read.
const maxDocumentBytes = 8 << 20

// Document is a parsed product page.
type Document struct {
	doc       *goquery.Document
	url       *url.URL
	meta      map[string]string
	embedded  []EmbeddedObject
	byName    map[string][]int
	elements  int
	sourceLen int
	truncated bool
}

// Parse reads an HTML document. sourceURL is where the page was fetched
// from; a <link rel="canonical"> or og:url in the page takes precedence.
// Input beyond 8 MiB is dropped with a warning and the prefix is parsed.
func Parse(r io.Reader, sourceURL string) (*Document, error) {
	return parseLimited(r, sourceURL, maxDocumentBytes)
}

func parseLimited(r io.Reader, sourceURL string, limit int64) (*Document, error) {
	raw, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, eris.Wrapf(ErrUnparsable, "read input: %v", err)
	}
	truncated := int64(len(raw)) > limit
	if truncated {
		zap.L().Warn("document: input truncated",
			zap.String("url", sourceURL),
			zap.Int64("limit", limit),
		)
		raw = raw[:limit]
	}
	d, err := ParseBytes(raw, sourceURL)
	if err != nil {
		return nil, err
	}
	d.truncated = truncated
	return d, nil
}

// ParseString is Parse for in-memory HTML.
func ParseString(s, sourceURL string) (*Document, error) {
	return ParseBytes([]byte(s), sourceURL)
}

// ParseBytes is Parse for a byte slice.
func ParseBytes(raw []byte, sourceURL string) (*Document, error) {
	if err := checkRaw(raw); err != nil {
		return nil, err
	}

	root, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, eris.Wrapf(ErrUnparsable, "tokenize: %v", err)
	}

	d := &Document{
		doc:       goquery.NewDocumentFromNode(root),
		meta:      make(map[string]string),
		byName:    make(map[string][]int),
		sourceLen: len(raw),
	}
	d.index(root)
	if d.elements == 0 {
		return nil, eris.Wrap(ErrUnparsable, "no markup elements")
	}
	d.url = d.resolveCanonical(sourceURL)
	return d, nil
}

// checkRaw rejects input that is empty or clearly not text.
func checkRaw(raw []byte) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return eris.Wrap(ErrUnparsable, "empty input")
	}
	if bytes.IndexByte(raw, 0) >= 0 {
		return eris.Wrap(ErrUnparsable, "binary input")
	}
	if !utf8.Valid(raw) && invalidRatio(raw) > 0.1 {
		return eris.Wrap(ErrUnparsable, "input is not text")
	}
	if !bytes.ContainsRune(raw, '<') {
		return eris.Wrap(ErrUnparsable, "no markup")
	}
	return nil
}

// invalidRatio returns the share of bytes that do not decode as UTF-8.
// Legacy-encoded pages (latin-1) have a few; binary blobs have many.
func invalidRatio(raw []byte) float64 {
	bad := 0
	for i := 0; i < len(raw); {
		r, size := utf8.DecodeRune(raw[i:])
		if r == utf8.RuneError && size == 1 {
			bad++
		}
		i += size
	}
	return float64(bad) / float64(len(raw))
}

// index walks the tree once, counting explicit elements and collecting
// meta tags and embedded data objects.
func (d *Document) index(root *html.Node) {
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if !isImplied(n) {
				d.elements++
			}
			switch n.DataAtom {
			case atom.Meta:
				d.indexMeta(n)
			case atom.Script:
				d.indexScript(n)
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
}

// isImplied reports whether n is one of the wrapper elements the parser
// synthesizes for any input, even plain text.
func isImplied(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Html, atom.Head, atom.Body:
		return len(n.Attr) == 0
	}
	return false
}

func (d *Document) indexMeta(n *html.Node) {
	var keys []string
	content := ""
	hasContent := false
	for _, a := range n.Attr {
		switch strings.ToLower(a.Key) {
		case "name", "property", "itemprop":
			if k := strings.ToLower(strings.TrimSpace(a.Val)); k != "" {
				keys = append(keys, k)
			}
		case "content":
			content = a.Val
			hasContent = true
		}
	}
	if !hasContent {
		return
	}
	for _, k := range keys {
		if _, seen := d.meta[k]; !seen {
			d.meta[k] = content
		}
	}
}

// URL returns the canonical URL of the document, or nil when unknown.
func (d *Document) URL() *url.URL {
	if d.url == nil {
		return nil
	}
	u := *d.url
	return &u
}

// Selection returns the root selection for read-only queries.
func (d *Document) Selection() *goquery.Selection {
	return d.doc.Selection
}

// Meta returns the content of the meta tag with the given name, property
// or itemprop (case insensitive).
func (d *Document) Meta(key string) (string, bool) {
	v, ok := d.meta[strings.ToLower(strings.TrimSpace(key))]
	return v, ok
}

// MetaKeys returns every indexed meta key, sorted.
func (d *Document) MetaKeys() []string {
	keys := make([]string, 0, len(d.meta))
	for k := range d.meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Size returns the byte length of the source HTML.
func (d *Document) Size() int {
	return d.sourceLen
}

// Truncated reports whether Parse dropped input beyond its size limit.
func (d *Document) Truncated() bool { return d.truncated }

func (d *Document) resolveCanonical(sourceURL string) *url.URL {
	base, _ := parseAbsolute(sourceURL)

	candidates := []string{}
	if href, ok := d.doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok {
		candidates = append(candidates, href)
	}
	if og, ok := d.meta["og:url"]; ok {
		candidates = append(candidates, og)
	}
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		ref, err := url.Parse(c)
		if err != nil {
			continue
		}
		if base != nil {
			ref = base.ResolveReference(ref)
		}
		if ref.IsAbs() && ref.Host != "" {
			return ref
		}
	}
	return base
}

func parseAbsolute(raw string) (*url.URL, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return nil, false
	}
	return u, true
}
