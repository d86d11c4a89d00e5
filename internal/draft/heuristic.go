package draft

import (
	"context"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/sells-group/product-patterns/internal/document"
	"github.com/sells-group/product-patterns/internal/extract"
	"github.com/sells-group/product-patterns/internal/iterate"
	"github.com/sells-group/product-patterns/internal/model"
)

// Base confidence per rule source.
const (
	ConfEmbedded  = 0.95
	ConfMeta      = 0.85
	ConfMetaVague = 0.8
	ConfItemprop  = 0.75
	ConfDOM       = 0.6
	ConfURL       = 0.5
)

const (
	defaultPerField = 2
	maxWalkDepth    = 6
	maxWalkNodes    = 5000
)

// ldPaths are JSON-LD Product paths per field, most specific first.
var ldPaths = map[model.Field][]string{
	model.FieldPrice: {
		"offers.price", "offers.#.price", "offers.lowPrice", "offers.#.lowPrice",
		"offers.priceSpecification.price", "offers.#.priceSpecification.price",
	},
	model.FieldCurrency: {
		"offers.priceCurrency", "offers.#.priceCurrency",
		"offers.priceSpecification.priceCurrency",
	},
	model.FieldTitle:         {"name"},
	model.FieldImage:         {"image", "image.url", "image.#.url", "image.contentUrl"},
	model.FieldAvailability:  {"offers.availability", "offers.#.availability"},
	model.FieldArticleNumber: {"sku", "productID", "gtin13", "gtin"},
	model.FieldModelNumber:   {"mpn", "model", "model.name"},
}

// globalKeys are key names looked for inside app state objects.
var globalKeys = map[model.Field][]string{
	model.FieldPrice:         {"price", "salePrice", "currentPrice", "finalPrice", "priceValue"},
	model.FieldCurrency:      {"currency", "priceCurrency", "currencyCode"},
	model.FieldTitle:         {"productName", "name", "title"},
	model.FieldImage:         {"imageUrl", "mainImage", "image", "images"},
	model.FieldAvailability:  {"availability", "stockStatus", "stock"},
	model.FieldArticleNumber: {"sku", "articleNumber", "productId"},
	model.FieldModelNumber:   {"mpn", "modelNumber", "model"},
}

var metaKeys = map[model.Field][]string{
	model.FieldPrice:         {"product:price:amount", "og:price:amount", "price"},
	model.FieldCurrency:      {"product:price:currency", "og:price:currency", "pricecurrency"},
	model.FieldTitle:         {"og:title", "twitter:title"},
	model.FieldImage:         {"og:image:secure_url", "og:image", "twitter:image"},
	model.FieldAvailability:  {"product:availability", "og:availability", "availability"},
	model.FieldArticleNumber: {"product:retailer_item_id", "product:sku", "sku"},
	model.FieldModelNumber:   {"product:mfr_part_no", "mpn"},
}

var itempropSelectors = map[model.Field][]string{
	model.FieldPrice:         {"[itemprop=price]@content", "[itemprop=price]"},
	model.FieldCurrency:      {"[itemprop=priceCurrency]@content", "[itemprop=priceCurrency]"},
	model.FieldTitle:         {"[itemtype*=Product] [itemprop=name]", "[itemprop=name]"},
	model.FieldImage:         {"[itemprop=image]@src", "[itemprop=image]@content", "[itemprop=image]@href"},
	model.FieldAvailability:  {"[itemprop=availability]@href", "[itemprop=availability]@content", "[itemprop=availability]"},
	model.FieldArticleNumber: {"[itemprop=sku]@content", "[itemprop=sku]"},
	model.FieldModelNumber:   {"[itemprop=mpn]@content", "[itemprop=mpn]", "[itemprop=model]"},
}

var domSelectors = map[model.Field][]string{
	model.FieldPrice: {
		"[data-price]@data-price", "#price", ".product-price", ".price",
		"[class*=price]",
	},
	model.FieldCurrency: {
		"[data-currency]@data-currency", ".product-price", ".price", "[class*=price]",
	},
	model.FieldTitle: {"h1.product-title", ".product-title", ".product-name", "h1"},
	model.FieldImage: {
		"img[data-zoom-image]@data-zoom-image", ".product-image img@src",
		"#main-image@src", "img.primary-image@src",
	},
	model.FieldAvailability:  {".availability", ".stock-status", "[class*=stock]"},
	model.FieldArticleNumber: {"[data-sku]@data-sku", ".sku", ".article-number"},
	model.FieldModelNumber:   {".model-number", ".mpn"},
}

var urlPatterns = map[model.Field][]string{
	model.FieldArticleNumber: {
		`/dp/([A-Z0-9]{10})`,
		`productpage\.(\d+)\.html`,
		`/p/(\d+)`,
		`/product/(\d+)`,
		`[?&](?:sku|pid|productId)=([A-Za-z0-9-]+)`,
	},
}

// Heuristic proposes rules from well-known commerce markup. It only
// proposes rules that hit the sample document, so it never adds dead
// weight to a chain.
type Heuristic struct {
	engine   *extract.Engine
	perField int
}

// NewHeuristic creates a Heuristic drafter proposing up to perField rules
// per requested field. perField <= 0 uses the default of 2.
func NewHeuristic(engine *extract.Engine, perField int) *Heuristic {
	if engine == nil {
		engine = extract.New()
	}
	if perField <= 0 {
		perField = defaultPerField
	}
	return &Heuristic{engine: engine, perField: perField}
}

// Name identifies the drafter in logs.
func (h *Heuristic) Name() string { return "heuristic" }

// Draft implements iterate.Drafter.
func (h *Heuristic) Draft(ctx context.Context, req iterate.DraftRequest) ([]model.FieldRule, error) {
	if req.Document == nil {
		return nil, nil
	}
	var out []model.FieldRule
	for _, f := range req.Fields {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		n := 0
		for _, rule := range Candidates(req.Document, f) {
			if n == h.perField {
				break
			}
			if req.Current.Has(rule) {
				continue
			}
			attempt, _ := h.engine.Attempt(req.Document, rule)
			if attempt.Outcome != model.OutcomeHit {
				continue
			}
			out = append(out, rule)
			n++
		}
	}
	zap.L().Debug("draft: heuristic proposals",
		zap.String("domain", req.Domain),
		zap.Int("iteration", req.Iteration),
		zap.Int("rules", len(out)),
	)
	return out, nil
}

// Candidates lists every rule the heuristics would consider for f on doc,
// in preference order. Candidates are not tested against doc.
func Candidates(doc *document.Document, f model.Field) []model.FieldRule {
	var out []model.FieldRule
	add := func(kind model.StrategyKind, locator string, conf float64) {
		out = append(out, model.FieldRule{Field: f, Kind: kind, Locator: locator, Confidence: conf})
	}

	if hasProduct(doc) {
		for _, p := range ldPaths[f] {
			add(model.StrategyEmbedded, document.LDJSON+"@Product#"+p, ConfEmbedded)
		}
	}
	for _, name := range doc.ObjectNames() {
		if name == document.LDJSON {
			continue
		}
		for _, p := range statePaths(doc.Objects(name), globalKeys[f]) {
			add(model.StrategyEmbedded, name+"#"+p, ConfEmbedded)
		}
	}

	metaConf := ConfMeta
	if f == model.FieldTitle || f == model.FieldImage {
		metaConf = ConfMetaVague
	}
	for _, k := range metaKeys[f] {
		add(model.StrategyMeta, k, metaConf)
	}
	for _, sel := range itempropSelectors[f] {
		add(model.StrategyDOM, sel, ConfItemprop)
	}
	for _, sel := range domSelectors[f] {
		add(model.StrategyDOM, sel, ConfDOM)
	}
	if doc.URL() != nil {
		for _, re := range urlPatterns[f] {
			add(model.StrategyURL, re, ConfURL)
		}
	}
	return out
}

func hasProduct(doc *document.Document) bool {
	for _, o := range doc.Objects(document.LDJSON) {
		if o.HasType("Product") || o.HasType("ProductGroup") {
			return true
		}
	}
	return false
}

// statePaths finds gjson paths to scalar values stored under any of keys in
// objs, shallowest first. Arrays are followed through their first element.
func statePaths(objs []document.EmbeddedObject, keys []string) []string {
	if len(keys) == 0 {
		return nil
	}
	want := make(map[string]int, len(keys))
	for i, k := range keys {
		want[strings.ToLower(k)] = i
	}

	type hit struct {
		path  string
		depth int
		rank  int
	}
	var hits []hit
	seen := make(map[string]bool)
	visited := 0

	var walk func(r gjson.Result, prefix string, depth int)
	walk = func(r gjson.Result, prefix string, depth int) {
		if depth > maxWalkDepth || visited > maxWalkNodes {
			return
		}
		switch {
		case r.IsArray():
			if first := r.Get("0"); first.Exists() {
				walk(first, join(prefix, "0"), depth+1)
			}
		case r.IsObject():
			r.ForEach(func(k, v gjson.Result) bool {
				visited++
				path := join(prefix, escapePath(k.String()))
				if rank, ok := want[strings.ToLower(k.String())]; ok && hasScalar(v) && !seen[path] {
					seen[path] = true
					hits = append(hits, hit{path: path, depth: depth, rank: rank})
				}
				if v.IsObject() || v.IsArray() {
					walk(v, path, depth+1)
				}
				return visited <= maxWalkNodes
			})
		}
	}
	for _, o := range objs {
		walk(gjson.Parse(o.JSON), "", 0)
	}

	// stable insertion sort: depth, then key preference
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0; j-- {
			a, b := hits[j-1], hits[j]
			if a.depth < b.depth || (a.depth == b.depth && a.rank <= b.rank) {
				break
			}
			hits[j-1], hits[j] = b, a
		}
	}

	const maxPaths = 3
	out := make([]string, 0, maxPaths)
	for _, h := range hits {
		if len(out) == maxPaths {
			break
		}
		out = append(out, h.path)
	}
	return out
}

func hasScalar(r gjson.Result) bool {
	switch {
	case r.IsArray():
		for _, el := range r.Array() {
			if hasScalar(el) {
				return true
			}
		}
		return false
	case r.IsObject(), r.Type == gjson.Null:
		return false
	}
	return strings.TrimSpace(r.String()) != ""
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

var pathEscaper = strings.NewReplacer(
	`\`, `\\`, `.`, `\.`, `*`, `\*`, `?`, `\?`, `|`, `\|`, `#`, `\#`, `@`, `\@`, `!`, `\!`, `=`, `\=`,
)

// escapePath escapes gjson path syntax in a key.
func escapePath(key string) string {
	return pathEscaper.Replace(key)
}
