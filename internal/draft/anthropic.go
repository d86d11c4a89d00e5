package draft

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/product-patterns/internal/iterate"
	"github.com/sells-group/product-patterns/internal/model"
	"github.com/sells-group/product-patterns/internal/resilience"
	"github.com/sells-group/product-patterns/internal/validate"
	"github.com/sells-group/product-patterns/pkg/anthropic"
)

const (
	defaultModel        = "claude-haiku-4-5-20251001"
	defaultMaxTokens    = 2048
	defaultModelConf    = 0.7
	maxModelConfidence  = 0.9
	defaultCacheTTL     = "1h"
	maxPromptDiagnostic = 40
)

const systemPrompt = `You write extraction rules for product pages of online shops.

A rule is {"field": F, "kind": K, "locator": L, "confidence": C}.
Fields: price, title, currency, image, availability, article_number, model_number.
Kinds and locators:
- "embedded": OBJECT#PATH or OBJECT@TYPE#PATH. OBJECT is "ld+json" for JSON-LD blocks,
  the id of a <script type="application/json"> block, or the name of a global
  assigned a JSON literal in an inline script (e.g. __NEXT_DATA__). PATH uses
  gjson syntax: dots between keys, numeric array indexes, "#" to map arrays
  (offers.#.price). TYPE filters JSON-LD objects by @type.
- "meta": the name, property or itemprop of a <meta> tag, lower-case.
- "dom": a CSS selector; append @attr to read an attribute instead of text.
- "url": a regular expression with one capture group applied to the page URL.
Prefer embedded data, then meta tags, then stable DOM selectors. Avoid
selectors built on generated class names. Confidence is in (0, 0.9] and
reflects how stable the source is likely to be across pages of the shop.

Answer with JSON only: {"rules": [ ... ]}. Propose rules only for the
requested fields. Propose at most 3 rules per field, best first.`

// AnthropicConfig tunes the model-backed drafter.
type AnthropicConfig struct {
	Model        string
	MaxTokens    int64
	DigestBudget int
	CacheTTL     string
	Retry        resilience.RetryConfig
}

// Anthropic drafts rules by asking a Claude model to read a digest of the
// document together with the current failures.
type Anthropic struct {
	client anthropic.Client
	cfg    AnthropicConfig
}

// NewAnthropic creates a model-backed drafter.
func NewAnthropic(client anthropic.Client, cfg AnthropicConfig) *Anthropic {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.CacheTTL == "" {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.Retry.OnRetry == nil {
		cfg.Retry.OnRetry = resilience.RetryLogger("draft", "anthropic")
	}
	return &Anthropic{client: client, cfg: cfg}
}

// Name identifies the drafter in logs.
func (a *Anthropic) Name() string { return "anthropic" }

// Draft implements iterate.Drafter.
func (a *Anthropic) Draft(ctx context.Context, req iterate.DraftRequest) ([]model.FieldRule, error) {
	if len(req.Fields) == 0 || req.Document == nil {
		return nil, nil
	}

	temp := 0.0
	msgReq := anthropic.MessageRequest{
		Model:       a.cfg.Model,
		MaxTokens:   a.cfg.MaxTokens,
		System:      anthropic.CachedSystem(systemPrompt, a.cfg.CacheTTL),
		Messages:    []anthropic.Message{{Role: "user", Content: buildPrompt(req, a.cfg.DigestBudget)}},
		Temperature: &temp,
	}

	resp, err := resilience.DoVal(ctx, a.cfg.Retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		resp, err := a.client.CreateMessage(ctx, msgReq)
		if err != nil {
			if code := anthropic.StatusCode(err); resilience.IsTransientHTTPStatus(code) {
				return nil, resilience.NewTransientError(err, code)
			}
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "draft: anthropic request")
	}
	resp.Usage.LogCost(a.cfg.Model, "draft")

	rules, dropped, err := parseRules(resp.Text(), req.Fields)
	if err != nil {
		return nil, err
	}
	zap.L().Debug("draft: anthropic proposals",
		zap.String("domain", req.Domain),
		zap.Int("iteration", req.Iteration),
		zap.Int("rules", len(rules)),
		zap.Int("dropped", dropped),
	)
	return rules, nil
}

func buildPrompt(req iterate.DraftRequest, budget int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Shop: %s\nRound: %d\n", req.Domain, req.Iteration)

	names := make([]string, len(req.Fields))
	for i, f := range req.Fields {
		names[i] = string(f)
	}
	fmt.Fprintf(&b, "Requested fields: %s\n", strings.Join(names, ", "))

	if req.Current != nil && req.Current.RuleCount() > 0 {
		b.WriteString("\nCurrent rules for the requested fields:\n")
		for _, f := range req.Fields {
			for _, r := range req.Current.Chain(f) {
				fmt.Fprintf(&b, "  %s: %s %q (confidence %.2f)\n", f, r.Kind, r.Locator, r.Confidence)
			}
		}
	}

	if req.Report != nil {
		lines := 0
		b.WriteString("\nLast test on this page:\n")
		for _, f := range req.Fields {
			res := req.Report.Result(f)
			if res.Present() {
				fmt.Fprintf(&b, "  %s: found %q (confidence %.2f)\n", f, res.Value, res.Confidence)
				continue
			}
			d := model.FieldDiagnostic{Field: f, Problem: model.ProblemAbsent}
			for _, at := range res.Attempts {
				d.Attempts = append(d.Attempts, model.AttemptDiagnostic{
					Kind: at.Rule.Kind, Locator: at.Rule.Locator, Outcome: at.Outcome, Reason: at.Reason,
				})
			}
			fmt.Fprintf(&b, "  %s\n", validate.FormatFieldDiagnostic(d))
			lines++
			if lines == maxPromptDiagnostic {
				break
			}
		}
	}

	b.WriteString("\nPage digest:\n")
	b.WriteString(Digest(req.Document, budget))
	return b.String()
}

type ruleAnswer struct {
	Rules []struct {
		Field      string  `json:"field"`
		Kind       string  `json:"kind"`
		Locator    string  `json:"locator"`
		Confidence float64 `json:"confidence"`
	} `json:"rules"`
}

// parseRules decodes a model answer. Rules for unrequested fields or with
// invalid shapes are dropped and counted. Model confidences are capped so a
// guessed rule never outranks verified embedded data.
func parseRules(text string, fields []model.Field) ([]model.FieldRule, int, error) {
	var ans ruleAnswer
	if err := json.Unmarshal([]byte(cleanJSON(text)), &ans); err != nil {
		return nil, 0, eris.Wrap(err, "draft: parse model answer")
	}

	requested := make(map[model.Field]bool, len(fields))
	for _, f := range fields {
		requested[f] = true
	}

	var rules []model.FieldRule
	dropped := 0
	for _, r := range ans.Rules {
		f, err := model.ParseField(r.Field)
		if err != nil || !requested[f] {
			dropped++
			continue
		}
		conf := r.Confidence
		switch {
		case conf <= 0:
			conf = defaultModelConf
		case conf > maxModelConfidence:
			conf = maxModelConfidence
		}
		rule := model.FieldRule{
			Field:      f,
			Kind:       model.StrategyKind(strings.ToLower(strings.TrimSpace(r.Kind))),
			Locator:    strings.TrimSpace(r.Locator),
			Confidence: conf,
		}
		if err := rule.Validate(); err != nil {
			dropped++
			continue
		}
		rules = append(rules, rule)
	}
	return rules, dropped, nil
}

// cleanJSON strips markdown fences and surrounding prose from a model
// answer, leaving the outermost JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
