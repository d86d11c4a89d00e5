package iterate

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/product-patterns/internal/document"
	"github.com/sells-group/product-patterns/internal/model"
)

const samplePage = `<html><head>
<link rel="canonical" href="https://www.widgets.example/p/1234">
<script>window.__PRODUCT__ = {"product":{"price":"29.99","currency":"USD","title":"Widget","sku":"W-1"}};</script>
</head><body><h1>Widget</h1><img id="hero" src="/img/w.jpg"></body></html>`

func rule(f model.Field, kind model.StrategyKind, loc string, conf float64) model.FieldRule {
	return model.FieldRule{Field: f, Kind: kind, Locator: loc, Confidence: conf}
}

func sampleDoc(t *testing.T) *document.Document {
	t.Helper()
	doc, err := document.ParseString(samplePage, "https://www.widgets.example/p/1234?ref=x")
	require.NoError(t, err)
	return doc
}

func embeddedRules(fields []model.Field) []model.FieldRule {
	var out []model.FieldRule
	for _, f := range fields {
		switch f {
		case model.FieldPrice, model.FieldCurrency, model.FieldTitle:
			out = append(out, rule(f, model.StrategyEmbedded, "__PRODUCT__#product."+string(f), 0.95))
		}
	}
	return out
}

func testConfig(maxIter int) Config {
	cfg := DefaultConfig()
	cfg.MaxIterations = maxIter
	return cfg
}

func TestRun_AcceptedFirstRound(t *testing.T) {
	t.Parallel()

	d := &mockDrafter{}
	d.On("Draft", mock.Anything, forIteration(1)).Return(embeddedRules(model.AllFields()), nil).Once()

	out, err := New(d, testConfig(3)).Run(context.Background(), sampleDoc(t), nil)
	require.NoError(t, err)

	assert.Equal(t, StateAccepted, out.State)
	assert.Equal(t, ReasonPassed, out.Reason)
	assert.Equal(t, "widgets.example", out.Domain)
	assert.Equal(t, 1, out.Iterations)
	require.Len(t, out.History, 1)
	assert.Equal(t, 3, out.History[0].RulesAdded)
	assert.Equal(t, 1, out.Pattern.Version)
	assert.Equal(t, 0, out.Pattern.ParentVersion)
	assert.True(t, out.Verdict.Passed)
	assert.Equal(t, "29.99", out.Report.Result(model.FieldPrice).Value)
	d.AssertExpectations(t)
}

func TestRun_FirstRoundRequestsMissingChainsOnly(t *testing.T) {
	t.Parallel()

	seed := model.NewPattern("widgets.example")
	seed.Version = 7
	seed.Rules[model.FieldTitle] = []model.FieldRule{rule(model.FieldTitle, model.StrategyDOM, "h1", 0.6)}

	var requested []model.Field
	d := DrafterFunc(func(_ context.Context, req DraftRequest) ([]model.FieldRule, error) {
		requested = req.Fields
		return embeddedRules(req.Fields), nil
	})

	out, err := New(d, testConfig(3)).Run(context.Background(), sampleDoc(t), seed)
	require.NoError(t, err)
	require.True(t, out.Accepted())

	assert.NotContains(t, requested, model.FieldTitle)
	assert.Contains(t, requested, model.FieldPrice)
	assert.Equal(t, 8, out.Pattern.Version)
	assert.Equal(t, 7, out.Pattern.ParentVersion)
	// Seeded title rule keeps its place and wins.
	assert.Equal(t, "h1", out.Report.Result(model.FieldTitle).Source.Locator)
	assert.Equal(t, 7, seed.Version, "seed is never modified")
	assert.Len(t, seed.Rules, 1)
}

func TestRun_CompleteSeedSkipsDrafting(t *testing.T) {
	t.Parallel()

	seed := model.NewPattern("widgets.example")
	for _, f := range model.AllFields() {
		seed.Rules[f] = embeddedRules([]model.Field{f})
		if len(seed.Rules[f]) == 0 {
			seed.Rules[f] = []model.FieldRule{rule(f, model.StrategyDOM, ".nope", 0.6)}
		}
	}

	d := &mockDrafter{}
	out, err := New(d, testConfig(3)).Run(context.Background(), sampleDoc(t), seed)
	require.NoError(t, err)
	assert.True(t, out.Accepted())
	assert.Equal(t, 0, out.Pattern.Version, "unchanged seed is accepted as is")
	d.AssertNotCalled(t, "Draft", mock.Anything, mock.Anything)
}

func TestRun_ExhaustsAfterMaxIterations(t *testing.T) {
	t.Parallel()

	d := &mockDrafter{}
	for i := 1; i <= 2; i++ {
		var rules []model.FieldRule
		for _, f := range model.AllFields() {
			rules = append(rules, rule(f, model.StrategyDOM, fmt.Sprintf(".missing-%d", i), 0.6))
		}
		d.On("Draft", mock.Anything, forIteration(i)).Return(rules, nil).Once()
	}

	out, err := New(d, testConfig(2)).Run(context.Background(), sampleDoc(t), nil)
	require.NoError(t, err)

	assert.Equal(t, StateExhausted, out.State)
	assert.Equal(t, ReasonBudget, out.Reason)
	assert.Equal(t, 2, out.Iterations)
	require.Len(t, out.History, 2)
	d.AssertNumberOfCalls(t, "Draft", 2)

	// Both drafts scored zero; the earlier one is kept.
	require.NotNil(t, out.Pattern)
	assert.Equal(t, 1, out.Pattern.Version)
	assert.False(t, out.Verdict.Passed)
	assert.Zero(t, out.Report.OverallSuccessRate)
	require.NotEmpty(t, out.Diagnostics)
	assert.Contains(t, out.Diagnostics[0], "price: absent")
	assert.Contains(t, out.Diagnostics[len(out.Diagnostics)-1], "exhausted after 2 rounds")
}

func TestRun_RefinementAppendsAndKeepsHits(t *testing.T) {
	t.Parallel()

	d := &mockDrafter{}
	d.On("Draft", mock.Anything, forIteration(1)).Return([]model.FieldRule{
		rule(model.FieldTitle, model.StrategyDOM, "h1", 0.6),
		rule(model.FieldPrice, model.StrategyDOM, ".price", 0.6),
	}, nil).Once()
	d.On("Draft", mock.Anything, forIteration(2)).Return([]model.FieldRule{
		rule(model.FieldTitle, model.StrategyEmbedded, "__PRODUCT__#product.title", 0.95),
		rule(model.FieldPrice, model.StrategyEmbedded, "__PRODUCT__#product.price", 0.95),
	}, nil).Once()
	d.On("Draft", mock.Anything, forIteration(3)).Return([]model.FieldRule{
		rule(model.FieldCurrency, model.StrategyEmbedded, "__PRODUCT__#product.currency", 0.95),
	}, nil).Once()

	out, err := New(d, testConfig(5)).Run(context.Background(), sampleDoc(t), nil)
	require.NoError(t, err)
	require.True(t, out.Accepted())
	assert.Equal(t, 3, out.Iterations)

	for i := 1; i < len(out.History); i++ {
		assert.GreaterOrEqual(t, out.History[i].SuccessRate, out.History[i-1].SuccessRate)
	}

	// Round two only asked for failing critical and weak auxiliary fields,
	// so the title proposal was dropped and h1 still leads its chain.
	req := d.Calls[1].Arguments.Get(1).(DraftRequest)
	assert.NotContains(t, req.Fields, model.FieldTitle)
	assert.Contains(t, req.Fields, model.FieldPrice)
	assert.Contains(t, req.Fields, model.FieldImage)

	title := out.Pattern.Chain(model.FieldTitle)
	require.Len(t, title, 1)
	assert.Equal(t, "h1", title[0].Locator)

	price := out.Pattern.Chain(model.FieldPrice)
	require.Len(t, price, 2)
	assert.Equal(t, ".price", price[0].Locator)
	assert.Equal(t, 0.95, out.Report.Result(model.FieldPrice).Confidence)
}

func TestRun_PrunesBrokenRules(t *testing.T) {
	t.Parallel()

	brokenRule := rule(model.FieldPrice, model.StrategyEmbedded, "ld+json#offers.price", 0.95)
	seed := model.NewPattern("widgets.example")
	seed.Rules[model.FieldPrice] = []model.FieldRule{brokenRule}

	newDrafter := func() *mockDrafter {
		d := &mockDrafter{}
		d.On("Draft", mock.Anything, forIteration(1)).Return([]model.FieldRule{}, nil).Once()
		d.On("Draft", mock.Anything, forIteration(2)).Return(embeddedRules(model.AllFields()), nil).Once()
		return d
	}

	out, err := New(newDrafter(), testConfig(3)).Run(context.Background(), sampleDoc(t), seed)
	require.NoError(t, err)
	require.True(t, out.Accepted())
	assert.Equal(t, 1, out.History[1].RulesPruned)
	assert.False(t, out.Pattern.Has(brokenRule))
	assert.Equal(t, 1, out.Pattern.Version, "prune and append make one revision")

	cfg := testConfig(3)
	cfg.PruneBroken = false
	out, err = New(newDrafter(), cfg).Run(context.Background(), sampleDoc(t), seed)
	require.NoError(t, err)
	require.True(t, out.Accepted())
	assert.Zero(t, out.History[1].RulesPruned)
	assert.True(t, out.Pattern.Has(brokenRule))
	assert.Equal(t, brokenRule.Key(), out.Pattern.Chain(model.FieldPrice)[0].Key())
}

func TestRun_DraftFailureIsNoNewRules(t *testing.T) {
	t.Parallel()

	d := &mockDrafter{}
	d.On("Draft", mock.Anything, forIteration(1)).Return(nil, errors.New("model overloaded")).Once()
	d.On("Draft", mock.Anything, forIteration(2)).Return(embeddedRules(model.AllFields()), nil).Once()

	out, err := New(d, testConfig(3)).Run(context.Background(), sampleDoc(t), nil)
	require.NoError(t, err)
	require.True(t, out.Accepted())
	assert.Equal(t, 2, out.Iterations)
	assert.Equal(t, "model overloaded", out.History[0].DraftError)
	assert.Zero(t, out.History[0].RulesAdded)
	assert.Contains(t, out.Diagnostics, "round 1: drafting failed: model overloaded")
}

func TestRun_FiltersProposals(t *testing.T) {
	t.Parallel()

	d := &mockDrafter{}
	d.On("Draft", mock.Anything, forIteration(1)).Return([]model.FieldRule{
		rule(model.FieldPrice, model.StrategyDOM, "div[", 0.6),
		rule(model.FieldPrice, model.StrategyDOM, ".p", 0),
		rule(model.FieldPrice, model.StrategyEmbedded, " __PRODUCT__#product.price ", 0.95),
		rule(model.FieldPrice, model.StrategyEmbedded, "__PRODUCT__#product.price", 0.5),
	}, nil).Once()

	seed := model.NewPattern("widgets.example")
	for _, f := range model.AllFields() {
		if f != model.FieldPrice {
			seed.Rules[f] = []model.FieldRule{rule(f, model.StrategyDOM, ".none", 0.6)}
		}
	}
	out, err := New(d, testConfig(1)).Run(context.Background(), sampleDoc(t), seed)
	require.NoError(t, err)

	assert.Equal(t, 4, out.History[0].RulesProposed)
	assert.Equal(t, 1, out.History[0].RulesAdded)
	chain := out.Pattern.Chain(model.FieldPrice)
	require.Len(t, chain, 1)
	assert.Equal(t, "__PRODUCT__#product.price", chain[0].Locator)
	assert.Equal(t, 0.95, chain[0].Confidence)
}

func TestRun_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := &mockDrafter{}
	out, err := New(d, testConfig(3)).Run(ctx, sampleDoc(t), nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateExhausted, out.State)
	assert.Equal(t, ReasonCanceled, out.Reason)
	assert.Zero(t, out.Iterations)
	d.AssertNotCalled(t, "Draft", mock.Anything, mock.Anything)
}

func TestRun_CanceledDuringDrafting(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	d := DrafterFunc(func(ctx context.Context, _ DraftRequest) ([]model.FieldRule, error) {
		cancel()
		return nil, ctx.Err()
	})

	out, err := New(d, testConfig(3)).Run(ctx, sampleDoc(t), nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, ReasonCanceled, out.Reason)
	assert.Empty(t, out.History)
}

func TestRunHTML_Unparsable(t *testing.T) {
	t.Parallel()

	d := &mockDrafter{}
	out, err := New(d, testConfig(3)).RunHTML(context.Background(), "\x00\x01\x02", "https://www.widgets.example/p/1", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, document.ErrUnparsable))
	assert.Equal(t, StateExhausted, out.State)
	assert.Equal(t, ReasonUnparsable, out.Reason)
	assert.Equal(t, "widgets.example", out.Domain)
	assert.Zero(t, out.Iterations)
	assert.Nil(t, out.Verdict)
	require.Len(t, out.Diagnostics, 1)
	assert.Contains(t, out.Diagnostics[0], "could not be parsed")
	d.AssertNotCalled(t, "Draft", mock.Anything, mock.Anything)
}

func TestRun_ExhaustionBound(t *testing.T) {
	t.Parallel()

	for _, maxIter := range []int{1, 2, 4} {
		calls := 0
		n := 0
		d := DrafterFunc(func(_ context.Context, req DraftRequest) ([]model.FieldRule, error) {
			calls++
			var rules []model.FieldRule
			for _, f := range req.Fields {
				n++
				rules = append(rules, rule(f, model.StrategyMeta, fmt.Sprintf("x:%d", n), 0.5))
			}
			return rules, nil
		})
		out, err := New(d, testConfig(maxIter)).Run(context.Background(), sampleDoc(t), nil)
		require.NoError(t, err)
		assert.Equal(t, maxIter, out.Iterations)
		assert.Len(t, out.History, maxIter)
		assert.Equal(t, maxIter, calls)
	}
}

func TestDomainFromURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "shop.example", DomainFromURL("https://WWW.Shop.Example:8443/p/1"))
	assert.Equal(t, "shop.example", DomainFromHost("www.shop.example"))
	assert.Empty(t, DomainFromURL("/relative/path"))
}
