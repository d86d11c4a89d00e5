package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/product-patterns/internal/acquire"
	"github.com/sells-group/product-patterns/internal/document"
	"github.com/sells-group/product-patterns/internal/iterate"
	"github.com/sells-group/product-patterns/internal/model"
	"github.com/sells-group/product-patterns/internal/store"
)

const (
	sampleURL  = "https://www.widgets.example/p/1234"
	samplePage = `<html><head>
<link rel="canonical" href="https://www.widgets.example/p/1234">
<script>window.__PRODUCT__ = {"product":{"price":"29.99","currency":"USD","title":"Widget","sku":"W-1"}};</script>
</head><body><h1>Widget</h1></body></html>`
)

func embeddedRules(fields []model.Field) []model.FieldRule {
	var out []model.FieldRule
	for _, f := range fields {
		switch f {
		case model.FieldPrice, model.FieldCurrency, model.FieldTitle:
			out = append(out, model.FieldRule{
				Field: f, Kind: model.StrategyEmbedded,
				Locator: "__PRODUCT__#product." + string(f), Confidence: 0.95,
			})
		}
	}
	return out
}

func passingDrafter() iterate.Drafter {
	return iterate.DrafterFunc(func(_ context.Context, req iterate.DraftRequest) ([]model.FieldRule, error) {
		return embeddedRules(req.Fields), nil
	})
}

func emptyDrafter() iterate.Drafter {
	return iterate.DrafterFunc(func(context.Context, iterate.DraftRequest) ([]model.FieldRule, error) {
		return nil, nil
	})
}

func failingDrafter(t *testing.T) iterate.Drafter {
	return iterate.DrafterFunc(func(context.Context, iterate.DraftRequest) ([]model.FieldRule, error) {
		t.Error("drafter must not be called")
		return nil, nil
	})
}

func controller(d iterate.Drafter) *iterate.Controller {
	cfg := iterate.DefaultConfig()
	cfg.MaxIterations = 2
	return iterate.New(d, cfg)
}

func documentResult() *acquire.Result {
	return &acquire.Result{Kind: acquire.KindDocument, URL: sampleURL, HTML: samplePage, StatusCode: 200, Source: "mock"}
}

func phaseNames(res *Result) []string {
	var out []string
	for _, p := range res.Phases {
		out = append(out, p.Name+":"+string(p.Status))
	}
	return out
}

func TestGenerate_AcceptedAndSaved(t *testing.T) {
	f := &mockFetcher{}
	f.On("Fetch", mock.Anything, sampleURL).Return(documentResult())

	st := &mockStore{}
	st.On("LatestPattern", mock.Anything, "widgets.example").Return(nil, eris.Wrap(store.ErrNotFound, "none"))
	st.On("SavePattern", mock.Anything, mock.MatchedBy(func(p *model.Pattern) bool {
		return p.Domain == "widgets.example" && p.ParentVersion == 0 && len(p.Rules[model.FieldPrice]) == 1
	})).Return(&model.Pattern{ID: "p-1", Domain: "widgets.example", Version: 1}, nil)
	st.On("RecordRun", mock.Anything, mock.MatchedBy(func(r *model.Run) bool {
		return r.Status == model.RunStatusAccepted && r.PatternVersion == 1 && r.Reason == iterate.ReasonPassed
	})).Return(nil)

	rv := &mockReviewer{}
	r := New(controller(passingDrafter()), f, WithStore(st), WithReviewer(rv))

	res, err := r.Generate(context.Background(), Request{URL: sampleURL})
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusAccepted, res.Status)
	assert.Equal(t, "widgets.example", res.Domain)
	require.NotNil(t, res.Saved)
	assert.Equal(t, 1, res.Saved.Version)
	assert.Equal(t, []string{"acquire:complete", "iterate:complete", "persist:complete"}, phaseNames(res))
	f.AssertExpectations(t)
	st.AssertExpectations(t)
	rv.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything, mock.Anything)
}

func TestGenerate_BlockedSkipsController(t *testing.T) {
	blocked := &acquire.Result{Kind: acquire.KindBlocked, URL: sampleURL, StatusCode: 403, Block: acquire.BlockCloudflare, Source: "mock"}
	f := &mockFetcher{}
	f.On("Fetch", mock.Anything, sampleURL).Return(blocked)

	st := &mockStore{}
	st.On("RecordRun", mock.Anything, mock.MatchedBy(func(r *model.Run) bool {
		return r.Status == model.RunStatusBlocked && r.Error != "" && r.Iterations == 0
	})).Return(nil)

	r := New(controller(failingDrafter(t)), f, WithStore(st))

	res, err := r.Generate(context.Background(), Request{URL: sampleURL})
	require.Error(t, err)
	assert.True(t, errors.Is(err, acquire.ErrBlocked))
	assert.Equal(t, model.RunStatusBlocked, res.Status)
	assert.Nil(t, res.Outcome)
	assert.Equal(t, []string{"acquire:failed"}, phaseNames(res))
	st.AssertExpectations(t)
	st.AssertNotCalled(t, "LatestPattern", mock.Anything, mock.Anything)
}

func TestGenerate_NetworkErrorIsFailed(t *testing.T) {
	f := &mockFetcher{}
	f.On("Fetch", mock.Anything, sampleURL).Return(&acquire.Result{
		Kind: acquire.KindNetworkError, URL: sampleURL, Source: "mock", Err: eris.New("dial tcp: connection refused"),
	})

	res, err := New(controller(failingDrafter(t)), f).Generate(context.Background(), Request{URL: sampleURL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, model.RunStatusFailed, res.Status)
	require.NotNil(t, res.Run)
	assert.Equal(t, model.RunStatusFailed, res.Run.Status)
}

func TestGenerate_ExhaustedGoesToReview(t *testing.T) {
	st := &mockStore{}
	st.On("LatestPattern", mock.Anything, "widgets.example").Return(nil, store.ErrNotFound)
	st.On("RecordRun", mock.Anything, mock.MatchedBy(func(r *model.Run) bool {
		return r.Status == model.RunStatusExhausted && r.Reason == iterate.ReasonBudget && r.Iterations == 2 && len(r.Diagnostics) > 0
	})).Return(nil)

	rv := &mockReviewer{}
	rv.On("Submit", mock.Anything, mock.MatchedBy(func(o *iterate.Outcome) bool {
		return o.State == iterate.StateExhausted
	}), sampleURL).Return(nil)

	r := New(controller(emptyDrafter()), &mockFetcher{}, WithStore(st), WithReviewer(rv))

	res, err := r.Generate(context.Background(), Request{URL: sampleURL, HTML: samplePage})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusExhausted, res.Status)
	assert.Nil(t, res.Saved)
	assert.Equal(t, []string{"acquire:skipped", "iterate:complete", "review:complete"}, phaseNames(res))
	st.AssertExpectations(t)
	st.AssertNotCalled(t, "SavePattern", mock.Anything, mock.Anything)
	rv.AssertExpectations(t)
}

func TestGenerate_SeedsFromStoredPattern(t *testing.T) {
	stored := model.NewPattern("widgets.example")
	stored.ID = "p-3"
	stored.Version = 3
	for _, r := range embeddedRules(model.AllFields()) {
		stored.Rules[r.Field] = append(stored.Rules[r.Field], r)
	}

	st := &mockStore{}
	st.On("LatestPattern", mock.Anything, "widgets.example").Return(stored, nil)
	st.On("SavePattern", mock.Anything, mock.MatchedBy(func(p *model.Pattern) bool {
		return p.ParentVersion == 3
	})).Return(&model.Pattern{ID: "p-4", Domain: "widgets.example", Version: 4}, nil)
	st.On("RecordRun", mock.Anything, mock.Anything).Return(nil)

	r := New(controller(passingDrafter()), &mockFetcher{}, WithStore(st))

	res, err := r.Generate(context.Background(), Request{URL: sampleURL, HTML: samplePage})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusAccepted, res.Status)
	assert.Equal(t, 4, res.Saved.Version)
	st.AssertExpectations(t)
}

func TestGenerate_RequestSeedAndDomainOverride(t *testing.T) {
	seed := model.NewPattern("ignored.example")
	for _, r := range embeddedRules(model.AllFields()) {
		seed.Rules[r.Field] = append(seed.Rules[r.Field], r)
	}

	st := &mockStore{}
	st.On("SavePattern", mock.Anything, mock.MatchedBy(func(p *model.Pattern) bool {
		return p.Domain == "widgets.test"
	})).Return(&model.Pattern{ID: "p-1", Domain: "widgets.test", Version: 1}, nil)
	st.On("RecordRun", mock.Anything, mock.Anything).Return(nil)

	r := New(controller(passingDrafter()), &mockFetcher{}, WithStore(st))

	res, err := r.Generate(context.Background(), Request{URL: sampleURL, HTML: samplePage, Domain: "widgets.test", Seed: seed})
	require.NoError(t, err)
	assert.Equal(t, "widgets.test", res.Domain)
	st.AssertNotCalled(t, "LatestPattern", mock.Anything, mock.Anything)
	st.AssertExpectations(t)
}

func TestGenerate_SaveDisabled(t *testing.T) {
	st := &mockStore{}
	st.On("LatestPattern", mock.Anything, "widgets.example").Return(nil, store.ErrNotFound)
	st.On("RecordRun", mock.Anything, mock.Anything).Return(nil)

	r := New(controller(passingDrafter()), &mockFetcher{}, WithStore(st), WithSave(false))

	res, err := r.Generate(context.Background(), Request{URL: sampleURL, HTML: samplePage})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusAccepted, res.Status)
	assert.Nil(t, res.Saved)
	assert.Contains(t, phaseNames(res), "persist:skipped")
	st.AssertNotCalled(t, "SavePattern", mock.Anything, mock.Anything)
}

func TestGenerate_SaveFailure(t *testing.T) {
	st := &mockStore{}
	st.On("LatestPattern", mock.Anything, "widgets.example").Return(nil, store.ErrNotFound)
	st.On("SavePattern", mock.Anything, mock.Anything).Return(nil, eris.New("disk full"))
	st.On("RecordRun", mock.Anything, mock.MatchedBy(func(r *model.Run) bool {
		return r.Error != "" && r.PatternVersion == 0
	})).Return(nil)

	r := New(controller(passingDrafter()), &mockFetcher{}, WithStore(st))

	res, err := r.Generate(context.Background(), Request{URL: sampleURL, HTML: samplePage})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Contains(t, phaseNames(res), "persist:failed")
	st.AssertExpectations(t)
}

func TestGenerate_StoreLookupErrorStartsEmpty(t *testing.T) {
	st := &mockStore{}
	st.On("LatestPattern", mock.Anything, "widgets.example").Return(nil, eris.New("connection reset"))
	st.On("SavePattern", mock.Anything, mock.Anything).Return(&model.Pattern{Domain: "widgets.example", Version: 1}, nil)
	st.On("RecordRun", mock.Anything, mock.Anything).Return(eris.New("record failed"))

	r := New(controller(passingDrafter()), &mockFetcher{}, WithStore(st))

	res, err := r.Generate(context.Background(), Request{URL: sampleURL, HTML: samplePage})
	require.NoError(t, err, "lookup and record failures are logged, not returned")
	assert.Equal(t, model.RunStatusAccepted, res.Status)
}

func TestGenerate_UnparsableDocument(t *testing.T) {
	rv := &mockReviewer{}
	rv.On("Submit", mock.Anything, mock.Anything, sampleURL).Return(nil)

	r := New(controller(failingDrafter(t)), &mockFetcher{}, WithReviewer(rv))

	res, err := r.Generate(context.Background(), Request{URL: sampleURL, HTML: "plain text, no markup"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, document.ErrUnparsable))
	assert.Equal(t, model.RunStatusExhausted, res.Status)
	require.NotNil(t, res.Outcome)
	assert.Equal(t, iterate.ReasonUnparsable, res.Outcome.Reason)
	assert.Contains(t, phaseNames(res), "iterate:failed")
	rv.AssertExpectations(t)
}

func TestGenerate_NoStore(t *testing.T) {
	r := New(controller(passingDrafter()), &mockFetcher{})

	res, err := r.Generate(context.Background(), Request{URL: sampleURL, HTML: samplePage})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusAccepted, res.Status)
	assert.Nil(t, res.Saved)
	require.NotNil(t, res.Run)
	assert.Equal(t, model.RunStatusAccepted, res.Run.Status)
}
