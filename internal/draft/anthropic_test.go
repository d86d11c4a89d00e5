package draft

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/product-patterns/internal/extract"
	"github.com/sells-group/product-patterns/internal/iterate"
	"github.com/sells-group/product-patterns/internal/model"
	"github.com/sells-group/product-patterns/internal/resilience"
	"github.com/sells-group/product-patterns/pkg/anthropic"
)

func fastAnthropic(client anthropic.Client) *Anthropic {
	return NewAnthropic(client, AnthropicConfig{
		Retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
		},
	})
}

func TestAnthropic_Draft(t *testing.T) {
	doc := parsePage(t)
	client := &mockClient{}
	answer := "```json\n" + `{"rules":[
		{"field":"price","kind":"dom","locator":".price","confidence":0.95},
		{"field":"price","kind":"meta","locator":"product:price:amount"},
		{"field":"title","kind":"dom","locator":"h1","confidence":0.6},
		{"field":"colour","kind":"dom","locator":".c","confidence":0.5},
		{"field":"price","kind":"xpath","locator":"//span","confidence":0.5},
		{"field":"price","kind":"dom","locator":"  ","confidence":0.5}
	]}` + "\n```"

	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == defaultModel &&
			len(req.System) == 1 && req.System[0].CacheControl != nil &&
			len(req.Messages) == 1 && req.Temperature != nil && *req.Temperature == 0
	})).Return(textResponse(answer), nil).Once()

	rules, err := fastAnthropic(client).Draft(context.Background(), iterate.DraftRequest{
		Document:  doc,
		Domain:    "shop.example",
		Fields:    []model.Field{model.FieldPrice},
		Iteration: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, []model.FieldRule{
		{Field: model.FieldPrice, Kind: model.StrategyDOM, Locator: ".price", Confidence: maxModelConfidence},
		{Field: model.FieldPrice, Kind: model.StrategyMeta, Locator: "product:price:amount", Confidence: defaultModelConf},
	}, rules)
	client.AssertExpectations(t)
}

func TestAnthropic_RetriesTransient(t *testing.T) {
	client := &mockClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, resilience.NewTransientError(errors.New("overloaded"), 529)).Once()
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"rules":[{"field":"title","kind":"meta","locator":"og:title","confidence":0.8}]}`), nil).Once()

	rules, err := fastAnthropic(client).Draft(context.Background(), iterate.DraftRequest{
		Document: parsePage(t),
		Fields:   []model.Field{model.FieldTitle},
	})
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "og:title", rules[0].Locator)
	client.AssertNumberOfCalls(t, "CreateMessage", 2)
}

func TestAnthropic_PermanentError(t *testing.T) {
	client := &mockClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, errors.New("invalid x-api-key")).Once()

	_, err := fastAnthropic(client).Draft(context.Background(), iterate.DraftRequest{
		Document: parsePage(t),
		Fields:   []model.Field{model.FieldTitle},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "draft: anthropic request")
	client.AssertNumberOfCalls(t, "CreateMessage", 1)
}

func TestAnthropic_UnparsableAnswer(t *testing.T) {
	client := &mockClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse("I could not find any rules."), nil)

	_, err := fastAnthropic(client).Draft(context.Background(), iterate.DraftRequest{
		Document: parsePage(t),
		Fields:   []model.Field{model.FieldTitle},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "draft: parse model answer")
}

func TestAnthropic_NoFieldsNoCall(t *testing.T) {
	client := &mockClient{}
	rules, err := fastAnthropic(client).Draft(context.Background(), iterate.DraftRequest{Document: parsePage(t)})
	require.NoError(t, err)
	assert.Nil(t, rules)
	client.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestBuildPrompt(t *testing.T) {
	doc := parsePage(t)
	current, _ := model.NewPattern("shop.example").WithAppended([]model.FieldRule{
		{Field: model.FieldPrice, Kind: model.StrategyDOM, Locator: ".missing-price", Confidence: 0.6},
	})
	report, err := extract.New().Extract(doc, current)
	require.NoError(t, err)

	prompt := buildPrompt(iterate.DraftRequest{
		Document:  doc,
		Domain:    "shop.example",
		Fields:    []model.Field{model.FieldPrice, model.FieldCurrency},
		Current:   current,
		Report:    report,
		Iteration: 2,
	}, 0)

	assert.Contains(t, prompt, "Shop: shop.example")
	assert.Contains(t, prompt, "Requested fields: price, currency")
	assert.Contains(t, prompt, `price: dom ".missing-price" (confidence 0.60)`)
	assert.Contains(t, prompt, `price: absent; tried dom ".missing-price" (miss:`)
	assert.Contains(t, prompt, "currency: absent; no rules")
	assert.Contains(t, prompt, "Page digest:")
	assert.Contains(t, prompt, "product:price:amount = 89.90")
}

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"plain", `{"rules":[]}`, `{"rules":[]}`},
		{"json fence", "```json\n{\"rules\":[]}\n```", `{"rules":[]}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"prose", "Here you go: {\"a\":{\"b\":2}} hope it helps", `{"a":{"b":2}}`},
		{"no object", "nothing", "nothing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanJSON(tt.in))
		})
	}
}
