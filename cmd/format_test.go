package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/product-patterns/internal/acquire"
	"github.com/sells-group/product-patterns/internal/extract"
	"github.com/sells-group/product-patterns/internal/iterate"
	"github.com/sells-group/product-patterns/internal/model"
	"github.com/sells-group/product-patterns/internal/monitoring"
	"github.com/sells-group/product-patterns/internal/patternfile"
	"github.com/sells-group/product-patterns/internal/pipeline"
	"github.com/sells-group/product-patterns/internal/store"
	"github.com/sells-group/product-patterns/internal/validate"
)

const samplePage = `<html><head>
<link rel="canonical" href="https://www.widgets.example/p/1234">
<script>window.__PRODUCT__ = {"product":{"price":"29.99","currency":"USD","title":"Widget"}};</script>
</head><body><h1>Widget</h1></body></html>`

func samplePattern() *model.Pattern {
	p := model.NewPattern("widgets.example")
	for _, f := range []model.Field{model.FieldPrice, model.FieldTitle, model.FieldCurrency} {
		p.Rules[f] = []model.FieldRule{{
			Field: f, Kind: model.StrategyEmbedded,
			Locator: "__PRODUCT__#product." + string(f), Confidence: 0.95,
		}}
	}
	return p
}

func TestReadURLList(t *testing.T) {
	in := "https://a.example/p/1\n\n# comment\n  https://b.example/p/2  \n"
	urls, err := readURLList(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example/p/1", "https://b.example/p/2"}, urls)
}

func TestBuildRequest(t *testing.T) {
	withConfig(t, testConfig())
	dir := t.TempDir()
	page := filepath.Join(dir, "page.html")
	require.NoError(t, os.WriteFile(page, []byte(samplePage), 0o644))
	blocked := filepath.Join(dir, "blocked.html")
	require.NoError(t, os.WriteFile(blocked, []byte(`<html><title>Just a moment...</title><div id="cf-chl-widget"></div></html>`), 0o644))
	seed := filepath.Join(dir, "seed.yaml")
	require.NoError(t, patternfile.WriteFile(seed, samplePattern()))

	t.Run("url only", func(t *testing.T) {
		req, err := buildRequest(context.Background(), "https://www.widgets.example/p/1", "", "", "")
		require.NoError(t, err)
		assert.Equal(t, "https://www.widgets.example/p/1", req.URL)
		assert.Empty(t, req.HTML)
	})
	t.Run("html file", func(t *testing.T) {
		req, err := buildRequest(context.Background(), "", page, "widgets.example", seed)
		require.NoError(t, err)
		assert.Equal(t, "file://"+page, req.URL)
		assert.Contains(t, req.HTML, "__PRODUCT__")
		assert.Equal(t, "widgets.example", req.Domain)
		require.NotNil(t, req.Seed)
		assert.Len(t, req.Seed.Rules[model.FieldPrice], 1)
	})
	t.Run("blocked file", func(t *testing.T) {
		_, err := buildRequest(context.Background(), "", blocked, "", "")
		require.Error(t, err)
		assert.ErrorIs(t, err, acquire.ErrBlocked)
	})
	t.Run("missing input", func(t *testing.T) {
		_, err := buildRequest(context.Background(), "", "", "", "")
		require.Error(t, err)
	})
}

func TestFormatResult(t *testing.T) {
	report := &model.Report{
		Domain: "widgets.example",
		Results: map[model.Field]model.FieldResult{
			model.FieldPrice: {
				Field: model.FieldPrice, Value: "29.99", Confidence: 0.95,
				Source: &model.FieldRule{Field: model.FieldPrice, Kind: model.StrategyEmbedded, Locator: "x"},
			},
		},
	}
	res := &pipeline.Result{
		URL: "https://www.widgets.example/p/1", Domain: "widgets.example", Status: model.RunStatusAccepted,
		Outcome: &iterate.Outcome{
			Reason: iterate.ReasonPassed, Iterations: 1, Report: report,
			Verdict: &model.Verdict{Passed: true, OverallSuccessRate: 0.43},
		},
		Saved: &model.Pattern{Version: 2},
	}

	var buf bytes.Buffer
	formatResult(&buf, res)
	out := buf.String()
	assert.Contains(t, out, "accepted  widgets.example")
	assert.Contains(t, out, "29.99 (0.95 via embedded)")
	assert.Contains(t, out, "success rate: 0.43")
	assert.Contains(t, out, "saved version 2")
}

func TestFormatBatch(t *testing.T) {
	var buf bytes.Buffer
	formatBatch(&buf, []*pipeline.Result{
		{URL: "https://a.example/p/1", Domain: "a.example", Status: model.RunStatusAccepted,
			Outcome: &iterate.Outcome{Iterations: 2}, Saved: &model.Pattern{Version: 3}},
		{URL: "https://b.example/p/1", Status: model.RunStatusBlocked},
		nil,
	})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "accepted")
	assert.Contains(t, lines[1], "3")
	assert.Contains(t, lines[2], "blocked")
	assert.Contains(t, lines[2], "-")
}

func TestFormatReport(t *testing.T) {
	withConfig(t, testConfig())
	p := samplePattern()
	report, verdict := extractSample(t, p)

	var buf bytes.Buffer
	formatReport(&buf, report, verdict)
	out := buf.String()
	assert.Contains(t, out, "29.99")
	assert.Contains(t, out, "verdict: PASSED")
}

func TestFormatDomainsAndHistory(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var buf bytes.Buffer
	formatDomains(&buf, []store.DomainSummary{{Domain: "widgets.example", LatestVersion: 3, Versions: 3, UpdatedAt: ts}})
	assert.Contains(t, buf.String(), "widgets.example")
	assert.Contains(t, buf.String(), "2026-03-01 12:00")

	buf.Reset()
	p := samplePattern()
	p.Version, p.ParentVersion, p.CreatedAt = 2, 1, ts
	formatHistory(&buf, []model.Pattern{*p})
	assert.Contains(t, buf.String(), "false")

	buf.Reset()
	formatRunsList(&buf, []model.Run{{Domain: "widgets.example", Status: model.RunStatusExhausted, Iterations: 3, CreatedAt: ts}})
	assert.Contains(t, buf.String(), "exhausted")
}

func extractSample(t *testing.T, p *model.Pattern) (*model.Report, *model.Verdict) {
	t.Helper()
	report, err := extract.New().ExtractHTML(samplePage, "https://www.widgets.example/p/1234", p)
	require.NoError(t, err)
	return report, validate.Validate(report, cfg.ValidationPolicy())
}

func TestFormatSnapshot(t *testing.T) {
	snap := &monitoring.Snapshot{
		Total: 10, Accepted: 5, Blocked: 4, Failed: 1, BlockRate: 0.4, FailureRate: 0.1,
		AvgIterations: 1.5, AvgSuccessRate: 0.6, LookbackHours: 24,
		BlockedDomains: []monitoring.DomainCount{{Domain: "c.example", Count: 4}},
	}
	alerts := []monitoring.Alert{{Type: monitoring.AlertBlockRate, Severity: "high", Message: "Block rate 40.0%"}}

	var buf bytes.Buffer
	formatSnapshot(&buf, snap, alerts)
	out := buf.String()
	assert.Contains(t, out, "Runs in last 24h: 10")
	assert.Contains(t, out, "blocked:   4 (40.0%)")
	assert.Contains(t, out, "c.example")
	assert.Contains(t, out, "ALERT [high] Block rate 40.0%")
}
