package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/product-patterns/internal/acquire"
	"github.com/sells-group/product-patterns/internal/config"
	"github.com/sells-group/product-patterns/internal/draft"
	"github.com/sells-group/product-patterns/internal/extract"
	"github.com/sells-group/product-patterns/internal/iterate"
	"github.com/sells-group/product-patterns/internal/pipeline"
	"github.com/sells-group/product-patterns/internal/resilience"
	"github.com/sells-group/product-patterns/internal/review"
	"github.com/sells-group/product-patterns/internal/store"
	anthropicpkg "github.com/sells-group/product-patterns/pkg/anthropic"
	"github.com/sells-group/product-patterns/pkg/firecrawl"
	"github.com/sells-group/product-patterns/pkg/jina"
	"github.com/sells-group/product-patterns/pkg/notion"
)

// runEnv holds everything the generate and batch commands need.
type runEnv struct {
	Store  store.Store
	Runner *pipeline.Runner
}

// Close releases resources held by the environment.
func (e *runEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured store backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "product-patterns.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens and migrates the store.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initFetcher builds the direct HTTP fetcher, falling back to the Jina
// Reader and then Firecrawl when their keys are configured.
func initFetcher(c *config.Config) acquire.Fetcher {
	retry := resilience.DefaultRetryConfig()
	if c.Fetch.MaxAttempts > 0 {
		retry.MaxAttempts = c.Fetch.MaxAttempts
	}
	direct := acquire.NewHTTPFetcher(acquire.HTTPConfig{
		Timeout:      c.FetchTimeout(),
		UserAgent:    c.Fetch.UserAgent,
		RatePerHost:  c.Fetch.RatePerHost,
		Burst:        c.Fetch.Burst,
		MaxBodyBytes: c.Fetch.MaxBodyBytes,
		Retry:        retry,
		Breaker:      resilience.BreakerConfig{FailureThreshold: 5, ResetTimeout: 30 * time.Second},
	}, nil)

	fetchers := []acquire.Fetcher{direct}
	if c.Fetch.JinaFallback && c.Jina.Key != "" {
		client := jina.NewClient(c.Jina.Key, jina.WithBaseURL(c.Jina.BaseURL))
		fetchers = append(fetchers, acquire.NewJinaFetcher(client))
	}
	if c.Fetch.FirecrawlFallback && c.Firecrawl.Key != "" {
		var opts []firecrawl.Option
		if c.Firecrawl.BaseURL != "" {
			opts = append(opts, firecrawl.WithBaseURL(c.Firecrawl.BaseURL))
		}
		client := firecrawl.NewClient(c.Firecrawl.Key, opts...)
		wait := time.Duration(c.Firecrawl.WaitForMs) * time.Millisecond
		fetchers = append(fetchers, acquire.NewFirecrawlFetcher(client, wait))
	}
	if len(fetchers) == 1 {
		return direct
	}
	return acquire.NewChain(fetchers...)
}

// initDrafter builds the drafter chain in configured order. The anthropic
// drafter is skipped with a warning when no key is set.
func initDrafter(c *config.Config, engine *extract.Engine) (iterate.Drafter, error) {
	var drafters []iterate.Drafter
	for _, name := range c.Draft.Drafters {
		switch name {
		case "heuristic":
			drafters = append(drafters, draft.NewHeuristic(engine, c.Draft.PerField))
		case "anthropic":
			if c.Anthropic.Key == "" {
				zap.L().Warn("anthropic drafter configured without a key, skipping")
				continue
			}
			opts := []anthropicpkg.Option{anthropicpkg.WithMaxRetries(c.Anthropic.MaxRetries)}
			if c.Anthropic.BaseURL != "" {
				opts = append(opts, anthropicpkg.WithBaseURL(c.Anthropic.BaseURL))
			}
			client := anthropicpkg.NewClient(c.Anthropic.Key, opts...)
			drafters = append(drafters, draft.NewAnthropic(client, draft.AnthropicConfig{
				Model:        c.Anthropic.Model,
				MaxTokens:    c.Anthropic.MaxTokens,
				DigestBudget: c.Anthropic.DigestBudget,
				CacheTTL:     c.Anthropic.CacheTTL,
				Retry:        resilience.DefaultRetryConfig(),
			}))
		default:
			return nil, eris.Errorf("unknown drafter: %s", name)
		}
	}
	if len(drafters) == 0 {
		return nil, eris.New("no usable drafter configured")
	}
	if len(drafters) == 1 {
		return drafters[0], nil
	}
	return draft.NewChain(c.Draft.Narrow, drafters...), nil
}

// initReviewer returns nil when no review sink (webhook, output directory
// or Notion database) is configured.
func initReviewer(c *config.Config) pipeline.Reviewer {
	useNotion := c.Notion.Token != "" && c.Notion.ReviewDB != ""
	if c.Review.WebhookURL == "" && c.Review.OutDir == "" && !useNotion {
		return nil
	}
	sub := &review.Submitter{OutDir: c.Review.OutDir}
	if c.Review.WebhookURL != "" {
		sub.Webhook = review.NewWebhook(c.Review.WebhookURL, c.ReviewTimeout())
	}
	if useNotion {
		sub.Notion = review.NewNotionSink(notion.NewClient(c.Notion.Token, c.Notion.RateLimit), c.Notion.ReviewDB)
	}
	return sub
}

// initController builds the iteration controller from config.
func initController(c *config.Config) (*iterate.Controller, error) {
	engine := extract.New()
	drafter, err := initDrafter(c, engine)
	if err != nil {
		return nil, err
	}
	return iterate.New(drafter, c.ControllerConfig(), iterate.WithEngine(engine)), nil
}

// initRunner sets up the store, fetcher, drafters and reviewer. Callers
// should defer env.Close().
func initRunner(ctx context.Context, save bool) (*runEnv, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	controller, err := initController(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	opts := []pipeline.Option{pipeline.WithStore(st), pipeline.WithSave(save)}
	if rv := initReviewer(cfg); rv != nil {
		opts = append(opts, pipeline.WithReviewer(rv))
	}
	return &runEnv{
		Store:  st,
		Runner: pipeline.New(controller, initFetcher(cfg), opts...),
	}, nil
}
