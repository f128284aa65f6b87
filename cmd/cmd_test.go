package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-watch/internal/config"
	"github.com/JakeFAU/storefront-watch/internal/frontier"
)

type fakeRunner struct {
	stats  frontier.Stats
	err    error
	ran    bool
	closed bool
}

func (f *fakeRunner) Run(context.Context) (frontier.Stats, error) {
	f.ran = true
	return f.stats, f.err
}

func (f *fakeRunner) Close() { f.closed = true }

// stubFactories swaps the package factories; tests using it must not run in parallel.
func stubFactories(t *testing.T, runner *fakeRunner) *config.Config {
	t.Helper()
	origApp, origLogger := newApp, newLogger
	t.Cleanup(func() { newApp, newLogger = origApp, origLogger })

	var captured config.Config
	newLogger = func(bool) (*zap.Logger, error) { return zap.NewNop(), nil }
	newApp = func(_ context.Context, cfg config.Config, _ *zap.Logger) (Runner, error) {
		captured = cfg
		return runner, nil
	}
	return &captured
}

func execute(args ...string) (string, error) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCrawlCommandAppliesFlags(t *testing.T) {
	runner := &fakeRunner{stats: frontier.Stats{Requests: 4, Emitted: 2}}
	cfg := stubFactories(t, runner)

	out, err := execute("crawl",
		"--product-url", "https://shop.example.com/product/1234567",
		"--seller", "deskco",
		"--driver", "static",
		"--max-items", "3",
		"-o", "/tmp/out.jsonl",
	)
	require.NoError(t, err)

	assert.True(t, runner.ran)
	assert.True(t, runner.closed)
	assert.Equal(t, []string{"https://shop.example.com/product/1234567"}, cfg.Input.ProductURLs)
	assert.Equal(t, []string{"deskco"}, cfg.Input.SellerHandles)
	assert.Equal(t, "static", cfg.Browser.Driver)
	assert.Equal(t, int64(3), cfg.Crawler.MaxItems)
	assert.Equal(t, "/tmp/out.jsonl", cfg.Output.Path)
	assert.Equal(t, 4, cfg.Crawler.Concurrency, "defaults survive overrides")
	assert.Contains(t, out, "4 requests, 2 products emitted")
}

func TestCrawlCommandRequiresSeeds(t *testing.T) {
	runner := &fakeRunner{}
	stubFactories(t, runner)

	_, err := execute("crawl")
	require.ErrorContains(t, err, "no seeds configured")
	assert.False(t, runner.ran)
}

func TestCrawlCommandRejectsUnknownDriver(t *testing.T) {
	stubFactories(t, &fakeRunner{})

	_, err := execute("crawl", "--product-url", "https://shop.example.com/p/1", "--driver", "lynx")
	require.ErrorContains(t, err, "browser.driver")
}

func TestCrawlCommandPropagatesRunError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("crawl interrupted: context canceled")}
	stubFactories(t, runner)

	_, err := execute("crawl", "--category", "https://shop.example.com/c/desks")
	require.ErrorContains(t, err, "run crawl")
	assert.True(t, runner.closed)
}

func TestCrawlCommandAppInitFailure(t *testing.T) {
	stubFactories(t, &fakeRunner{})
	newApp = func(context.Context, config.Config, *zap.Logger) (Runner, error) {
		return nil, errors.New("connect redis: refused")
	}

	_, err := execute("crawl", "--keyword", "desk")
	require.ErrorContains(t, err, "failed to initialize application services")
}
