package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/storefront-watch/internal/config"
)

func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one crawl over the configured seeds",
		Long: `Seeds the frontier from the configured product URLs, seller handles,
categories and keywords, then crawls until the queue drains or a budget is
reached. Product and error records are written as JSON lines.`,
		RunE: runCrawlCommand,
	}
	f := cmd.Flags()
	f.StringSlice("product-url", nil, "product page URL to crawl (repeatable)")
	f.StringSlice("seller", nil, "seller handle to crawl (repeatable)")
	f.StringSlice("keyword", nil, "search keyword to crawl (repeatable)")
	f.StringSlice("category", nil, "category listing URL to crawl (repeatable)")
	f.Int64("max-items", 0, "stop after emitting this many product records (0 = unlimited)")
	f.Int64("max-requests", 0, "stop after this many requests (0 = unlimited)")
	f.String("driver", "", "page driver: chromedp, rod or static")
	f.StringP("output", "o", "", "dataset path, - for stdout")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	runner, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	// Closed here rather than in a post-run hook, which cobra skips on error.
	defer runner.Close()

	stats, err := runner.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("run crawl: %w", err)
	}
	cmd.PrintErrf("crawl finished: %d requests, %d products emitted, %d duplicates skipped\n",
		stats.Requests, stats.Emitted, stats.Duplicates)
	return nil
}

// applyFlagOverrides copies explicitly set crawl flags over the loaded config
// and revalidates it.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	var err error
	set := func(name string, apply func() error) {
		if err == nil && f.Changed(name) {
			err = apply()
		}
	}
	set("product-url", func() (e error) { cfg.Input.ProductURLs, e = f.GetStringSlice("product-url"); return })
	set("seller", func() (e error) { cfg.Input.SellerHandles, e = f.GetStringSlice("seller"); return })
	set("keyword", func() (e error) { cfg.Input.Keywords, e = f.GetStringSlice("keyword"); return })
	set("category", func() (e error) { cfg.Input.CategoryURLs, e = f.GetStringSlice("category"); return })
	set("max-items", func() (e error) { cfg.Crawler.MaxItems, e = f.GetInt64("max-items"); return })
	set("max-requests", func() (e error) { cfg.Crawler.MaxRequests, e = f.GetInt64("max-requests"); return })
	set("driver", func() (e error) { cfg.Browser.Driver, e = f.GetString("driver"); return })
	set("output", func() (e error) { cfg.Output.Path, e = f.GetString("output"); return })
	if err != nil {
		return fmt.Errorf("read flags: %w", err)
	}
	if cfg.SeedCount() == 0 {
		return fmt.Errorf("no seeds configured: set input.* in the config or pass --product-url, --seller, --keyword or --category")
	}
	return cfg.Validate()
}
