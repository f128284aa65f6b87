package orchestrator

import (
	"context"
	"strings"

	"github.com/JakeFAU/storefront-watch/internal/crawler"
	"github.com/JakeFAU/storefront-watch/internal/frontier"
	"github.com/JakeFAU/storefront-watch/internal/locator"
)

// Seeds are the startup inputs of a run.
type Seeds struct {
	ProductURLs   []string
	SellerHandles []string
	Keywords      []string
	CategoryURLs  []string
	// BaseURL is the storefront origin that handles and keywords expand against.
	BaseURL string
}

// Requests expands the seeds into role-labelled URLs.
func (s Seeds) Requests() map[crawler.Role][]string {
	out := map[crawler.Role][]string{
		crawler.RoleProduct:  nonBlank(s.ProductURLs),
		crawler.RoleCategory: nonBlank(s.CategoryURLs),
	}
	for _, h := range nonBlank(s.SellerHandles) {
		out[crawler.RoleSeller] = append(out[crawler.RoleSeller], locator.SellerURL(s.BaseURL, h))
	}
	for _, k := range nonBlank(s.Keywords) {
		out[crawler.RoleKeyword] = append(out[crawler.RoleKeyword], locator.KeywordURL(s.BaseURL, k))
	}
	return out
}

// SeedFrontier enqueues every seed. Products go first so direct URLs are
// processed before listings fan out.
func SeedFrontier(ctx context.Context, f *frontier.Manager, s Seeds) (int, error) {
	byRole := s.Requests()
	total := 0
	for _, role := range []crawler.Role{crawler.RoleProduct, crawler.RoleSeller, crawler.RoleCategory, crawler.RoleKeyword} {
		n, err := f.Seed(ctx, byRole[role], role)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func nonBlank(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
