package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/storefront-watch/internal/crawler"
)

// ErrNoConsentBanner is returned when no known consent control was found.
var ErrNoConsentBanner = errors.New("no consent banner found")

// consentScript clicks the first visible accept button of common consent
// banners and reports whether it clicked anything.
const consentScript = `(() => {
  const selectors = [
    '#onetrust-accept-btn-handler',
    'button[id*="accept" i]',
    'button[class*="accept" i]',
    '[data-testid*="accept" i]',
    'button[aria-label*="accept" i]',
    '.cookie-consent button',
    '.tiktok-cookie-banner button:last-child'
  ];
  for (const sel of selectors) {
    const el = document.querySelector(sel);
    if (el && el.offsetParent !== null) { el.click(); return true; }
  }
  const words = ['accept all', 'accept', 'allow all', 'agree', 'got it'];
  for (const b of document.querySelectorAll('button')) {
    const t = (b.innerText || '').trim().toLowerCase();
    if (words.includes(t)) { b.click(); return true; }
  }
  return false;
})()`

const scrollStepScript = `(() => { window.scrollBy(0, Math.max(window.innerHeight, 600)); return document.body ? document.body.scrollHeight : 0; })()`

// DismissConsent clicks a cookie or consent banner if one is showing.
// Callers treat every error as ignorable.
func DismissConsent(ctx context.Context, page crawler.Page) error {
	var clicked bool
	if err := page.Evaluate(ctx, consentScript, &clicked); err != nil {
		return fmt.Errorf("dismiss consent: %w", err)
	}
	if !clicked {
		return ErrNoConsentBanner
	}
	return nil
}

// Scroll scrolls the page steps times, pausing between steps so lazy-loaded
// listings can render. It stops early once the page stops growing.
// Callers treat every error as ignorable.
func Scroll(ctx context.Context, page crawler.Page, steps int, pause time.Duration) error {
	last := -1
	for i := 0; i < steps; i++ {
		var height int
		if err := page.Evaluate(ctx, scrollStepScript, &height); err != nil {
			return fmt.Errorf("scroll step %d: %w", i+1, err)
		}
		if height == last {
			return nil
		}
		last = height
		if pause > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pause):
			}
		}
	}
	return nil
}
