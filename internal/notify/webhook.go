package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JakeFAU/storefront-watch/internal/crawler"
)

const jsonContentType = "application/json"

// Webhook posts the full event as JSON to a generic endpoint.
type Webhook struct {
	url    string
	poster crawler.Poster
}

// NewWebhook builds a generic webhook sink.
func NewWebhook(url string, poster crawler.Poster) *Webhook {
	return &Webhook{url: url, poster: poster}
}

// Name implements Sink.
func (w *Webhook) Name() string { return "webhook" }

// Deliver implements Sink.
func (w *Webhook) Deliver(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}
	return post(ctx, w.poster, w.url, body)
}

// Chat posts a pre-formatted human-readable summary as {"text": ...}, the
// shape Slack, Google Chat and Mattermost incoming webhooks accept.
type Chat struct {
	url    string
	poster crawler.Poster
}

// NewChat builds a chat-webhook sink.
func NewChat(url string, poster crawler.Poster) *Chat {
	return &Chat{url: url, poster: poster}
}

// Name implements Sink.
func (c *Chat) Name() string { return "chat" }

// Deliver implements Sink.
func (c *Chat) Deliver(ctx context.Context, event Event) error {
	body, err := json.Marshal(map[string]string{"text": Summary(event)})
	if err != nil {
		return fmt.Errorf("chat: marshal: %w", err)
	}
	return post(ctx, c.poster, c.url, body)
}

func post(ctx context.Context, poster crawler.Poster, url string, body []byte) error {
	status, err := poster.Post(ctx, url, jsonContentType, body)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("unexpected status %d", status)
	}
	return nil
}

// Summary renders an event as a short multi-line message.
func Summary(event Event) string {
	rec := event.Record
	name := rec.ProductID
	if rec.Title != nil {
		name = *rec.Title
	}
	currency := ""
	if rec.Price.Currency != nil {
		currency = " " + *rec.Price.Currency
	}

	var b strings.Builder
	if event.Changes.FirstSeen {
		fmt.Fprintf(&b, "New product: %s [%s]", name, rec.ProductID)
		if rec.Price.Current != nil {
			fmt.Fprintf(&b, " at %s%s", formatPrice(rec.Price.Current), currency)
		}
		if rec.Availability != nil {
			fmt.Fprintf(&b, " (%s)", *rec.Availability)
		}
		b.WriteString("\n")
	} else {
		fmt.Fprintf(&b, "Product update: %s [%s]\n", name, rec.ProductID)
		if p := event.Changes.Price; p != nil {
			fmt.Fprintf(&b, "price: %s -> %s%s\n", formatPrice(p.From), formatPrice(&p.To), currency)
		}
		if a := event.Changes.Availability; a != nil {
			from := "unknown"
			if a.From != nil {
				from = string(*a.From)
			}
			fmt.Fprintf(&b, "availability: %s -> %s\n", from, a.To)
		}
	}
	b.WriteString(rec.URL)
	return b.String()
}

func formatPrice(f *float64) string {
	if f == nil {
		return "unknown"
	}
	return fmt.Sprintf("%.2f", *f)
}
