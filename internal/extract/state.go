package extract

import (
	"context"
	"errors"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/storefront-watch/internal/crawler"
)

var hydrationScriptSelectors = []string{
	"script#__NEXT_DATA__",
	"script#__NUXT_DATA__",
	"script#__UNIVERSAL_DATA_FOR_REHYDRATION__",
	"script#SIGI_STATE",
}

var (
	hydrationGlobals  = []string{"window.__INITIAL_STATE__", "window.__PRELOADED_STATE__", "window.__NUXT__"}
	stateCacheGlobals = []string{"window.__APOLLO_STATE__", "window.__RELAY_STORE__"}
)

// StateScript is evaluated in the live page to read embedded state that is
// only reachable through window globals. It returns a JSON object shaped like
// liveState.
const StateScript = `(() => {
  const safe = (v) => { try { return v === undefined || v === null ? "" : JSON.stringify(v); } catch (e) { return ""; } };
  const ld = Array.from(document.querySelectorAll('script[type="application/ld+json"]')).map((s) => s.textContent || "");
  return {
    linkedData: ld,
    hydration: safe(window.__NEXT_DATA__ || window.__INITIAL_STATE__ || window.__PRELOADED_STATE__ || window.__NUXT__),
    stateCache: safe(window.__APOLLO_STATE__ || (window.__APOLLO_CLIENT__ && window.__APOLLO_CLIENT__.cache && window.__APOLLO_CLIENT__.cache.extract())),
  };
})()`

type liveState struct {
	LinkedData []string `json:"linkedData"`
	Hydration  string   `json:"hydration"`
	StateCache string   `json:"stateCache"`
}

// StateFromDocument collects the embedded state blobs that are present in the
// static markup.
func StateFromDocument(doc *goquery.Document) crawler.PageState {
	var state crawler.PageState
	if doc == nil {
		return state
	}

	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			state.LinkedData = append(state.LinkedData, text)
		}
	})

	for _, sel := range hydrationScriptSelectors {
		if text := strings.TrimSpace(doc.Find(sel).First().Text()); text != "" {
			state.Hydration = text
			break
		}
	}

	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if _, ok := s.Attr("src"); ok {
			return
		}
		typ := strings.ToLower(s.AttrOr("type", ""))
		if typ == "application/ld+json" {
			return
		}
		if id := s.AttrOr("id", ""); id != "" && isHydrationScriptID(id) {
			return
		}
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		if state.Hydration == "" {
			if obj := assignedObject(text, hydrationGlobals); obj != "" {
				state.Hydration = obj
			}
		}
		if state.StateCache == "" {
			if obj := assignedObject(text, stateCacheGlobals); obj != "" {
				state.StateCache = obj
			}
		}
		state.Scripts = append(state.Scripts, text)
	})
	return state
}

// CollectState merges the static document state with whatever the live page
// exposes through StateScript. Pages that cannot evaluate scripts contribute
// only the static state.
func CollectState(ctx context.Context, page crawler.Page, doc *goquery.Document) (crawler.PageState, error) {
	state := StateFromDocument(doc)
	if page == nil {
		return state, nil
	}
	var live liveState
	if err := page.Evaluate(ctx, StateScript, &live); err != nil {
		if errors.Is(err, crawler.ErrUnsupported) {
			return state, nil
		}
		return state, err
	}
	if len(state.LinkedData) == 0 {
		state.LinkedData = live.LinkedData
	}
	if state.Hydration == "" {
		state.Hydration = live.Hydration
	}
	if state.StateCache == "" {
		state.StateCache = live.StateCache
	}
	return state, nil
}

func isHydrationScriptID(id string) bool {
	for _, sel := range hydrationScriptSelectors {
		if strings.HasSuffix(sel, "#"+id) {
			return true
		}
	}
	return false
}

// assignedObject finds "<global> = {...}" in script text and returns the
// balanced object literal.
func assignedObject(text string, globals []string) string {
	for _, g := range globals {
		idx := strings.Index(text, g)
		if idx < 0 {
			continue
		}
		rest := text[idx+len(g):]
		eq := strings.IndexByte(rest, '=')
		if eq < 0 || strings.TrimSpace(rest[:eq]) != "" {
			continue
		}
		if obj := balancedObject(rest[eq+1:]); obj != "" {
			return obj
		}
	}
	return ""
}

// balancedObject returns the first {...} in s, honoring string literals.
func balancedObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	var quote byte
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				inString = false
			}
			continue
		}
		switch c {
		case '"', '\'':
			inString = true
			quote = c
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
