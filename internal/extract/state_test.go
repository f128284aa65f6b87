package extract

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/storefront-watch/internal/crawler"
)

type evalPage struct {
	result any
	err    error
}

func (p *evalPage) URL() string                                { return "https://shop.example.com/p" }
func (p *evalPage) HTML(context.Context) (string, error)       { return "", nil }
func (p *evalPage) Screenshot(context.Context) ([]byte, error) { return nil, crawler.ErrUnsupported }
func (p *evalPage) Close() error                               { return nil }

func (p *evalPage) Evaluate(_ context.Context, _ string, out any) error {
	if p.err != nil {
		return p.err
	}
	raw, err := json.Marshal(p.result)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func TestStateFromDocument(t *testing.T) {
	t.Parallel()

	doc := mustDoc(t, `<html><head>
<script type="application/ld+json">{"@type":"Product","name":"A"}</script>
<script id="__NEXT_DATA__" type="application/json">{"props":{"productId":"55"}}</script>
<script src="/bundle.js"></script>
<script>window.__APOLLO_STATE__ = {"Product:1":{"__typename":"Product","name":"x } y"}};</script>
<script>console.log("hi")</script>
</head></html>`)

	state := StateFromDocument(doc)
	assert.Equal(t, []string{`{"@type":"Product","name":"A"}`}, state.LinkedData)
	assert.Equal(t, `{"props":{"productId":"55"}}`, state.Hydration)
	assert.Equal(t, `{"Product:1":{"__typename":"Product","name":"x } y"}}`, state.StateCache)
	assert.Len(t, state.Scripts, 2)
}

func TestStateFromDocumentInitialStateAssignment(t *testing.T) {
	t.Parallel()

	doc := mustDoc(t, `<script>window.__INITIAL_STATE__={"item":{"title":"Kettle"}};var x=1;</script>`)
	state := StateFromDocument(doc)
	assert.Equal(t, `{"item":{"title":"Kettle"}}`, state.Hydration)
	assert.Empty(t, state.StateCache)
}

func TestCollectStateMergesLiveState(t *testing.T) {
	t.Parallel()

	doc := mustDoc(t, `<script type="application/ld+json">{"@type":"Product"}</script>`)
	page := &evalPage{result: map[string]any{
		"linkedData": []string{`{"ignored":true}`},
		"hydration":  `{"productId":"9"}`,
		"stateCache": `{"a":{}}`,
	}}

	state, err := CollectState(context.Background(), page, doc)
	require.NoError(t, err)
	assert.Equal(t, []string{`{"@type":"Product"}`}, state.LinkedData)
	assert.Equal(t, `{"productId":"9"}`, state.Hydration)
	assert.Equal(t, `{"a":{}}`, state.StateCache)
}

func TestCollectStateUnsupportedEvaluate(t *testing.T) {
	t.Parallel()

	doc := mustDoc(t, `<h1>x</h1>`)
	state, err := CollectState(context.Background(), &evalPage{err: crawler.ErrUnsupported}, doc)
	require.NoError(t, err)
	assert.Empty(t, state.Hydration)

	boom := errors.New("target closed")
	_, err = CollectState(context.Background(), &evalPage{err: boom}, doc)
	require.ErrorIs(t, err, boom)
}
