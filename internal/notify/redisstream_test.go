package notify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/storefront-watch/internal/crawler"
)

type fakeStream struct {
	args []*redis.XAddArgs
	err  error
}

func (f *fakeStream) XAdd(_ context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.args = append(f.args, a)
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	return redis.NewStringResult("1700000000000-0", nil)
}

func TestRedisStreamDeliver(t *testing.T) {
	t.Parallel()

	client := &fakeStream{}
	sink := NewRedisStream(client, "storefront:changes", 1000)

	event := Event{
		EventType: EventFirstSeen,
		EventID:   "evt-3",
		Record:    productRecord(crawler.ChangeSet{FirstSeen: true}),
		Changes:   crawler.ChangeSet{FirstSeen: true},
	}
	require.NoError(t, sink.Deliver(context.Background(), event))
	require.Len(t, client.args, 1)

	args := client.args[0]
	assert.Equal(t, "storefront:changes", args.Stream)
	assert.Equal(t, int64(1000), args.MaxLen)
	assert.True(t, args.Approx)

	values, ok := args.Values.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, EventFirstSeen, values["type"])

	raw, err := base64.StdEncoding.DecodeString(values["event"].(string))
	require.NoError(t, err)
	var decoded Event
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "evt-3", decoded.EventID)
	assert.Equal(t, "123456", decoded.Record.ProductID)
}

func TestRedisStreamError(t *testing.T) {
	t.Parallel()

	boom := errors.New("READONLY")
	sink := NewRedisStream(&fakeStream{err: boom}, "s", 0)
	require.ErrorIs(t, sink.Deliver(context.Background(), Event{}), boom)
}
