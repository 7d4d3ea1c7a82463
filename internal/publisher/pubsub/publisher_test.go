package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func TestPublishDeliversJSON(t *testing.T) {
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = client.CreateTopic(ctx, "snapshots")
	require.NoError(t, err)

	pub, err := New(client)
	require.NoError(t, err)
	t.Cleanup(pub.Close)

	id, err := pub.Publish(ctx, "snapshots", map[string]any{"source": "alza", "total": 3})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	var body map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &body))
	assert.Equal(t, "alza", body["source"])
	assert.InDelta(t, 3, body["total"], 0)
}

func TestPublishValidation(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	p := &Publisher{topics: map[string]*pubsub.Topic{}}
	_, err = p.Publish(context.Background(), " ", "x")
	assert.Error(t, err)
	_, err = p.Publish(context.Background(), "t", func() {})
	assert.Error(t, err)
}

func TestCarrierRoundTrip(t *testing.T) {
	c := &pubsubCarrier{attrs: map[string]string{}}
	c.Set("traceparent", "00-abc-def-01")
	assert.Equal(t, "00-abc-def-01", c.Get("traceparent"))
	assert.Equal(t, []string{"traceparent"}, c.Keys())
}
