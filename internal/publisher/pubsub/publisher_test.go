// Package pubsub_test contains unit tests for the Pub/Sub publisher.
package pubsub_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	gpubsub "cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/evidentlabs/rivalscan/internal/publisher/pubsub"
)

func newFakeClient(t *testing.T) *gpubsub.Client {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() {
		if err := srv.Close(); err != nil {
			t.Logf("failed to close pstest server: %v", err)
		}
	})

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := conn.Close(); err != nil {
			t.Logf("failed to close grpc conn: %v", err)
		}
	})

	client, err := gpubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := client.Close(); err != nil {
			t.Logf("failed to close pubsub client: %v", err)
		}
	})
	return client
}

func TestPublisherPublishesJSONPayload(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient(t)

	topic, err := client.CreateTopic(ctx, "scan-events")
	require.NoError(t, err)
	sub, err := client.CreateSubscription(ctx, "scan-events-sub", gpubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	pub, err := pubsub.New(client)
	require.NoError(t, err)
	defer pub.Stop()

	payload := map[string]any{
		"scan_id": "scan-7",
		"domain":  "acme.io",
		"sources": 3,
	}
	id, err := pub.Publish(ctx, "scan-events", payload)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	received := make(chan *gpubsub.Message, 1)
	recvCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		_ = sub.Receive(recvCtx, func(_ context.Context, msg *gpubsub.Message) {
			msg.Ack()
			received <- msg
			cancel()
		})
	}()

	select {
	case msg := <-received:
		var got map[string]any
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, "scan-7", got["scan_id"])
		assert.Equal(t, "acme.io", got["domain"])
	case <-time.After(5 * time.Second):
		t.Fatal("did not receive published message")
	}
}

func TestPublisherRejectsBadInput(t *testing.T) {
	client := newFakeClient(t)

	pub, err := pubsub.New(client)
	require.NoError(t, err)
	defer pub.Stop()

	_, err = pub.Publish(context.Background(), "", map[string]string{"k": "v"})
	assert.ErrorContains(t, err, "topic is required")

	_, err = pub.Publish(context.Background(), "scan-events", func() {})
	assert.ErrorContains(t, err, "marshal payload")

	_, err = pubsub.New(nil)
	assert.Error(t, err)
}
