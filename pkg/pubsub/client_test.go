package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/angelmondragon/packfinderz-metrics/pkg/config"
)

func TestTopicName(t *testing.T) {
	c := &Client{projectID: "pf-metrics"}

	cases := map[string]string{
		"":                               "",
		"metrics-builds":                 "projects/pf-metrics/topics/metrics-builds",
		" metrics-builds ":               "projects/pf-metrics/topics/metrics-builds",
		"projects/other/topics/external": "projects/other/topics/external",
	}
	for in, want := range cases {
		if got := c.topicName(in); got != want {
			t.Fatalf("topicName(%q) = %q, want %q", in, got, want)
		}
	}
	if got := (&Client{}).topicName("metrics-builds"); got != "" {
		t.Fatalf("expected empty name without project, got %q", got)
	}
}

func TestPublishSettings(t *testing.T) {
	settings := publishSettings(config.PubSubConfig{PublishTimeout: 3 * time.Second})
	if settings.CountThreshold != 1 {
		t.Fatalf("expected immediate sends, got count threshold %d", settings.CountThreshold)
	}
	if settings.Timeout != 3*time.Second {
		t.Fatalf("expected configured timeout, got %v", settings.Timeout)
	}
	if got := publishSettings(config.PubSubConfig{}).Timeout; got <= 0 {
		t.Fatalf("expected default timeout to survive, got %v", got)
	}
}

func TestNilClient(t *testing.T) {
	var c *Client
	if c.BuildsPublisher() != nil {
		t.Fatal("expected nil publisher from nil client")
	}
	if err := c.Ping(context.Background()); err != errNotInitialized {
		t.Fatalf("expected not initialized, got %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close on nil client: %v", err)
	}
}
