// Package pubsub publishes build lifecycle events to Google Pub/Sub.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/packfinderz-metrics/pkg/config"
	"github.com/angelmondragon/packfinderz-metrics/pkg/gcp"
	"github.com/angelmondragon/packfinderz-metrics/pkg/logger"
)

var (
	errNoTopic        = errors.New("pubsub builds topic is required")
	errNotInitialized = errors.New("pubsub client not initialized")
)

// Client owns the connection and every publisher handed out, so Close can
// flush pending messages first.
type Client struct {
	conn      *pubsub.Client
	projectID string
	cfg       config.PubSubConfig

	mu         sync.Mutex
	publishers []*pubsub.Publisher
}

// NewClient connects and requires the builds topic to exist; the service
// never creates topics.
func NewClient(ctx context.Context, gcpCfg config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	projectID, err := gcp.ProjectID(gcpCfg)
	if err != nil {
		return nil, err
	}
	conn, err := pubsub.NewClient(ctx, projectID, gcp.ClientOptions(gcpCfg)...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{conn: conn, projectID: projectID, cfg: cfg}
	if err := c.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "topic", c.topicName(cfg.BuildsTopic)), "pubsub client initialized")
	}
	return c, nil
}

// Ping checks the builds topic is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.conn == nil {
		return errNotInitialized
	}
	name := c.topicName(c.cfg.BuildsTopic)
	if name == "" {
		return errNoTopic
	}
	if _, err := c.conn.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: name}); err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("topic %q does not exist", name)
		}
		return fmt.Errorf("checking topic %q: %w", name, err)
	}
	return nil
}

// BuildsPublisher returns the publisher for build lifecycle events.
func (c *Client) BuildsPublisher() *pubsub.Publisher {
	if c == nil || c.conn == nil {
		return nil
	}
	name := c.topicName(c.cfg.BuildsTopic)
	if name == "" {
		return nil
	}
	pub := c.conn.Publisher(name)
	pub.PublishSettings = publishSettings(c.cfg)

	c.mu.Lock()
	c.publishers = append(c.publishers, pub)
	c.mu.Unlock()
	return pub
}

// Build events are rare; each is sent as soon as it is queued.
func publishSettings(cfg config.PubSubConfig) pubsub.PublishSettings {
	settings := pubsub.DefaultPublishSettings
	settings.CountThreshold = 1
	settings.DelayThreshold = 10 * time.Millisecond
	if cfg.PublishTimeout > 0 {
		settings.Timeout = cfg.PublishTimeout
	}
	return settings
}

// Close flushes every publisher, then releases the connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	c.mu.Lock()
	pubs := c.publishers
	c.publishers = nil
	c.mu.Unlock()
	for _, pub := range pubs {
		pub.Stop()
	}
	return c.conn.Close()
}

func (c *Client) topicName(name string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/topics/") {
		return n
	}
	if c.projectID == "" {
		return ""
	}
	return "projects/" + c.projectID + "/topics/" + n
}
