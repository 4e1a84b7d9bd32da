package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

// EventBuildPublished is the event type attribute of publish notifications.
const EventBuildPublished = "metrics.build_published"

const defaultPublishTimeout = 10 * time.Second

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

type publisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) publishResult
}

// BuildPublishedEvent is the payload subscribers receive.
type BuildPublishedEvent struct {
	BuildID     string    `json:"build_id"`
	Period      string    `json:"period"`
	Status      string    `json:"status"`
	Fingerprint string    `json:"fingerprint"`
	PublishedAt time.Time `json:"published_at"`
}

// Notifier announces published builds on Pub/Sub.
type Notifier struct {
	pub     publisher
	timeout time.Duration
}

// NewNotifier wraps a topic publisher.
func NewNotifier(p *gcppubsub.Publisher) (*Notifier, error) {
	if p == nil {
		return nil, errors.New("pubsub publisher required")
	}
	return &Notifier{pub: &gcpPublisher{Publisher: p}, timeout: defaultPublishTimeout}, nil
}

// BuildPublished sends the notification and waits for the server ack.
func (n *Notifier) BuildPublished(ctx context.Context, build PublishedBuild) (string, error) {
	event := BuildPublishedEvent{
		BuildID:     build.ID.String(),
		Period:      build.Period.String(),
		Status:      build.Status,
		Fingerprint: build.Fingerprint,
		PublishedAt: build.PublishedAt.UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	msg := &gcppubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"event_type":   EventBuildPublished,
			"build_id":     event.BuildID,
			"period":       event.Period,
			"published_at": event.PublishedAt.Format(time.RFC3339Nano),
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	result := n.pub.Publish(publishCtx, msg)
	if result == nil {
		return "", errors.New("publisher returned nil result")
	}
	return result.Get(publishCtx)
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return &gcpPublishResult{PublishResult: p.Publisher.Publish(ctx, msg)}
}

type gcpPublishResult struct {
	*gcppubsub.PublishResult
}

func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r == nil || r.PublishResult == nil {
		return "", errors.New("publish result is nil")
	}
	return r.PublishResult.Get(ctx)
}
