package dispatch

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"google.golang.org/api/option"
	pubsubapi "google.golang.org/api/pubsub/v1"

	"github.com/srleom/miniclue/internal/pipeline/envelope"
	"github.com/srleom/miniclue/internal/platform/dbctx"
)

// PubSub publishes through the Pub/Sub REST API. Deliveries come back through
// the push webhook.
type PubSub struct {
	svc     *pubsubapi.Service
	project string
	prefix  string
}

func NewPubSub(ctx context.Context, project, topicPrefix string, opts ...option.ClientOption) (*PubSub, error) {
	project = strings.TrimSpace(project)
	if project == "" {
		return nil, fmt.Errorf("pubsub: project id is required")
	}
	svc, err := pubsubapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub: init service: %w", err)
	}
	return &PubSub{svc: svc, project: project, prefix: topicPrefix}, nil
}

func (p *PubSub) TopicName(topic envelope.Topic) string {
	return fmt.Sprintf("projects/%s/topics/%s%s", p.project, p.prefix, topic)
}

func (p *PubSub) Publish(dbc dbctx.Context, topic envelope.Topic, payload envelope.Payload) error {
	msg, err := NewMessage(topic, payload)
	if err != nil {
		return err
	}
	req := &pubsubapi.PublishRequest{
		Messages: []*pubsubapi.PubsubMessage{{
			Data: base64.StdEncoding.EncodeToString(msg.Data),
			Attributes: map[string]string{
				envelope.AttrTopic: string(topic),
				"lecture_id":       payload.Lecture().String(),
			},
		}},
	}
	if _, err := p.svc.Projects.Topics.Publish(p.TopicName(topic), req).Context(dbc.Context()).Do(); err != nil {
		return fmt.Errorf("pubsub publish %s: %w", topic, err)
	}
	return nil
}
