package envelope

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PushRequest is the body a push subscription POSTs to the webhook.
type PushRequest struct {
	Message         PushMessage `json:"message"`
	Subscription    string      `json:"subscription"`
	DeliveryAttempt int         `json:"deliveryAttempt,omitempty"`
}

type PushMessage struct {
	// Data is base64 in JSON; encoding/json decodes it into raw bytes.
	Data        []byte            `json:"data"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	MessageID   string            `json:"messageId"`
	PublishTime time.Time         `json:"publishTime,omitempty"`
}

const AttrTopic = "topic"

func DecodePush(body []byte) (*PushRequest, error) {
	var req PushRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("%w: push envelope: %v", ErrMalformed, err)
	}
	if len(req.Message.Data) == 0 {
		return nil, fmt.Errorf("%w: push envelope has no data", ErrMalformed)
	}
	return &req, nil
}

// SourceTopic names the pipeline topic a dead-lettered push came from: the
// topic attribute set on publish, else the source subscription's name.
func (r *PushRequest) SourceTopic() (Topic, bool) {
	if t, ok := ParseTopic(r.Message.Attributes[AttrTopic]); ok {
		return t, true
	}
	sub := r.Message.Attributes["CloudPubSubDeadLetterSourceSubscription"]
	if sub == "" {
		sub = r.Subscription
	}
	sub = sub[strings.LastIndex(sub, "/")+1:]
	for _, t := range Topics {
		if strings.Contains(sub, string(t)) {
			return t, true
		}
	}
	return "", false
}
