package dispatch

import "github.com/srleom/miniclue/internal/pipeline/envelope"

// FromPush converts a push delivery for topic into a handler message. Pub/Sub
// only reports deliveryAttempt when a dead-letter policy is set, so a missing
// attempt counts as the first.
func FromPush(req *envelope.PushRequest, topic envelope.Topic) Message {
	attempt := req.DeliveryAttempt
	if attempt < 1 {
		attempt = 1
	}
	return Message{ID: req.Message.MessageID, Topic: topic, Data: req.Message.Data, Attempt: attempt}
}
