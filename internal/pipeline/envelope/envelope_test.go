package envelope

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestDecodeStrict(t *testing.T) {
	lid := uuid.New()
	tests := []struct {
		name    string
		topic   Topic
		body    string
		wantErr bool
	}{
		{"valid ingestion", TopicIngestion, `{"lecture_id":"` + lid.String() + `","storage_path":"lectures/a.pdf","tenant":{"customer_identifier":"c1"}}`, false},
		{"unknown field", TopicIngestion, `{"lecture_id":"` + lid.String() + `","storage_path":"x","tenant":{"customer_identifier":"c1"},"extra":1}`, true},
		{"missing tenant", TopicEmbedding, `{"lecture_id":"` + lid.String() + `"}`, true},
		{"bad uuid", TopicSummary, `{"lecture_id":"nope","tenant":{"customer_identifier":"c1"}}`, true},
		{"slide out of range", TopicExplanation, `{"lecture_id":"` + lid.String() + `","slide_id":"` + uuid.NewString() + `","slide_number":4,"total_slides":3,"slide_image_path":"p","tenant":{"customer_identifier":"c1"}}`, true},
		{"trailing data", TopicEmbedding, `{"lecture_id":"` + lid.String() + `","tenant":{"customer_identifier":"c1"}} {}`, true},
		{"unknown topic", Topic("nope"), `{}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Decode(tt.topic, []byte(tt.body))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformed) {
					t.Fatalf("want ErrMalformed, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if p.Lecture() != lid || p.Topic() != tt.topic {
				t.Fatalf("decoded %+v", p)
			}
		})
	}
}

func TestEncodeDecodeExplanation(t *testing.T) {
	in := ExplanationPayload{
		LectureID: uuid.New(), SlideID: uuid.New(), SlideNumber: 2, TotalSlides: 3,
		SlideImagePath: "lectures/x/slides/2/full_slide.png",
		Tenant:         Tenant{CustomerIdentifier: "c1", Name: "Ada"},
	}
	raw, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := Decode(TopicExplanation, raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, ok := out.(*ExplanationPayload)
	if !ok || *got != in {
		t.Fatalf("got %#v", out)
	}
	if _, err := Encode(SummaryPayload{}); !errors.Is(err, ErrMalformed) {
		t.Fatalf("Encode invalid payload: %v", err)
	}
}

func TestDecodePush(t *testing.T) {
	data := base64.StdEncoding.EncodeToString([]byte(`{"a":1}`))
	req, err := DecodePush([]byte(`{"message":{"data":"` + data + `","messageId":"m1","attributes":{"topic":"summary"}},"subscription":"s","deliveryAttempt":3}`))
	if err != nil {
		t.Fatalf("DecodePush: %v", err)
	}
	if string(req.Message.Data) != `{"a":1}` || req.DeliveryAttempt != 3 || req.Message.Attributes[AttrTopic] != "summary" {
		t.Fatalf("got %+v", req)
	}
	if _, err := DecodePush([]byte(`{"message":{}}`)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("empty data: %v", err)
	}
	if _, ok := ParseTopic(" Image-Analysis "); !ok {
		t.Fatalf("ParseTopic should normalise case and space")
	}
}

func TestPushSourceTopic(t *testing.T) {
	cases := []struct {
		req  PushRequest
		want Topic
		ok   bool
	}{
		{PushRequest{Message: PushMessage{Attributes: map[string]string{AttrTopic: "embedding"}}}, TopicEmbedding, true},
		{PushRequest{Message: PushMessage{Attributes: map[string]string{
			"CloudPubSubDeadLetterSourceSubscription": "projects/p/subscriptions/miniclue-summary-push",
		}}}, TopicSummary, true},
		{PushRequest{Subscription: "projects/p/subscriptions/ingestion-sub"}, TopicIngestion, true},
		{PushRequest{Subscription: "projects/p/subscriptions/other"}, "", false},
	}
	for _, c := range cases {
		got, ok := c.req.SourceTopic()
		if got != c.want || ok != c.ok {
			t.Fatalf("SourceTopic(%+v) = %q, %v", c.req, got, ok)
		}
	}
}
