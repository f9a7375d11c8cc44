package services

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"google.golang.org/api/idtoken"

	lectrepo "github.com/srleom/miniclue/internal/data/repos/lectures"
	"github.com/srleom/miniclue/internal/data/repos/testutil"
	types "github.com/srleom/miniclue/internal/domain/lectures"
	"github.com/srleom/miniclue/internal/pipeline/dispatch"
	"github.com/srleom/miniclue/internal/pipeline/envelope"
	"github.com/srleom/miniclue/internal/platform/apierr"
	"github.com/srleom/miniclue/internal/platform/dbctx"
	"github.com/srleom/miniclue/internal/platform/gcp"
)

func statusOf(err error) int {
	var ae *apierr.Error
	if errors.As(err, &ae) {
		return ae.Status
	}
	return 0
}

func TestSubmitLectureQueuesIngestion(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	bus := dispatch.NewMemory(log)
	store := gcp.NewMemoryStore()
	svc := NewLectureService(db, log, lectrepo.NewLectureRepo(db, log), lectrepo.NewSummaryRepo(db, log), store, bus)
	dbc := dbctx.New(context.Background())

	l, err := svc.Submit(dbc, SubmitLecture{
		Title:  " Week 1 ",
		Tenant: envelope.Tenant{CustomerIdentifier: "cust-1"},
		Upload: []byte("%PDF-1.4"),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if l.Status != types.StatusNew || l.Title != "Week 1" || l.StoragePath != UploadPath(l.ID) {
		t.Fatalf("unexpected lecture: %+v", l)
	}
	if ok, _ := store.Exists(context.Background(), l.StoragePath); !ok {
		t.Fatalf("upload not stored")
	}
	msgs := bus.Published(envelope.TopicIngestion)
	if len(msgs) != 1 {
		t.Fatalf("published %d ingestion jobs, want 1", len(msgs))
	}
	p, err := envelope.Decode(msgs[0].Topic, msgs[0].Data)
	if err != nil || p.Lecture() != l.ID {
		t.Fatalf("bad ingestion payload: %v %+v", err, p)
	}

	view, err := svc.Get(dbc, l.ID)
	if err != nil || view.Lecture.ID != l.ID || view.Summary != nil {
		t.Fatalf("Get: %v %+v", err, view)
	}
	if _, err := svc.Get(dbc, uuid.New()); statusOf(err) != http.StatusNotFound {
		t.Fatalf("Get missing: %v", err)
	}
}

func TestSubmitLectureValidates(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	bus := dispatch.NewMemory(log)
	svc := NewLectureService(db, log, lectrepo.NewLectureRepo(db, log), lectrepo.NewSummaryRepo(db, log), gcp.NewMemoryStore(), bus)

	cases := []SubmitLecture{
		{StoragePath: "a.pdf"},
		{Tenant: envelope.Tenant{CustomerIdentifier: "c"}},
	}
	for _, in := range cases {
		if _, err := svc.Submit(dbctx.New(context.Background()), in); statusOf(err) != http.StatusBadRequest {
			t.Fatalf("Submit(%+v) = %v, want bad request", in, err)
		}
	}
	if n := len(bus.Published("")); n != 0 {
		t.Fatalf("published %d messages for invalid input", n)
	}
}

func TestDeadLetterRecordAndReplay(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	bus := dispatch.NewMemory(log)
	svc := NewDeadLetterService(db, log, lectrepo.NewDeadLetterRepo(db, log), bus)
	dbc := dbctx.New(context.Background())

	data, err := envelope.Encode(&envelope.SummaryPayload{LectureID: uuid.New(), Tenant: envelope.Tenant{CustomerIdentifier: "c"}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	req := &envelope.PushRequest{
		Message:      envelope.PushMessage{Data: data, MessageID: "m-1", Attributes: map[string]string{envelope.AttrTopic: "summary"}},
		Subscription: "projects/p/subscriptions/dead-letter",
	}
	for i, want := range []bool{true, false} {
		got, err := svc.Record(dbc, req)
		if err != nil || got != want {
			t.Fatalf("Record #%d = %v, %v; want %v", i, got, err, want)
		}
	}

	list, err := svc.List(dbc, types.DeadLetterPending, 10)
	if err != nil || len(list) != 1 || list[0].Topic != "summary" {
		t.Fatalf("List: %v %+v", err, list)
	}

	d, err := svc.Replay(dbc, list[0].ID)
	if err != nil || d.Status != types.DeadLetterReplayed {
		t.Fatalf("Replay: %v %+v", err, d)
	}
	if n := len(bus.Published(envelope.TopicSummary)); n != 1 {
		t.Fatalf("replay published %d, want 1", n)
	}
	if _, err := svc.Replay(dbc, list[0].ID); statusOf(err) != http.StatusConflict {
		t.Fatalf("second replay: %v", err)
	}
	if _, err := svc.Replay(dbc, uuid.New()); statusOf(err) != http.StatusNotFound {
		t.Fatalf("missing replay: %v", err)
	}
	if _, err := svc.Record(dbc, &envelope.PushRequest{}); statusOf(err) != http.StatusBadRequest {
		t.Fatalf("record without id: %v", err)
	}
}

func TestSecretPushVerifier(t *testing.T) {
	const secret = "0123456789abcdef0123"
	v, err := NewSecretPushVerifier(secret)
	if err != nil {
		t.Fatalf("NewSecretPushVerifier: %v", err)
	}
	aud := "https://pipeline.example.com/push/summary"
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))

	good, _ := SignPushToken(secret, aud, jwt.RegisteredClaims{ExpiresAt: future})
	if err := v.Verify(context.Background(), good, aud); err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}

	expired, _ := SignPushToken(secret, aud, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))})
	otherAud, _ := SignPushToken(secret, "https://elsewhere/push/summary", jwt.RegisteredClaims{ExpiresAt: future})
	wrongKey, _ := SignPushToken("another-secret-of-length", aud, jwt.RegisteredClaims{ExpiresAt: future})
	noExp, _ := SignPushToken(secret, aud, jwt.RegisteredClaims{})
	for name, tok := range map[string]string{"expired": expired, "audience": otherAud, "key": wrongKey, "no exp": noExp, "garbage": "x.y.z"} {
		if err := v.Verify(context.Background(), tok, aud); statusOf(err) != http.StatusUnauthorized {
			t.Fatalf("%s: got %v, want unauthorized", name, err)
		}
	}
	if _, err := NewSecretPushVerifier("short"); err == nil {
		t.Fatalf("short secret accepted")
	}
}

func TestGooglePushVerifierChecksEmail(t *testing.T) {
	claims := map[string]interface{}{}
	v := &googlePushVerifier{
		email: "push@p.iam.gserviceaccount.com",
		validate: func(ctx context.Context, token, audience string) (*idtoken.Payload, error) {
			if token == "bad" {
				return nil, errors.New("signature")
			}
			return &idtoken.Payload{Audience: audience, Claims: claims}, nil
		},
	}
	ctx := context.Background()

	if err := v.Verify(ctx, "bad", "aud"); statusOf(err) != http.StatusUnauthorized {
		t.Fatalf("bad signature: %v", err)
	}
	if err := v.Verify(ctx, "tok", "aud"); statusOf(err) != http.StatusForbidden {
		t.Fatalf("missing email: %v", err)
	}
	claims["email"] = "push@p.iam.gserviceaccount.com"
	if err := v.Verify(ctx, "tok", "aud"); statusOf(err) != http.StatusForbidden {
		t.Fatalf("unverified email: %v", err)
	}
	claims["email_verified"] = true
	if err := v.Verify(ctx, "tok", "aud"); err != nil {
		t.Fatalf("valid token: %v", err)
	}
	claims["email"] = "someone@else.com"
	if err := v.Verify(ctx, "tok", "aud"); statusOf(err) != http.StatusForbidden {
		t.Fatalf("wrong email: %v", err)
	}
}
