package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	pkgerrors "github.com/angelmondragon/intake-backend/pkg/errors"
	"github.com/angelmondragon/intake-backend/pkg/logger"
)

type recordingSender struct {
	data  []byte
	attrs map[string]string
	err   error
}

func (r *recordingSender) Send(_ context.Context, data []byte, attrs map[string]string) (string, error) {
	r.data = data
	r.attrs = attrs
	if r.err != nil {
		return "", r.err
	}
	return "msg-1", nil
}

func TestNilPublisherIsNoop(t *testing.T) {
	var p *Publisher
	if err := p.IntakeSubmitted(context.Background(), Event{Code: "ABC2345"}); err != nil {
		t.Fatalf("nil publisher should drop events, got %v", err)
	}
	if NewPublisher(nil, nil).Enabled() {
		t.Fatal("publisher without topic should be disabled")
	}
}

func TestIntakeSubmittedPublishesEvent(t *testing.T) {
	rec := &recordingSender{}
	p := &Publisher{sender: rec, logg: logger.Nop()}

	err := p.IntakeSubmitted(context.Background(), Event{Code: "ABC2345", ExternalRecordID: "item-9", Locale: "fr"})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if rec.attrs["event_type"] != EventIntakeSubmitted || rec.attrs["code"] != "ABC2345" || rec.attrs["locale"] != "fr" {
		t.Fatalf("unexpected attributes %v", rec.attrs)
	}
	var evt Event
	if err := json.Unmarshal(rec.data, &evt); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.EventID == "" || evt.SubmittedAt.IsZero() || evt.ExternalRecordID != "item-9" {
		t.Fatalf("unexpected event %+v", evt)
	}
}

func TestIntakeSubmittedErrors(t *testing.T) {
	p := &Publisher{sender: &recordingSender{err: errors.New("broker down")}, logg: logger.Nop()}
	if err := p.IntakeSubmitted(context.Background(), Event{Code: "ABC2345"}); !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if err := p.IntakeSubmitted(context.Background(), Event{}); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
