package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/intake-backend/pkg/errors"
	"github.com/angelmondragon/intake-backend/pkg/logger"
)

const EventIntakeSubmitted = "intake.submitted"

// Event announces a finalized intake so staff can follow up. Locale only
// selects the language of the human-facing notification.
type Event struct {
	EventID          string    `json:"eventId"`
	Code             string    `json:"code"`
	ExternalRecordID string    `json:"externalRecordId"`
	Locale           string    `json:"locale,omitempty"`
	Email            string    `json:"email,omitempty"`
	FullName         string    `json:"fullName,omitempty"`
	SubmittedAt      time.Time `json:"submittedAt"`
}

type sender interface {
	Send(ctx context.Context, data []byte, attrs map[string]string) (string, error)
}

type topicSender struct {
	publisher *pubsub.Publisher
}

func (t topicSender) Send(ctx context.Context, data []byte, attrs map[string]string) (string, error) {
	result := t.publisher.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	return result.Get(ctx)
}

// Publisher emits intake lifecycle events. The zero value and a nil
// *Publisher drop events.
type Publisher struct {
	sender sender
	logg   *logger.Logger
}

// NewPublisher wraps a Pub/Sub publisher. A nil publisher disables events.
func NewPublisher(publisher *pubsub.Publisher, logg *logger.Logger) *Publisher {
	if logg == nil {
		logg = logger.Nop()
	}
	if publisher == nil {
		return &Publisher{logg: logg}
	}
	return &Publisher{sender: topicSender{publisher: publisher}, logg: logg}
}

func (p *Publisher) Enabled() bool {
	return p != nil && p.sender != nil
}

// IntakeSubmitted publishes evt and waits for the broker acknowledgement.
func (p *Publisher) IntakeSubmitted(ctx context.Context, evt Event) error {
	if !p.Enabled() {
		return nil
	}
	if evt.Code == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "event code required")
	}
	if evt.EventID == "" {
		evt.EventID = uuid.NewString()
	}
	if evt.SubmittedAt.IsZero() {
		evt.SubmittedAt = time.Now().UTC()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode intake event")
	}
	attrs := map[string]string{
		"event_type": EventIntakeSubmitted,
		"event_id":   evt.EventID,
		"code":       evt.Code,
	}
	if evt.Locale != "" {
		attrs["locale"] = evt.Locale
	}
	serverID, err := p.sender.Send(ctx, data, attrs)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("publish %s", EventIntakeSubmitted))
	}
	p.logg.Info(p.logg.WithFields(ctx, map[string]any{
		"event_type":  EventIntakeSubmitted,
		"event_id":    evt.EventID,
		"message_id":  serverID,
		"intake_code": evt.Code,
	}), "notifications.published")
	return nil
}
