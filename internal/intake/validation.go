package intake

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	pkgerrors "github.com/angelmondragon/intake-backend/pkg/errors"
)

type StepID string

const (
	StepContact      StepID = "contact"
	StepComposition  StepID = "composition"
	StepTransfers    StepID = "transfers"
	StepParticipants StepID = "participants"
	StepPreferences  StepID = "preferences"
	StepSummary      StepID = "summary"
)

const dateLayout = "2006-01-02"

// Policy carries per-deployment validation toggles.
type Policy struct {
	RequireParticipantAttachment bool
	RequireStayDates             bool
}

// Result lists the field keys that block a step. Keys look like
// "contact.email" or "participants[2].birthDate".
type Result struct {
	Step    StepID
	Missing []string
	Invalid []string
}

func (r Result) Valid() bool {
	return len(r.Missing) == 0 && len(r.Invalid) == 0
}

// Fields returns missing then invalid keys.
func (r Result) Fields() []string {
	out := make([]string, 0, len(r.Missing)+len(r.Invalid))
	out = append(out, r.Missing...)
	return append(out, r.Invalid...)
}

// Err converts a failing result into a VALIDATION_ERROR, or nil when valid.
func (r Result) Err() error {
	if r.Valid() {
		return nil
	}
	details := map[string]any{"step": string(r.Step)}
	if len(r.Missing) > 0 {
		details["missing"] = r.Missing
	}
	if len(r.Invalid) > 0 {
		details["invalid"] = r.Invalid
	}
	return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("step %s is incomplete", r.Step)).WithDetails(details)
}

func (r *Result) missing(key string) { r.Missing = append(r.Missing, key) }
func (r *Result) invalid(key string) { r.Invalid = append(r.Invalid, key) }

func (r *Result) require(key, value string) bool {
	if strings.TrimSpace(value) == "" {
		r.missing(key)
		return false
	}
	return true
}

// StepSpec pairs a step id with its predicate.
type StepSpec struct {
	ID       StepID
	Validate func(Payload, Policy) Result
}

// DefaultSteps returns the ordered wizard steps.
func DefaultSteps() []StepSpec {
	return []StepSpec{
		{ID: StepContact, Validate: ValidateContact},
		{ID: StepComposition, Validate: ValidateComposition},
		{ID: StepTransfers, Validate: ValidateTransfers},
		{ID: StepParticipants, Validate: ValidateParticipants},
		{ID: StepPreferences, Validate: ValidatePreferences},
		{ID: StepSummary, Validate: alwaysValid(StepSummary)},
	}
}

func alwaysValid(id StepID) func(Payload, Policy) Result {
	return func(Payload, Policy) Result { return Result{Step: id} }
}

var emailValidator = validator.New()

// ValidEmail applies the same shape check the API uses for request bodies.
func ValidEmail(email string) bool {
	return emailValidator.Var(strings.TrimSpace(email), "required,email") == nil
}

func ValidateContact(p Payload, _ Policy) Result {
	res := Result{Step: StepContact}
	res.require("contact.fullName", p.Contact.FullName)
	res.require("contact.phone", p.Contact.Phone)
	if res.require("contact.email", p.Contact.Email) && !ValidEmail(p.Contact.Email) {
		res.invalid("contact.email")
	}
	return res
}

func ValidateComposition(p Payload, pol Policy) Result {
	res := Result{Step: StepComposition}
	c := p.Composition
	if c.Adults < 1 {
		res.missing("composition.adults")
	}
	counts := []struct {
		key   string
		value int
	}{
		{"composition.adults", c.Adults},
		{"composition.infants", c.Infants},
		{"composition.childrenUnder6", c.ChildrenUnder6},
		{"composition.children6to11", c.Children6to11},
		{"composition.children12to17", c.Children12to17},
	}
	for _, count := range counts {
		if count.value < 0 {
			res.invalid(count.key)
		}
	}

	start, startOK := parseDate(&res, "composition.stayStart", c.StayStart)
	end, endOK := parseDate(&res, "composition.stayEnd", c.StayEnd)
	if pol.RequireStayDates {
		res.require("composition.stayStart", c.StayStart)
		res.require("composition.stayEnd", c.StayEnd)
	}
	if startOK && endOK && end.Before(start) {
		res.invalid("composition.stayEnd")
	}
	return res
}

func ValidateTransfers(p Payload, _ Policy) Result {
	res := Result{Step: StepTransfers}
	t := p.Transfers
	if t.Option == "" {
		res.missing("transfers.option")
		return res
	}
	if !t.Option.IsValid() {
		res.invalid("transfers.option")
		return res
	}
	if t.Option.NeedsArrival() {
		res.require("transfers.arrivalTime", t.ArrivalTime)
		res.require("transfers.arrivalFlight", t.ArrivalFlight)
	}
	if t.Option.NeedsDeparture() {
		res.require("transfers.departureTime", t.DepartureTime)
		res.require("transfers.departureFlight", t.DepartureFlight)
	}
	return res
}

func ValidateParticipants(p Payload, pol Policy) Result {
	res := Result{Step: StepParticipants}
	if p.PartySize < MinPartySize || p.PartySize > MaxPartySize {
		res.invalid("partySize")
	}
	if len(p.Participants) != p.PartySize {
		res.invalid("participants")
	}
	for i, participant := range p.Participants {
		prefix := fmt.Sprintf("participants[%d]", i)
		res.require(prefix+".name", participant.Name)
		if res.require(prefix+".birthDate", participant.BirthDate) {
			if _, err := time.Parse(dateLayout, strings.TrimSpace(participant.BirthDate)); err != nil {
				res.invalid(prefix + ".birthDate")
			}
		}
		if pol.RequireParticipantAttachment {
			res.require(prefix+".attachmentRef", participant.AttachmentRef)
		}
	}
	return res
}

func ValidatePreferences(p Payload, _ Policy) Result {
	res := Result{Step: StepPreferences}
	prefs := p.Preferences
	if len(prefs.Activities) > MaxActivities {
		res.invalid("preferences.activities")
	}
	if prefs.WantsQuestionnaire == nil {
		res.missing("preferences.wantsQuestionnaire")
		return res
	}
	if !*prefs.WantsQuestionnaire {
		return res
	}
	res.require("preferences.questionnaire", prefs.Questionnaire)
	for _, d := range prefs.Dietary {
		if d == DietaryOther {
			res.require("preferences.dietaryOther", prefs.DietaryOther)
			break
		}
	}
	return res
}

// ValidateAll runs every step and returns the first failing result.
func ValidateAll(steps []StepSpec, p Payload, pol Policy) Result {
	for _, step := range steps {
		if res := step.Validate(p, pol); !res.Valid() {
			return res
		}
	}
	return Result{}
}

func parseDate(res *Result, key, value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	parsed, err := time.Parse(dateLayout, value)
	if err != nil {
		res.invalid(key)
		return time.Time{}, false
	}
	return parsed, true
}
