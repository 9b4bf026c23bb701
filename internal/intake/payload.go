package intake

import (
	"fmt"
	"slices"
	"strings"

	"github.com/angelmondragon/intake-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/intake-backend/pkg/errors"
	"github.com/angelmondragon/intake-backend/pkg/types"
)

const (
	MinPartySize  = 1
	MaxPartySize  = 8
	MaxActivities = 5

	// DietaryOther is the dietary selection that requires a free-text description.
	DietaryOther = "other"
)

type Contact struct {
	FullName string `json:"fullName"`
	Phone    string `json:"phone"`
	Email    string `json:"email"`
}

// Composition counts the household by age bracket.
type Composition struct {
	Adults         int    `json:"adults"`
	Infants        int    `json:"infants"`
	ChildrenUnder6 int    `json:"childrenUnder6"`
	Children6to11  int    `json:"children6to11"`
	Children12to17 int    `json:"children12to17"`
	QuoteRef       string `json:"quoteRef,omitempty"`
	StayStart      string `json:"stayStart,omitempty"`
	StayEnd        string `json:"stayEnd,omitempty"`
}

type Transfers struct {
	Option          enums.TransferOption `json:"option"`
	ArrivalTime     string               `json:"arrivalTime,omitempty"`
	ArrivalFlight   string               `json:"arrivalFlight,omitempty"`
	DepartureTime   string               `json:"departureTime,omitempty"`
	DepartureFlight string               `json:"departureFlight,omitempty"`
}

// Participant only exists inside a payload snapshot. AttachmentRef and
// AttachmentLabel are always set and cleared together.
type Participant struct {
	Name            string `json:"name"`
	BirthDate       string `json:"birthDate"`
	AttachmentRef   string `json:"attachmentRef,omitempty"`
	AttachmentLabel string `json:"attachmentLabel,omitempty"`
}

type Preferences struct {
	Activities         []string `json:"activities"`
	Dietary            []string `json:"dietary"`
	DietaryOther       string   `json:"dietaryOther,omitempty"`
	WantsQuestionnaire *bool    `json:"wantsQuestionnaire,omitempty"`
	Questionnaire      string   `json:"questionnaire,omitempty"`
	Comments           string   `json:"comments,omitempty"`
}

// Payload is the form state edited by the wizard and snapshotted into drafts.
type Payload struct {
	Contact      Contact       `json:"contact"`
	Composition  Composition   `json:"composition"`
	Transfers    Transfers     `json:"transfers"`
	PartySize    int           `json:"partySize"`
	Participants []Participant `json:"participants"`
	Preferences  Preferences   `json:"preferences"`
	// AttachmentRefs is derived from Participants in participant order.
	AttachmentRefs []string `json:"attachmentRefs"`
}

// NewPayload returns an empty payload sized for a single participant.
func NewPayload() Payload {
	return Payload{
		PartySize:      MinPartySize,
		Participants:   make([]Participant, MinPartySize),
		AttachmentRefs: []string{},
		Preferences: Preferences{
			Activities: []string{},
			Dietary:    []string{},
		},
	}
}

// Clone returns a deep copy that shares no slices or pointers with p.
func (p Payload) Clone() Payload {
	out := p
	out.Participants = slices.Clone(p.Participants)
	out.AttachmentRefs = slices.Clone(p.AttachmentRefs)
	out.Preferences.Activities = slices.Clone(p.Preferences.Activities)
	out.Preferences.Dietary = slices.Clone(p.Preferences.Dietary)
	if p.Preferences.WantsQuestionnaire != nil {
		v := *p.Preferences.WantsQuestionnaire
		out.Preferences.WantsQuestionnaire = &v
	}
	return out
}

// ContactHints extracts the denormalized contact fields stored beside a draft.
func (p Payload) ContactHints() types.ContactHints {
	return types.ContactHints{
		FullName: strings.TrimSpace(p.Contact.FullName),
		Email:    strings.TrimSpace(p.Contact.Email),
		Phone:    strings.TrimSpace(p.Contact.Phone),
	}
}

// SetTransferOption selects a transfer option and clears the time and flight
// fields the new option does not collect. An empty option clears all four.
func (p *Payload) SetTransferOption(opt enums.TransferOption) error {
	if opt != "" && !opt.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown transfer option %q", opt)).
			WithDetails(map[string]any{"invalid": []string{"transfers.option"}})
	}
	p.Transfers.Option = opt
	if !opt.NeedsArrival() {
		p.Transfers.ArrivalTime = ""
		p.Transfers.ArrivalFlight = ""
	}
	if !opt.NeedsDeparture() {
		p.Transfers.DepartureTime = ""
		p.Transfers.DepartureFlight = ""
	}
	return nil
}

// SetPartySize resizes the participant list, appending blank rows or
// truncating from the end.
func (p *Payload) SetPartySize(n int) error {
	if n < MinPartySize || n > MaxPartySize {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("party size must be between %d and %d", MinPartySize, MaxPartySize)).
			WithDetails(map[string]any{"invalid": []string{"partySize"}})
	}
	switch {
	case n > len(p.Participants):
		p.Participants = append(p.Participants, make([]Participant, n-len(p.Participants))...)
	case n < len(p.Participants):
		p.Participants = slices.Clone(p.Participants[:n])
	}
	p.PartySize = n
	p.recomputeAttachmentRefs()
	return nil
}

// SelectActivity adds value to the capped activity set. Selecting an already
// selected value is a no-op.
func (p *Payload) SelectActivity(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "activity is required")
	}
	if slices.Contains(p.Preferences.Activities, value) {
		return nil
	}
	if len(p.Preferences.Activities) >= MaxActivities {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("at most %d activities may be selected", MaxActivities)).
			WithDetails(map[string]any{"invalid": []string{"preferences.activities"}, "max": MaxActivities})
	}
	p.Preferences.Activities = append(p.Preferences.Activities, value)
	return nil
}

// DeselectActivity removes value and reports whether it was selected.
func (p *Payload) DeselectActivity(value string) bool {
	value = strings.TrimSpace(value)
	idx := slices.Index(p.Preferences.Activities, value)
	if idx < 0 {
		return false
	}
	p.Preferences.Activities = slices.Delete(p.Preferences.Activities, idx, idx+1)
	return true
}

// ToggleActivity flips the selection of value and returns whether it is now selected.
func (p *Payload) ToggleActivity(value string) (bool, error) {
	if p.DeselectActivity(value) {
		return false, nil
	}
	if err := p.SelectActivity(value); err != nil {
		return false, err
	}
	return true, nil
}

// ToggleDietary flips a dietary selection. Dropping "other" clears its description.
func (p *Payload) ToggleDietary(value string) bool {
	value = strings.TrimSpace(value)
	if idx := slices.Index(p.Preferences.Dietary, value); idx >= 0 {
		p.Preferences.Dietary = slices.Delete(p.Preferences.Dietary, idx, idx+1)
		if value == DietaryOther {
			p.Preferences.DietaryOther = ""
		}
		return false
	}
	if value == "" {
		return false
	}
	p.Preferences.Dietary = append(p.Preferences.Dietary, value)
	return true
}

// SetWantsQuestionnaire answers the questionnaire gate. Answering no clears
// the questionnaire text.
func (p *Payload) SetWantsQuestionnaire(wants bool) {
	p.Preferences.WantsQuestionnaire = &wants
	if !wants {
		p.Preferences.Questionnaire = ""
	}
}

// SetParticipant updates the identity fields of one participant row.
func (p *Payload) SetParticipant(index int, name, birthDate string) error {
	if err := p.checkIndex(index); err != nil {
		return err
	}
	p.Participants[index].Name = name
	p.Participants[index].BirthDate = birthDate
	return nil
}

func (p *Payload) SetParticipantAttachment(index int, ref, label string) error {
	if err := p.checkIndex(index); err != nil {
		return err
	}
	if strings.TrimSpace(ref) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "attachment reference is required")
	}
	p.Participants[index].AttachmentRef = ref
	p.Participants[index].AttachmentLabel = label
	p.recomputeAttachmentRefs()
	return nil
}

func (p *Payload) ClearParticipantAttachment(index int) error {
	if err := p.checkIndex(index); err != nil {
		return err
	}
	p.Participants[index].AttachmentRef = ""
	p.Participants[index].AttachmentLabel = ""
	p.recomputeAttachmentRefs()
	return nil
}

func (p *Payload) checkIndex(index int) error {
	if index < 0 || index >= len(p.Participants) {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("participant %d does not exist", index+1)).
			WithDetails(map[string]any{"index": index})
	}
	return nil
}

func (p *Payload) recomputeAttachmentRefs() {
	refs := make([]string, 0, len(p.Participants))
	for _, participant := range p.Participants {
		if participant.AttachmentRef != "" {
			refs = append(refs, participant.AttachmentRef)
		}
	}
	p.AttachmentRefs = refs
}

// Normalize repairs a payload decoded from storage: nil slices become empty
// and the derived attachment list is recomputed.
func (p *Payload) Normalize() {
	if p.Participants == nil {
		p.Participants = []Participant{}
	}
	if p.Preferences.Activities == nil {
		p.Preferences.Activities = []string{}
	}
	if p.Preferences.Dietary == nil {
		p.Preferences.Dietary = []string{}
	}
	p.recomputeAttachmentRefs()
}
