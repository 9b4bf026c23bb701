package wizard

import (
	"regexp"

	"github.com/angelmondragon/intake-backend/internal/intake"
	"github.com/angelmondragon/intake-backend/internal/locale"
	"github.com/angelmondragon/intake-backend/pkg/enums"
)

// Edit applies fn to a copy of the payload and keeps the copy only when fn
// succeeds.
func (c *Controller) Edit(fn func(*intake.Payload) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateSucceeded {
		return succeededError()
	}
	draft := c.payload.Clone()
	if err := fn(&draft); err != nil {
		return err
	}
	draft.Normalize()
	if c.uploading != noUpload && c.uploading >= len(draft.Participants) {
		c.uploadDropped = true
	}
	c.payload = draft
	return nil
}

// SetTransferOption switches the transfer choice and clears the fields it no
// longer needs.
func (c *Controller) SetTransferOption(opt enums.TransferOption) error {
	return c.Edit(func(p *intake.Payload) error { return p.SetTransferOption(opt) })
}

// SetPartySize grows or truncates the participant list to n rows.
func (c *Controller) SetPartySize(n int) error {
	return c.Edit(func(p *intake.Payload) error { return p.SetPartySize(n) })
}

// ToggleActivity reports whether value is selected after the call.
func (c *Controller) ToggleActivity(value string) (bool, error) {
	var selected bool
	err := c.Edit(func(p *intake.Payload) error {
		var err error
		selected, err = p.ToggleActivity(value)
		return err
	})
	return selected, err
}

func (c *Controller) SetParticipant(index int, name, birthDate string) error {
	return c.Edit(func(p *intake.Payload) error { return p.SetParticipant(index, name, birthDate) })
}

// Choice is an enum value paired with its localized label.
type Choice struct {
	Value string
	Label string
}

func (c *Controller) TransferChoices() []Choice {
	opts := enums.TransferOptions()
	out := make([]Choice, 0, len(opts))
	for _, opt := range opts {
		out = append(out, Choice{Value: opt.String(), Label: c.lookup.EnumLabel(locale.EnumTransferOption, opt.String())})
	}
	return out
}

var indexPattern = regexp.MustCompile(`\[\d+\]`)

// ValidationMessages maps each blocking field of the active step to a
// localized message. Lookups go from the field-specific key to the generic one.
func (c *Controller) ValidationMessages() map[string]string {
	res := c.Validate()
	out := make(map[string]string, len(res.Missing)+len(res.Invalid))
	for _, field := range res.Missing {
		out[field] = c.message("error.required", field)
	}
	for _, field := range res.Invalid {
		out[field] = c.message("error.invalid", field)
	}
	return out
}

func (c *Controller) message(prefix, field string) string {
	key := prefix + "." + indexPattern.ReplaceAllString(field, "")
	if text := c.lookup.Text(key); text != key {
		return text
	}
	return c.lookup.Text(prefix)
}

// StepTitle returns the localized title of the active step.
func (c *Controller) StepTitle() string {
	return c.lookup.Text("step." + string(c.StepID()))
}
