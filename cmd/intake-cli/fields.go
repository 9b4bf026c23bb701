package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/angelmondragon/intake-backend/internal/intake"
	pkgerrors "github.com/angelmondragon/intake-backend/pkg/errors"
)

type fieldSetter func(p *intake.Payload, value string) error

func text(target func(p *intake.Payload) *string) fieldSetter {
	return func(p *intake.Payload, value string) error {
		*target(p) = strings.TrimSpace(value)
		return nil
	}
}

func count(target func(p *intake.Payload) *int) fieldSetter {
	return func(p *intake.Payload, value string) error {
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return fmt.Errorf("%q is not a count", value)
		}
		*target(p) = n
		return nil
	}
}

var fieldSetters = map[string]fieldSetter{
	"contact.fullName": text(func(p *intake.Payload) *string { return &p.Contact.FullName }),
	"contact.email":    text(func(p *intake.Payload) *string { return &p.Contact.Email }),
	"contact.phone":    text(func(p *intake.Payload) *string { return &p.Contact.Phone }),

	"composition.adults":         count(func(p *intake.Payload) *int { return &p.Composition.Adults }),
	"composition.infants":        count(func(p *intake.Payload) *int { return &p.Composition.Infants }),
	"composition.childrenUnder6": count(func(p *intake.Payload) *int { return &p.Composition.ChildrenUnder6 }),
	"composition.children6to11":  count(func(p *intake.Payload) *int { return &p.Composition.Children6to11 }),
	"composition.children12to17": count(func(p *intake.Payload) *int { return &p.Composition.Children12to17 }),
	"composition.quoteRef":       text(func(p *intake.Payload) *string { return &p.Composition.QuoteRef }),
	"composition.stayStart":      text(func(p *intake.Payload) *string { return &p.Composition.StayStart }),
	"composition.stayEnd":        text(func(p *intake.Payload) *string { return &p.Composition.StayEnd }),

	"transfers.arrivalTime":     text(func(p *intake.Payload) *string { return &p.Transfers.ArrivalTime }),
	"transfers.arrivalFlight":   text(func(p *intake.Payload) *string { return &p.Transfers.ArrivalFlight }),
	"transfers.departureTime":   text(func(p *intake.Payload) *string { return &p.Transfers.DepartureTime }),
	"transfers.departureFlight": text(func(p *intake.Payload) *string { return &p.Transfers.DepartureFlight }),

	"preferences.dietaryOther":  text(func(p *intake.Payload) *string { return &p.Preferences.DietaryOther }),
	"preferences.questionnaire": text(func(p *intake.Payload) *string { return &p.Preferences.Questionnaire }),
	"preferences.comments":      text(func(p *intake.Payload) *string { return &p.Preferences.Comments }),
	"preferences.wantsQuestionnaire": func(p *intake.Payload, value string) error {
		wants, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%q is not yes/no (use true or false)", value)
		}
		p.SetWantsQuestionnaire(wants)
		return nil
	},
}

func setField(p *intake.Payload, field, value string) error {
	set, ok := fieldSetters[field]
	if !ok {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown field %q", field))
	}
	if err := set(p, value); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "set "+field).
			WithDetails(map[string]any{"invalid": []string{field}})
	}
	return nil
}

func fieldNames() []string {
	names := make([]string, 0, len(fieldSetters))
	for name := range fieldSetters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
