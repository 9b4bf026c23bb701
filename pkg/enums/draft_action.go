package enums

import "fmt"

// DraftAction is the operation requested on POST /draft.
type DraftAction string

const (
	DraftActionCreate DraftAction = "create"
	DraftActionUpdate DraftAction = "update"
	DraftActionSubmit DraftAction = "submit"
)

var validDraftActions = []DraftAction{
	DraftActionCreate,
	DraftActionUpdate,
	DraftActionSubmit,
}

// String implements fmt.Stringer.
func (a DraftAction) String() string {
	return string(a)
}

// IsValid reports whether the value is a known DraftAction.
func (a DraftAction) IsValid() bool {
	for _, candidate := range validDraftActions {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseDraftAction converts raw input into a DraftAction.
func ParseDraftAction(value string) (DraftAction, error) {
	for _, candidate := range validDraftActions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid draft action %q", value)
}
