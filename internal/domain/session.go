// Package domain contains entities without logic, just meta-data and the
// validation rules that guard them.
package domain

import "errors"

const MaxNameLen = 15

var (
	ErrNameTooLong = errors.New("name must be at most 15 characters")
	ErrNameInvalid = errors.New("name must contain only letters, numbers, underscores (_), or hyphens (-)")
)

// Session is one connected participant. Identity (the session id) is owned by
// the registry; the entity carries only the fields peers get to see.
type Session struct {
	Name string `json:"name"`
	// Camera is the advisory camera index the client last selected. The
	// server cannot verify it; it is stored and rebroadcast as-is.
	Camera int `json:"camera"`
}

func NewSession(name string) (*Session, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	return &Session{Name: name}, nil
}

// ValidateName enforces the shared naming rules for display names and rooms.
// The empty string is rejected here; callers that allow it (registration with
// a generated name) must handle that case before validating.
func ValidateName(name string) error {
	if len(name) == 0 {
		return ErrNameInvalid
	}
	if len(name) > MaxNameLen {
		return ErrNameTooLong
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '-':
		default:
			return ErrNameInvalid
		}
	}
	return nil
}
