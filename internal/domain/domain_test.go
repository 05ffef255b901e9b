package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"plain", "alice", nil},
		{"mixed case and digits", "Bob42", nil},
		{"underscore and hyphen", "fast-lion_01", nil},
		{"max length", strings.Repeat("a", MaxNameLen), nil},
		{"empty", "", ErrNameInvalid},
		{"too long", strings.Repeat("a", MaxNameLen+1), ErrNameTooLong},
		{"space", "bad name", ErrNameInvalid},
		{"punctuation", "room!", ErrNameInvalid},
		{"unicode", "café", ErrNameInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateName(%q) = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestNewSessionRejectsInvalidName(t *testing.T) {
	if _, err := NewSession("no spaces"); !errors.Is(err, ErrNameInvalid) {
		t.Errorf("got %v, want ErrNameInvalid", err)
	}
	sess, err := NewSession("alice")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if sess.Camera != 0 {
		t.Errorf("new session camera %d, want 0", sess.Camera)
	}
}

func TestGenerateNameAlwaysValid(t *testing.T) {
	for i := 0; i < 1000; i++ {
		name := GenerateName()
		if err := ValidateName(name); err != nil {
			t.Fatalf("GenerateName produced %q: %v", name, err)
		}
	}
}

func TestNewRoomAssignsUniqueIDs(t *testing.T) {
	a := NewRoom("demo")
	b := NewRoom("demo")
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("room ids not unique: %q vs %q", a.ID, b.ID)
	}
}
