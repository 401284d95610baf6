package contact

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Contact maps to the contact table. One row per WhatsApp phone number; the
// normalized phone is the natural key used by webhook intake.
type Contact struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Phone     string    `db:"phone" json:"phone"`
	Name      string    `db:"name" json:"name"`
	AvatarURL *string   `db:"avatar_url" json:"avatar_url,omitempty"`
	Notes     *string   `db:"notes" json:"notes,omitempty"`
	Blocked   bool      `db:"blocked" json:"blocked"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// phoneStrip lists formatting characters removed before validation.
const phoneStrip = " ()-."

// NormalizePhone canonicalizes a phone number to +<digits> form. Formatting
// characters are stripped; the result must be 8 to 15 digits (E.164 limit).
// Numbers without a leading + are assumed to already carry a country code.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if strings.ContainsRune(phoneStrip, r) {
			continue
		}
		b.WriteRune(r)
	}
	s := b.String()
	s = strings.TrimPrefix(s, "+")

	if s == "" {
		return "", fmt.Errorf("phone is required")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("phone contains invalid character %q", r)
		}
	}
	if len(s) < 8 || len(s) > 15 {
		return "", fmt.Errorf("phone must have 8 to 15 digits, got %d", len(s))
	}
	return "+" + s, nil
}
