package operator

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Roles an operator account can hold. Managers can reassign any ticket;
// admins additionally manage clinic configuration.
const (
	RoleOperator = "operator"
	RoleManager  = "manager"
	RoleAdmin    = "admin"
)

var validRoles = map[string]bool{
	RoleOperator: true,
	RoleManager:  true,
	RoleAdmin:    true,
}

// Operator maps to the operator table.
type Operator struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	Name      string     `db:"name" json:"name"`
	Email     string     `db:"email" json:"email"`
	Role      string     `db:"role" json:"role"`
	SectorID  *uuid.UUID `db:"sector_id" json:"sector_id,omitempty"`
	Active    bool       `db:"active" json:"active"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// WithPresence is an Operator decorated with its live presence state.
type WithPresence struct {
	Operator
	Online bool `json:"online"`
}

// Validate checks the fields a client can set.
func (o *Operator) Validate() error {
	if strings.TrimSpace(o.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(o.Email) == "" {
		return fmt.Errorf("email is required")
	}
	if !strings.Contains(o.Email, "@") {
		return fmt.Errorf("invalid email: %s", o.Email)
	}
	if o.Role == "" {
		o.Role = RoleOperator
	}
	if !validRoles[o.Role] {
		return fmt.Errorf("invalid role: %s (supported: operator, manager, admin)", o.Role)
	}
	return nil
}
