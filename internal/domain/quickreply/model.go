package quickreply

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// QuickReply is a canned message template. Operators trigger it by shortcut
// (for example "/ola") and the body is rendered against the current ticket
// before sending.
type QuickReply struct {
	ID        uuid.UUID `json:"id"`
	Shortcut  string    `json:"shortcut"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (q *QuickReply) Validate() error {
	q.Shortcut = strings.TrimSpace(q.Shortcut)
	if q.Shortcut == "" {
		return fmt.Errorf("shortcut is required")
	}
	if !strings.HasPrefix(q.Shortcut, "/") {
		return fmt.Errorf("shortcut must start with /")
	}
	if strings.ContainsAny(q.Shortcut, " \t") {
		return fmt.Errorf("shortcut must not contain whitespace")
	}
	if strings.TrimSpace(q.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if strings.TrimSpace(q.Body) == "" {
		return fmt.Errorf("body is required")
	}
	return nil
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z_]+)\s*\}\}`)

// Portuguese aliases map onto the canonical variable names so templates
// written in either language render the same.
var aliases = map[string]string{
	"nome":      "name",
	"telefone":  "phone",
	"protocolo": "protocol",
}

// Render substitutes {{name}}, {{phone}} and {{protocol}} style placeholders
// in body with the given values. Matching is case-insensitive and tolerates
// inner whitespace. Placeholders with no corresponding value are left intact.
func Render(body string, vars map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(body, func(match string) string {
		key := strings.ToLower(placeholderRe.FindStringSubmatch(match)[1])
		if canonical, ok := aliases[key]; ok {
			key = canonical
		}
		if val, ok := vars[key]; ok {
			return val
		}
		return match
	})
}
