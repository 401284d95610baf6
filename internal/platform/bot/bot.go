// Package bot implements the clinic autoresponder. The responder answers
// inbound WhatsApp messages with keyword rules while no human operator is
// involved; the ticket service only consults it for tickets that are still
// bot-active and unassigned.
package bot

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Action is what the responder wants done with an inbound message.
type Action string

const (
	// ActionReply sends an automatic text reply to the contact.
	ActionReply Action = "reply"
	// ActionRouteSector moves the ticket to a sector's queue and replies.
	ActionRouteSector Action = "route_sector"
	// ActionHandoff deactivates the bot so the next operator takes over.
	ActionHandoff Action = "handoff"
)

// MatchMode controls how rule keywords are compared against message text.
type MatchMode string

const (
	// MatchContains fires when any keyword appears anywhere in the message.
	MatchContains MatchMode = "contains"
	// MatchExact fires only when the whole message equals a keyword.
	MatchExact MatchMode = "exact"
)

// Rule is a single keyword trigger configured for a clinic.
type Rule struct {
	ID        string    `json:"id"`
	ClinicID  string    `json:"clinic_id"`
	Keywords  []string  `json:"keywords"`
	Match     MatchMode `json:"match"`
	Action    Action    `json:"action"`
	Reply     string    `json:"reply,omitempty"`
	SectorID  string    `json:"sector_id,omitempty"`
	Priority  int       `json:"priority"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Response is the responder's decision for one inbound message.
type Response struct {
	RuleID   string `json:"rule_id,omitempty"`
	Action   Action `json:"action"`
	Reply    string `json:"reply,omitempty"`
	SectorID string `json:"sector_id,omitempty"`
}

var validActions = map[Action]bool{
	ActionReply:       true,
	ActionRouteSector: true,
	ActionHandoff:     true,
}

var validMatchModes = map[MatchMode]bool{
	MatchContains: true,
	MatchExact:    true,
}

func validateRule(r Rule) error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if r.ClinicID == "" {
		return fmt.Errorf("rule clinic id is required")
	}
	if len(r.Keywords) == 0 {
		return fmt.Errorf("rule needs at least one keyword")
	}
	if !validMatchModes[r.Match] {
		return fmt.Errorf("invalid match mode: %s (supported: contains, exact)", r.Match)
	}
	if !validActions[r.Action] {
		return fmt.Errorf("invalid action: %s (supported: reply, route_sector, handoff)", r.Action)
	}
	if r.Action == ActionReply && r.Reply == "" {
		return fmt.Errorf("reply action needs a reply text")
	}
	if r.Action == ActionRouteSector && r.SectorID == "" {
		return fmt.Errorf("route_sector action needs a sector id")
	}
	return nil
}

// Responder holds per-clinic rules and greetings and answers inbound text.
// All operations are thread-safe.
type Responder struct {
	mu        sync.RWMutex
	rules     map[string][]*Rule // clinicID -> rules
	greetings map[string]string  // clinicID -> greeting text
}

// NewResponder creates an empty Responder.
func NewResponder() *Responder {
	return &Responder{
		rules:     make(map[string][]*Rule),
		greetings: make(map[string]string),
	}
}

// Active reports whether the clinic has anything for the bot to do: at
// least one active rule or a greeting. Intake consults this so tickets only
// open bot-owned when the responder can actually answer.
func (r *Responder) Active(clinicID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.greetings[clinicID]; ok {
		return true
	}
	for _, rule := range r.rules[clinicID] {
		if rule.Active {
			return true
		}
	}
	return false
}

// SetGreeting configures the text sent on the first message of a new ticket
// when no rule matches. An empty text disables the greeting.
func (r *Responder) SetGreeting(clinicID, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if text == "" {
		delete(r.greetings, clinicID)
		return
	}
	r.greetings[clinicID] = text
}

// RegisterRule adds or replaces a rule. Rules are evaluated highest priority
// first; ties keep registration order.
func (r *Responder) RegisterRule(rule Rule) error {
	if err := validateRule(rule); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	clinicRules := r.rules[rule.ClinicID]
	for i, existing := range clinicRules {
		if existing.ID == rule.ID {
			rule.CreatedAt = existing.CreatedAt
			rule.UpdatedAt = now
			stored := rule
			clinicRules[i] = &stored
			return nil
		}
	}

	rule.CreatedAt = now
	rule.UpdatedAt = now
	stored := rule
	r.rules[rule.ClinicID] = append(clinicRules, &stored)
	return nil
}

// ListRules returns the clinic's rules in evaluation order.
func (r *Responder) ListRules(clinicID string) []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clinicRules := r.rules[clinicID]
	result := make([]Rule, 0, len(clinicRules))
	for _, rule := range sortedByPriority(clinicRules) {
		result = append(result, *rule)
	}
	return result
}

// DeleteRule removes a rule by ID.
func (r *Responder) DeleteRule(clinicID, ruleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clinicRules := r.rules[clinicID]
	for i, rule := range clinicRules {
		if rule.ID == ruleID {
			r.rules[clinicID] = append(clinicRules[:i], clinicRules[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("rule %s not found", ruleID)
}

// Respond evaluates the clinic's rules against an inbound message. The second
// return value is false when the bot has nothing to say. firstMessage marks
// the opening message of a freshly created ticket, which falls back to the
// clinic greeting when no rule fires.
func (r *Responder) Respond(clinicID, text string, firstMessage bool) (*Response, bool) {
	normalized := normalize(text)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rule := range sortedByPriority(r.rules[clinicID]) {
		if !rule.Active {
			continue
		}
		if !ruleMatches(rule, normalized) {
			continue
		}
		return &Response{
			RuleID:   rule.ID,
			Action:   rule.Action,
			Reply:    rule.Reply,
			SectorID: rule.SectorID,
		}, true
	}

	if firstMessage {
		if greeting, ok := r.greetings[clinicID]; ok {
			return &Response{Action: ActionReply, Reply: greeting}, true
		}
	}
	return nil, false
}

func ruleMatches(rule *Rule, normalized string) bool {
	for _, keyword := range rule.Keywords {
		kw := normalize(keyword)
		if kw == "" {
			continue
		}
		switch rule.Match {
		case MatchExact:
			if normalized == kw {
				return true
			}
		case MatchContains:
			if strings.Contains(normalized, kw) {
				return true
			}
		}
	}
	return false
}

// normalize lowercases and collapses surrounding whitespace so matching is
// insensitive to how the contact typed the keyword.
func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// sortedByPriority returns rules ordered highest priority first, preserving
// registration order for equal priorities.
func sortedByPriority(rules []*Rule) []*Rule {
	sorted := make([]*Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})
	return sorted
}
