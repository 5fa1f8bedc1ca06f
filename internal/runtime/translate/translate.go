// Package translate rewrites messages through an ordered, conditionally
// applied rule pipeline before they are routed. Each rule's predicate is
// evaluated against the original message; the applicable subset is then
// applied in registration order to an accumulating result.
package translate

import (
	"context"
	"fmt"
	"sync"

	"github.com/drblury/mcpwire/envelope"
	"github.com/drblury/mcpwire/internal/runtime/logging"
)

// Rule is one named, conditional rewrite.
type Rule struct {
	Name string
	// Applies decides applicability against the original message.
	Applies func(msg *envelope.Envelope) bool
	// Transform produces a new message; it must not mutate its input.
	Transform func(ctx context.Context, msg *envelope.Envelope) (*envelope.Envelope, error)
}

// Config tunes validation of intermediate results.
type Config struct {
	// ValidateAfterEach re-checks the envelope invariant after every rule.
	ValidateAfterEach bool
	// Strict turns a validation failure into an error instead of a log
	// line.
	Strict bool
}

// Translator applies its rule set to outgoing messages.
type Translator struct {
	cfg    Config
	logger logging.ServiceLogger

	mu    sync.RWMutex
	rules []Rule
}

// New creates an empty translator.
func New(cfg Config, logger logging.ServiceLogger) *Translator {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Translator{cfg: cfg, logger: logger}
}

// AddRule appends a rule. Rules apply in registration order.
func (t *Translator) AddRule(rule Rule) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rules = append(t.rules, rule)
}

// RuleNames returns the registered rule names in order.
func (t *Translator) RuleNames() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, len(t.rules))
	for i, rule := range t.rules {
		names[i] = rule.Name
	}
	return names
}

// Translate runs the applicable rules over the message. A failing rule
// aborts the whole translation with that rule's error.
func (t *Translator) Translate(ctx context.Context, msg *envelope.Envelope) (*envelope.Envelope, error) {
	t.mu.RLock()
	var applicable []Rule
	for _, rule := range t.rules {
		if rule.Applies == nil || rule.Applies(msg) {
			applicable = append(applicable, rule)
		}
	}
	t.mu.RUnlock()

	result := msg
	for _, rule := range applicable {
		next, err := rule.Transform(ctx, result)
		if err != nil {
			return nil, fmt.Errorf("translate: rule %q failed: %w", rule.Name, err)
		}
		result = next

		if t.cfg.ValidateAfterEach {
			if err := result.Validate(); err != nil {
				if t.cfg.Strict {
					return nil, fmt.Errorf("translate: rule %q produced an invalid message: %w", rule.Name, err)
				}
				t.logger.Error("translation rule produced an invalid message", err, logging.LogFields{
					"rule": rule.Name,
				})
			}
		}
	}
	return result, nil
}
