package formconfig

import (
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	messagePolicyOnce sync.Once
	messagePolicy     *bluemonday.Policy
)

// sanitizeConfiguration strips unsafe markup from author-supplied display
// strings. Rule messages end up in the browser verbatim (after placeholder
// interpolation), so configured markup is limited to simple inline elements.
func sanitizeConfiguration(cfg *FormConfiguration) {
	for i := range cfg.Steps {
		sanitizeStep(&cfg.Steps[i])
	}
}

func sanitizeStep(step *FormStep) {
	for i := range step.Fields {
		field := &step.Fields[i]
		for j := range field.Validations {
			rule := &field.Validations[j]
			rule.ErrorMessage = sanitizeMessage(rule.ErrorMessage)
			rule.SuccessMessage = sanitizeMessage(rule.SuccessMessage)
		}
	}
	for i := range step.ChildFormSteps {
		sanitizeStep(&step.ChildFormSteps[i])
	}
}

func sanitizeMessage(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	return strings.TrimSpace(messageSanitizer().Sanitize(trimmed))
}

func messageSanitizer() *bluemonday.Policy {
	messagePolicyOnce.Do(func() {
		policy := bluemonday.StrictPolicy()
		policy.AllowElements("b", "i", "em", "strong", "code", "br")
		messagePolicy = policy
	})
	return messagePolicy
}
