package lifecycle

import (
	"context"
	"strings"

	"marketbot/internal/ports"
)

const problemLoginRequired = "login_required"

// diagnosePage lists the named problem indicators present on the current
// page, plus login_required when the session was bounced to a login URL.
// Lookup errors are ignored; the result only annotates a failure.
func (o *Orchestrator) diagnosePage(ctx context.Context, session ports.Session) []string {
	var problems []string
	seen := make(map[string]bool)
	for _, indicator := range o.playbook.Problems {
		if seen[indicator.Name] {
			continue
		}
		locator, err := ports.ParseLocator(indicator.Locator)
		if err != nil {
			continue
		}
		handles, err := session.FindAll(ctx, locator)
		if err != nil || len(handles) == 0 {
			continue
		}
		seen[indicator.Name] = true
		problems = append(problems, indicator.Name)
	}

	current, err := session.CurrentURL(ctx)
	if err != nil {
		return problems
	}
	current = strings.ToLower(current)
	for _, fragment := range o.playbook.Login.FailureURL {
		if f := strings.ToLower(strings.TrimSpace(fragment)); f != "" && strings.Contains(current, f) {
			problems = append(problems, problemLoginRequired)
			break
		}
	}
	return problems
}
