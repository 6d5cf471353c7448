package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"marketbot/internal/bootstrap/logging"
	"marketbot/internal/errs"
	"marketbot/internal/ports"
)

// Resolver turns a semantic target into an interactable handle. Explicit
// candidates are tried in priority order; a broad fallback scan filtered by
// the target's intent keywords runs only after all of them miss.
type Resolver struct {
	intents      map[string][]string
	fallback     *ports.Locator
	selector     StrategySelector
	sleep        Sleeper
	probeTimeout time.Duration
	poll         time.Duration
}

func NewResolver(playbook Playbook, selector StrategySelector, sleep Sleeper) *Resolver {
	intents := make(map[string][]string, len(playbook.Targets))
	for name, target := range playbook.Targets {
		keywords := make([]string, 0, len(target.Intent))
		for _, keyword := range target.Intent {
			if k := strings.ToLower(strings.TrimSpace(keyword)); k != "" {
				keywords = append(keywords, k)
			}
		}
		if len(keywords) > 0 {
			intents[name] = keywords
		}
	}

	var fallback *ports.Locator
	if pattern := strings.TrimSpace(playbook.Resolve.FallbackPattern); pattern != "" {
		if locator, err := ports.ParseLocator(pattern); err == nil {
			fallback = &locator
		}
	}

	if selector == nil {
		selector = NewDefaultSelector()
	}
	if sleep == nil {
		sleep = SleepContext
	}

	return &Resolver{
		intents:      intents,
		fallback:     fallback,
		selector:     selector,
		sleep:        sleep,
		probeTimeout: playbook.Resolve.probeTimeout(),
		poll:         playbook.Resolve.poll(),
	}
}

// probes is how many times each candidate is looked up for tag.
func (r *Resolver) probes(tag string) int {
	choice := r.selector.ChooseStrategy(SelectionContext{Purpose: PurposeResolve, Tag: tag})
	if choice != StrategyBoundedWait || r.poll <= 0 {
		return 1
	}
	n := int(r.probeTimeout / r.poll)
	if n < 1 {
		return 1
	}
	return n
}

// Resolve returns ports.ErrElementNotFound when nothing usable turns up.
// Driver faults and ctx errors are returned as-is.
func (r *Resolver) Resolve(ctx context.Context, session ports.Session, candidates []ports.Locator, tag string) (ports.Handle, error) {
	probes := r.probes(tag)

	for _, candidate := range candidates {
		for probe := 1; probe <= probes; probe++ {
			handle, err := r.firstUsable(ctx, session, candidate, nil)
			if err != nil {
				return nil, err
			}
			if handle != nil {
				return handle, nil
			}
			if probe < probes {
				if err := r.sleep(ctx, r.poll); err != nil {
					return nil, errs.Wrap(err, "resolve "+tag)
				}
			}
		}
	}

	intent := r.intents[tag]
	if len(intent) > 0 && r.fallback != nil {
		handle, err := r.firstUsable(ctx, session, *r.fallback, intent)
		if err != nil {
			return nil, err
		}
		if handle != nil {
			logging.Debug(ctx, "resolved through fallback scan", slog.String("target", tag))
			return handle, nil
		}
	}

	return nil, errs.Wrapf(ports.ErrElementNotFound, "resolve %s", tag)
}

// firstUsable returns nil, nil on a miss. Non-fatal lookup errors count as a miss.
func (r *Resolver) firstUsable(ctx context.Context, session ports.Session, locator ports.Locator, intent []string) (ports.Handle, error) {
	handles, err := session.FindAll(ctx, locator)
	if err != nil {
		if fatalLookup(ctx, err) {
			return nil, err
		}
		logging.Debug(ctx, "locator probe failed", slog.String("locator", locator.String()), slog.Any("err", errs.Loggable(err)))
		return nil, nil
	}

	for _, handle := range handles {
		ok, err := usable(ctx, handle)
		if err != nil {
			if fatalLookup(ctx, err) {
				return nil, err
			}
			continue
		}
		if !ok {
			continue
		}
		if len(intent) > 0 {
			text, err := handle.ReadText(ctx)
			if err != nil {
				if fatalLookup(ctx, err) {
					return nil, err
				}
				continue
			}
			if !matchesIntent(text, intent) {
				continue
			}
		}
		return handle, nil
	}
	return nil, nil
}

func usable(ctx context.Context, handle ports.Handle) (bool, error) {
	visible, err := handle.IsVisible(ctx)
	if err != nil || !visible {
		return false, err
	}
	return handle.IsInteractable(ctx)
}

func fatalLookup(ctx context.Context, err error) bool {
	return ports.IsDriverFault(err) || ctx.Err() != nil || errors.Is(err, context.Canceled)
}

func matchesIntent(text string, intent []string) bool {
	normalized := strings.ToLower(strings.Join(strings.Fields(text), " "))
	if normalized == "" {
		return false
	}
	for _, keyword := range intent {
		if strings.Contains(normalized, keyword) {
			return true
		}
	}
	return false
}
