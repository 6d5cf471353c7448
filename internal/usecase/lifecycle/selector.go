package lifecycle

import "marketbot/internal/domain/listing"

type StrategyID string

const (
	StrategyDirectEdit       StrategyID = "direct_edit"
	StrategyAudienceSettings StrategyID = "audience_settings"
	StrategyQuickSave        StrategyID = "quick_save"

	StrategyStandardBackoff StrategyID = "standard_backoff"
	StrategyExtendedBackoff StrategyID = "extended_backoff"

	StrategyFastProbe   StrategyID = "fast_probe"
	StrategyBoundedWait StrategyID = "bounded_wait"

	StrategyPaceNormal StrategyID = "pace_normal"
	StrategyPaceSlow   StrategyID = "pace_slow"
)

// TransitionOrder is the default order in which transition strategies are tried.
var TransitionOrder = []StrategyID{StrategyDirectEdit, StrategyAudienceSettings, StrategyQuickSave}

type Purpose string

const (
	PurposeTransition Purpose = "transition"
	PurposeBackoff    Purpose = "backoff"
	PurposeResolve    Purpose = "resolve"
	PurposePacing     Purpose = "pacing"
)

// SelectionContext describes the decision point. Only the fields relevant to
// Purpose are set.
type SelectionContext struct {
	Purpose             Purpose
	Class               string
	Tag                 string
	Attempt             int
	ConsecutiveFailures int
	Listing             *listing.Listing
}

type StrategySelector interface {
	ChooseStrategy(sc SelectionContext) StrategyID
}

type SelectorFunc func(sc SelectionContext) StrategyID

func (f SelectorFunc) ChooseStrategy(sc SelectionContext) StrategyID { return f(sc) }

// DefaultSelector is fully deterministic.
type DefaultSelector struct {
	// FastProbeTags resolve with a single probe per candidate.
	FastProbeTags map[string]bool
	// SlowPaceAfter consecutive listing failures switches pacing to slow.
	SlowPaceAfter int
	// ExtendBackoffAfter attempts switches backoff to extended; 0 never does.
	ExtendBackoffAfter int
}

func NewDefaultSelector() DefaultSelector {
	return DefaultSelector{
		FastProbeTags: map[string]bool{
			TargetEmail:       true,
			TargetPassword:    true,
			TargetLoginButton: true,
		},
		SlowPaceAfter: 2,
	}
}

func (s DefaultSelector) ChooseStrategy(sc SelectionContext) StrategyID {
	switch sc.Purpose {
	case PurposeTransition:
		return StrategyDirectEdit
	case PurposeBackoff:
		if s.ExtendBackoffAfter > 0 && sc.Attempt >= s.ExtendBackoffAfter {
			return StrategyExtendedBackoff
		}
		return StrategyStandardBackoff
	case PurposeResolve:
		if s.FastProbeTags[sc.Tag] {
			return StrategyFastProbe
		}
		return StrategyBoundedWait
	case PurposePacing:
		if s.SlowPaceAfter > 0 && sc.ConsecutiveFailures >= s.SlowPaceAfter {
			return StrategyPaceSlow
		}
		return StrategyPaceNormal
	default:
		return ""
	}
}

// orderTransitions moves lead to the front and keeps the rest in default order.
// An unknown lead leaves the default order untouched.
func orderTransitions(lead StrategyID) []StrategyID {
	ordered := make([]StrategyID, 0, len(TransitionOrder))
	found := false
	for _, id := range TransitionOrder {
		if id == lead {
			found = true
		}
	}
	if found {
		ordered = append(ordered, lead)
	}
	for _, id := range TransitionOrder {
		if id != lead {
			ordered = append(ordered, id)
		}
	}
	return ordered
}
