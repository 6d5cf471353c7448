package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"marketbot/internal/bootstrap/logging"
	"marketbot/internal/domain/listing"
	"marketbot/internal/errs"
	"marketbot/internal/ports"
)

var errNoListingURL = errors.New("listing has no url")

type transitionStrategy func(ctx context.Context, session ports.Session) error

func (o *Orchestrator) strategies() map[StrategyID]transitionStrategy {
	return map[StrategyID]transitionStrategy{
		StrategyDirectEdit:       o.directEdit,
		StrategyAudienceSettings: o.audienceSettings,
		StrategyQuickSave:        o.save,
	}
}

// processListing resolves one listing to a terminal status and returns it.
// A fatal error still marks the listing failed before it is returned, so the
// run can abort without leaving the listing pending. An empty status means
// the store could not be updated.
func (o *Orchestrator) processListing(ctx context.Context, r *run, session ports.Session, item listing.Listing) (listing.Status, error) {
	ref := item.ID
	refPtr := &ref
	if item.ID == 0 {
		refPtr = nil
	}
	o.audit(ctx, r, refPtr, "make_public", listing.OutcomeStarted, itemLabel(item))

	strategy, err := o.transition(ctx, session, item)
	if err != nil && Classify(err).Outcome == AttemptFatal {
		// The browser or ctx is gone; the store is not.
		storeCtx := context.WithoutCancel(ctx)
		if markErr := o.resolveListing(storeCtx, r, refPtr, item, listing.Failed(), listing.OutcomeError, err.Error()); markErr != nil {
			return "", errors.Join(err, markErr)
		}
		return listing.StatusFailed, err
	}

	resolution := listing.Processed(string(strategy))
	outcome := listing.OutcomeSuccess
	message := "made public via " + string(strategy)
	if err != nil {
		resolution = listing.Failed()
		outcome = listing.OutcomeError
		message = err.Error()
		if problems := o.diagnosePage(ctx, session); len(problems) > 0 {
			message += " (page problems: " + strings.Join(problems, ", ") + ")"
		}
	}

	if err := o.resolveListing(ctx, r, refPtr, item, resolution, outcome, message); err != nil {
		return "", err
	}
	return resolution.Status, nil
}

func (o *Orchestrator) resolveListing(ctx context.Context, r *run, ref *uint64, item listing.Listing, resolution listing.Resolution, outcome listing.Outcome, message string) error {
	if err := o.store.Listings.UpdateStatus(ctx, item.ItemID, resolution); err != nil {
		return errs.Wrapf(err, "update status of %s", item.ItemID)
	}
	o.sink.Post(ctx, ports.EventUpdateListing, updateListingPayload(item.ItemID, resolution))
	o.audit(ctx, r, ref, "make_public", outcome, message)

	logging.Info(ctx, "listing resolved",
		slog.String("status", string(resolution.Status)),
		slog.String("strategy", resolution.Strategy),
	)
	return nil
}

// transition opens the listing and tries each strategy in order until one
// reaches a save. The winning strategy id is returned.
func (o *Orchestrator) transition(ctx context.Context, session ports.Session, item listing.Listing) (StrategyID, error) {
	if strings.TrimSpace(item.URL) == "" {
		return "", errNoListingURL
	}

	opened := o.retry.Execute(ctx, ClassNavigation, func(ctx context.Context, _ int) Attempt {
		if err := session.Navigate(ctx, item.URL); err != nil {
			return Classify(err)
		}
		return Classify(o.pause(ctx, DelayNormal))
	})
	if !opened.OK() {
		return "", errs.Wrap(opened.Err, "open listing")
	}

	lead := o.selector.ChooseStrategy(SelectionContext{Purpose: PurposeTransition, Listing: &item})
	available := o.strategies()

	var lastErr error
	for _, id := range orderTransitions(lead) {
		strategy := available[id]
		result := o.retry.Execute(ctx, ClassListing, func(ctx context.Context, _ int) Attempt {
			return Classify(strategy(ctx, session))
		})
		if result.OK() {
			return id, nil
		}
		if result.Fatal() {
			return "", result.Err
		}
		lastErr = result.Err
		logging.Debug(ctx, "transition strategy failed", slog.String("strategy", string(id)), slog.Any("err", errs.Loggable(result.Err)))
	}
	return "", lastErr
}

func (o *Orchestrator) directEdit(ctx context.Context, session ports.Session) error {
	if err := o.clickTarget(ctx, session, TargetEditButton, DelayNormal); err != nil {
		return err
	}
	return o.save(ctx, session)
}

// audienceSettings picks the public option when it is offered; a missing
// option still proceeds to save.
func (o *Orchestrator) audienceSettings(ctx context.Context, session ports.Session) error {
	if err := o.clickTarget(ctx, session, TargetAudienceSettings, DelayNormal); err != nil {
		return err
	}
	if err := o.clickTarget(ctx, session, TargetPublicOption, DelayNormal); err != nil {
		if !errors.Is(err, ports.ErrElementNotFound) {
			return err
		}
	}
	return o.save(ctx, session)
}

func (o *Orchestrator) save(ctx context.Context, session ports.Session) error {
	return o.clickTarget(ctx, session, TargetSaveButton, DelaySlow)
}

func (o *Orchestrator) clickTarget(ctx context.Context, session ports.Session, target string, after DelayKind) error {
	handle, err := o.resolve(ctx, session, target)
	if err != nil {
		return err
	}
	if err := handle.Click(ctx); err != nil {
		return errs.Wrapf(err, "click %s", target)
	}
	return o.pause(ctx, after)
}
