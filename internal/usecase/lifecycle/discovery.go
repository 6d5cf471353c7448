package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"marketbot/internal/bootstrap/logging"
	"marketbot/internal/domain/listing"
	"marketbot/internal/errs"
	"marketbot/internal/ports"
)

type discoveredListing struct {
	ItemID string
	URL    string
	Title  string
	Price  string
}

// discover returns the pending work for this run. Stored pending rows win;
// the selling page is only enumerated when there are none.
func (o *Orchestrator) discover(ctx context.Context, session ports.Session) ([]listing.Listing, error) {
	ctx = logging.WithComponent(ctx, "discovery")

	pending, err := o.store.Listings.GetPending(ctx)
	if err != nil {
		return nil, errs.Wrap(err, "load pending listings")
	}
	if len(pending) > 0 {
		logging.Info(ctx, "resuming stored pending listings", slog.Int("count", len(pending)))
		return pending, nil
	}

	found, err := o.enumerate(ctx, session)
	if err != nil {
		if Classify(err).Outcome == AttemptFatal {
			return nil, err
		}
		logging.Warn(ctx, "listing enumeration failed", slog.Any("err", errs.Loggable(err)))
		return nil, nil
	}

	categories := make([]string, len(found))
	upsertAll := func(ctx context.Context) error {
		for i, item := range found {
			categories[i] = o.classifier.Classify(item.Title)
			if _, err := o.store.Listings.UpsertListing(ctx, ports.ListingUpsert{
				ItemID:   item.ItemID,
				URL:      item.URL,
				Title:    item.Title,
				Price:    item.Price,
				Category: categories[i],
			}); err != nil {
				return errs.Wrapf(err, "upsert listing %s", item.ItemID)
			}
		}
		return nil
	}
	if o.store.UnitOfWork != nil {
		err = o.store.UnitOfWork.WithTx(ctx, upsertAll)
	} else {
		err = upsertAll(ctx)
	}
	if err != nil {
		return nil, err
	}

	for i, item := range found {
		o.sink.Post(ctx, ports.EventNewListing, newListingPayload(listing.Listing{
			ItemID:   item.ItemID,
			URL:      item.URL,
			Title:    item.Title,
			Price:    item.Price,
			Category: categories[i],
		}))
	}
	logging.Info(ctx, "listings discovered", slog.Int("count", len(found)))

	pending, err = o.store.Listings.GetPending(ctx)
	if err != nil {
		return nil, errs.Wrap(err, "reload pending listings")
	}
	return pending, nil
}

// enumerate opens the selling page under the navigation policy and collects
// unique listing links.
func (o *Orchestrator) enumerate(ctx context.Context, session ports.Session) ([]discoveredListing, error) {
	var found []discoveredListing

	result := o.retry.Execute(ctx, ClassNavigation, func(ctx context.Context, _ int) Attempt {
		if err := session.Navigate(ctx, o.playbook.URLs.Selling); err != nil {
			return Classify(err)
		}
		if err := o.pause(ctx, DelayNormal); err != nil {
			return Classify(err)
		}

		items, err := o.collectLinks(ctx, session)
		if err != nil {
			return Classify(err)
		}
		found = items
		return Succeeded()
	})
	if !result.OK() {
		return nil, result.Err
	}
	return found, nil
}

func (o *Orchestrator) collectLinks(ctx context.Context, session ports.Session) ([]discoveredListing, error) {
	base, _ := url.Parse(o.playbook.URLs.Selling)
	seen := make(map[string]bool)
	var out []discoveredListing

	for _, locator := range o.playbook.Candidates(TargetListingLink) {
		handles, err := session.FindAll(ctx, locator)
		if err != nil {
			return nil, err
		}
		for _, handle := range handles {
			href, ok, err := handle.Attribute(ctx, "href")
			if err != nil {
				if Classify(err).Outcome == AttemptFatal {
					return nil, err
				}
				continue
			}
			if !ok || strings.TrimSpace(href) == "" {
				continue
			}
			absolute := resolveHref(base, href)
			itemID := listing.ItemIDFromURL(absolute)
			if itemID == "" || seen[itemID] {
				continue
			}
			seen[itemID] = true

			text, err := handle.ReadText(ctx)
			if err != nil && Classify(err).Outcome == AttemptFatal {
				return nil, err
			}
			title := firstLine(text)
			if title == "" {
				title = "Unknown Title"
			}
			out = append(out, discoveredListing{
				ItemID: itemID,
				URL:    absolute,
				Title:  title,
				Price:  extractPrice(o.price, text),
			})
		}
	}
	return out, nil
}

func resolveHref(base *url.URL, href string) string {
	trimmed := strings.TrimSpace(href)
	ref, err := url.Parse(trimmed)
	if err != nil || base == nil {
		return trimmed
	}
	return base.ResolveReference(ref).String()
}

func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func itemLabel(item listing.Listing) string {
	if item.Title == "" {
		return item.ItemID
	}
	title := item.Title
	if len([]rune(title)) > 40 {
		title = string([]rune(title)[:40])
	}
	return fmt.Sprintf("%s (%s)", item.ItemID, title)
}
