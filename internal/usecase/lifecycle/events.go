package lifecycle

import (
	"time"

	"marketbot/internal/domain/listing"
)

type logEvent struct {
	RunID      string  `json:"run_id"`
	ListingRef *uint64 `json:"listing_ref,omitempty"`
	Action     string  `json:"action"`
	Outcome    string  `json:"status"`
	Message    string  `json:"message"`
	Timestamp  string  `json:"timestamp"`
}

func logPayload(entry listing.ActionLogEntry) logEvent {
	return logEvent{
		RunID:      entry.RunID,
		ListingRef: entry.ListingRef,
		Action:     entry.Action,
		Outcome:    string(entry.Outcome),
		Message:    entry.Message,
		Timestamp:  entry.Timestamp.UTC().Format(time.RFC3339),
	}
}

type listingEvent struct {
	ItemID    string `json:"item_id"`
	URL       string `json:"url,omitempty"`
	Title     string `json:"title,omitempty"`
	Price     string `json:"price,omitempty"`
	Category  string `json:"category,omitempty"`
	Status    string `json:"status,omitempty"`
	IsPublic  bool   `json:"is_public"`
	IsVisible bool   `json:"is_visible"`
	Strategy  string `json:"processing_strategy,omitempty"`
}

func newListingPayload(item listing.Listing) listingEvent {
	return listingEvent{
		ItemID:   item.ItemID,
		URL:      item.URL,
		Title:    item.Title,
		Price:    item.Price,
		Category: item.Category,
		Status:   string(listing.StatusPending),
	}
}

func updateListingPayload(itemID string, resolution listing.Resolution) listingEvent {
	return listingEvent{
		ItemID:    itemID,
		Status:    string(resolution.Status),
		IsPublic:  resolution.IsPublic,
		IsVisible: resolution.IsVisible,
		Strategy:  resolution.Strategy,
	}
}
