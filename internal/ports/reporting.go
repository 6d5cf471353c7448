package ports

import "context"

type EventKind string

const (
	EventUpdateListing EventKind = "update_listing"
	EventNewListing    EventKind = "new_listing"
	EventAddLog        EventKind = "add_log"
	EventUpdateStats   EventKind = "update_stats"
)

// ReportingSink pushes dashboard events. Post never panics or returns an
// error; false means the event was not delivered.
type ReportingSink interface {
	Post(ctx context.Context, kind EventKind, payload any) bool
}
