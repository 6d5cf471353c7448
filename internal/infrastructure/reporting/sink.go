package reporting

import (
	"context"
	"encoding/json"

	"marketbot/internal/ports"
)

// Envelope is the wire shape every transport sends.
type Envelope struct {
	Action ports.EventKind `json:"action"`
	Data   any             `json:"data"`
}

func encode(kind ports.EventKind, payload any) ([]byte, error) {
	return json.Marshal(Envelope{Action: kind, Data: payload})
}

type NopSink struct{}

var _ ports.ReportingSink = NopSink{}

func (NopSink) Post(context.Context, ports.EventKind, any) bool { return false }

// FanoutSink posts to every sink and reports success if any accepted the event.
type FanoutSink struct {
	sinks []ports.ReportingSink
}

var _ ports.ReportingSink = (*FanoutSink)(nil)

func NewFanoutSink(sinks ...ports.ReportingSink) *FanoutSink {
	kept := make([]ports.ReportingSink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			kept = append(kept, sink)
		}
	}
	return &FanoutSink{sinks: kept}
}

func (f *FanoutSink) Len() int { return len(f.sinks) }

func (f *FanoutSink) Post(ctx context.Context, kind ports.EventKind, payload any) bool {
	delivered := false
	for _, sink := range f.sinks {
		if sink.Post(ctx, kind, payload) {
			delivered = true
		}
	}
	return delivered
}
