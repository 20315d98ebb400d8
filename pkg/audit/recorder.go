package audit

import (
	"context"
)

// Recorder accepts audit events. Recording is best effort: implementations
// log failures instead of returning them so a broken audit sink never blocks
// the write it describes.
type Recorder interface {
	Record(ctx context.Context, event Event)
}

// NopRecorder discards all events.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Event) {}
