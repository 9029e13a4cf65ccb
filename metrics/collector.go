package metrics

import (
	"gen_backend/imagegen"
	"gen_backend/queue"
)

// Collector is everything the pipeline reports: queue lifecycle events and
// provider attempts. The Recorder implements it; tests may substitute
// their own.
type Collector interface {
	queue.Recorder
	imagegen.Observer
}

var _ Collector = (*Recorder)(nil)
