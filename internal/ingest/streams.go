package ingest

import (
	"context"
	"io"

	"golang.org/x/sync/errgroup"
)

// Stream is a named input.
type Stream struct {
	Name   string
	Reader io.Reader
}

// IngestStreams runs independent streams concurrently, one goroutine per
// stream. Records within a stream keep their order; records of different
// streams interleave and are serialized only by the graph's commit locks.
//
// Results are returned in the order of streams. The first stream error
// (see Run) cancels the others.
func (p *Pipeline) IngestStreams(ctx context.Context, streams []Stream) ([]Result, error) {
	results := make([]Result, len(streams))
	g, ctx := errgroup.WithContext(ctx)
	for i, s := range streams {
		g.Go(func() error {
			res, err := p.Run(ctx, s.Name, s.Reader)
			results[i] = res
			return err
		})
	}
	err := g.Wait()
	return results, err
}
