package dispatch

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// SendAsync performs req on a new goroutine. The channel yields exactly one
// Result and is then closed.
func (d *Dispatcher) SendAsync(ctx context.Context, req Request) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		resp, err := d.Send(ctx, req)
		ch <- Result{Request: req, Response: resp, Err: err}
	}()
	return ch
}

// SendAll performs reqs concurrently, at most Config.Concurrency at a time,
// and returns their results in request order. A failed request does not
// cancel the others.
func (d *Dispatcher) SendAll(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, len(reqs))

	var g errgroup.Group
	g.SetLimit(d.cfg.Concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			resp, err := d.Send(ctx, req)
			results[i] = Result{Request: req, Response: resp, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}
