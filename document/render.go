package document

import (
	"context"
	"runtime"
	"sync"

	"github.com/redforks/nipdf/contentstream"
	"github.com/redforks/nipdf/coords"
	"github.com/redforks/nipdf/observability"
	"github.com/redforks/nipdf/render"
	"github.com/redforks/nipdf/resources"
)

// RenderPage renders the page at index. Problems inside the page are
// reported in Result.Warnings; the error covers a bad index, an unusable
// output size and the end of ctx.
func (d *Document) RenderPage(ctx context.Context, index int, opts render.Options) (*render.Result, error) {
	ctx, span := d.tracer.StartSpan(ctx, "document.RenderPage")
	defer span.Finish()
	span.SetTag("page", index)

	page, err := d.Page(index)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	res, err := d.rend.RenderPage(ctx, page, opts)
	if err != nil {
		span.SetError(err)
		d.log.Warn("page render failed", observability.Int("page", index), observability.Error("error", err))
		return nil, err
	}
	span.SetTag("warnings", len(res.Warnings))
	for _, w := range res.Warnings {
		d.log.Warn("page render warning", observability.Int("page", index), observability.Error("error", w))
	}
	return res, nil
}

// PageResult is one page of RenderPages.
type PageResult struct {
	Index  int
	Result *render.Result
	Err    error
}

// RenderPages renders the pages at indexes concurrently, at most
// Config.Workers at a time. Results come back in the order of indexes.
func (d *Document) RenderPages(ctx context.Context, indexes []int, opts render.Options) []PageResult {
	workers := d.cfg.Workers
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	out := make([]PageResult, len(indexes))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i, idx := range indexes {
		out[i].Index = idx
		wg.Add(1)
		go func(i, idx int) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				out[i].Err = ctx.Err()
				return
			}
			defer func() { <-sem }()
			out[i].Result, out[i].Err = d.RenderPage(ctx, idx, opts)
		}(i, idx)
	}
	wg.Wait()
	return out
}

// TracePage runs the page's content stream against a recording device
// in default user space, for inspection of what the page draws.
func (d *Document) TracePage(ctx context.Context, index int) (*contentstream.Tracer, []error, error) {
	tr := contentstream.NewTracer()
	warnings, err := d.runPage(ctx, index, tr)
	if err != nil {
		return nil, nil, err
	}
	return tr, warnings, nil
}

// runPage interprets a page onto dev with an identity page transform.
func (d *Document) runPage(ctx context.Context, index int, dev contentstream.Device) ([]error, error) {
	page, err := d.Page(index)
	if err != nil {
		return nil, err
	}
	var warnings []error
	data, err := page.Contents(ctx, d.doc.Loader, func(err error) { warnings = append(warnings, err) })
	if err != nil {
		return nil, err
	}
	gs := contentstream.NewGraphicsState(coords.Identity())
	more, err := d.proc.Run(ctx, data, resources.PageScope{Page: page}, gs, dev)
	if err != nil {
		return nil, err
	}
	return append(warnings, more...), nil
}
