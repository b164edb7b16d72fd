package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/tendant/simple-geoindexer/internal/fsm"
	"github.com/tendant/simple-geoindexer/internal/sources"
	"github.com/tendant/simple-geoindexer/pkg/schema"
)

// react performs the side effect owned by s and returns the event that
// follows it. ok is false for states that have nothing to do.
func (d *Driver) react(ctx context.Context, s schema.State) (e fsm.Event, ok bool) {
	ctx, span := d.tracer.Start(ctx, "react "+string(s.Kind),
		trace.WithAttributes(
			attribute.String("pipeline.state", string(s.Kind)),
			attribute.String("pipeline.data_source", d.cfg.DataSource),
			attribute.String("pipeline.region", d.cfg.Region),
		))
	start := time.Now()
	defer func() {
		if ok {
			span.SetAttributes(attribute.String("pipeline.next_event", string(e.Kind)))
			if e.Details != "" {
				span.SetStatus(codes.Error, e.Details)
			}
		}
		span.End()
		d.reactions.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("state", string(s.Kind))))
	}()

	switch s.Kind {
	case schema.StateDownloadingInProgress:
		return d.download(ctx, s), true

	case schema.StateDownloaded:
		if d.transformer != nil {
			return fsm.Process(s.FilePath), true
		}
		return fsm.Index(s.FilePath), true

	case schema.StateProcessingInProgress:
		return d.transform(ctx, s), true

	case schema.StateProcessed:
		return fsm.Index(s.FilePath), true

	case schema.StateIndexingInProgress:
		return d.index(ctx, s), true

	case schema.StateIndexed:
		return fsm.Validate(), true

	case schema.StateValidationInProgress:
		if err := d.probe.Check(ctx); err != nil {
			return fsm.ValidationError(fmt.Sprintf("could not validate: %v", err)), true
		}
		return fsm.ValidationComplete(), true

	case schema.StateDownloadingError, schema.StateProcessingError,
		schema.StateIndexingError, schema.StateValidationError:
		if d.policy == PolicyHalt {
			return fsm.Event{}, false
		}
		return fsm.Reset(), true

	default:
		// NotAvailable, Available and Failure have no side effect.
		return fsm.Event{}, false
	}
}

func (d *Driver) download(ctx context.Context, s schema.State) fsm.Event {
	if d.handler == nil {
		return fsm.DownloadingError(fmt.Sprintf("don't know how to download %s", d.cfg.DataSource))
	}
	path, err := d.handler.Download(ctx, d.cfg.WorkingDir, d.cfg.Region)
	if err != nil {
		return fsm.DownloadingError(fmt.Sprintf("could not download: %v", err))
	}
	return fsm.DownloadingComplete(path, d.elapsed(s))
}

func (d *Driver) transform(ctx context.Context, s schema.State) fsm.Event {
	if d.transformer == nil {
		return fsm.ProcessingError(fmt.Sprintf("don't know how to process %s", d.cfg.DataSource))
	}
	path, err := d.transformer.Transform(ctx, s.FilePath, d.cfg.WorkingDir, d.cfg.Region)
	if err != nil {
		return fsm.ProcessingError(fmt.Sprintf("could not process: %v", err))
	}
	return fsm.ProcessingComplete(path, d.elapsed(s))
}

func (d *Driver) index(ctx context.Context, s schema.State) fsm.Event {
	if d.handler == nil {
		return fsm.IndexingError(fmt.Sprintf("don't know how to index %s", d.cfg.DataSource))
	}
	err := d.handler.Index(ctx, sources.IndexRequest{
		HandlersDir: d.cfg.HandlersDir,
		Endpoint:    d.cfg.IndexEndpoint,
		Path:        s.FilePath,
		IndexType:   d.cfg.IndexType,
	})
	switch {
	case errors.Is(err, sources.ErrUnsupportedIndexType):
		return fsm.IndexingError(err.Error())
	case err != nil:
		return fsm.IndexingError(fmt.Sprintf("could not index %s: %v", d.cfg.DataSource, err))
	}
	return fsm.IndexingComplete(d.elapsed(s))
}

// elapsed measures from the started_at stamped on the in-progress state.
func (d *Driver) elapsed(s schema.State) time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	return d.now().Sub(s.StartedAt)
}
