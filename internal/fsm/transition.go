package fsm

import (
	"fmt"
	"time"

	"github.com/tendant/simple-geoindexer/pkg/schema"
)

type edge struct {
	from  schema.StateKind
	event EventKind
}

// Next returns the successor of s under e. It is pure: now is only used to
// stamp the started_at of *InProgress states. Any pair missing from the table
// yields Failure.
func Next(s schema.State, e Event, now time.Time) schema.State {
	switch (edge{s.Kind, e.Kind}) {
	case edge{schema.StateNotAvailable, EventDownload}:
		return schema.DownloadingInProgress(now)

	case edge{schema.StateDownloadingInProgress, EventDownloadingError}:
		return schema.DownloadingError(e.Details)
	case edge{schema.StateDownloadingInProgress, EventDownloadingComplete}:
		return schema.Downloaded(e.Path, e.Duration)
	case edge{schema.StateDownloadingError, EventReset}:
		return schema.NotAvailable()

	// Downloaded may go either way; the driver picks which event to send.
	case edge{schema.StateDownloaded, EventProcess}:
		return schema.ProcessingInProgress(e.Path, now)
	case edge{schema.StateDownloaded, EventIndex}:
		return schema.IndexingInProgress(e.Path, now)

	case edge{schema.StateProcessingInProgress, EventProcessingError}:
		return schema.ProcessingError(e.Details)
	case edge{schema.StateProcessingError, EventReset}:
		return schema.NotAvailable()
	case edge{schema.StateProcessingInProgress, EventProcessingComplete}:
		return schema.Processed(e.Path, e.Duration)
	case edge{schema.StateProcessed, EventIndex}:
		return schema.IndexingInProgress(e.Path, now)

	case edge{schema.StateIndexingInProgress, EventIndexingError}:
		return schema.IndexingError(e.Details)
	case edge{schema.StateIndexingError, EventReset}:
		return schema.NotAvailable()
	case edge{schema.StateIndexingInProgress, EventIndexingComplete}:
		return schema.Indexed(e.Duration)

	case edge{schema.StateIndexed, EventValidate}:
		return schema.ValidationInProgress()
	case edge{schema.StateValidationInProgress, EventValidationError}:
		return schema.ValidationError(e.Details)
	case edge{schema.StateValidationError, EventReset}:
		return schema.NotAvailable()
	case edge{schema.StateValidationInProgress, EventValidationComplete}:
		return schema.Available()
	}

	return schema.Failure(fmt.Sprintf("Wrong state, event combination: %s %s", s.Kind, e.Kind))
}
