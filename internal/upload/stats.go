package upload

import (
	"time"

	"github.com/jun/gophstore/internal/codec"
)

// FailureKind says which remediation path a failed item belongs to.
type FailureKind string

const (
	KindAuth      FailureKind = "auth"
	KindTransient FailureKind = "transient"
	KindPermanent FailureKind = "permanent"
	KindCancelled FailureKind = "cancelled"
)

// FailedItem is one entry of the failure ledger.
type FailedItem struct {
	Index    int
	Record   codec.Record
	Err      error
	Attempts int
	Kind     FailureKind
}

// Stats is the outcome of a run. Every input record is counted at most
// once: Processed = Successful + Failed, and Processed < Total only when the
// run was cancelled or aborted.
type Stats struct {
	RunID      string
	Total      int
	Processed  int
	Successful int
	Failed     int
	Retried    int
	Batches    int
	Duration   time.Duration
	Cancelled  bool
	Failures   []FailedItem
}

func (s Stats) DurationSeconds() float64 {
	return s.Duration.Seconds()
}

// SuccessRate is Successful/Total, or 0 for an empty run.
func (s Stats) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Successful) / float64(s.Total)
}

// FailedRecords returns the records left in the ledger, in ledger order.
func (s Stats) FailedRecords() []codec.Record {
	out := make([]codec.Record, 0, len(s.Failures))
	for _, f := range s.Failures {
		out = append(out, f.Record)
	}
	return out
}
