package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/jun/gophstore/internal/codec"
	"github.com/jun/gophstore/internal/upload"
)

// readRecords decodes a JSON array of objects. Numbers keep their integer
// or float form; values with no typed equivalent are stored as strings and
// logged.
func readRecords(r io.Reader, log zerolog.Logger) ([]codec.Record, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var raw []map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}

	records := make([]codec.Record, 0, len(raw))
	for i, m := range raw {
		records = append(records, codec.RecordFromMap(m, func(name string, value any) {
			log.Warn().Int("index", i).Str("field", name).Str("type", fmt.Sprintf("%T", value)).
				Msg("unsupported value stored as string")
		}))
	}
	return records, nil
}

type summary struct {
	RunID       string   `json:"run_id"`
	Total       int      `json:"total"`
	Successful  int      `json:"successful"`
	Failed      int      `json:"failed"`
	Retried     int      `json:"retried"`
	Batches     int      `json:"batches"`
	DurationS   float64  `json:"duration_s"`
	SuccessRate float64  `json:"success_rate"`
	Cancelled   bool     `json:"cancelled"`
	Failures    []string `json:"failures,omitempty"`
}

func writeSummary(w io.Writer, s upload.Stats) error {
	out := summary{
		RunID:       s.RunID,
		Total:       s.Total,
		Successful:  s.Successful,
		Failed:      s.Failed,
		Retried:     s.Retried,
		Batches:     s.Batches,
		DurationS:   s.DurationSeconds(),
		SuccessRate: s.SuccessRate(),
		Cancelled:   s.Cancelled,
	}
	for _, f := range s.Failures {
		out.Failures = append(out.Failures, fmt.Sprintf("#%d %s after %d attempts: %v", f.Index, f.Kind, f.Attempts, f.Err))
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// writeFailed stores the ledger's records in the input format so they can be
// uploaded again.
func writeFailed(path string, s upload.Stats) error {
	failed := s.FailedRecords()
	out := make([]map[string]any, 0, len(failed))
	for _, r := range failed {
		out = append(out, r.Native())
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
