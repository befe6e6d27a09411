package upload

import (
	"github.com/jun/gophstore/internal/codec"
)

// Batch is a contiguous slice of the input. Start is the input index of
// Items[0].
type Batch struct {
	Index int
	Start int
	Items []codec.Record
}

// Partition splits records into ceil(len/size) contiguous batches; the last
// may be shorter. It returns nil when size < 1.
func Partition(records []codec.Record, size int) []Batch {
	if size < 1 || len(records) == 0 {
		return nil
	}
	batches := make([]Batch, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		batches = append(batches, Batch{
			Index: len(batches),
			Start: start,
			Items: records[start:end],
		})
	}
	return batches
}
