package batch

import (
	"encoding/json"
	"fmt"
)

// Default batch bounds.
const (
	DefaultMaxBytes int64 = 1 << 20
	DefaultMaxRows        = 1000
)

// Part is one batch of a change set.
type Part struct {
	Index    int           `json:"index"`
	Changes  *ContainerSet `json:"changes"`
	RowCount int           `json:"rowCount"`
	// Size is the estimated serialized size in bytes.
	Size   int64 `json:"size"`
	IsLast bool  `json:"isLast"`
}

// Info describes a materialized change set.
type Info struct {
	Parts     []*Part `json:"parts"`
	Count     int     `json:"count"`
	RowsCount int     `json:"rowsCount"`
	// Timestamp is the tick snapshot the selection ran up to.
	Timestamp int64 `json:"timestamp"`
}

// Part returns the part at index, or nil when out of range.
func (i *Info) Part(index int) *Part {
	if i == nil || index < 0 || index >= len(i.Parts) {
		return nil
	}
	return i.Parts[index]
}

// Validate checks the ordering invariants: indices are 0..Count-1 and only
// the final part is marked last.
func (i *Info) Validate() error {
	if i.Count != len(i.Parts) {
		return fmt.Errorf("batch count %d does not match %d parts", i.Count, len(i.Parts))
	}
	for idx, p := range i.Parts {
		if p.Index != idx {
			return fmt.Errorf("part at position %d has index %d", idx, p.Index)
		}
		if p.IsLast != (idx == i.Count-1) {
			return fmt.Errorf("part %d has IsLast=%t", idx, p.IsLast)
		}
	}
	return nil
}

// Batcher groups rows into parts bounded by estimated size and row count.
type Batcher struct {
	// MaxBytes bounds the estimated serialized size of a part; <= 0 means
	// no size bound.
	MaxBytes int64
	// MaxRows bounds the number of rows in a part; <= 0 means no row bound.
	MaxRows int

	parts   []*Part
	current *ContainerSet
	rows    int
	size    int64
	total   int
}

// NewBatcher creates a batcher with the given bounds.
func NewBatcher(maxBytes int64, maxRows int) *Batcher {
	return &Batcher{MaxBytes: maxBytes, MaxRows: maxRows}
}

// Add appends a row to the current part, closing the part first when the
// row would push it past either bound.
func (b *Batcher) Add(table, schemaName string, row Row) error {
	size, err := RowSize(row)
	if err != nil {
		return fmt.Errorf("estimate row size for %s: %w", table, err)
	}
	if b.rows > 0 && b.wouldOverflow(size) {
		b.closePart()
	}
	if b.current == nil {
		b.current = &ContainerSet{}
	}
	b.current.AddRow(table, schemaName, row)
	b.rows++
	b.size += size
	b.total++
	return nil
}

func (b *Batcher) wouldOverflow(size int64) bool {
	if b.MaxRows > 0 && b.rows+1 > b.MaxRows {
		return true
	}
	return b.MaxBytes > 0 && b.size+size > b.MaxBytes
}

func (b *Batcher) closePart() {
	b.parts = append(b.parts, &Part{
		Index:    len(b.parts),
		Changes:  b.current,
		RowCount: b.rows,
		Size:     b.size,
	})
	b.current = nil
	b.rows = 0
	b.size = 0
}

// Finish closes the last part and returns the change set. An empty change
// set yields a single empty last part. The batcher must not be reused.
func (b *Batcher) Finish(timestamp int64) *Info {
	if b.rows > 0 || len(b.parts) == 0 {
		if b.current == nil {
			b.current = &ContainerSet{}
		}
		b.closePart()
	}
	b.parts[len(b.parts)-1].IsLast = true
	return &Info{
		Parts:     b.parts,
		Count:     len(b.parts),
		RowsCount: b.total,
		Timestamp: timestamp,
	}
}

// RowSize estimates the serialized size of a row.
func RowSize(row Row) (int64, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}
