package tracker

import (
	"encoding/json"
	"sync"

	"gtm-datalayer/internal/model"
)

// Channel is the shared, append-only event channel consumed by the tag
// manager. Implementations must preserve push order.
type Channel interface {
	Push(records ...model.Record)
}

// DataLayer is the in-memory Channel owned by a page runtime.
type DataLayer struct {
	mu      sync.Mutex
	records []model.Record
}

// NewDataLayer creates an empty data layer.
func NewDataLayer() *DataLayer {
	return &DataLayer{}
}

// Push appends records in a single step; no other push can interleave.
func (d *DataLayer) Push(records ...model.Record) {
	d.mu.Lock()
	d.records = append(d.records, records...)
	d.mu.Unlock()
}

// Records returns a copy of everything pushed so far, in push order.
func (d *DataLayer) Records() []model.Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]model.Record, len(d.records))
	copy(out, d.records)
	return out
}

// Events returns only the full event records, in push order.
func (d *DataLayer) Events() []model.NormalizedEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []model.NormalizedEvent
	for _, r := range d.records {
		if !r.IsClear() {
			out = append(out, *r.Event)
		}
	}
	return out
}

// Len returns the number of records pushed.
func (d *DataLayer) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.records)
}

// MarshalJSON renders the data layer as the array a tag manager would see.
func (d *DataLayer) MarshalJSON() ([]byte, error) {
	records := d.Records()
	if records == nil {
		records = []model.Record{}
	}
	return json.Marshal(records)
}
