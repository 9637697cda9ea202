// Package stores holds the client-side collaborators the dispatcher
// updates alongside the streaming session.
package stores

import (
	"errors"
	"sort"
	"sync"

	"github.com/rajeee/chatdf/internal/models"
)

// ErrDatasetNotFound is returned when a dataset id is not registered.
var ErrDatasetNotFound = errors.New("dataset not found")

// Datasets is the registry of datasets loaded into the conversation.
type Datasets struct {
	mu    sync.RWMutex
	byID  map[string]models.Dataset
	order []string

	subsMu   sync.RWMutex
	onChange []func(models.Dataset)
}

// NewDatasets creates an empty registry.
func NewDatasets() *Datasets {
	return &Datasets{byID: make(map[string]models.Dataset)}
}

// OnChange registers a subscriber called after each upsert or error.
func (d *Datasets) OnChange(cb func(models.Dataset)) {
	d.subsMu.Lock()
	d.onChange = append(d.onChange, cb)
	d.subsMu.Unlock()
}

// Upsert inserts ds or replaces the entry with the same id.
// Datasets without an id are ignored.
func (d *Datasets) Upsert(ds models.Dataset) bool {
	if ds.ID == "" {
		return false
	}
	if ds.Status == "" {
		ds.Status = models.DatasetReady
	}

	d.mu.Lock()
	if _, ok := d.byID[ds.ID]; !ok {
		d.order = append(d.order, ds.ID)
	}
	d.byID[ds.ID] = ds
	d.mu.Unlock()

	d.notify(ds)
	return true
}

// MarkError sets the dataset to the error status with message.
// An unknown id registers a placeholder so the failure stays visible.
func (d *Datasets) MarkError(id, message string) models.Dataset {
	d.mu.Lock()
	ds, ok := d.byID[id]
	if !ok {
		ds = models.Dataset{ID: id}
		d.order = append(d.order, id)
	}
	ds.Status = models.DatasetError
	ds.ErrorMessage = models.StringPtr(message)
	d.byID[id] = ds
	d.mu.Unlock()

	d.notify(ds)
	return ds
}

// Get returns the dataset registered under id.
func (d *Datasets) Get(id string) (models.Dataset, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ds, ok := d.byID[id]
	if !ok {
		return models.Dataset{}, ErrDatasetNotFound
	}
	return ds, nil
}

// List returns datasets in registration order.
func (d *Datasets) List() []models.Dataset {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.Dataset, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.byID[id])
	}
	return out
}

// Names returns the sorted dataset names, skipping unnamed entries.
func (d *Datasets) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var names []string
	for _, ds := range d.byID {
		if ds.Name != "" {
			names = append(names, ds.Name)
		}
	}
	sort.Strings(names)
	return names
}

func (d *Datasets) notify(ds models.Dataset) {
	d.subsMu.RLock()
	subs := d.onChange
	d.subsMu.RUnlock()
	for _, cb := range subs {
		cb(ds)
	}
}
