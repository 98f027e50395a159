package storage

import (
	"fmt"
	"sort"
	"sync"
)

// Disk names understood by the configuration layer.
const (
	DiskLocal = "local"
	DiskS3    = "s3"
)

// Disks maps the storage_disk value recorded on a document to its backend.
type Disks struct {
	mu          sync.RWMutex
	defaultDisk string
	stores      map[string]ObjectStore
}

// NewDisks creates an empty registry whose default disk is defaultDisk.
func NewDisks(defaultDisk string) *Disks {
	return &Disks{defaultDisk: defaultDisk, stores: make(map[string]ObjectStore)}
}

// Register binds name to store.
func (d *Disks) Register(name string, store ObjectStore) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stores[name] = store
}

// Default returns the name of the default disk.
func (d *Disks) Default() string {
	return d.defaultDisk
}

// Disk resolves name to a store. An empty name selects the default disk.
func (d *Disks) Disk(name string) (ObjectStore, error) {
	if name == "" {
		name = d.defaultDisk
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	store, ok := d.stores[name]
	if !ok {
		return nil, fmt.Errorf("storage disk %q is not configured", name)
	}
	return store, nil
}

// Names lists the registered disks.
func (d *Disks) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.stores))
	for name := range d.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
