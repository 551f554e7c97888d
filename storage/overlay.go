package storage

import "errors"

var errOverlayClosed = errors.New("storage: overlay already committed or discarded")

// Overlay stages writes on top of a Database. Reads see staged values first.
// Nothing reaches the parent until Commit, which writes every staged change in
// a single batch. Discard drops the staged changes.
//
// Overlay is not safe for concurrent use.
type Overlay struct {
	parent Database
	staged map[string]*batchOp
	order  []string
	closed bool
}

// NewOverlay wraps parent.
func NewOverlay(parent Database) *Overlay {
	return &Overlay{parent: parent, staged: make(map[string]*batchOp)}
}

func (o *Overlay) stage(key []byte, value []byte, del bool) error {
	if o.closed {
		return errOverlayClosed
	}
	k := string(key)
	if _, ok := o.staged[k]; !ok {
		o.order = append(o.order, k)
	}
	o.staged[k] = &batchOp{key: copyBytes(key), value: copyBytes(value), delete: del}
	return nil
}

// Put stages a write.
func (o *Overlay) Put(key []byte, value []byte) error { return o.stage(key, value, false) }

// Delete stages a removal.
func (o *Overlay) Delete(key []byte) error { return o.stage(key, nil, true) }

// Get returns the staged value for key, falling back to the parent.
func (o *Overlay) Get(key []byte) ([]byte, error) {
	if op, ok := o.staged[string(key)]; ok {
		if op.delete {
			return nil, ErrNotFound
		}
		return copyBytes(op.value), nil
	}
	return o.parent.Get(key)
}

// Has reports whether key exists in the staged view.
func (o *Overlay) Has(key []byte) (bool, error) {
	if op, ok := o.staged[string(key)]; ok {
		return !op.delete, nil
	}
	return o.parent.Has(key)
}

// Pending reports the number of staged keys.
func (o *Overlay) Pending() int { return len(o.order) }

// Commit flushes the staged writes to the parent atomically.
func (o *Overlay) Commit() error {
	if o.closed {
		return errOverlayClosed
	}
	batch := NewBatch()
	for _, k := range o.order {
		op := o.staged[k]
		if op.delete {
			batch.Delete(op.key)
			continue
		}
		batch.Put(op.key, op.value)
	}
	if err := o.parent.Write(batch); err != nil {
		return err
	}
	o.closed = true
	o.staged = nil
	o.order = nil
	return nil
}

// Discard drops every staged write.
func (o *Overlay) Discard() {
	o.closed = true
	o.staged = nil
	o.order = nil
}
