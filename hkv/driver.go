package hkv

import (
	"errors"
	"fmt"
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
)

// Info is the key-type independent view of a registered table.
type Info interface {
	ID() int64
	Name() string
	Len() int
	Stats() Stats
	Close() error
}

// Driver is a registry of tables of any key type. Tables created through a
// driver are listed by it until they are closed.
type Driver struct {
	tables *xsync.MapOf[int64, Info]
	log    zerolog.Logger
}

// DefaultDriver is the process-wide registry.
var DefaultDriver = NewDriver(nil)

// NewDriver returns an empty registry. A nil logger disables logging.
func NewDriver(logger *zerolog.Logger) *Driver {
	d := &Driver{
		tables: xsync.NewMapOf[int64, Info](),
		log:    zerolog.Nop(),
	}
	if logger != nil {
		d.log = *logger
	}
	return d
}

// Create builds a table with New and registers it with d. Closing the table
// unregisters it.
func Create[K comparable](d *Driver, opt Options[K]) (*Table[K], error) {
	if opt.Logger == nil {
		opt.Logger = &d.log
	}
	t, err := New(opt)
	if err != nil {
		return nil, err
	}
	id := t.ID()
	t.onClose = func() { d.tables.Delete(id) }
	d.tables.Store(id, t)
	return t, nil
}

// CreateLight builds a Light table with NewLight and registers it with d.
func CreateLight[K comparable](d *Driver, opt Options[K]) (*Light[K], error) {
	if opt.Logger == nil {
		opt.Logger = &d.log
	}
	l, err := NewLight(opt)
	if err != nil {
		return nil, err
	}
	id := l.ID()
	l.onClose = func() { d.tables.Delete(id) }
	d.tables.Store(id, l)
	return l, nil
}

// Get returns the table registered under id.
func (d *Driver) Get(id int64) (Info, bool) {
	return d.tables.Load(id)
}

// Lookup returns the first registered table with the given name.
func (d *Driver) Lookup(name string) (Info, bool) {
	var found Info
	d.tables.Range(func(_ int64, t Info) bool {
		if t.Name() == name {
			found = t
			return false
		}
		return true
	})
	return found, found != nil
}

// Tables lists registered tables ordered by id.
func (d *Driver) Tables() []Info {
	out := make([]Info, 0, d.tables.Size())
	d.tables.Range(func(_ int64, t Info) bool {
		out = append(out, t)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Len returns the number of registered tables.
func (d *Driver) Len() int { return d.tables.Size() }

// Drop closes and unregisters the table with the given id.
func (d *Driver) Drop(id int64) error {
	t, ok := d.tables.LoadAndDelete(id)
	if !ok {
		return fmt.Errorf("hkv: no table with id %d", id)
	}
	return t.Close()
}

// Close closes every registered table.
func (d *Driver) Close() error {
	var errs []error
	for _, t := range d.Tables() {
		if err := t.Close(); err != nil {
			errs = append(errs, fmt.Errorf("table %q: %w", t.Name(), err))
		}
	}
	d.log.Debug().Int("errors", len(errs)).Msg("driver closed")
	return errors.Join(errs...)
}
