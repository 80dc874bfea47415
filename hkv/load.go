package hkv

import (
	"context"
	"fmt"
)

// Load returns a read lease on the entry for k, creating it if needed and
// running fill on the new entry's payload before anyone else can get it
// through Load. Concurrent loads of the same key share one fill.
//
// If fill fails the new entry is deleted and the error is returned to every
// caller of that flight. Cancelling ctx releases a waiting caller but does
// not stop a running fill. A nil fill behaves like
// GetOrCreateWithReadAcquire.
//
// Entries created through GetOrCreateWithReadAcquire are not filled by a
// later Load.
func (t *Table[K]) Load(ctx context.Context, k K, fill func(payload []byte) error) (Ref[K], error) {
	for {
		if err := ctx.Err(); err != nil {
			return Ref[K]{}, err
		}
		if _, err, _ := t.sf.Do(ctx, k, func() (struct{}, error) {
			return struct{}{}, t.loadOnce(k, fill)
		}); err != nil {
			return Ref[K]{}, err
		}

		ref, existed, err := t.GetOrCreateWithReadAcquire(k)
		if err != nil {
			return Ref[K]{}, err
		}
		if existed || fill == nil {
			return ref, nil
		}
		// Evicted between the flight and this lookup: the entry we just
		// created was never filled, so drop it and load again.
		ref.Release()
		t.Delete(k)
	}
}

func (t *Table[K]) loadOnce(k K, fill func([]byte) error) error {
	ref, existed, err := t.GetOrCreateWithReadAcquire(k)
	if err != nil {
		return err
	}
	if existed || fill == nil {
		ref.Release()
		return nil
	}
	err = fill(ref.Payload())
	ref.Release()
	if err != nil {
		t.Delete(k)
		return fmt.Errorf("hkv: fill %v: %w", k, err)
	}
	return nil
}
