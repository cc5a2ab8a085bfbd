package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ReplayError collects the failures of operations re-submitted by Restore.
// The snapshot itself was loaded; each failed operation stays pending.
type ReplayError struct {
	Err error
}

func (e *ReplayError) Error() string { return "restore replay: " + e.Err.Error() }
func (e *ReplayError) Unwrap() error { return e.Err }

func isReplayError(err error) bool {
	var re *ReplayError
	return errors.As(err, &re)
}

// Restore loads the persisted snapshot, replaces the in-memory records with
// it and re-submits every record left unconfirmed:
//   - deleted records are deleted again,
//   - records without a canonical id are created,
//   - pending "up"/"un" markers re-issue Update/Unique with their options,
//     after the create when the record had none.
//
// Load failures are returned as is. Replay failures are joined into a
// *ReplayError; deferrals to the offline queue are not failures.
func (c *Collection) Restore(ctx context.Context) error {
	snap, err := c.persist.Load(ctx, c.cfg.Name)
	if err != nil {
		return fmt.Errorf("failed to load snapshot %q: %w", c.cfg.Name, err)
	}

	var records []Record
	if snap != nil {
		records = snap.Records
	}
	c.store.replace(records)
	c.refresh(true)
	c.metrics.SetRecords(c.cfg.Name, c.store.len())
	c.bus.Complete(c.event("loaded"), c.store.len())
	c.logger.Debug("snapshot restored", "records", c.store.len())

	var errs []error
	for _, rec := range c.store.snapshot() {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		for _, err := range c.replay(ctx, rec) {
			if err == nil || errors.Is(err, ErrQueued) {
				continue
			}
			c.logger.Warn("replay failed", "id", keyOf(&rec), "error", err)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return &ReplayError{Err: errors.Join(errs...)}
	}
	return nil
}

// replay re-submits the unconfirmed work of one record.
func (c *Collection) replay(ctx context.Context, rec Record) []error {
	if rec.Deleted {
		return []error{c.Delete(ctx, &rec)}
	}

	var errs []error
	if rec.ID == "" {
		cur := rec.Clone()
		err := c.Create(ctx, &cur)
		errs = append(errs, err)
		if err != nil && !errors.Is(err, ErrQueued) {
			return errs
		}
		// Markers staged before the crash still need their own request; a
		// queued update replays after the queued create.
		rec = cur
	}

	for _, opID := range rec.Modified {
		var prefix string
		switch {
		case strings.HasPrefix(opID, MarkerUnique):
			prefix = MarkerUnique
		case strings.HasPrefix(opID, MarkerUpdate):
			prefix = MarkerUpdate
		default:
			c.logger.Warn("unknown pending marker", "id", keyOf(&rec), "marker", opID)
			continue
		}

		p, ok := rec.Pending[opID]
		if !ok {
			p.Variant = strings.TrimPrefix(opID, prefix)
		}
		cur := rec.Clone()
		if prefix == MarkerUnique {
			field := p.Field
			if field == "" {
				field = p.Variant
			}
			errs = append(errs, c.Unique(ctx, &cur, WithVariant(p.Variant), WithField(field)))
			continue
		}
		errs = append(errs, c.Update(ctx, &cur, WithVariant(p.Variant)))
	}
	return errs
}
