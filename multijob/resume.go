package multijob

import (
	"context"
	"fmt"
	"time"

	"phasetrack/production"
	"phasetrack/session"
)

// Resume rebuilds the builder from server state. It runs on mount and on
// every poll while the builder is idle; in any other state it does nothing.
//
// An open dead time or single-phase session is surfaced as blocked. An open
// multi-job session with a usable stored list goes straight to running with
// its timer anchored to the server start. One with fewer than MinJobs
// stored jobs is reported as an orphan and left for the operator to decide.
// A stored list without a live session restores the job list.
func (b *Builder) Resume(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateIdle {
		return nil
	}

	clientNow := b.now()
	status, err := b.be.GetLiveStatus(ctx)
	if err != nil {
		return fmt.Errorf("read live status: %w", err)
	}
	ls := status.For(b.operator)

	if ls != nil && ls.Kind != session.KindMulti {
		if b.blocked == nil || b.blocked.Kind != ls.Kind {
			b.emitter.EmitSessionBlocked(b.operator, ls.Kind)
		}
		b.blocked = ls
		b.orphan = nil
		return nil
	}
	b.blocked = nil

	stored, err := b.be.GetMyMultiSession(ctx)
	if err != nil {
		return fmt.Errorf("load job list: %w", err)
	}
	var items []production.JobItem
	if stored != nil {
		items = stored.Items
	}

	if ls == nil {
		b.orphan = nil
		b.keptSince = time.Time{}
		if len(items) == 0 {
			return nil
		}
		if err := b.reresolve(ctx, items); err != nil {
			return err
		}
		b.restore(stored.ID, items)
		b.setState(StateBuild)
		b.emitter.EmitJobListChanged(b.operator, len(b.items))
		return nil
	}

	if len(items) < MinJobs {
		if !b.keptSince.IsZero() && b.keptSince.Equal(ls.StartTime) {
			b.blocked = ls
			return nil
		}
		if b.orphan == nil {
			b.emitter.EmitOrphanDetected(b.operator, len(items))
		}
		b.orphan = &Orphan{Session: ls, Items: items}
		return fmt.Errorf("operator %s: %w (%d stored)", b.operator, ErrSessionUnrecoverable, len(items))
	}

	if err := b.reresolve(ctx, items); err != nil {
		return err
	}
	b.restore(stored.ID, items)
	a := session.AnchorFromStatus(ls, status.ServerTime, clientNow)
	b.anchor = &a
	b.orphan = nil
	b.setState(StateRunning)
	b.emitter.EmitJobListChanged(b.operator, len(b.items))
	return nil
}

// ResolveOrphan applies the operator's decision about an orphaned session:
// stop closes it without logs and clears the stored list, otherwise it is
// left running and not reported again.
func (b *Builder) ResolveOrphan(ctx context.Context, stop bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.orphan == nil {
		return ErrNoOrphan
	}
	o := b.orphan
	if !stop {
		b.keptSince = o.Session.StartTime
		b.blocked = o.Session
		b.orphan = nil
		return nil
	}
	if err := b.be.StopLivePhase(ctx, b.operator); err != nil {
		return fmt.Errorf("stop orphaned session: %w", err)
	}
	if err := b.be.ClearMyMultiSession(ctx); err != nil {
		return fmt.Errorf("clear job list: %w", err)
	}
	b.orphan = nil
	b.blocked = nil
	b.keptSince = time.Time{}
	b.resetLocked()
	return nil
}

// reresolve re-reads every item's sheet by QR code and refreshes the sheet
// ID the item points at.
func (b *Builder) reresolve(ctx context.Context, items []production.JobItem) error {
	sheets, err := b.resolveSheets(ctx, items)
	if err != nil {
		return err
	}
	for i := range items {
		items[i].Sheet.SheetID = sheets[items[i].Sheet.QRCode].ID
	}
	return nil
}

func (b *Builder) restore(id string, items []production.JobItem) {
	b.items = append([]production.JobItem(nil), items...)
	b.sessionID = id
	b.scanned = nil
}
