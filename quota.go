package sitehost

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// UsageStore is the subset of the registry the ledger needs to load and
// persist quota records.
type UsageStore interface {
	Get(ctx context.Context, name string) (Site, error)
	UpdateUsedBytes(ctx context.Context, name string, used int64) error
}

// Reservation is a granted, not yet committed, change in a site's usage.
// Bytes is negative when an overwrite shrinks a file.
type Reservation struct {
	Site  string
	Bytes int64
}

type quotaRecord struct {
	mu      sync.Mutex
	loaded  bool
	quota   int64
	used    int64
	pending int64
}

// Ledger tracks used and allowed bytes per site.
//
// Check-and-increment is serialized per site: two reservations for the same
// site never jointly exceed its quota, while different sites do not contend.
// Records are loaded lazily from the UsageStore and every committed change is
// written back to it.
type Ledger struct {
	store UsageStore

	mu      sync.Mutex
	records map[string]*quotaRecord
}

func NewLedger(store UsageStore) *Ledger {
	return &Ledger{
		store:   store,
		records: make(map[string]*quotaRecord),
	}
}

func (l *Ledger) record(site string) *quotaRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.records[site]
	if !ok {
		r = &quotaRecord{}
		l.records[site] = r
	}
	return r
}

// load must be called with r.mu held.
func (l *Ledger) load(ctx context.Context, site string, r *quotaRecord) error {
	if r.loaded {
		return nil
	}

	s, err := l.store.Get(ctx, site)
	if err != nil {
		return err
	}

	r.quota = s.QuotaBytes
	r.used = max(s.UsedBytes, 0)
	r.loaded = true
	return nil
}

// Reserve asks for n additional bytes for site. Non-positive requests are
// always granted. A request that would push used plus outstanding
// reservations above the quota fails with a *QuotaError.
func (l *Ledger) Reserve(ctx context.Context, site string, n int64) (Reservation, error) {
	if err := ctx.Err(); err != nil {
		return Reservation{}, fmt.Errorf("reserve quota: %w", err)
	}

	r := l.record(site)
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := l.load(ctx, site, r); err != nil {
		return Reservation{}, fmt.Errorf("reserve quota: %w", err)
	}

	if n > 0 {
		if r.used+r.pending+n > r.quota {
			return Reservation{}, &QuotaError{Site: site, Used: r.used + r.pending, Quota: r.quota, Requested: n}
		}
		r.pending += n
	}

	return Reservation{Site: site, Bytes: n}, nil
}

// Commit applies a reservation to the used counter and persists the new
// value. The in-memory state is updated even when persisting fails; the
// error is returned so the caller can log it, and a recount reconciles.
func (l *Ledger) Commit(ctx context.Context, res Reservation) (Usage, error) {
	r := l.record(res.Site)
	r.mu.Lock()
	defer r.mu.Unlock()

	if res.Bytes > 0 {
		r.pending = max(r.pending-res.Bytes, 0)
	}
	r.used = max(r.used+res.Bytes, 0)
	u := Usage{UsedBytes: r.used, QuotaBytes: r.quota}

	if err := l.store.UpdateUsedBytes(ctx, res.Site, r.used); err != nil {
		return u, fmt.Errorf("commit quota: %w", err)
	}

	return u, nil
}

// Rollback drops a reservation without touching the used counter.
func (l *Ledger) Rollback(res Reservation) {
	if res.Bytes <= 0 {
		return
	}

	r := l.record(res.Site)
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pending = max(r.pending-res.Bytes, 0)
}

// Release subtracts bytes from site usage, floored at zero, and persists the
// new value.
func (l *Ledger) Release(ctx context.Context, site string, bytes int64) (Usage, error) {
	r := l.record(site)
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := l.load(ctx, site, r); err != nil {
		return Usage{}, fmt.Errorf("release quota: %w", err)
	}

	r.used = max(r.used-max(bytes, 0), 0)
	u := Usage{UsedBytes: r.used, QuotaBytes: r.quota}

	if err := l.store.UpdateUsedBytes(ctx, site, r.used); err != nil {
		return u, fmt.Errorf("release quota: %w", err)
	}

	return u, nil
}

// Recount overwrites the used counter with a measured value.
func (l *Ledger) Recount(ctx context.Context, site string, used int64) (Usage, error) {
	r := l.record(site)
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := l.load(ctx, site, r); err != nil {
		return Usage{}, fmt.Errorf("recount quota: %w", err)
	}

	if r.used != used {
		slog.Info("quota recount adjusted usage", "site", site, "from", r.used, "to", used)
	}
	r.used = max(used, 0)
	u := Usage{UsedBytes: r.used, QuotaBytes: r.quota}

	if err := l.store.UpdateUsedBytes(ctx, site, r.used); err != nil {
		return u, fmt.Errorf("recount quota: %w", err)
	}

	return u, nil
}

// Usage returns the current record for site, loading it if necessary.
func (l *Ledger) Usage(ctx context.Context, site string) (Usage, error) {
	r := l.record(site)
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := l.load(ctx, site, r); err != nil {
		return Usage{}, fmt.Errorf("quota usage: %w", err)
	}

	return Usage{UsedBytes: r.used, QuotaBytes: r.quota}, nil
}

// Forget drops the in-memory record for site.
func (l *Ledger) Forget(site string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.records, site)
}

// SiteUsage pairs a site name with its loaded quota record.
type SiteUsage struct {
	Site string
	Usage
}

// Snapshot returns the loaded records sorted by site name.
func (l *Ledger) Snapshot() []SiteUsage {
	l.mu.Lock()
	names := make([]string, 0, len(l.records))
	recs := make([]*quotaRecord, 0, len(l.records))
	for name, r := range l.records {
		names = append(names, name)
		recs = append(recs, r)
	}
	l.mu.Unlock()

	out := make([]SiteUsage, 0, len(names))
	for i, r := range recs {
		r.mu.Lock()
		if r.loaded {
			out = append(out, SiteUsage{Site: names[i], Usage: Usage{UsedBytes: r.used, QuotaBytes: r.quota}})
		}
		r.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Site < out[j].Site })
	return out
}
