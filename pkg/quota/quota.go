// Package quota keeps the daily ledger of billable provider calls.
//
// The ledger holds one record per local calendar day. Every read compares
// the stored date with today and resets a stale record, so no timer runs at
// midnight. Any failure to read or write the record is treated as "no quota".
package quota

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"roamgo/pkg/config"
	"roamgo/pkg/model"
	"roamgo/pkg/remote"
	"roamgo/pkg/store"
	"roamgo/pkg/tracker"
)

// Billable call categories.
const (
	CategoryPlaces  = "places"
	CategoryRouting = "routing"
)

// DateFormat is the layout of QuotaRecord.Date.
const DateFormat = "2006-01-02"

// remoteDocID is the document holding the ledger under users/{uid}/settings.
const remoteDocID = "apiQuota"

// Identity tells the ledger which user, if any, is signed in.
type Identity interface {
	UserID() (string, bool)
}

// CategoryStats is the usage of one category.
type CategoryStats struct {
	Used     int `json:"used"`
	Reserved int `json:"reserved"`
	// ReservationOK reports whether the remaining quota still covers the
	// unused part of the reservation. It is informational only.
	ReservationOK bool `json:"reservation_ok"`
}

// Stats summarizes today's ledger.
type Stats struct {
	Date       string                   `json:"date"`
	Used       int                      `json:"used"`
	Total      int                      `json:"total"`
	Remaining  int                      `json:"remaining"`
	ByCategory map[string]CategoryStats `json:"by_category"`
	ResetTime  time.Time                `json:"reset_time"`
}

// Ledger is the daily quota counter shared by all categories.
type Ledger struct {
	mu       sync.Mutex
	limit    int
	reserved map[string]int

	local   store.CacheStore
	remote  remote.DocumentStore
	ident   Identity
	tracker *tracker.Tracker
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Ledger. remote and t may be nil.
func New(cfg config.QuotaConfig, local store.CacheStore, rs remote.DocumentStore, ident Identity, t *tracker.Tracker) *Ledger {
	limit := cfg.DailyLimit
	if limit <= 0 {
		limit = 100
	}
	return &Ledger{
		limit:    limit,
		reserved: maps.Clone(cfg.Reserved),
		local:    local,
		remote:   rs,
		ident:    ident,
		tracker:  t,
		logger:   slog.With("component", "quota"),
		now:      time.Now,
	}
}

// SetClock replaces the time source.
func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// HasQuotaAvailable reports whether another billable call may be made today.
// The per-category reservation is not consulted.
func (l *Ledger) HasQuotaAvailable(ctx context.Context, category string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.load(ctx)
	if err != nil {
		l.logger.Warn("Quota read failed, denying", "category", category, "error", err)
		return false
	}
	return rec.Count < l.limit
}

// RecordAPICall counts one call against today's ledger. It returns false,
// without counting, when the ceiling is reached or the ledger cannot be
// persisted.
func (l *Ledger) RecordAPICall(ctx context.Context, category string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.load(ctx)
	if err != nil {
		l.logger.Warn("Quota read failed, denying", "category", category, "error", err)
		return false
	}
	if rec.Count >= l.limit {
		l.logger.Info("Daily quota exhausted", "category", category, "limit", l.limit)
		if l.tracker != nil {
			l.tracker.TrackThrottled(category)
		}
		return false
	}

	next := cloneRecord(rec)
	next.Count++
	next.ByCategory[category]++
	if err := l.save(ctx, next); err != nil {
		l.logger.Warn("Quota write failed, denying", "category", category, "error", err)
		return false
	}

	if l.tracker != nil {
		l.tracker.SetQuotaUsed(category, next.ByCategory[category])
		l.tracker.SetQuotaUsed("total", next.Count)
	}
	l.logger.Debug("API call recorded", "category", category, "used", next.Count, "limit", l.limit)
	return true
}

// RemainingQuota returns the calls left today, or 0 when unknown.
func (l *Ledger) RemainingQuota(ctx context.Context) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.load(ctx)
	if err != nil {
		l.logger.Warn("Quota read failed", "error", err)
		return 0
	}
	return max(0, l.limit-rec.Count)
}

// Stats returns today's usage.
func (l *Ledger) Stats(ctx context.Context) (Stats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.load(ctx)
	if err != nil {
		return Stats{}, err
	}

	remaining := max(0, l.limit-rec.Count)
	st := Stats{
		Date:       rec.Date,
		Used:       rec.Count,
		Total:      l.limit,
		Remaining:  remaining,
		ByCategory: make(map[string]CategoryStats),
		ResetTime:  nextMidnight(l.now()),
	}
	for _, c := range []string{CategoryPlaces, CategoryRouting} {
		st.ByCategory[c] = CategoryStats{}
	}
	for c := range l.reserved {
		st.ByCategory[c] = CategoryStats{}
	}
	for c := range rec.ByCategory {
		st.ByCategory[c] = CategoryStats{}
	}
	for c := range st.ByCategory {
		used := rec.ByCategory[c]
		reserved := l.reserved[c]
		st.ByCategory[c] = CategoryStats{
			Used:          used,
			Reserved:      reserved,
			ReservationOK: remaining >= max(0, reserved-used),
		}
	}
	return st, nil
}

// load returns today's record, resetting and writing back a stale one.
func (l *Ledger) load(ctx context.Context) (model.QuotaRecord, error) {
	today := l.now().Format(DateFormat)

	rec, found, err := l.read(ctx)
	if err != nil {
		return model.QuotaRecord{}, err
	}
	if found && rec.Date == today {
		if rec.ByCategory == nil {
			rec.ByCategory = make(map[string]int)
		}
		return rec, nil
	}

	fresh := model.QuotaRecord{Date: today, ByCategory: make(map[string]int)}
	if found {
		l.logger.Info("Quota day rollover", "previous", rec.Date, "used", rec.Count, "today", today)
		if err := l.save(ctx, fresh); err != nil {
			return model.QuotaRecord{}, err
		}
		if l.tracker != nil {
			for c := range rec.ByCategory {
				l.tracker.SetQuotaUsed(c, 0)
			}
			l.tracker.SetQuotaUsed("total", 0)
		}
	}
	return fresh, nil
}

func (l *Ledger) read(ctx context.Context) (model.QuotaRecord, bool, error) {
	var rec model.QuotaRecord
	if uid, ok := l.remoteUser(); ok {
		doc, err := l.remote.Get(ctx, remote.UserCollection(uid, remote.SubSettings), remoteDocID)
		if err != nil {
			return rec, false, fmt.Errorf("read remote quota: %w", err)
		}
		if doc == nil {
			return rec, false, nil
		}
		if err := doc.Decode(&rec); err != nil {
			return rec, false, err
		}
		return rec, true, nil
	}

	found, err := store.GetJSON(ctx, l.local, store.KeyAPIQuota, &rec)
	if err != nil {
		return rec, false, fmt.Errorf("read local quota: %w", err)
	}
	return rec, found, nil
}

func (l *Ledger) save(ctx context.Context, rec model.QuotaRecord) error {
	if uid, ok := l.remoteUser(); ok {
		doc, err := remote.NewDocument(remote.UserCollection(uid, remote.SubSettings), remoteDocID, rec)
		if err != nil {
			return err
		}
		if err := l.remote.Put(ctx, doc); err != nil {
			return fmt.Errorf("write remote quota: %w", err)
		}
		return nil
	}
	if err := store.SetJSON(ctx, l.local, store.KeyAPIQuota, rec); err != nil {
		return fmt.Errorf("write local quota: %w", err)
	}
	return nil
}

func (l *Ledger) remoteUser() (string, bool) {
	if l.remote == nil || l.ident == nil {
		return "", false
	}
	return l.ident.UserID()
}

func cloneRecord(r model.QuotaRecord) model.QuotaRecord {
	c := r
	c.ByCategory = maps.Clone(r.ByCategory)
	if c.ByCategory == nil {
		c.ByCategory = make(map[string]int)
	}
	return c
}

func nextMidnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}
