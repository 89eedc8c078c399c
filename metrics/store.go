package metrics

import (
	"sync"
	"time"

	"bgstudio/catalog"
)

// DefaultHistoryCapacity is the number of recent calls kept.
const DefaultHistoryCapacity = 100

// Store is a concurrency-safe in-memory call recorder.
//
// Usage:
//
//	store := metrics.NewStore(metrics.DefaultHistoryCapacity, time.Now())
//	store.RecordCall(record)
//	summary := store.Summary()
type Store struct {
	mu sync.RWMutex

	history []CallRecord
	cap     int
	head    int
	size    int

	totals      CallMetrics
	byOperation map[string]*opStats

	startTime time.Time
	now       func() time.Time
}

type opStats struct {
	count         int64
	successCount  int64
	attempts      int64
	totalDuration time.Duration
	spend         catalog.Amount
}

// NewStore creates a Store keeping the last capacity calls. A
// non-positive capacity uses DefaultHistoryCapacity.
func NewStore(capacity int, startTime time.Time) *Store {
	if capacity < 1 {
		capacity = DefaultHistoryCapacity
	}
	return &Store{
		history:     make([]CallRecord, capacity),
		cap:         capacity,
		byOperation: make(map[string]*opStats),
		startTime:   startTime,
		now:         time.Now,
	}
}

// RecordCall adds a call to the history and the aggregates. Spend counts
// whatever the provider billed, failed calls included.
func (s *Store) RecordCall(rec CallRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history[s.head] = rec
	s.head = (s.head + 1) % s.cap
	if s.size < s.cap {
		s.size++
	}

	s.totals.TotalCalls++
	stats, ok := s.byOperation[rec.Operation]
	if !ok {
		stats = &opStats{}
		s.byOperation[rec.Operation] = stats
	}
	stats.count++
	stats.attempts += int64(rec.Attempts)
	stats.totalDuration += rec.Duration
	stats.spend += rec.Cost
	s.totals.TotalSpend += rec.Cost

	if rec.Status == CallStatusSuccess {
		s.totals.TotalSuccess++
		stats.successCount++
	} else {
		s.totals.TotalErrors++
	}
}

// Summary returns the aggregates.
func (s *Store) Summary() CallMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.totals
	out.Uptime = s.now().Sub(s.startTime)
	out.ByOperation = make(map[string]*OperationMetrics, len(s.byOperation))
	for op, stats := range s.byOperation {
		m := &OperationMetrics{Count: stats.count, Spend: stats.spend}
		if stats.count > 0 {
			m.SuccessRate = float64(stats.successCount) / float64(stats.count) * 100
			m.AvgDuration = stats.totalDuration / time.Duration(stats.count)
			m.AvgAttempts = float64(stats.attempts) / float64(stats.count)
		}
		out.ByOperation[op] = m
	}
	return out
}

// RecentCalls returns up to limit calls, most recent first.
func (s *Store) RecentCalls(limit int) []CallRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || s.size == 0 {
		return []CallRecord{}
	}
	limit = min(limit, s.size)

	result := make([]CallRecord, limit)
	for i := 0; i < limit; i++ {
		idx := (s.head - 1 - i + s.cap) % s.cap
		result[i] = s.history[idx]
	}
	return result
}
