package feature

import (
	"maps"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// FeatureStats aggregates executions of one feature.
type FeatureStats struct {
	Count           int64
	Successes       int64
	Failures        int64
	AverageDuration time.Duration
	Durations       []time.Duration
}

// CategoryStats rolls up executions of every feature in a category.
type CategoryStats struct {
	Count           int64
	AverageDuration time.Duration
	SuccessRate     float64
}

// Statistics records execution outcomes. Recording happens concurrently
// from executing features, without the registry lock; the totals use
// atomic counters and the per-feature lists a dedicated mutex.
type Statistics struct {
	mu         sync.Mutex
	byFeature  map[string]*featureRecord
	totalCount *atomic.Int64
	totalFail  *atomic.Int64
}

type featureRecord struct {
	category  string
	successes int64
	failures  int64
	durations []time.Duration
	totalTime time.Duration
}

func newStatistics() *Statistics {
	return &Statistics{
		byFeature:  make(map[string]*featureRecord),
		totalCount: atomic.NewInt64(0),
		totalFail:  atomic.NewInt64(0),
	}
}

func (s *Statistics) record(featureID, category string, duration time.Duration, success bool) {
	s.totalCount.Inc()

	if !success {
		s.totalFail.Inc()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byFeature[featureID]
	if !ok {
		rec = &featureRecord{category: category}
		s.byFeature[featureID] = rec
	}

	if success {
		rec.successes++
	} else {
		rec.failures++
	}

	rec.durations = append(rec.durations, duration)
	rec.totalTime += duration
}

// Feature returns the statistics for one feature.
func (s *Statistics) Feature(featureID string) (FeatureStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byFeature[featureID]
	if !ok {
		return FeatureStats{}, false
	}

	return rec.snapshot(), true
}

// All returns per-feature statistics keyed by feature id.
func (s *Statistics) All() map[string]FeatureStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]FeatureStats, len(s.byFeature))
	for id, rec := range s.byFeature {
		out[id] = rec.snapshot()
	}

	return out
}

// Categories returns category roll-ups: execution count, average
// duration and success rate per category.
func (s *Statistics) Categories() map[string]CategoryStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	type agg struct {
		count     int64
		successes int64
		totalTime time.Duration
	}

	byCategory := make(map[string]*agg)

	for _, rec := range s.byFeature {
		a, ok := byCategory[rec.category]
		if !ok {
			a = &agg{}
			byCategory[rec.category] = a
		}

		a.count += rec.successes + rec.failures
		a.successes += rec.successes
		a.totalTime += rec.totalTime
	}

	out := make(map[string]CategoryStats, len(byCategory))

	for category, a := range byCategory {
		stats := CategoryStats{Count: a.count}

		if a.count > 0 {
			stats.AverageDuration = a.totalTime / time.Duration(a.count)
			stats.SuccessRate = float64(a.successes) / float64(a.count)
		}

		out[category] = stats
	}

	return out
}

// TotalExecutions returns the number of executions recorded since the
// last clear.
func (s *Statistics) TotalExecutions() int64 {
	return s.totalCount.Load()
}

// TotalFailures returns the number of failed executions recorded since
// the last clear.
func (s *Statistics) TotalFailures() int64 {
	return s.totalFail.Load()
}

// Clear resets all recorded statistics.
func (s *Statistics) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.byFeature)
	s.totalCount.Store(0)
	s.totalFail.Store(0)
}

func (r *featureRecord) snapshot() FeatureStats {
	count := r.successes + r.failures

	stats := FeatureStats{
		Count:     count,
		Successes: r.successes,
		Failures:  r.failures,
		Durations: append([]time.Duration(nil), r.durations...),
	}

	if count > 0 {
		stats.AverageDuration = r.totalTime / time.Duration(count)
	}

	return stats
}

// Statistics exposes the manager's execution statistics.
func (m *Manager) Statistics() *Statistics {
	return m.stats
}

// ClearStatistics resets per-feature durations and category roll-ups.
func (m *Manager) ClearStatistics() {
	m.stats.Clear()
}

// settingsCopy is a shallow copy helper for exported config maps.
func settingsCopy(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}

	out := make(map[string]any, len(in))
	maps.Copy(out, in)

	return out
}
