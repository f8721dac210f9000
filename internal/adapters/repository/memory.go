package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/okian/sensorlink/internal/domain/model"
	"github.com/okian/sensorlink/internal/domain/resample"
	"github.com/okian/sensorlink/pkg/metrics"
)

// MemoryStore keeps time-ordered points per sensor in memory.
type MemoryStore struct {
	mu     sync.RWMutex
	points map[string][]model.Point
	count  int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{points: make(map[string][]model.Point)}
}

func (s *MemoryStore) Append(_ context.Context, sensorID string, points ...model.Point) error {
	if sensorID == "" {
		return ErrInvalidInput
	}
	if len(points) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.points[sensorID]
	for _, p := range points {
		p.TS = wholeSecond(p.TS)
		cur = append(cur, p)
	}
	// Stable so equal timestamps keep insertion order for "last" aggregation.
	sort.SliceStable(cur, func(i, j int) bool { return cur[i].TS.Before(cur[j].TS) })
	s.points[sensorID] = cur
	s.count += len(points)
	return nil
}

func (s *MemoryStore) ReadBucketed(ctx context.Context, sensorID string, start, end time.Time, intervalSec int64, mode model.Aggregation) (model.Series, error) {
	if err := validateRead(sensorID, start, end, intervalSec); err != nil {
		return model.Series{}, err
	}
	if err := ctx.Err(); err != nil {
		return model.Series{}, err
	}
	t0 := time.Now()
	defer func() { metrics.RecordStoreQueryLatency("memory", msSince(t0)) }()

	start, end = wholeSecond(start), wholeSecond(end)
	s.mu.RLock()
	pts := s.points[sensorID]
	lo := sort.Search(len(pts), func(i int) bool { return !pts[i].TS.Before(start) })
	hi := sort.Search(len(pts), func(i int) bool { return !pts[i].TS.Before(end) })
	window := append([]model.Point(nil), pts[lo:hi]...)
	s.mu.RUnlock()

	return resample.Bucketize(sensorID, window, intervalSec, mode), nil
}

func (s *MemoryStore) SensorIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.points))
	for id := range s.points {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count, nil
}

func (s *MemoryStore) Close() error { return nil }
