// Package catalog provides sensor metadata sources: an in-memory static
// catalog and a YAML file-backed catalog.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/okian/sensorlink/internal/domain/model"
)

// Static is an in-memory sensor catalog.
type Static struct {
	mu   sync.RWMutex
	byID map[string]model.Sensor
}

// NewStatic builds a catalog from sensors. Later duplicates replace earlier ones.
func NewStatic(sensors ...model.Sensor) *Static {
	c := &Static{byID: make(map[string]model.Sensor, len(sensors))}
	for _, s := range sensors {
		c.byID[s.ID] = s
	}
	return c
}

func (c *Static) Sensor(_ context.Context, id string) (model.Sensor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.byID[id]
	if !ok {
		return model.Sensor{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// Sensors returns every sensor ordered by ID.
func (c *Static) Sensors(_ context.Context) ([]model.Sensor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Sensor, 0, len(c.byID))
	for _, s := range c.byID {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Put adds or replaces sensors.
func (c *Static) Put(sensors ...model.Sensor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range sensors {
		c.byID[s.ID] = s
	}
}

func (c *Static) replace(sensors []model.Sensor) {
	byID := make(map[string]model.Sensor, len(sensors))
	for _, s := range sensors {
		byID[s.ID] = s
	}
	c.mu.Lock()
	c.byID = byID
	c.mu.Unlock()
}
