package catalog

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/okian/sensorlink/internal/domain/model"
	"github.com/okian/sensorlink/pkg/logger"
)

// Document is the on-disk catalog layout.
type Document struct {
	Sensors []model.Sensor `yaml:"sensors"`
}

// YAMLCatalog is a Static catalog loaded from a YAML file.
type YAMLCatalog struct {
	*Static
	path string
}

// Open loads the catalog at path.
func Open(ctx context.Context, path string) (*YAMLCatalog, error) {
	c := &YAMLCatalog{Static: NewStatic(), path: path}
	if err := c.Reload(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Path returns the backing file.
func (c *YAMLCatalog) Path() string { return c.path }

// Reload re-reads the backing file and swaps the catalog contents atomically.
func (c *YAMLCatalog) Reload(ctx context.Context) error {
	f, err := os.Open(c.path)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	sensors, err := Decode(f)
	if err != nil {
		return fmt.Errorf("%s: %w", c.path, err)
	}
	c.replace(sensors)
	logger.Get().Named("catalog").Info(ctx, "catalog loaded",
		logger.String("path", c.path),
		logger.Int("sensors", len(sensors)))
	return nil
}

// Decode parses and validates a catalog document.
func Decode(r io.Reader) ([]model.Sensor, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	seen := make(map[string]bool, len(doc.Sensors))
	for i, s := range doc.Sensors {
		if s.ID == "" {
			return nil, fmt.Errorf("%w: sensor #%d has no id", ErrInvalidCatalog, i)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("%w: duplicate sensor %q", ErrInvalidCatalog, s.ID)
		}
		seen[s.ID] = true
		if s.Formula != nil && len(s.Formula.Inputs) == 0 {
			return nil, fmt.Errorf("%w: derived sensor %q has no inputs", ErrInvalidCatalog, s.ID)
		}
	}
	return doc.Sensors, nil
}

// Encode writes sensors as a catalog document.
func Encode(w io.Writer, sensors []model.Sensor) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(Document{Sensors: sensors}); err != nil {
		return err
	}
	return enc.Close()
}

// Save writes sensors to path, replacing any existing file.
func Save(path string, sensors []model.Sensor) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create catalog: %w", err)
	}
	if err := Encode(f, sensors); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode catalog: %w", err)
	}
	return f.Close()
}
