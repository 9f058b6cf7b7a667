package devices

import (
	"context"
	"log/slog"
	"sync"

	"github.com/babelcloud/gbox-recorder/internal/util"
	"github.com/pkg/errors"
)

// ErrTargetNotFound is returned by Find for unknown IDs.
var ErrTargetNotFound = errors.New("capture target not found")

// Catalog caches the targets of a set of enumerators. The first lookup
// enumerates; later lookups are served from the cache until Invalidate.
type Catalog struct {
	enumerators []Enumerator
	logger      *slog.Logger

	mu      sync.Mutex
	loaded  bool
	targets []Target
}

// NewCatalog creates a catalog over the given enumerators. Targets are
// listed in enumerator order; the first enumerator wins on duplicate IDs.
func NewCatalog(enumerators ...Enumerator) *Catalog {
	return &Catalog{enumerators: enumerators, logger: util.ComponentLogger("devices")}
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the process-wide catalog over the platform enumerators.
func Default(ffmpeg string) *Catalog {
	defaultOnce.Do(func() {
		if ffmpeg == "" {
			ffmpeg = "ffmpeg"
		}
		defaultCatalog = NewCatalog(PlatformEnumerators(ffmpeg)...)
	})
	return defaultCatalog
}

// Targets returns every known target, enumerating on first use.
func (c *Catalog) Targets(ctx context.Context) ([]Target, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		if err := c.load(ctx); err != nil {
			return nil, err
		}
	}
	return append([]Target(nil), c.targets...), nil
}

// Refresh drops the cache and enumerates again.
func (c *Catalog) Refresh(ctx context.Context) ([]Target, error) {
	c.Invalidate()
	return c.Targets(ctx)
}

// Invalidate forgets the cached targets.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded = false
	c.targets = nil
}

// load runs every enumerator. Failing enumerators are logged and skipped.
// Callers hold c.mu.
func (c *Catalog) load(ctx context.Context) error {
	var targets []Target
	seen := map[string]bool{}
	for _, e := range c.enumerators {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "enumerating capture targets")
		}
		found, err := e.Enumerate(ctx)
		if err != nil {
			c.logger.Debug("Enumerator unavailable", "enumerator", e.Name(), "error", err)
			continue
		}
		for _, t := range found {
			if seen[t.ID] {
				continue
			}
			seen[t.ID] = true
			targets = append(targets, t)
		}
		c.logger.Debug("Enumerated targets", "enumerator", e.Name(), "count", len(found))
	}
	c.targets = targets
	c.loaded = true
	return nil
}

// Find returns the target with the given ID. The kind name alone selects
// the default target of that kind, preferring real devices over synthetic
// ones.
func (c *Catalog) Find(ctx context.Context, id string) (Target, error) {
	targets, err := c.Targets(ctx)
	if err != nil {
		return Target{}, err
	}
	for _, t := range targets {
		if t.ID == id {
			return t, nil
		}
	}
	if kind, err := ParseKind(id); err == nil {
		if t, ok := defaultOf(targets, kind); ok {
			return t, nil
		}
	}
	return Target{}, errors.Wrapf(ErrTargetNotFound, "%q", id)
}

// ByKind returns the targets of one kind.
func (c *Catalog) ByKind(ctx context.Context, kind Kind) ([]Target, error) {
	targets, err := c.Targets(ctx)
	if err != nil {
		return nil, err
	}
	var out []Target
	for _, t := range targets {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out, nil
}

func defaultOf(targets []Target, kind Kind) (Target, bool) {
	var fallback *Target
	for i, t := range targets {
		if t.Kind != kind {
			continue
		}
		if t.Default && t.Driver != DriverSynthetic {
			return t, true
		}
		if fallback == nil {
			fallback = &targets[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return Target{}, false
}
