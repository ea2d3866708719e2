// Package imagecache memoizes the decoded views of one light-field image and
// prefetches them in the background.
package imagecache

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"lftracking/internal/models"
	"lftracking/internal/monitoring"
	"lftracking/pkg/assets"
)

// ErrPreloadCancelled is reported by Err when Clear interrupted a preload.
var ErrPreloadCancelled = errors.New("preload cancelled")

// Stream selects between the tested image and its reference.
type Stream int

const (
	Test Stream = iota
	Reference
)

func (s Stream) String() string {
	if s == Reference {
		return "reference"
	}
	return "test"
}

type cell struct{ u, v int }

// table holds the decoded views of one stream. Perspective views are keyed by
// their (u, v) cell and refocused views of the anchor viewpoint by depth.
// Refocused views of any other viewpoint are rare and kept in extra.
type table struct {
	perspective map[cell]image.Image
	refocus     map[int]image.Image
	extra       map[models.Coordinate]image.Image
}

func newTable() *table {
	return &table{
		perspective: make(map[cell]image.Image),
		refocus:     make(map[int]image.Image),
		extra:       make(map[models.Coordinate]image.Image),
	}
}

// Options configures a Cache.
type Options struct {
	// Namespace resolves coordinates to files
	Namespace assets.Namespace

	// Lattice bounds the views walked by Preload
	Lattice models.Lattice

	// Anchor is the viewpoint whose refocus stack is cached by depth
	Anchor models.Coordinate

	// Loader decodes files, assets.FileLoader when nil
	Loader assets.Loader

	// Workers bounds concurrent decoding during Preload, NumCPU when <= 0
	Workers int
}

// Cache lazily loads and memoizes the views of one light-field image.
//
// The interactive goroutine reads through Get while a single preload worker
// fills the tables. The first handle stored for a key wins, so every caller
// observes the same handle for a coordinate until Clear.
type Cache struct {
	ns      assets.Namespace
	lattice models.Lattice
	anchor  models.Coordinate
	loader  assets.Loader
	workers int

	mu         sync.RWMutex
	tables     [2]*table
	depth      *assets.DepthMap
	generation uint64

	// preload state, guarded by mu
	done       chan struct{}
	cancel     context.CancelFunc
	preloadErr error

	loaded atomic.Bool
	loads  atomic.Int64
}

// New creates an empty cache.
func New(opts Options) *Cache {
	loader := opts.Loader
	if loader == nil {
		loader = assets.FileLoader{}
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	c := &Cache{
		ns:      opts.Namespace,
		lattice: opts.Lattice,
		anchor:  opts.Anchor.WithoutDepth(),
		loader:  loader,
		workers: workers,
	}
	c.reset()
	return c
}

func (c *Cache) reset() {
	c.tables = [2]*table{newTable(), newTable()}
	c.depth = nil
}

// Namespace returns the asset namespace of the cache.
func (c *Cache) Namespace() assets.Namespace { return c.ns }

// Loads returns how many files were decoded since the cache was created.
func (c *Cache) Loads() int64 { return c.loads.Load() }

// Get returns the view of the given stream at coord, loading it on a miss.
// A missing or undecodable file is returned as an error; there is no
// placeholder image.
func (c *Cache) Get(coord models.Coordinate, stream Stream) (image.Image, error) {
	c.mu.RLock()
	img, ok := c.lookup(coord, stream)
	gen := c.generation
	c.mu.RUnlock()
	if ok {
		return img, nil
	}

	img, err := c.load(coord, stream)
	if err != nil {
		return nil, err
	}
	return c.store(coord, stream, img, gen), nil
}

// Peek returns the cached view without loading it.
func (c *Cache) Peek(coord models.Coordinate, stream Stream) (image.Image, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lookup(coord, stream)
}

// DepthMap returns the depth map of the scene, loading it on first use.
func (c *Cache) DepthMap() (*assets.DepthMap, error) {
	c.mu.RLock()
	gen := c.generation
	c.mu.RUnlock()
	return c.depthMap(gen)
}

func (c *Cache) depthMap(gen uint64) (*assets.DepthMap, error) {
	c.mu.RLock()
	dm := c.depth
	c.mu.RUnlock()
	if dm != nil {
		return dm, nil
	}

	img, err := c.loader.Load(c.ns.DepthMapPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load depth map of %s: %w", c.ns.Name, err)
	}
	c.loads.Add(1)
	dm = assets.NewDepthMap(img)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return dm, nil
	}
	if c.depth == nil {
		c.depth = dm
	}
	return c.depth, nil
}

func (c *Cache) path(coord models.Coordinate, stream Stream) string {
	if stream == Reference {
		return c.ns.ReferencePath(coord)
	}
	return c.ns.Path(coord)
}

func (c *Cache) load(coord models.Coordinate, stream Stream) (image.Image, error) {
	img, err := c.loader.Load(c.path(coord, stream))
	if err != nil {
		return nil, fmt.Errorf("failed to load %s view %s of %s: %w", stream, coord, c.ns.Name, err)
	}
	c.loads.Add(1)
	return img, nil
}

// lookup must be called with mu held.
func (c *Cache) lookup(coord models.Coordinate, stream Stream) (image.Image, bool) {
	t := c.tables[stream]
	var img image.Image
	if depth, ok := coord.Depth(); !ok {
		img = t.perspective[cell{coord.U(), coord.V()}]
	} else if coord.WithoutDepth() == c.anchor {
		img = t.refocus[depth]
	} else {
		img = t.extra[coord]
	}
	return img, img != nil
}

// store inserts img unless an entry already exists, and returns the entry
// that is now cached. Loads started before a Clear are not stored.
func (c *Cache) store(coord models.Coordinate, stream Stream, img image.Image, gen uint64) image.Image {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.lookup(coord, stream); ok {
		return existing
	}
	if gen != c.generation {
		return img
	}

	t := c.tables[stream]
	if depth, ok := coord.Depth(); !ok {
		t.perspective[cell{coord.U(), coord.V()}] = img
	} else if coord.WithoutDepth() == c.anchor {
		t.refocus[depth] = img
	} else {
		t.extra[coord] = img
	}
	return img
}

// Clear drops every cached view and cancels a running preload. A later Get
// loads from disk again.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.done = nil
	c.preloadErr = nil
	c.generation++
	c.reset()
	c.loaded.Store(false)
}

// Preload starts a background walk over every perspective view of the
// lattice and every depth plane of the anchor viewpoint, plus the depth map.
// With models.DoubleStimulus the reference views are loaded as well. It
// returns immediately; Done is closed once the walk ends. Calling Preload
// while a walk is running or finished is a no-op.
func (c *Cache) Preload(ctx context.Context, method models.Method) {
	c.mu.Lock()
	if c.done != nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.done = done
	c.cancel = cancel
	gen := c.generation
	c.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()

		err := c.preload(ctx, method, gen)

		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.generation {
			return
		}
		if err != nil && ctx.Err() != nil {
			err = fmt.Errorf("%w: %v", ErrPreloadCancelled, err)
		}
		c.preloadErr = err
		if err == nil {
			c.loaded.Store(true)
			monitoring.Debugf("preloaded %s", c.ns.Name)
		}
	}()
}

func (c *Cache) preload(ctx context.Context, method models.Method, gen uint64) error {
	streams := []Stream{Test}
	if method == models.DoubleStimulus {
		streams = append(streams, Reference)
	}

	coords := c.lattice.Perspectives()
	for depth := 0; depth < c.lattice.CountDepth; depth++ {
		coords = append(coords, models.Refocus(c.anchor.U(), c.anchor.V(), depth))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	g.Go(func() error {
		_, err := c.depthMap(gen)
		return err
	})

	for _, coord := range coords {
		for _, stream := range streams {
			coord, stream := coord, stream
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				if _, ok := c.Peek(coord, stream); ok {
					return nil
				}
				img, err := c.load(coord, stream)
				if err != nil {
					return err
				}
				c.store(coord, stream, img, gen)
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Done returns a channel closed when the current preload ends. It is nil
// when no preload was started since the last Clear.
func (c *Cache) Done() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.done
}

// Err returns the error of the last finished preload.
func (c *Cache) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.preloadErr
}

// Loaded reports whether a preload finished successfully.
func (c *Cache) Loaded() bool {
	return c.loaded.Load()
}
