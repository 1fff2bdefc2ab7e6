// Package designrepo implements DesignRepo: the lookup of map/reduce/
// update function sources, sourced from a filesystem tree and, failing
// that, from stored design documents.
package designrepo

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/couchmongo/couchmongo/internal/apperr"
)

// View is a view's compiled-lazily source pair.
type View struct {
	MapSrc    string
	ReduceSrc string
}

// Update is a named update-function source.
type Update struct {
	Src string
}

// DocReader reads the current body of a stored document, used as the
// fallback source per §4.2. It is injected by DocEngine at startup; the
// dependency is one-way (this package never writes through it), per the
// cyclic-state note in §9.
type DocReader func(ctx context.Context, db, id string) (map[string]interface{}, error)

type designKey struct {
	db, design string
}

type designEntry struct {
	views   map[string]View
	updates map[string]Update
}

// Repo is DesignRepo. The zero value is not usable; construct with New.
type Repo struct {
	root      string
	pollEvery time.Duration
	reader    DocReader
	logger    *log.Logger

	mu      sync.RWMutex
	entries map[designKey]*designEntry

	watcher *fsnotify.Watcher
}

// Option configures a Repo at construction time.
type Option func(*Repo)

// WithDocReader injects the stored-design-document fallback.
func WithDocReader(r DocReader) Option {
	return func(repo *Repo) { repo.reader = r }
}

// WithPollInterval overrides the fsnotify-unavailable fallback poll
// interval (default 30s per §4.2).
func WithPollInterval(d time.Duration) Option {
	return func(repo *Repo) { repo.pollEvery = d }
}

// WithLogger sets the logger used for reload and parse-failure messages.
func WithLogger(l *log.Logger) Option {
	return func(repo *Repo) { repo.logger = l }
}

// New constructs a Repo rooted at root, which should contain views/ and
// updates/ subdirectories per §6's filesystem layout. root may be empty,
// in which case only stored design documents are consulted.
func New(root string, opts ...Option) (*Repo, error) {
	repo := &Repo{
		root:      root,
		pollEvery: 30 * time.Second,
		entries:   map[designKey]*designEntry{},
		logger:    log.Default(),
	}
	for _, o := range opts {
		o(repo)
	}
	if root != "" {
		if err := repo.walk(); err != nil {
			return nil, err
		}
		if err := repo.watch(); err != nil {
			repo.logger.Printf("designrepo: filesystem watch unavailable, falling back to polling every %s: %v", repo.pollEvery, err)
			go repo.pollLoop()
		}
	}
	return repo, nil
}

// Close stops the filesystem watcher, if any.
func (r *Repo) Close() error {
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}

// walk performs the one-time startup scan of the filesystem tree.
func (r *Repo) walk() error {
	entries := map[designKey]*designEntry{}

	viewsRoot := filepath.Join(r.root, "views")
	if err := walkTree(viewsRoot, func(db, design, name, kind, src string) {
		key := designKey{db, design}
		e := entries[key]
		if e == nil {
			e = &designEntry{views: map[string]View{}, updates: map[string]Update{}}
			entries[key] = e
		}
		v := e.views[name]
		switch kind {
		case "map":
			v.MapSrc = src
		case "reduce":
			v.ReduceSrc = src
		}
		e.views[name] = v
	}); err != nil {
		return apperr.Internal(err)
	}

	updatesRoot := filepath.Join(r.root, "updates")
	if err := walkTree(updatesRoot, func(db, design, name, _, src string) {
		key := designKey{db, design}
		e := entries[key]
		if e == nil {
			e = &designEntry{views: map[string]View{}, updates: map[string]Update{}}
			entries[key] = e
		}
		e.updates[name] = Update{Src: src}
	}); err != nil {
		return apperr.Internal(err)
	}

	r.mu.Lock()
	r.entries = entries
	r.mu.Unlock()
	return nil
}

// walkTree walks a views/ or updates/ root of shape <root>/<db>/<design>/<file>,
// calling fn for each recognised file. kind is "map"/"reduce" for a view
// file ("" for an update file).
func walkTree(root string, fn func(db, design, name, kind, src string)) error {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil
	}
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		parts := strings.Split(rel, string(filepath.Separator))
		if len(parts) != 3 {
			return nil
		}
		db, design, file := parts[0], parts[1], parts[2]
		if !strings.HasSuffix(file, ".js") {
			return nil
		}
		base := strings.TrimSuffix(file, ".js")

		var name, kind string
		switch {
		case strings.HasSuffix(base, ".map"):
			name, kind = strings.TrimSuffix(base, ".map"), "map"
		case strings.HasSuffix(base, ".reduce"):
			name, kind = strings.TrimSuffix(base, ".reduce"), "reduce"
		default:
			name, kind = base, ""
		}

		src, err := os.ReadFile(path) //nolint:gosec // path comes from our own tree walk
		if err != nil {
			return err
		}
		fn(db, design, name, kind, string(src))
		return nil
	})
}

// watch arms an fsnotify watcher over both root subtrees; any write,
// create, or remove event triggers a full re-walk that replaces the cached
// source map as a whole. Only source strings are cached; compiled JS is not.
func (r *Repo) watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, sub := range []string{"views", "updates"} {
		root := filepath.Join(r.root, sub)
		_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil || d == nil || !d.IsDir() {
				return nil //nolint:nilerr // best-effort watch registration
			}
			return w.Add(path)
		})
	}
	r.watcher = w
	go r.watchLoop()
	return nil
}

func (r *Repo) watchLoop() {
	for {
		select {
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				if err := r.walk(); err != nil {
					r.logger.Printf("designrepo: reload failed: %v", err)
				}
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Printf("designrepo: watch error: %v", err)
		}
	}
}

func (r *Repo) pollLoop() {
	ticker := time.NewTicker(r.pollEvery)
	defer ticker.Stop()
	for range ticker.C {
		if err := r.walk(); err != nil {
			r.logger.Printf("designrepo: poll reload failed: %v", err)
		}
	}
}

// LookupView resolves a view's map/reduce sources, checking the
// filesystem tree first and falling back to the stored design document.
func (r *Repo) LookupView(ctx context.Context, db, design, name string) (View, error) {
	r.mu.RLock()
	entry := r.entries[designKey{db, design}]
	r.mu.RUnlock()
	if entry != nil {
		if v, ok := entry.views[name]; ok {
			return v, nil
		}
	}
	return r.lookupStoredView(ctx, db, design, name)
}

// LookupUpdate resolves an update function's source, filesystem first.
func (r *Repo) LookupUpdate(ctx context.Context, db, design, name string) (Update, error) {
	r.mu.RLock()
	entry := r.entries[designKey{db, design}]
	r.mu.RUnlock()
	if entry != nil {
		if u, ok := entry.updates[name]; ok {
			return u, nil
		}
	}
	return r.lookupStoredUpdate(ctx, db, design, name)
}

func (r *Repo) designDocID(design string) string { return "_design/" + design }

func (r *Repo) lookupStoredView(ctx context.Context, db, design, name string) (View, error) {
	if r.reader == nil {
		return View{}, apperr.NotFound("view %s/%s/%s not found", db, design, name)
	}
	doc, err := r.reader(ctx, db, r.designDocID(design))
	if err != nil {
		return View{}, err
	}
	views, _ := doc["views"].(map[string]interface{})
	raw, ok := views[name].(map[string]interface{})
	if !ok {
		return View{}, apperr.NotFound("view %s/%s/%s not found", db, design, name)
	}
	v := View{}
	v.MapSrc, _ = raw["map"].(string)
	v.ReduceSrc, _ = raw["reduce"].(string)
	if v.MapSrc == "" {
		return View{}, apperr.NotFound("view %s/%s/%s not found", db, design, name)
	}
	return v, nil
}

func (r *Repo) lookupStoredUpdate(ctx context.Context, db, design, name string) (Update, error) {
	if r.reader == nil {
		return Update{}, apperr.NotFound("update %s/%s/%s not found", db, design, name)
	}
	doc, err := r.reader(ctx, db, r.designDocID(design))
	if err != nil {
		return Update{}, err
	}
	updates, _ := doc["updates"].(map[string]interface{})
	src, ok := updates[name].(string)
	if !ok {
		return Update{}, apperr.NotFound("update %s/%s/%s not found", db, design, name)
	}
	return Update{Src: src}, nil
}
