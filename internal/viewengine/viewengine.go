// Package viewengine implements the map/reduce view-build algorithm of
// §4.4: streaming documents through a map sandbox pool, collating the
// emitted rows, and applying range filters, reduce/group, and windowing.
package viewengine

import (
	"context"
	"log"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/couchmongo/couchmongo/internal/apperr"
	"github.com/couchmongo/couchmongo/internal/collate"
	"github.com/couchmongo/couchmongo/internal/jsruntime"
)

// Row is a single output row: {key, id, value, doc?}.
type Row struct {
	Key   interface{}
	ID    string
	Value interface{}
	Doc   map[string]interface{}
}

// Result is the view response shape of §4.4.
type Result struct {
	TotalRows int
	Offset    int
	Rows      []Row
}

// Source streams the database's documents for a view build; Run skips any
// tombstones it yields. docengine adapts a Mongo collection to it.
type Source interface {
	// Each calls fn once per document; fn's error aborts the stream.
	Each(ctx context.Context, fn func(doc map[string]interface{}) error) error
}

// DocByID fetches the current body of a document by id, for include_docs.
type DocByID func(ctx context.Context, id string) (map[string]interface{}, error)

// View holds the view's map and reduce sources.
type View struct {
	MapSrc    string
	ReduceSrc string // empty if this view has no reduce function
}

// Engine runs view builds against a Source, bounding map-phase
// concurrency to a worker pool sized by §5.
type Engine struct {
	Budget     jsruntime.Budget
	Logger     *log.Logger
	numWorkers int
}

// New constructs an Engine. numWorkers<=0 defaults to runtime.NumCPU().
func New(budget jsruntime.Budget, logger *log.Logger, numWorkers int) *Engine {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{Budget: budget, Logger: logger, numWorkers: numWorkers}
}

type mapRow struct {
	key   interface{}
	id    string
	value interface{}
}

// Run executes the full view algorithm.
func (e *Engine) Run(ctx context.Context, src Source, view View, opts Options, docByID DocByID) (Result, error) {
	if opts.Group && view.ReduceSrc == "" {
		return Result{}, apperr.BadRequest("reduce function absent but reduce requested")
	}
	wantReduce := view.ReduceSrc != ""
	if opts.Reduce != nil {
		wantReduce = *opts.Reduce
	}
	if wantReduce && view.ReduceSrc == "" {
		return Result{}, apperr.BadRequest("reduce function absent but reduce=true")
	}

	rows, err := e.mapPhase(ctx, src, view.MapSrc)
	if err != nil {
		return Result{}, err
	}

	// Collation: sort by key, then id.
	sort.SliceStable(rows, func(i, j int) bool {
		return collate.CompareRows(rows[i].key, rows[j].key, rows[i].id, rows[j].id) < 0
	})

	totalRows := len(rows)

	if opts.HasKeys {
		rows = filterByKeys(rows, opts.Keys)
	} else if opts.HasStartKey || opts.HasEndKey {
		// Under descending, start_key is the upper end of the range.
		rangeOpts := opts
		if opts.Descending {
			rangeOpts.StartKey, rangeOpts.EndKey = opts.EndKey, opts.StartKey
			rangeOpts.HasStartKey, rangeOpts.HasEndKey = opts.HasEndKey, opts.HasStartKey
			rangeOpts.StartKeyID, rangeOpts.EndKeyID = opts.EndKeyID, opts.StartKeyID
		}
		rows = rangeFilter(rows, rangeOpts)
	}

	if opts.Descending {
		reverseRows(rows)
	}

	if wantReduce {
		grouped, err := e.reducePhase(rows, view.ReduceSrc, opts)
		if err != nil {
			return Result{}, err
		}
		grouped = window(grouped, opts)
		return Result{Rows: grouped}, nil
	}

	offset := 0
	if opts.Skip > 0 {
		offset = int(opts.Skip)
	}
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		out = append(out, Row{Key: r.key, ID: r.id, Value: r.value})
	}
	out = windowPlain(out, opts)

	if opts.IncludeDocs && docByID != nil {
		for i := range out {
			doc, err := docByID(ctx, out[i].ID)
			if err != nil {
				return Result{}, err
			}
			out[i].Doc = doc
		}
	}

	return Result{TotalRows: totalRows, Offset: offset, Rows: out}, nil
}

// mapPhase streams documents through a bounded pool of map sandboxes,
// per §4.4 step 2 and §5's worker-pool requirement. A document whose map
// invocation errors (including a runaway invocation) is skipped with a
// warning rather than aborting the build.
func (e *Engine) mapPhase(ctx context.Context, src Source, mapSrc string) ([]mapRow, error) {
	type job struct {
		doc map[string]interface{}
	}

	jobs := make(chan job, e.numWorkers*2)
	results := make(chan []mapRow, e.numWorkers*2)

	group, gctx := errgroup.WithContext(ctx)

	for i := 0; i < e.numWorkers; i++ {
		group.Go(func() error {
			for j := range jobs {
				rows, _, err := jsruntime.RunMap(mapSrc, j.doc, e.Budget)
				if err != nil {
					id, _ := j.doc["_id"].(string)
					e.Logger.Printf("view: skipping document %q: %v", id, err)
					results <- nil
					continue
				}
				id, _ := j.doc["_id"].(string)
				out := make([]mapRow, len(rows))
				for i, r := range rows {
					out[i] = mapRow{key: r.Key, id: id, value: r.Value}
				}
				select {
				case results <- out:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}

	group.Go(func() error {
		defer close(jobs)
		return src.Each(gctx, func(doc map[string]interface{}) error {
			if deleted, _ := doc["_deleted"].(bool); deleted {
				return nil
			}
			select {
			case jobs <- job{doc: doc}:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	})

	var all []mapRow
	done := make(chan struct{})
	go func() {
		for rows := range results {
			all = append(all, rows...)
		}
		close(done)
	}()

	err := group.Wait()
	close(results)
	<-done
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return all, nil
}

func filterByKeys(rows []mapRow, keys []interface{}) []mapRow {
	out := make([]mapRow, 0, len(rows))
	for _, r := range rows {
		for _, k := range keys {
			if collate.Compare(r.key, k) == 0 {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

func rangeFilter(rows []mapRow, opts Options) []mapRow {
	out := make([]mapRow, 0, len(rows))
	for _, r := range rows {
		if opts.HasStartKey {
			cmp := collate.Compare(r.key, opts.StartKey)
			if cmp < 0 || (cmp == 0 && opts.StartKeyID != "" && r.id < opts.StartKeyID) {
				continue
			}
		}
		if opts.HasEndKey {
			cmp := collate.Compare(r.key, opts.EndKey)
			if cmp > 0 || (cmp == 0 && opts.EndKeyID != "" && r.id > opts.EndKeyID) {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

func reverseRows(rows []mapRow) {
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
}

func window(rows []Row, opts Options) []Row {
	if opts.Skip > 0 {
		if int(opts.Skip) >= len(rows) {
			return nil
		}
		rows = rows[opts.Skip:]
	}
	if opts.Limit >= 0 && int(opts.Limit) < len(rows) {
		rows = rows[:opts.Limit]
	}
	return rows
}

func windowPlain(rows []Row, opts Options) []Row {
	return window(rows, opts)
}

// reducePhase partitions mapRows by key (per opts.Group/GroupLevel) and
// invokes the reduce source over each partition, per §4.4 step 5.
func (e *Engine) reducePhase(rows []mapRow, reduceSrc string, opts Options) ([]Row, error) {
	fn, ok := builtinReduceFunc(reduceSrc)
	if !ok {
		fn = jsReduceFunc(reduceSrc, e.Budget)
	}

	if !opts.Group {
		keys := make([]interface{}, len(rows))
		values := make([]interface{}, len(rows))
		for i, r := range rows {
			keys[i] = r.key
			values[i] = r.value
		}
		result, err := reduceGroup(fn, keys, values)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, nil
		}
		return []Row{{Value: result}}, nil
	}

	var out []Row
	var curKey interface{}
	var haveKey bool
	var keys, values []interface{}

	flush := func() error {
		if len(values) == 0 {
			return nil
		}
		result, err := reduceGroup(fn, keys, values)
		if err != nil {
			return err
		}
		out = append(out, Row{Key: curKey, Value: result})
		keys, values = nil, nil
		return nil
	}

	for _, r := range rows {
		tk := truncateKey(r.key, opts.GroupLevel)
		if haveKey && !keysEqual(tk, curKey) {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		curKey, haveKey = tk, true
		keys = append(keys, r.key)
		values = append(values, r.value)
	}
	if err := flush(); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool { return collate.Compare(out[i].Key, out[j].Key) < 0 })
	return out, nil
}
