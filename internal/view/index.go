package view

import (
	"fmt"
	"slices"
	"sync"

	"github.com/google/btree"

	"highlight-store/internal/domain"
)

const degree = 32

// entry is one emitted index row. A pivot with hi set sorts after every
// entry sharing its key, which makes inclusive upper bounds cheap.
type entry struct {
	key   any
	id    string
	value any
	hi    bool
}

func lessEntry(a, b entry) bool {
	if c := Compare(a.key, b.key); c != 0 {
		return c < 0
	}
	if a.hi != b.hi {
		return b.hi
	}
	return a.id < b.id
}

type tree struct {
	spec    domain.ViewSpec
	entries *btree.BTreeG[entry]
	byDoc   map[string]entry
}

func newTree(spec domain.ViewSpec) *tree {
	return &tree{
		spec:    spec,
		entries: btree.NewG[entry](degree, lessEntry),
		byDoc:   make(map[string]entry),
	}
}

// Index keeps every view of a design document up to date with the log.
// It is rebuilt from the engine on open and fed every successful write.
type Index struct {
	mu    sync.RWMutex
	views map[string]*tree
	gens  map[string]int
}

// NewIndex builds empty trees for every view of design.
func NewIndex(design domain.DesignDocument) *Index {
	x := &Index{
		views: make(map[string]*tree, len(design.Views)),
		gens:  make(map[string]int),
	}
	for _, spec := range design.Views {
		x.views[spec.Name] = newTree(spec)
	}
	return x
}

// Rebuild discards all rows and re-indexes docs.
func (x *Index) Rebuild(docs []domain.Document) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.gens = make(map[string]int, len(docs))
	for name, t := range x.views {
		x.views[name] = newTree(t.spec)
	}
	for _, doc := range docs {
		x.applyLocked(doc)
	}
}

// Apply folds one written revision into the views. Revisions older than
// what the index has already seen are ignored; it reports whether doc was applied.
func (x *Index) Apply(doc domain.Document) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.applyLocked(doc)
}

func (x *Index) applyLocked(doc domain.Document) bool {
	if gen := domain.Generation(doc.Rev); gen != 0 {
		if gen <= x.gens[doc.ID] {
			return false
		}
		x.gens[doc.ID] = gen
	}
	for _, t := range x.views {
		if old, ok := t.byDoc[doc.ID]; ok {
			t.entries.Delete(old)
			delete(t.byDoc, doc.ID)
		}
		if e, ok := emit(t.spec, doc); ok {
			t.entries.ReplaceOrInsert(e)
			t.byDoc[doc.ID] = e
		}
	}
	return true
}

// Views lists the view names currently indexed.
func (x *Index) Views() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	names := make([]string, 0, len(x.views))
	for name := range x.views {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Prune drops index state for views design no longer defines and returns their names.
func (x *Index) Prune(design domain.DesignDocument) []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	var dropped []string
	for name := range x.views {
		if _, ok := design.View(name); !ok {
			delete(x.views, name)
			dropped = append(dropped, name)
		}
	}
	slices.Sort(dropped)
	return dropped
}

// emit evaluates spec against doc.
func emit(spec domain.ViewSpec, doc domain.Document) (entry, bool) {
	if doc.Deleted || doc.IsDesign() || len(spec.KeyFields) == 0 {
		return entry{}, false
	}
	parts := make([]any, 0, len(spec.KeyFields))
	for _, f := range spec.KeyFields {
		v, ok := doc.Field(f)
		if !ok || v == nil {
			return entry{}, false
		}
		parts = append(parts, v)
	}
	e := entry{id: doc.ID}
	if len(parts) == 1 {
		e.key = parts[0]
	} else {
		e.key = parts
	}
	if spec.Value.Field != "" {
		e.value = spec.Value.Default
		if v, ok := doc.Field(spec.Value.Field); ok {
			if n, ok := spec.Value.Cases[fmt.Sprint(v)]; ok {
				e.value = n
			}
		}
	}
	return e, true
}

// Query runs opts against the named view. Rows carry no documents; the
// store attaches them when IncludeDocs is set.
func (x *Index) Query(name string, opts domain.QueryOptions) (domain.QueryResult, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	t, ok := x.views[name]
	if !ok {
		return domain.QueryResult{}, fmt.Errorf("%w: %s", domain.ErrUnknownView, name)
	}
	reduce := t.spec.Reduce != domain.ReduceNone
	if opts.Reduce != nil {
		if *opts.Reduce && !reduce {
			return domain.QueryResult{}, fmt.Errorf("%w: view %s has no reducer", domain.ErrInvalidQuery, name)
		}
		reduce = *opts.Reduce
	}
	if (opts.Group || opts.GroupLevel > 0) && !reduce {
		return domain.QueryResult{}, fmt.Errorf("%w: grouping requires reduce", domain.ErrInvalidQuery)
	}
	if opts.Skip < 0 || opts.Limit < 0 || opts.GroupLevel < 0 {
		return domain.QueryResult{}, fmt.Errorf("%w: negative skip, limit or group level", domain.ErrInvalidQuery)
	}

	matched, offset := t.scan(opts)

	var rows []domain.Row
	if reduce {
		rows = reduceRows(t.spec.Reduce, matched, opts)
	} else {
		rows = make([]domain.Row, 0, len(matched))
		for _, e := range matched {
			rows = append(rows, domain.Row{Key: e.key, Value: e.value, ID: e.id})
		}
	}
	rows = page(rows, opts.Skip, opts.Limit)
	if rows == nil {
		rows = []domain.Row{}
	}

	if reduce {
		return domain.QueryResult{Rows: rows}, nil
	}
	return domain.QueryResult{
		Rows:      rows,
		TotalRows: t.entries.Len(),
		Offset:    offset + opts.Skip,
	}, nil
}

// scan collects the entries inside the requested key range in iteration
// order, along with how many entries precede the range.
func (t *tree) scan(opts domain.QueryOptions) ([]entry, int) {
	lo, hi := opts.StartKey, opts.EndKey
	exclusive := opts.ExclusiveEnd
	if opts.Key != nil {
		lo, hi = opts.Key, opts.Key
		exclusive = false
	}

	var out []entry
	offset := 0

	if !opts.Descending {
		collect := func(e entry) bool {
			if hi != nil {
				if c := Compare(e.key, hi); c > 0 || (c == 0 && exclusive) {
					return false
				}
			}
			out = append(out, e)
			return true
		}
		if lo == nil {
			t.entries.Ascend(collect)
			return out, 0
		}
		pivot := entry{key: lo}
		t.entries.AscendLessThan(pivot, func(entry) bool { offset++; return true })
		t.entries.AscendGreaterOrEqual(pivot, collect)
		return out, offset
	}

	// Descending: StartKey is the upper bound, EndKey the lower one.
	upper, lower := lo, hi
	collect := func(e entry) bool {
		if lower != nil {
			if c := Compare(e.key, lower); c < 0 || (c == 0 && exclusive) {
				return false
			}
		}
		out = append(out, e)
		return true
	}
	if upper == nil {
		t.entries.Descend(collect)
		return out, 0
	}
	pivot := entry{key: upper, hi: true}
	t.entries.DescendGreaterThan(pivot, func(entry) bool { offset++; return true })
	t.entries.DescendLessOrEqual(pivot, collect)
	return out, offset
}

func reduceRows(op domain.ReduceOp, entries []entry, opts domain.QueryOptions) []domain.Row {
	if len(entries) == 0 {
		return nil
	}
	if !opts.Group && opts.GroupLevel == 0 {
		return []domain.Row{{Key: nil, Value: reduceValues(op, entries)}}
	}

	var rows []domain.Row
	start := 0
	key := groupKey(entries[0].key, opts)
	for i := 1; i <= len(entries); i++ {
		if i < len(entries) {
			next := groupKey(entries[i].key, opts)
			if Compare(next, key) == 0 {
				continue
			}
			rows = append(rows, domain.Row{Key: key, Value: reduceValues(op, entries[start:i])})
			start, key = i, next
			continue
		}
		rows = append(rows, domain.Row{Key: key, Value: reduceValues(op, entries[start:i])})
	}
	return rows
}

func groupKey(key any, opts domain.QueryOptions) any {
	if opts.GroupLevel == 0 {
		return key
	}
	arr, ok := key.([]any)
	if !ok || len(arr) <= opts.GroupLevel {
		return key
	}
	return slices.Clone(arr[:opts.GroupLevel])
}

func reduceValues(op domain.ReduceOp, entries []entry) float64 {
	if op == domain.ReduceCount {
		return float64(len(entries))
	}
	var sum float64
	for _, e := range entries {
		if n, ok := toFloat(e.value); ok {
			sum += n
		}
	}
	return sum
}

func page(rows []domain.Row, skip, limit int) []domain.Row {
	if skip >= len(rows) {
		return nil
	}
	rows = rows[skip:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}
