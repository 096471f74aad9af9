// Package docsort orders documents by keys that may be expensive or
// impossible to compute.
package docsort

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds how many keys resolve at once.
const DefaultConcurrency = 16

// KeyFunc resolves the sort key of item. Keys are strings or numbers.
type KeyFunc[T any] func(ctx context.Context, item T) (any, error)

// Dated is implemented by items carrying a date, in milliseconds.
type Dated interface {
	SortDate() int64
}

// ByDate keys items by their date. Items that are not Dated fail to resolve.
func ByDate[T any](_ context.Context, item T) (any, error) {
	d, ok := any(item).(Dated)
	if !ok {
		return nil, fmt.Errorf("%T has no date", item)
	}
	return d.SortDate(), nil
}

type keyed[T any] struct {
	item T
	key  any
	ok   bool
}

// Sort returns a new slice ordered by key. Items whose key fails to resolve,
// or resolves to nil, come after all others in their original order. Strings
// compare lexicographically and numbers numerically; numbers sort before strings.
// A nil key orders by date. items is not modified.
func Sort[T any](ctx context.Context, items []T, key KeyFunc[T]) []T {
	if key == nil {
		key = ByDate[T]
	}
	resolved := make([]keyed[T], len(items))
	var eg errgroup.Group
	eg.SetLimit(DefaultConcurrency)
	for i, item := range items {
		eg.Go(func() error {
			k, err := key(ctx, item)
			resolved[i] = keyed[T]{item: item, key: k, ok: err == nil && k != nil}
			return nil
		})
	}
	_ = eg.Wait()

	slices.SortStableFunc(resolved, func(a, b keyed[T]) int {
		switch {
		case a.ok && b.ok:
			return compareKeys(a.key, b.key)
		case a.ok:
			return -1
		case b.ok:
			return 1
		}
		return 0
	})

	out := make([]T, len(resolved))
	for i, r := range resolved {
		out[i] = r.item
	}
	return out
}

func compareKeys(a, b any) int {
	fa, aNum := number(a)
	fb, bNum := number(b)
	switch {
	case aNum && bNum:
		return cmp.Compare(fa, fb)
	case aNum:
		return -1
	case bNum:
		return 1
	}
	return strings.Compare(text(a), text(b))
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

func text(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
