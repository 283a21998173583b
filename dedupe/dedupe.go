// Package dedupe collapses concurrent identical work behind a shared
// key (spec §4.1), used to ensure only one ArNS consensus query or one
// content verification runs at a time for a given identifier.
package dedupe

import "golang.org/x/sync/singleflight"

// Group deduplicates calls keyed by a string, returning the typed result of
// whichever caller's Do actually executed fn.
type Group[T any] struct {
	g singleflight.Group
}

// Do executes fn for key if no call is already in flight for that key;
// otherwise it waits for and returns the in-flight call's result. The
// in-flight record is removed as soon as the call completes, successfully
// or not, so a subsequent call with the same key always starts fresh.
func (g *Group[T]) Do(key string, fn func() (T, error)) (T, error) {
	v, err, _ := g.g.Do(key, func() (interface{}, error) {
		return fn()
	})
	result, ok := v.(T)
	if !ok {
		var zero T
		return zero, err
	}
	return result, err
}
