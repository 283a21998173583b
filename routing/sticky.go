package routing

import "github.com/dgryski/go-rendezvous"

// hashString is the hash function fed to go-rendezvous: a 64-bit FNV-1a,
// which keeps this package free of an extra dependency beyond
// go-rendezvous itself.
func hashString(s string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}

// StickyPicker returns a deterministic first-choice gateway for key (the
// fetcher passes identifier and path joined by a NUL byte) over the
// candidate set it is given, using
// rendezvous (highest random weight) hashing so the pick is stable as long
// as the candidate set doesn't change, and degrades gracefully (picks the
// next-highest-weight survivor) as gateways drop in and out (spec §4.6).
type StickyPicker struct{}

// Pick returns the rendezvous-hashed top candidate for key among candidates.
// Empty candidates returns ("", false).
func (StickyPicker) Pick(key string, candidates []string) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}
	r := rendezvous.New(candidates, hashString)
	return r.Lookup(key), true
}
