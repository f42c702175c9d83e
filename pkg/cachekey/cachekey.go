// Package cachekey maps parameter tuples to canonical cache keys and drives
// work deduplication.
//
// A key function must be pure and total. Two tuples whose kernel results are
// numerically identical must map to the same key; collapsing less than
// possible is allowed, collapsing tuples with different results never is.
package cachekey

import (
	"iter"
	"slices"
	"strconv"
	"strings"

	"github.com/cuemby/sweep/pkg/types"
)

// Func computes the cache key of a tuple. bound is the sweep-wide maximum
// mode or grid resolution; keys of different bounds never compare equal.
type Func func(tuple types.ParameterTuple, bound int) types.CacheKey

// Identity keys a tuple by its grid indices, with no collapsing
func Identity(tuple types.ParameterTuple, bound int) types.CacheKey {
	return encode(bound, tuple.Index)
}

// Symmetric keys a tuple by its sorted indices. Use it for quantities that
// are invariant under any permutation of their mode arguments.
func Symmetric(tuple types.ParameterTuple, bound int) types.CacheKey {
	idx := slices.Clone(tuple.Index)
	slices.Sort(idx)
	return encode(bound, idx)
}

// PairSymmetric keys a four-index tuple (m, t, v, n) by sorting within the
// first pair and within the second pair. Use it for quantities symmetric
// under m<->t and v<->n but not under exchanging the pairs.
func PairSymmetric(tuple types.ParameterTuple, bound int) types.CacheKey {
	idx := slices.Clone(tuple.Index)
	if len(idx) != 4 {
		return Identity(tuple, bound)
	}
	if idx[0] > idx[1] {
		idx[0], idx[1] = idx[1], idx[0]
	}
	if idx[2] > idx[3] {
		idx[2], idx[3] = idx[3], idx[2]
	}
	return encode(bound, idx)
}

func encode(bound int, idx []int) types.CacheKey {
	var b strings.Builder
	b.WriteString(strconv.Itoa(bound))
	b.WriteByte(':')
	for i, v := range idx {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(v))
	}
	return types.CacheKey(b.String())
}

// Decode returns the indices encoded in a key produced by this package
func Decode(key types.CacheKey) ([]int, error) {
	s := string(key)
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[i+1:]
	}
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Entry is a tuple that introduced a new key
type Entry struct {
	Key   types.CacheKey
	Tuple types.ParameterTuple
}

// Deduplicator emits the first tuple for every distinct key, in generator
// order, and drops the rest.
type Deduplicator struct {
	key     Func
	bound   int
	seen    map[types.CacheKey]struct{}
	dropped int
}

// NewDeduplicator creates a deduplicator for one sub-computation
func NewDeduplicator(key Func, bound int) *Deduplicator {
	return &Deduplicator{
		key:   key,
		bound: bound,
		seen:  make(map[types.CacheKey]struct{}),
	}
}

// Offer reports whether tuple introduces a new key
func (d *Deduplicator) Offer(tuple types.ParameterTuple) (types.CacheKey, bool) {
	k := d.key(tuple, d.bound)
	if _, ok := d.seen[k]; ok {
		d.dropped++
		return k, false
	}
	d.seen[k] = struct{}{}
	return k, true
}

// Filter wraps a tuple sequence and yields only first-seen entries
func (d *Deduplicator) Filter(tuples iter.Seq[types.ParameterTuple]) iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for t := range tuples {
			k, fresh := d.Offer(t)
			if !fresh {
				continue
			}
			if !yield(Entry{Key: k, Tuple: t}) {
				return
			}
		}
	}
}

// Distinct returns the number of distinct keys seen so far
func (d *Deduplicator) Distinct() int {
	return len(d.seen)
}

// Dropped returns the number of tuples dropped as duplicates
func (d *Deduplicator) Dropped() int {
	return d.dropped
}
