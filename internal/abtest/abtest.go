// Package abtest assigns users to weighted content variants.
//
// Assignment is a pure function of (userID, testName, current weights): the
// pair is hashed with xxhash onto [0,1), scaled by the total weight and
// looked up in the cumulative distribution of the test's variants ordered
// by variant id. No assignment table is stored. Weights only change when
// the effectiveness rebalancer runs.
package abtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/albapepper/momentum/internal/model"
	"github.com/albapepper/momentum/internal/store"
)

// Hash returns the stable 64-bit hash for a (userID, testName) pair.
func Hash(userID, testName string) uint64 {
	return xxhash.Sum64String(userID + "\x00" + testName)
}

// Pick selects a variant for hash h by cumulative-distribution lookup.
// variants must be sorted by VariantID. When every weight is zero the hash
// is taken modulo the variant count.
func Pick(h uint64, variants []model.ABVariant) (model.ABVariant, bool) {
	if len(variants) == 0 {
		return model.ABVariant{}, false
	}
	var total float64
	for _, v := range variants {
		if v.Weight > 0 {
			total += v.Weight
		}
	}
	if total <= 0 {
		return variants[h%uint64(len(variants))], true
	}

	// top 53 bits give a uniform float in [0,1)
	point := float64(h>>11) / float64(uint64(1)<<53) * total
	var cum float64
	for _, v := range variants {
		if v.Weight <= 0 {
			continue
		}
		cum += v.Weight
		if point < cum {
			return v, true
		}
	}
	// rounding at the top edge
	for i := len(variants) - 1; i >= 0; i-- {
		if variants[i].Weight > 0 {
			return variants[i], true
		}
	}
	return variants[0], true
}

// Registry holds the configured tests and their current weights.
type Registry struct {
	mu    sync.RWMutex
	tests map[string][]model.ABVariant
}

// NewRegistry builds a registry from variant definitions. A definition
// without BaseWeight uses its Weight as the base.
func NewRegistry(defs []model.ABVariant) *Registry {
	r := &Registry{tests: make(map[string][]model.ABVariant)}
	for _, v := range defs {
		if v.BaseWeight <= 0 {
			v.BaseWeight = v.Weight
		}
		r.tests[v.TestName] = append(r.tests[v.TestName], v)
	}
	for name := range r.tests {
		sortVariants(r.tests[name])
	}
	return r
}

func sortVariants(vs []model.ABVariant) {
	sort.Slice(vs, func(i, j int) bool { return vs[i].VariantID < vs[j].VariantID })
}

// Assign returns the variant id for userID in testName. ok is false when
// the test is unknown.
func (r *Registry) Assign(userID, testName string) (variantID string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := Pick(Hash(userID, testName), r.tests[testName])
	return v.VariantID, ok
}

// Tests returns the configured test names, sorted.
func (r *Registry) Tests() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tests))
	for name := range r.tests {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Variants returns a copy of testName's variants.
func (r *Registry) Variants(testName string) []model.ABVariant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]model.ABVariant(nil), r.tests[testName]...)
}

// SetWeight updates one variant's current weight.
func (r *Registry) SetWeight(testName, variantID string, weight float64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	vs := r.tests[testName]
	for i := range vs {
		if vs[i].VariantID == variantID {
			vs[i].Weight = weight
			vs[i].UpdatedAt = at
			return nil
		}
	}
	return fmt.Errorf("variant %s/%s: %w", testName, variantID, model.ErrNotFound)
}

// Load overlays weights persisted by a previous rebalance. Persisted rows
// for variants that are no longer configured are ignored.
func (r *Registry) Load(ctx context.Context, st store.VariantStore) error {
	rows, err := st.ListVariants(ctx)
	if err != nil {
		return model.Unavailable("load variants", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range rows {
		vs := r.tests[row.TestName]
		for i := range vs {
			if vs[i].VariantID == row.VariantID {
				vs[i].Weight = row.Weight
				vs[i].UpdatedAt = row.UpdatedAt
			}
		}
	}
	return nil
}
