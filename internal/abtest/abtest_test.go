package abtest

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/albapepper/momentum/internal/model"
	"github.com/albapepper/momentum/internal/store"
)

func defs() []model.ABVariant {
	return []model.ABVariant{
		{TestName: "drop_copy", VariantID: "b", Weight: 1},
		{TestName: "drop_copy", VariantID: "a", Weight: 3},
		{TestName: "celebration_copy", VariantID: "a", Weight: 1},
	}
}

func TestAssignDeterministic(t *testing.T) {
	r := NewRegistry(defs())
	for i := 0; i < 100; i++ {
		user := fmt.Sprintf("user-%d", i)
		first, ok := r.Assign(user, "drop_copy")
		if !ok {
			t.Fatalf("Assign(%s) not ok", user)
		}
		for j := 0; j < 5; j++ {
			if got, _ := r.Assign(user, "drop_copy"); got != first {
				t.Fatalf("Assign(%s) = %s then %s", user, first, got)
			}
		}
	}

	// a fresh registry with the same configuration agrees
	other := NewRegistry(defs())
	for i := 0; i < 100; i++ {
		user := fmt.Sprintf("user-%d", i)
		a, _ := r.Assign(user, "drop_copy")
		b, _ := other.Assign(user, "drop_copy")
		if a != b {
			t.Errorf("registries disagree for %s: %s vs %s", user, a, b)
		}
	}
}

func TestAssignFollowsWeights(t *testing.T) {
	r := NewRegistry(defs())
	counts := map[string]int{}
	const n = 20000
	for i := 0; i < n; i++ {
		v, _ := r.Assign(fmt.Sprintf("user-%d", i), "drop_copy")
		counts[v]++
	}
	share := float64(counts["a"]) / n
	if math.Abs(share-0.75) > 0.03 {
		t.Errorf("variant a share = %.3f, want ~0.75 (counts %v)", share, counts)
	}
}

func TestAssignUnknownTest(t *testing.T) {
	r := NewRegistry(defs())
	if _, ok := r.Assign("u1", "missing"); ok {
		t.Error("Assign on unknown test returned ok")
	}
}

func TestPickZeroWeights(t *testing.T) {
	vs := []model.ABVariant{{VariantID: "a"}, {VariantID: "b"}}
	v, ok := Pick(3, vs)
	if !ok || v.VariantID != "b" {
		t.Errorf("Pick(3) = %s, want b (hash mod count)", v.VariantID)
	}
}

func TestPickSkipsZeroWeightVariant(t *testing.T) {
	vs := []model.ABVariant{{VariantID: "a", Weight: 0}, {VariantID: "b", Weight: 1}}
	for _, h := range []uint64{0, 1 << 40, math.MaxUint64} {
		if v, _ := Pick(h, vs); v.VariantID != "b" {
			t.Errorf("Pick(%d) = %s, want b", h, v.VariantID)
		}
	}
}

func TestLoadOverlaysWeights(t *testing.T) {
	st, err := store.OpenSQLiteMemory()
	if err != nil {
		t.Fatalf("OpenSQLiteMemory: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()

	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := st.SaveVariant(ctx, model.ABVariant{TestName: "drop_copy", VariantID: "b", Weight: 9, BaseWeight: 1, UpdatedAt: at}); err != nil {
		t.Fatalf("SaveVariant: %v", err)
	}
	r := NewRegistry(defs())
	if err := r.Load(ctx, st); err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, v := range r.Variants("drop_copy") {
		if v.VariantID == "b" && (v.Weight != 9 || v.BaseWeight != 1) {
			t.Errorf("variant b = %+v, want weight 9 base 1", v)
		}
	}
}
