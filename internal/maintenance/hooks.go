package maintenance

import (
	"github.com/albapepper/momentum/internal/app"
	"github.com/albapepper/momentum/internal/cache"
)

// AfterBatch drops cached momentum snapshots for users whose score was
// rewritten by a batch run.
func AfterBatch(a *app.App, scored []string) {
	for _, userID := range scored {
		a.Cache.Delete(cache.MomentumKey(userID))
	}
	if len(scored) > 0 {
		a.Logger.Debug("Invalidated momentum cache", "users", len(scored))
	}
}

// AfterRebalance drops cached variant assignments once weights moved.
// Returns the number of evicted keys.
func AfterRebalance(a *app.App, updated int) int {
	if updated == 0 {
		return 0
	}
	n := a.Cache.DeletePrefix(cache.VariantPrefix)
	a.Logger.Info("Invalidated variant cache", "keys", n, "weights_updated", updated)
	return n
}
