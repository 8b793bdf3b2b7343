// Package retention decides which historical vault snapshots to keep when a
// user uploads a new vault. A policy is an ordered list of rules combined by
// union: a vault kept by any rule survives. The manager additionally never
// deletes the newest vault, and the revision-conflict rule keeps every vault
// at the current maximum revision so concurrent writes stay recoverable until
// a client merges them.
package retention

import (
	"sort"
	"time"

	"github.com/keyfold/keyfold/internal/server/models"
)

// Rule computes the subset of vaults it wants to retain at a point in time.
// Rules are independent; they may overlap.
type Rule interface {
	Apply(vaults []models.Vault, now time.Time) []models.Vault
}

// Policy is an ordered, usually non-empty list of rules. An empty policy is
// not an error: the manager's unconditional keep-newest fallback prevents it
// from deleting everything.
type Policy struct {
	Rules []Rule
}

// keepLatestPerBucket groups vaults by key, keeps the latest-by-UpdatedAt
// vault of each bucket, orders buckets by that vault's UpdatedAt descending,
// and returns the first bucketsToKeep representatives.
func keepLatestPerBucket(vaults []models.Vault, bucketsToKeep int, key func(models.Vault) string) []models.Vault {
	if bucketsToKeep <= 0 {
		return nil
	}

	latest := make(map[string]models.Vault)
	for _, v := range vaults {
		k := key(v)
		if cur, ok := latest[k]; !ok || v.UpdatedAt.After(cur.UpdatedAt) {
			latest[k] = v
		}
	}

	reps := make([]models.Vault, 0, len(latest))
	for _, v := range latest {
		reps = append(reps, v)
	}
	sort.Slice(reps, func(i, j int) bool {
		return reps[i].UpdatedAt.After(reps[j].UpdatedAt)
	})

	if len(reps) > bucketsToKeep {
		reps = reps[:bucketsToKeep]
	}
	return reps
}
