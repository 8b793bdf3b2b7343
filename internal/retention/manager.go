package retention

import (
	"sort"
	"time"

	"github.com/keyfold/keyfold/internal/server/models"
)

// ApplyRetention computes the definitive delete-set for a user's vault
// history. If newVault is non-nil it is considered part of the history (it is
// the snapshot about to be committed) but can never appear in the delete-set
// since only existing vaults are candidates for deletion.
//
// The keep-set is the union of every rule's result plus, unconditionally, the
// single most-recent-by-UpdatedAt vault, so a misconfigured or empty policy
// can never delete the whole history.
func ApplyRetention(policy Policy, existing []models.Vault, now time.Time, newVault *models.Vault) []models.Vault {
	if len(existing) == 0 {
		return nil
	}

	combined := make([]models.Vault, 0, len(existing)+1)
	combined = append(combined, existing...)
	if newVault != nil {
		combined = append(combined, *newVault)
	}
	sort.Slice(combined, func(i, j int) bool {
		return combined[i].UpdatedAt.After(combined[j].UpdatedAt)
	})

	keep := make(map[string]struct{})
	for _, rule := range policy.Rules {
		for _, v := range rule.Apply(combined, now) {
			keep[v.ID] = struct{}{}
		}
	}

	// The newest snapshot always survives, even under an empty policy.
	keep[combined[0].ID] = struct{}{}

	var toDelete []models.Vault
	for _, v := range existing {
		if _, ok := keep[v.ID]; !ok {
			toDelete = append(toDelete, v)
		}
	}
	return toDelete
}
