package retention

import (
	"fmt"
	"sort"
	"time"

	"github.com/keyfold/keyfold/internal/server/models"
)

// DailyRule keeps the latest vault per calendar day for the most recent
// DaysToKeep day buckets.
type DailyRule struct {
	DaysToKeep int
}

func (r DailyRule) Apply(vaults []models.Vault, now time.Time) []models.Vault {
	return keepLatestPerBucket(vaults, r.DaysToKeep, func(v models.Vault) string {
		return v.UpdatedAt.UTC().Format("2006-01-02")
	})
}

// WeeklyRule keeps the latest vault per ISO week for the most recent
// WeeksToKeep week buckets.
type WeeklyRule struct {
	WeeksToKeep int
}

func (r WeeklyRule) Apply(vaults []models.Vault, now time.Time) []models.Vault {
	return keepLatestPerBucket(vaults, r.WeeksToKeep, func(v models.Vault) string {
		year, week := v.UpdatedAt.UTC().ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	})
}

// MonthlyRule keeps the latest vault per calendar month for the most recent
// MonthsToKeep month buckets.
type MonthlyRule struct {
	MonthsToKeep int
}

func (r MonthlyRule) Apply(vaults []models.Vault, now time.Time) []models.Vault {
	return keepLatestPerBucket(vaults, r.MonthsToKeep, func(v models.Vault) string {
		return v.UpdatedAt.UTC().Format("2006-01")
	})
}

// VersionRule keeps the latest vault per distinct client schema version for
// the VersionsToKeep most recently used versions.
type VersionRule struct {
	VersionsToKeep int
}

func (r VersionRule) Apply(vaults []models.Vault, now time.Time) []models.Vault {
	return keepLatestPerBucket(vaults, r.VersionsToKeep, func(v models.Vault) string {
		return v.Version
	})
}

// RevisionRule keeps the latest vault per revision number for the
// RevisionsToKeep most recent revisions.
type RevisionRule struct {
	RevisionsToKeep int
}

func (r RevisionRule) Apply(vaults []models.Vault, now time.Time) []models.Vault {
	return keepLatestPerBucket(vaults, r.RevisionsToKeep, func(v models.Vault) string {
		return fmt.Sprintf("%d", v.RevisionNumber)
	})
}

// RevisionConflictRule keeps every vault sharing the current maximum revision
// number, newest first. Two devices that raced to the same revision both
// survive so a client can merge them later; the retention layer never picks a
// winner at the current revision.
type RevisionConflictRule struct{}

func (RevisionConflictRule) Apply(vaults []models.Vault, now time.Time) []models.Vault {
	if len(vaults) == 0 {
		return nil
	}

	maxRevision := vaults[0].RevisionNumber
	for _, v := range vaults[1:] {
		if v.RevisionNumber > maxRevision {
			maxRevision = v.RevisionNumber
		}
	}

	var keep []models.Vault
	for _, v := range vaults {
		if v.RevisionNumber == maxRevision {
			keep = append(keep, v)
		}
	}
	sort.Slice(keep, func(i, j int) bool {
		return keep[i].UpdatedAt.After(keep[j].UpdatedAt)
	})
	return keep
}
