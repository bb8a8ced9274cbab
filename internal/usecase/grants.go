package usecase

import (
	"sort"

	"course-payment-sync/internal/domain/model"
)

// MergeGrantsLedgerWins merges two grant lists keyed by course id.
// existing is applied first and incoming second, so on conflict the incoming
// (ledger-derived) grant replaces the existing one field for field.
// The result holds at most one grant per course, ordered by course id.
func MergeGrantsLedgerWins(existing, incoming []model.CourseGrant) []model.CourseGrant {
	byCourse := make(map[string]model.CourseGrant, len(existing)+len(incoming))
	for _, g := range existing {
		byCourse[g.CourseID] = g
	}
	for _, g := range incoming {
		byCourse[g.CourseID] = g
	}
	out := make([]model.CourseGrant, 0, len(byCourse))
	for _, g := range byCourse {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CourseID < out[j].CourseID })
	return out
}

// LedgerGrants derives one grant per course from the successful records.
// Repeat purchases collapse to the most recent one (latest purchase date, then
// latest creation time, then the larger id so the winner is deterministic).
func LedgerGrants(records []*model.PaymentRecord) []model.CourseGrant {
	latest := make(map[string]*model.PaymentRecord)
	for _, p := range records {
		if p == nil || p.Status != model.PaymentStatusSuccess {
			continue
		}
		cur, ok := latest[p.CourseID]
		if !ok || newerPayment(p, cur) {
			latest[p.CourseID] = p
		}
	}
	grants := make([]model.CourseGrant, 0, len(latest))
	for _, p := range latest {
		grants = append(grants, model.GrantFromPayment(p))
	}
	sort.Slice(grants, func(i, j int) bool { return grants[i].CourseID < grants[j].CourseID })
	return grants
}

func newerPayment(a, b *model.PaymentRecord) bool {
	if !a.PurchaseDate.Equal(b.PurchaseDate) {
		return a.PurchaseDate.After(b.PurchaseDate)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// Drift is the per-course comparison of ledger grants against a projection.
// Every course id seen on either side lands in exactly one bucket.
type Drift struct {
	Consistent          []string `json:"consistent"`
	MissingInProjection []string `json:"missingInProjection"` // ledger only
	MissingInLedger     []string `json:"missingInLedger"`     // projection only, active
	Inconsistent        []string `json:"inconsistent"`        // both sides, expiry or active flag differ
	Dormant             []string `json:"dormant"`             // projection only, inactive
}

// Repairable reports whether rewriting the projection from the ledger would change it.
func (d Drift) Repairable() bool {
	return len(d.MissingInProjection) > 0 || len(d.Inconsistent) > 0
}

func (d Drift) Clean() bool {
	return !d.Repairable() && len(d.MissingInLedger) == 0
}

// DiffGrants classifies every course id of ledger and projection.
// Expiry dates are compared as instants at store precision. Duplicate course ids in the projection
// resolve to the last entry, matching MergeGrantsLedgerWins.
func DiffGrants(ledger, projection []model.CourseGrant) Drift {
	led := make(map[string]model.CourseGrant, len(ledger))
	for _, g := range ledger {
		led[g.CourseID] = g
	}
	proj := make(map[string]model.CourseGrant, len(projection))
	for _, g := range projection {
		proj[g.CourseID] = g
	}

	var d Drift
	for id, lg := range led {
		pg, ok := proj[id]
		switch {
		case !ok:
			d.MissingInProjection = append(d.MissingInProjection, id)
		case !model.StoreTime(lg.ExpiryDate).Equal(model.StoreTime(pg.ExpiryDate)) || lg.IsActive != pg.IsActive:
			d.Inconsistent = append(d.Inconsistent, id)
		default:
			d.Consistent = append(d.Consistent, id)
		}
	}
	for id, pg := range proj {
		if _, ok := led[id]; ok {
			continue
		}
		if pg.IsActive {
			d.MissingInLedger = append(d.MissingInLedger, id)
		} else {
			d.Dormant = append(d.Dormant, id)
		}
	}

	sort.Strings(d.Consistent)
	sort.Strings(d.MissingInProjection)
	sort.Strings(d.MissingInLedger)
	sort.Strings(d.Inconsistent)
	sort.Strings(d.Dormant)
	return d
}
