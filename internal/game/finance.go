package game

import "math"

// MonthlyExpense sums staff payroll (with certification increments), the
// per-client cost of the product mix, and the per-staff cost of the ERP
// tier. Missing tiers fall back to the free baseline.
func MonthlyExpense(p Player, t Tuning) int64 {
	var total int64
	for _, role := range AllRoles {
		rates := t.Roles[role]
		perUnit := rates.BaseExpense + rates.CertExpenseStep*int64(p.CertCount(role))
		total += perUnit * int64(p.Headcount(role))
	}
	total += t.Mix[tierOrBaseline(p.MixProducts)].ExpensePerClient * int64(p.Clients)
	total += t.ERP[tierOrBaseline(p.ERPLevel)].ExpensePerStaff * int64(p.TotalStaff())
	return total
}

// MonthlyRevenue sums per-role revenue (with certification increments),
// boosts the common-seller component by the manager-certificate multiplier,
// and adds the per-client mix revenue for served clients plus the per-staff
// ERP revenue. Clients beyond staff capacity earn nothing that cycle; that
// is a game rule, not a bug.
func MonthlyRevenue(p Player, t Tuning) int64 {
	var total int64
	for _, role := range AllRoles {
		rates := t.Roles[role]
		perUnit := rates.BaseRevenue + rates.CertRevenueStep*int64(p.CertCount(role))
		part := perUnit * int64(p.Headcount(role))
		if role == RoleCommonSeller {
			part += int64(math.Round(float64(part) * t.boost(p.CertCount(RoleManager))))
		}
		total += part
	}
	_, served := CapacityAndAttendance(p, t)
	total += t.Mix[tierOrBaseline(p.MixProducts)].RevenuePerClient * int64(served)
	total += t.ERP[tierOrBaseline(p.ERPLevel)].RevenuePerStaff * int64(p.TotalStaff())
	return total
}

// CapacityAndAttendance returns total client capacity across staff and the
// number of clients actually served this cycle.
func CapacityAndAttendance(p Player, t Tuning) (capacity, served int) {
	for _, role := range AllRoles {
		capacity += t.Roles[role].Capacity * p.Headcount(role)
	}
	served = p.Clients
	if served > capacity {
		served = capacity
	}
	return capacity, served
}

// AssetValue is the liquidation value used for end-game scoring: what the
// player would be refunded for downgrading both tiers to the baseline and
// laying off all staff.
func AssetValue(p Player, t Tuning) int64 {
	var total int64
	for tier := tierOrBaseline(p.ERPLevel); tier != TierBaseline; tier = TierBelow(tier) {
		total += t.ERP[tier].Refund
	}
	for tier := tierOrBaseline(p.MixProducts); tier != TierBaseline; tier = TierBelow(tier) {
		total += t.Mix[tier].Refund
	}
	for _, role := range AllRoles {
		total += t.Roles[role].LayoffRefund * int64(p.Headcount(role))
	}
	return total
}

func tierOrBaseline(t Tier) Tier {
	if TierRank(t) == 0 {
		return TierBaseline
	}
	return t
}
