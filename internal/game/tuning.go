package game

import "time"

// RoleRates carries the per-unit economics of one staff role. Expense and
// revenue are monthly; the certificate steps are added per certification a
// unit of that role holds.
type RoleRates struct {
	BaseExpense     int64
	CertExpenseStep int64
	BaseRevenue     int64
	CertRevenueStep int64
	Capacity        int
	HireCost        int64
	LayoffRefund    int64
}

// TierRates prices one ERP or product-mix tier. PerClient applies to the
// mix track, PerStaff to the ERP track; the unused field stays zero.
type TierRates struct {
	Price            int64
	Refund           int64
	RevenuePerClient int64
	ExpensePerClient int64
	RevenuePerStaff  int64
	ExpensePerStaff  int64
}

// Tuning holds every game-balance constant. The numbers are configuration,
// not derived logic; matches can be created with a modified copy.
type Tuning struct {
	StartingCash int64
	ClientPrice  int64

	Roles map[Role]RoleRates
	ERP   map[Tier]TierRates
	Mix   map[Tier]TierRates

	// ManagerBoost scales the common-seller revenue component by the
	// number of manager certificates held (index clamped at the top).
	ManagerBoost []float64

	// TrainingCatalog lists purchasable certifications per role.
	TrainingCatalog map[Role][]TrainingOffer

	LockTimeout   time.Duration
	RecencyWindow time.Duration
}

type TrainingOffer struct {
	Cert  string `json:"cert"`
	Price int64  `json:"price"`
}

func DefaultTuning() Tuning {
	return Tuning{
		StartingCash: 10_000,
		ClientPrice:  300,

		Roles: map[Role]RoleRates{
			RoleCommonSeller: {BaseExpense: 300, CertExpenseStep: 50, BaseRevenue: 500, CertRevenueStep: 150, Capacity: 2, HireCost: 600, LayoffRefund: 200},
			RoleFieldSales:   {BaseExpense: 800, CertExpenseStep: 100, BaseRevenue: 1_400, CertRevenueStep: 300, Capacity: 4, HireCost: 1_500, LayoffRefund: 500},
			RoleInsideSales:  {BaseExpense: 500, CertExpenseStep: 80, BaseRevenue: 900, CertRevenueStep: 220, Capacity: 6, HireCost: 1_000, LayoffRefund: 350},
			RoleManager:      {BaseExpense: 1_200, CertExpenseStep: 150, BaseRevenue: 0, CertRevenueStep: 0, Capacity: 0, HireCost: 2_500, LayoffRefund: 800},
		},

		ERP: map[Tier]TierRates{
			TierA: {Price: 6_000, Refund: 2_000, RevenuePerStaff: 220, ExpensePerStaff: 90},
			TierB: {Price: 3_500, Refund: 1_200, RevenuePerStaff: 140, ExpensePerStaff: 60},
			TierC: {Price: 1_500, Refund: 500, RevenuePerStaff: 70, ExpensePerStaff: 35},
			TierD: {Price: 0, Refund: 0, RevenuePerStaff: 0, ExpensePerStaff: 10},
		},

		Mix: map[Tier]TierRates{
			TierA: {Price: 5_000, Refund: 1_700, RevenuePerClient: 260, ExpensePerClient: 80},
			TierB: {Price: 3_000, Refund: 1_000, RevenuePerClient: 180, ExpensePerClient: 55},
			TierC: {Price: 1_200, Refund: 400, RevenuePerClient: 110, ExpensePerClient: 35},
			TierD: {Price: 0, Refund: 0, RevenuePerClient: 60, ExpensePerClient: 20},
		},

		ManagerBoost: []float64{0, 0.20, 0.30, 0.40, 0.60},

		TrainingCatalog: map[Role][]TrainingOffer{
			RoleCommonSeller: {
				{Cert: "prospeccao", Price: 400},
				{Cert: "negociacao", Price: 600},
				{Cert: "fechamento", Price: 800},
			},
			RoleFieldSales: {
				{Cert: "visita-tecnica", Price: 700},
				{Cert: "contas-chave", Price: 1_100},
			},
			RoleInsideSales: {
				{Cert: "cadencia", Price: 500},
				{Cert: "social-selling", Price: 750},
			},
			RoleManager: {
				{Cert: "lideranca", Price: 1_000},
				{Cert: "coaching", Price: 1_400},
				{Cert: "forecast", Price: 1_800},
				{Cert: "estrategia", Price: 2_400},
			},
		},

		LockTimeout:   25 * time.Second,
		RecencyWindow: 4 * time.Second,
	}
}

// boost returns the manager-certificate revenue multiplier applied to the
// common-seller component.
func (t Tuning) boost(managerCerts int) float64 {
	if len(t.ManagerBoost) == 0 {
		return 0
	}
	if managerCerts >= len(t.ManagerBoost) {
		managerCerts = len(t.ManagerBoost) - 1
	}
	if managerCerts < 0 {
		managerCerts = 0
	}
	return t.ManagerBoost[managerCerts]
}

func (t Tuning) trainingPrice(role Role, cert string) (int64, bool) {
	for _, offer := range t.TrainingCatalog[role] {
		if offer.Cert == cert {
			return offer.Price, true
		}
	}
	return 0, false
}
