package game

import (
	"errors"
	"sort"
)

const (
	TrackLength = 55

	// Fixed board positions (0-based).
	StartTile    = 0
	ExpensesTile = 27

	RoundLimit = 5

	MinDice = 1
	MaxDice = 6
)

var (
	ErrNotYourTurn      = errors.New("not your turn")
	ErrTurnLocked       = errors.New("turn is locked by another player")
	ErrPlayerNotFound   = errors.New("player not found in match")
	ErrGameOver         = errors.New("game is over")
	ErrInsufficientCash = errors.New("insufficient cash")
	ErrLoanOutstanding  = errors.New("a loan is already outstanding")
	ErrNoPendingPrompt  = errors.New("no pending prompt")
	ErrEngineClosed     = errors.New("engine closed")
)

// Tier is a product/ERP quality level. A is the best, D is the free
// baseline every player starts with.
type Tier string

const (
	TierA Tier = "A"
	TierB Tier = "B"
	TierC Tier = "C"
	TierD Tier = "D"

	TierBaseline = TierD
)

func TierRank(t Tier) int {
	switch t {
	case TierA:
		return 4
	case TierB:
		return 3
	case TierC:
		return 2
	case TierD:
		return 1
	}
	return 0
}

// TierBelow returns the next tier down, or the baseline if already there.
func TierBelow(t Tier) Tier {
	switch t {
	case TierA:
		return TierB
	case TierB:
		return TierC
	case TierC:
		return TierD
	}
	return TierBaseline
}

func ParseTier(s string) (Tier, bool) {
	switch Tier(s) {
	case TierA, TierB, TierC, TierD:
		return Tier(s), true
	}
	return "", false
}

// Role keys double as wire keys; the browser prompt UIs pattern-match on
// them, so they must stay stable.
type Role string

const (
	RoleCommonSeller Role = "vendedoresComuns"
	RoleFieldSales   Role = "fieldSales"
	RoleInsideSales  Role = "insideSales"
	RoleManager      Role = "gestores"
)

var AllRoles = []Role{RoleCommonSeller, RoleFieldSales, RoleInsideSales, RoleManager}

// Loan is the single outstanding loan a player may carry. It becomes due
// strictly after the round in which it was taken.
type Loan struct {
	Amount   int64 `json:"amount"`
	DueRound int   `json:"dueRound"`
	Charged  bool  `json:"charged"`
}

type Player struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`

	Cash int64 `json:"cash"`
	Pos  int   `json:"pos"`
	Lap  int   `json:"lap"`

	CommonSellers int `json:"vendedoresComuns"`
	FieldSales    int `json:"fieldSales"`
	InsideSales   int `json:"insideSales"`
	Managers      int `json:"gestores"`

	ERPLevel    Tier `json:"erpLevel"`
	MixProducts Tier `json:"mixProdutos"`

	Trainings map[Role][]string `json:"trainingsByVendor"`
	Clients   int               `json:"clients"`

	Bankrupt    bool  `json:"bankrupt"`
	LoanPending *Loan `json:"loanPending,omitempty"`
}

func (p Player) Headcount(role Role) int {
	switch role {
	case RoleCommonSeller:
		return p.CommonSellers
	case RoleFieldSales:
		return p.FieldSales
	case RoleInsideSales:
		return p.InsideSales
	case RoleManager:
		return p.Managers
	}
	return 0
}

// TotalStaff counts every staff member, managers included.
func (p Player) TotalStaff() int {
	return p.CommonSellers + p.FieldSales + p.InsideSales + p.Managers
}

func (p Player) CertCount(role Role) int {
	return len(p.Trainings[role])
}

func (p Player) HasCert(role Role, cert string) bool {
	for _, c := range p.Trainings[role] {
		if c == cert {
			return true
		}
	}
	return false
}

func (p Player) Clone() Player {
	out := p
	if p.Trainings != nil {
		out.Trainings = make(map[Role][]string, len(p.Trainings))
		for role, certs := range p.Trainings {
			out.Trainings[role] = append([]string(nil), certs...)
		}
	}
	if p.LoanPending != nil {
		loan := *p.LoanPending
		out.LoanPending = &loan
	}
	return out
}

// MatchState is the single shared-truth object for one match. Each node
// holds a replica kept convergent by the sync layer.
type MatchState struct {
	RoomID string `json:"roomId"`

	Players   []Player `json:"players"`
	TurnIndex int      `json:"turnIndex"`
	Round     int      `json:"round"`

	GameOver bool     `json:"gameOver"`
	Winners  []string `json:"winners,omitempty"`

	TurnLock  bool   `json:"turnLock"`
	LockOwner string `json:"lockOwner,omitempty"`
	LockedAt  int64  `json:"lockedAt,omitempty"`
}

func (m MatchState) Clone() MatchState {
	out := m
	out.Players = make([]Player, len(m.Players))
	for i, p := range m.Players {
		out.Players[i] = p.Clone()
	}
	out.Winners = append([]string(nil), m.Winners...)
	return out
}

func (m MatchState) PlayerIndex(id string) int {
	for i, p := range m.Players {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (m MatchState) AliveCount() int {
	n := 0
	for _, p := range m.Players {
		if !p.Bankrupt {
			n++
		}
	}
	return n
}

// NextAliveIndex walks the rotation forward from the given index and
// returns the next non-bankrupt player, or -1 if none remain.
func (m MatchState) NextAliveIndex(from int) int {
	if len(m.Players) == 0 {
		return -1
	}
	for step := 1; step <= len(m.Players); step++ {
		i := (from + step) % len(m.Players)
		if !m.Players[i].Bankrupt {
			return i
		}
	}
	return -1
}

// DerivedRound is 1 + the minimum lap among living players. The committed
// round only ever moves up, so callers take the max with the current value.
func (m MatchState) DerivedRound() int {
	minLap := -1
	for _, p := range m.Players {
		if p.Bankrupt {
			continue
		}
		if minLap < 0 || p.Lap < minLap {
			minLap = p.Lap
		}
	}
	if minLap < 0 {
		minLap = 0
	}
	return 1 + minLap
}

func sortedUnique(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
