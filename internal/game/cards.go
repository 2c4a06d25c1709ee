package game

import (
	mathrand "math/rand"
	"sync"
	"time"
)

// CertRef names one certification on one role.
type CertRef struct {
	Role Role   `json:"role"`
	Cert string `json:"cert"`
}

// Card is a data-driven luck-or-misfortune effect. UnlessCert waives the
// cash effect for players holding that certificate; the check runs against
// the player snapshot at resolution time, never a stale one.
type Card struct {
	ID           string   `json:"id"`
	Text         string   `json:"text"`
	CashDelta    int64    `json:"cashDelta,omitempty"`
	ClientsDelta int      `json:"clientsDelta,omitempty"`
	GrantCert    *CertRef `json:"grantCert,omitempty"`
	UnlessCert   *CertRef `json:"unlessCert,omitempty"`
}

// Effect computes the deltas this card applies to the given player
// snapshot.
func (c Card) Effect(p Player) map[string]any {
	deltas := map[string]any{}
	cash := c.CashDelta
	if c.UnlessCert != nil && p.HasCert(c.UnlessCert.Role, c.UnlessCert.Cert) {
		cash = 0
	}
	if cash != 0 {
		deltas["cashDelta"] = cash
	}
	if c.ClientsDelta != 0 {
		deltas["clientsDelta"] = c.ClientsDelta
	}
	return deltas
}

// Deck draws chance cards uniformly at random.
type Deck struct {
	mu    sync.Mutex
	cards []Card
	rand  *mathrand.Rand
}

func NewDeck(cards []Card) *Deck {
	if len(cards) == 0 {
		cards = DefaultCards()
	}
	return &Deck{
		cards: cards,
		rand:  mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
	}
}

func (d *Deck) Draw() Card {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cards[d.rand.Intn(len(d.cards))]
}

func DefaultCards() []Card {
	return []Card{
		{ID: "referral", Text: "A happy customer referred two new accounts.", ClientsDelta: 2},
		{ID: "churn", Text: "A key account churned.", ClientsDelta: -1},
		{ID: "tax-rebate", Text: "Unexpected tax rebate.", CashDelta: 800},
		{ID: "fine", Text: "Pay a compliance fine, unless your manager holds the forecast certificate.", CashDelta: -600, UnlessCert: &CertRef{Role: RoleManager, Cert: "forecast"}},
		{ID: "award", Text: "Your team won a trade-fair award.", CashDelta: 1_200},
		{ID: "lawsuit", Text: "Settle a contract dispute, unless your field sales hold the key-accounts certificate.", CashDelta: -900, UnlessCert: &CertRef{Role: RoleFieldSales, Cert: "contas-chave"}},
		{ID: "free-course", Text: "A partner sponsored a prospecting course for your sellers.", GrantCert: &CertRef{Role: RoleCommonSeller, Cert: "prospeccao"}},
		{ID: "big-deal", Text: "One of your sellers closed a surprise deal.", CashDelta: 1_500, ClientsDelta: 1},
		{ID: "server-outage", Text: "Emergency infrastructure costs after an outage.", CashDelta: -400},
		{ID: "press", Text: "Favorable press coverage brought a new account.", ClientsDelta: 1, CashDelta: 300},
	}
}
