package game

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Prompt kinds the engine opens. UIs dispatch on Kind first, then on
// Category for tile prompts.
const (
	PromptTile     = "TILE"
	PromptChance   = "CHANCE"
	PromptRecovery = "RECOVERY"
)

// Committer persists and broadcasts one committed match snapshot. The
// sync layer implements it; tests plug in fakes.
type Committer interface {
	Commit(ctx context.Context, roomID string, snap MatchState) error
}

// FeedEntry is one line of the human-readable activity feed.
type FeedEntry struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
}

const feedCap = 300

// Engine is the per-match turn-resolution state machine. One engine exists
// per match per node, created at match start and closed at match end. All
// state access is serialized on the internal mutex; suspension happens only
// while a prompt is open, with the mutex released.
type Engine struct {
	tuning  Tuning
	deck    *Deck
	prompts *Orchestrator
	log     *slog.Logger

	mu        sync.Mutex
	state     MatchState
	committer Committer
	closed    bool

	// lockGen invalidates in-flight turns when the advisory lock is
	// force-released or the match ends from outside the turn.
	lockGen  uint64
	watchdog *time.Timer

	feed []FeedEntry

	watchers  map[int]chan MatchState
	nextWatch int

	// Recency bookkeeping for remote-snapshot merges.
	prevTurnIndex  int
	turnChangedAt  time.Time
	prevRound      int
	roundChangedAt time.Time

	now func() time.Time
}

func NewEngine(state MatchState, tuning Tuning, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	st := state.Clone()
	if st.Round < 1 {
		st.Round = st.DerivedRound()
	}
	st.TurnLock = false
	st.LockOwner = ""
	st.LockedAt = 0
	if len(st.Players) > 0 && st.Players[st.TurnIndex%len(st.Players)].Bankrupt {
		if next := st.NextAliveIndex(st.TurnIndex); next >= 0 {
			st.TurnIndex = next
		}
	}
	return &Engine{
		tuning:        tuning,
		deck:          NewDeck(nil),
		prompts:       NewOrchestrator(),
		log:           log,
		state:         st,
		watchers:      make(map[int]chan MatchState),
		prevTurnIndex: st.TurnIndex,
		prevRound:     st.Round,
		now:           time.Now,
	}
}

func (e *Engine) SetCommitter(c Committer) {
	e.mu.Lock()
	e.committer = c
	e.mu.Unlock()
}

// SetDeck replaces the chance deck. Matches that want deterministic draws
// (and tests) use this.
func (e *Engine) SetDeck(d *Deck) {
	e.mu.Lock()
	e.deck = d
	e.mu.Unlock()
}

func (e *Engine) Prompts() *Orchestrator { return e.prompts }

func (e *Engine) Snapshot() MatchState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

func (e *Engine) Feed() []FeedEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]FeedEntry(nil), e.feed...)
}

// Subscribe returns a channel receiving every committed snapshot and a
// cancel function. Slow receivers miss snapshots rather than blocking the
// engine.
func (e *Engine) Subscribe() (<-chan MatchState, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextWatch
	e.nextWatch++
	ch := make(chan MatchState, 8)
	e.watchers[id] = ch
	return ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if _, ok := e.watchers[id]; ok {
			delete(e.watchers, id)
			close(ch)
		}
	}
}

// Close tears the engine down. Open prompts resolve as skips so no
// resolving goroutine is left hanging.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.lockGen++
	e.stopWatchdogLocked()
	for id, ch := range e.watchers {
		delete(e.watchers, id)
		close(ch)
	}
	e.mu.Unlock()
	e.prompts.CloseAll()
}

// Turn is one in-flight turn resolution, created by Begin while the
// advisory lock is held for the acting player.
type Turn struct {
	e       *Engine
	actorID string
	dice    int
	fortune int64
	gen     uint64
}

// Begin acquires the turn lock for the acting player, synchronously with
// the roll request. Dice range is the input boundary's contract, not
// checked here.
func (e *Engine) Begin(actorID string, dice int, fortune int64) (*Turn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	if e.state.GameOver {
		return nil, ErrGameOver
	}
	idx := e.state.PlayerIndex(actorID)
	if idx < 0 {
		return nil, ErrPlayerNotFound
	}
	if e.state.TurnLock {
		return nil, ErrTurnLocked
	}
	if idx != e.state.TurnIndex || e.state.Players[idx].Bankrupt {
		return nil, ErrNotYourTurn
	}
	e.state.TurnLock = true
	e.state.LockOwner = actorID
	e.state.LockedAt = e.now().UnixMilli()
	e.lockGen++
	gen := e.lockGen
	e.armWatchdogLocked(gen)
	return &Turn{e: e, actorID: actorID, dice: dice, fortune: fortune, gen: gen}, nil
}

// TakeTurn is Begin followed by Run.
func (e *Engine) TakeTurn(ctx context.Context, actorID string, dice int, fortune int64) error {
	t, err := e.Begin(actorID, dice, fortune)
	if err != nil {
		return err
	}
	return t.Run(ctx)
}

// PendingPrompt exposes the open prompt, if any, to the API layer.
func (e *Engine) PendingPrompt() (Descriptor, bool) {
	return e.prompts.Top()
}

// ResolvePrompt answers the pending prompt. Only the lock owner may
// resolve; anyone else is rejected without touching state.
func (e *Engine) ResolvePrompt(actorID string, res Resolution) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	if !e.state.TurnLock || e.state.LockOwner != actorID {
		e.mu.Unlock()
		return ErrNotYourTurn
	}
	e.armWatchdogLocked(e.lockGen)
	e.mu.Unlock()
	return e.prompts.Resolve(res)
}

// Run resolves the turn: movement, round recompute, then the queued tile
// events strictly in board order, then the turn handoff. It blocks while
// prompts are open and returns once the turn is committed, aborted, or
// taken over by the liveness watchdog.
func (t *Turn) Run(ctx context.Context) error {
	e := t.e

	var events []turnEvent
	endedEarly := false
	err := t.withState(func(st *MatchState, p *Player) error {
		prePos := p.Pos
		mv := Move(prePos, t.dice, TrackLength)
		p.Pos = mv.NewPos
		p.Lap += mv.LapsCrossed
		if t.fortune != 0 {
			p.Cash = clampInt64(p.Cash + t.fortune)
		}
		e.bumpRoundLocked()
		e.appendFeedLocked(fmt.Sprintf("%s rolled %d and moved to tile %d", p.Name, t.dice, p.Pos))
		if e.state.Round > RoundLimit {
			e.endByScoreLocked()
			e.releaseLockLocked()
			endedEarly = true
			return nil
		}
		events = buildEvents(prePos, t.dice)
		return nil
	})
	if err != nil {
		return err
	}
	e.commitCurrent(ctx)
	if endedEarly {
		return nil
	}

	for _, ev := range events {
		ended, err := t.runEvent(ctx, ev)
		if err != nil {
			return err
		}
		if ended {
			return nil
		}
	}
	return t.finish(ctx)
}

type eventKind int

const (
	evRevenue eventKind = iota
	evExpense
	evTile
	evChance
)

type turnEvent struct {
	kind     eventKind
	tilePos  int
	category Category
}

// buildEvents walks every tile the token passes over, closest first, so
// multi-tile jumps resolve in board order. Crossing the start tile queues
// revenue, crossing the expenses tile queues the mandatory expense, and
// the landed tile queues its category prompt or a chance draw.
func buildEvents(prePos, dice int) []turnEvent {
	var events []turnEvent
	for s := 1; s <= dice; s++ {
		tile := (prePos + s) % TrackLength
		if tile == StartTile {
			events = append(events, turnEvent{kind: evRevenue, tilePos: tile})
		}
		if tile == ExpensesTile {
			events = append(events, turnEvent{kind: evExpense, tilePos: tile})
		}
		if s == dice {
			cat := TileCategory(tile + 1)
			switch {
			case cat == CategoryLuck:
				events = append(events, turnEvent{kind: evChance, tilePos: tile})
			case cat == CategoryStart, cat == CategoryExpenses, !NeedsPrompt(cat):
			default:
				events = append(events, turnEvent{kind: evTile, tilePos: tile, category: cat})
			}
		}
	}
	return events
}

func (t *Turn) runEvent(ctx context.Context, ev turnEvent) (ended bool, err error) {
	switch ev.kind {
	case evRevenue:
		return false, t.runRevenue(ctx)
	case evExpense:
		return t.runExpense(ctx)
	case evChance:
		return t.runChance(ctx)
	case evTile:
		return t.runTile(ctx, ev.category)
	}
	return false, nil
}

// runRevenue credits monthly revenue unconditionally.
func (t *Turn) runRevenue(ctx context.Context) error {
	e := t.e
	err := t.withState(func(st *MatchState, p *Player) error {
		amount := MonthlyRevenue(*p, e.tuning)
		p.Cash += amount
		e.appendFeedLocked(fmt.Sprintf("%s collected %d in monthly revenue", p.Name, amount))
		return nil
	})
	if err != nil {
		return err
	}
	e.commitCurrent(ctx)
	return nil
}

// runExpense computes the mandatory monthly expense plus any due loan and
// requires payment, entering the recovery flow on a shortfall.
func (t *Turn) runExpense(ctx context.Context) (ended bool, err error) {
	e := t.e
	var due int64
	var loanDue bool
	err = t.withState(func(st *MatchState, p *Player) error {
		due = MonthlyExpense(*p, e.tuning)
		if p.LoanPending != nil && !p.LoanPending.Charged && st.Round >= p.LoanPending.DueRound {
			due += p.LoanPending.Amount
			loanDue = true
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	paid, ended, err := t.settle(ctx, due, false)
	if err != nil || ended {
		return ended, err
	}
	if !paid {
		return false, nil
	}
	err = t.withState(func(st *MatchState, p *Player) error {
		if loanDue && p.LoanPending != nil {
			p.LoanPending.Charged = true
		}
		e.appendFeedLocked(fmt.Sprintf("%s paid %d in monthly expenses", p.Name, due))
		return nil
	})
	if err != nil {
		return false, err
	}
	e.commitCurrent(ctx)
	return false, nil
}

// runChance draws a card, shows it, and applies its effect against the
// player's state as of resolution time.
func (t *Turn) runChance(ctx context.Context) (ended bool, err error) {
	e := t.e
	e.mu.Lock()
	card := e.deck.Draw()
	e.mu.Unlock()

	res, err := e.prompts.Open(ctx, Descriptor{
		Kind:     PromptChance,
		Category: CategoryLuck,
		Data:     map[string]any{"card": card},
	})
	if err != nil {
		return t.abort(ctx, err)
	}
	_ = res // the card is informational; any acknowledgement applies it

	err = t.withState(func(st *MatchState, p *Player) error {
		*p = ApplyDeltas(*p, card.Effect(*p))
		if card.GrantCert != nil {
			*p = ApplyTrainingPurchase(*p, card.GrantCert.Role, []string{card.GrantCert.Cert})
		}
		e.appendFeedLocked(fmt.Sprintf("%s drew a card: %s", p.Name, card.Text))
		return nil
	})
	if err != nil {
		return false, err
	}
	e.commitCurrent(ctx)
	return false, nil
}

// runTile opens the category prompt for the landed tile and interprets its
// resolution. Declining is never an error, the turn simply moves on.
func (t *Turn) runTile(ctx context.Context, cat Category) (ended bool, err error) {
	e := t.e
	var data map[string]any
	err = t.withState(func(st *MatchState, p *Player) error {
		data = e.tilePromptData(*p, cat)
		return nil
	})
	if err != nil {
		return false, err
	}

	res, err := e.prompts.Open(ctx, Descriptor{Kind: PromptTile, Category: cat, Data: data})
	if err != nil {
		return t.abort(ctx, err)
	}
	switch res.Action() {
	case ActionBuy, ActionHire, ActionOK:
	default:
		return false, nil
	}

	plan, ok := purchasePlan(cat, res, e.tuning)
	if !ok {
		e.mu.Lock()
		e.appendFeedLocked("Purchase request was malformed and was ignored")
		e.mu.Unlock()
		return false, nil
	}

	paid, ended, err := t.settle(ctx, plan.cost, true)
	if err != nil || ended {
		return ended, err
	}
	if !paid {
		return false, nil
	}
	err = t.withState(func(st *MatchState, p *Player) error {
		*p = ApplyDeltas(*p, plan.deltas)
		if plan.training != nil {
			*p = ApplyTrainingPurchase(*p, plan.training.role, plan.training.certs)
		}
		e.appendFeedLocked(fmt.Sprintf("%s %s for %d", p.Name, plan.describe, plan.cost))
		return nil
	})
	if err != nil {
		return false, err
	}
	e.commitCurrent(ctx)
	return false, nil
}

// settle debits amount from the acting player, entering the recursive
// recovery flow on a shortfall. The pending amount never changes across
// recovery rounds. cancellable marks optional purchases, where backing out
// is allowed; mandatory expenses offer no cancel.
//
// Returns paid=false only for a cancelled optional purchase; ended=true
// when the player went bankrupt and the turn already advanced.
func (t *Turn) settle(ctx context.Context, amount int64, cancellable bool) (paid, ended bool, err error) {
	e := t.e
	for {
		var cash int64
		var shortfall int64
		err = t.withState(func(st *MatchState, p *Player) error {
			cash = p.Cash
			shortfall = amount - cash
			if shortfall <= 0 {
				p.Cash -= amount
			}
			return nil
		})
		if err != nil {
			return false, false, err
		}
		if shortfall <= 0 {
			return true, false, nil
		}

		res, oerr := e.prompts.Open(ctx, Descriptor{
			Kind: PromptRecovery,
			Data: map[string]any{
				"amountDue": amount,
				"cash":      cash,
				"shortfall": shortfall,
				"canCancel": cancellable,
			},
		})
		if oerr != nil {
			ended, err = t.abort(ctx, oerr)
			return false, ended, err
		}

		switch res.Action() {
		case ActionCancel:
			if cancellable {
				return false, false, nil
			}
		case ActionBankrupt:
			ended, err = t.goBankrupt(ctx)
			return false, ended, err
		case ActionLoan:
			err = t.withState(func(st *MatchState, p *Player) error {
				if p.LoanPending != nil && !p.LoanPending.Charged {
					e.appendFeedLocked(fmt.Sprintf("%s was refused a loan: one is already outstanding", p.Name))
					return nil
				}
				loan := res.Int64("amount")
				if loan <= 0 {
					loan = shortfall
				}
				p.Cash += loan
				p.LoanPending = &Loan{Amount: loan, DueRound: st.Round + 1}
				e.appendFeedLocked(fmt.Sprintf("%s took a loan of %d, due in round %d", p.Name, loan, st.Round+1))
				return nil
			})
		case ActionReduceERP:
			err = t.withState(func(st *MatchState, p *Player) error {
				tier := tierOrBaseline(p.ERPLevel)
				if tier == TierBaseline {
					e.appendFeedLocked(fmt.Sprintf("%s has no ERP tier left to downgrade", p.Name))
					return nil
				}
				refund := e.tuning.ERP[tier].Refund
				p.ERPLevel = TierBelow(tier)
				p.Cash += refund
				e.appendFeedLocked(fmt.Sprintf("%s downgraded ERP %s to %s for a %d refund", p.Name, tier, p.ERPLevel, refund))
				return nil
			})
		case ActionReduceMix:
			err = t.withState(func(st *MatchState, p *Player) error {
				tier := tierOrBaseline(p.MixProducts)
				if tier == TierBaseline {
					e.appendFeedLocked(fmt.Sprintf("%s has no product mix tier left to downgrade", p.Name))
					return nil
				}
				refund := e.tuning.Mix[tier].Refund
				p.MixProducts = TierBelow(tier)
				p.Cash += refund
				e.appendFeedLocked(fmt.Sprintf("%s downgraded product mix %s to %s for a %d refund", p.Name, tier, p.MixProducts, refund))
				return nil
			})
		case ActionLayoff:
			err = t.withState(func(st *MatchState, p *Player) error {
				role, qty := layoffPick(*p, res)
				if qty == 0 {
					e.appendFeedLocked(fmt.Sprintf("%s has no staff left to lay off", p.Name))
					return nil
				}
				refund := e.tuning.Roles[role].LayoffRefund * int64(qty)
				*p = ApplyDeltas(*p, map[string]any{roleDeltaKey(role): -qty})
				p.Cash += refund
				e.appendFeedLocked(fmt.Sprintf("%s laid off %d %s for a %d refund", p.Name, qty, role, refund))
				return nil
			})
		default:
			// A dismissed mandatory prompt reopens. Force-release
			// breaks the loop via the generation check above.
		}
		if err != nil {
			return false, false, err
		}
		e.commitCurrent(ctx)
	}
}

// layoffPick chooses which role to cut. The resolution may name a role and
// quantity; otherwise the first role with headcount goes, one at a time.
func layoffPick(p Player, res Resolution) (Role, int) {
	role := Role(res.String("role"))
	valid := false
	for _, r := range AllRoles {
		if r == role {
			valid = true
		}
	}
	if !valid || p.Headcount(role) == 0 {
		role = ""
		for _, r := range AllRoles {
			if p.Headcount(r) > 0 {
				role = r
				break
			}
		}
		if role == "" {
			return "", 0
		}
	}
	qty := int(res.Int64("qty"))
	if qty <= 0 {
		qty = 1
	}
	if have := p.Headcount(role); qty > have {
		qty = have
	}
	return role, qty
}

// goBankrupt flags the acting player, drops any obligation, and hands the
// turn off immediately. Remaining queued events never run.
func (t *Turn) goBankrupt(ctx context.Context) (ended bool, err error) {
	e := t.e
	err = t.withState(func(st *MatchState, p *Player) error {
		p.Bankrupt = true
		p.LoanPending = nil
		e.appendFeedLocked(fmt.Sprintf("%s went bankrupt", p.Name))
		e.advanceTurnLocked()
		return nil
	})
	if err != nil {
		return false, err
	}
	e.commitCurrent(ctx)
	return true, nil
}

// finish hands the turn to the next living player and commits.
func (t *Turn) finish(ctx context.Context) error {
	e := t.e
	err := t.withState(func(st *MatchState, p *Player) error {
		e.advanceTurnLocked()
		return nil
	})
	if err != nil {
		return err
	}
	e.commitCurrent(ctx)
	return nil
}

// abort releases the lock after a cancelled or broken resolution so the
// lock is never left held. The cause is logged, not surfaced to players.
func (t *Turn) abort(ctx context.Context, cause error) (ended bool, err error) {
	e := t.e
	werr := t.withState(func(st *MatchState, p *Player) error {
		e.log.Info("turn resolution aborted", "room", st.RoomID, "player", t.actorID, "cause", cause)
		e.appendFeedLocked(fmt.Sprintf("%s's turn was interrupted", p.Name))
		e.releaseLockLocked()
		return nil
	})
	if werr == nil {
		e.commitCurrent(context.WithoutCancel(ctx))
	}
	return true, cause
}

// DeclareBankruptcy is the explicit player-initiated exit, allowed on the
// player's own turn when no prompt is mid-flight (the recovery prompt has
// its own bankrupt action).
func (e *Engine) DeclareBankruptcy(ctx context.Context, actorID string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	if e.state.GameOver {
		e.mu.Unlock()
		return ErrGameOver
	}
	idx := e.state.PlayerIndex(actorID)
	if idx < 0 {
		e.mu.Unlock()
		return ErrPlayerNotFound
	}
	if idx != e.state.TurnIndex {
		e.mu.Unlock()
		return ErrNotYourTurn
	}
	if e.state.TurnLock && e.state.LockOwner != actorID {
		e.mu.Unlock()
		return ErrTurnLocked
	}
	if _, open := e.prompts.Top(); open {
		e.mu.Unlock()
		return ErrTurnLocked
	}
	p := &e.state.Players[idx]
	p.Bankrupt = true
	p.LoanPending = nil
	e.appendFeedLocked(fmt.Sprintf("%s declared bankruptcy", p.Name))
	e.lockGen++
	e.stopWatchdogLocked()
	e.advanceTurnLocked()
	snap := e.state.Clone()
	e.mu.Unlock()
	e.commit(ctx, snap)
	return nil
}

// ApplyRemoteSnapshot merges a snapshot received from either sync channel.
// Both the broadcast and store paths land here so recency protection and
// round monotonicity are defined once. Returns whether the snapshot was
// applied. Idempotent.
func (e *Engine) ApplyRemoteSnapshot(remote MatchState) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	if remote.RoomID != "" && remote.RoomID != e.state.RoomID {
		e.log.Warn("discarding snapshot for wrong room", "got", remote.RoomID, "want", e.state.RoomID)
		return false
	}
	if len(remote.Players) == 0 {
		e.log.Warn("discarding malformed remote snapshot", "room", e.state.RoomID)
		return false
	}
	// A turn resolving locally outranks anything remote: this node holds
	// the advisory lock and is the single writer right now.
	if e.state.TurnLock {
		return false
	}
	now := e.now()
	window := e.tuning.RecencyWindow
	if window <= 0 {
		window = 4 * time.Second
	}
	if e.state.TurnIndex != e.prevTurnIndex &&
		now.Sub(e.turnChangedAt) < window &&
		remote.TurnIndex == e.prevTurnIndex {
		return false
	}
	if e.state.Round != e.prevRound &&
		now.Sub(e.roundChangedAt) < window &&
		remote.Round == e.prevRound {
		return false
	}

	next := remote.Clone()
	next.RoomID = e.state.RoomID
	if next.Round < e.state.Round {
		next.Round = e.state.Round
	}
	next.TurnLock = false
	next.LockOwner = ""
	next.LockedAt = 0
	if e.state.GameOver && !next.GameOver {
		next.GameOver = true
		next.Winners = append([]string(nil), e.state.Winners...)
	}
	e.state = next
	e.notifyLocked(e.state.Clone())
	return true
}

// --- internals ---

// withState runs fn with the mutex held and the acting player resolved,
// failing fast when the turn generation is stale (force-release or match
// end happened underneath us).
func (t *Turn) withState(fn func(st *MatchState, p *Player) error) error {
	e := t.e
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	if t.gen != e.lockGen {
		return ErrTurnLocked
	}
	idx := e.state.PlayerIndex(t.actorID)
	if idx < 0 {
		e.log.Error("acting player vanished mid-turn", "room", e.state.RoomID, "player", t.actorID)
		e.releaseLockLocked()
		return ErrPlayerNotFound
	}
	return fn(&e.state, &e.state.Players[idx])
}

func (e *Engine) bumpRoundLocked() {
	derived := e.state.DerivedRound()
	if derived > e.state.Round {
		e.prevRound = e.state.Round
		e.roundChangedAt = e.now()
		e.state.Round = derived
	}
}

// advanceTurnLocked rotates to the next living player and releases the
// lock. With one or zero players left the match ends instead.
func (e *Engine) advanceTurnLocked() {
	if e.state.AliveCount() <= 1 {
		e.endBySurvivorLocked()
		e.releaseLockLocked()
		return
	}
	next := e.state.NextAliveIndex(e.state.TurnIndex)
	if next >= 0 && next != e.state.TurnIndex {
		e.prevTurnIndex = e.state.TurnIndex
		e.turnChangedAt = e.now()
		e.state.TurnIndex = next
	}
	e.releaseLockLocked()
}

func (e *Engine) endBySurvivorLocked() {
	e.state.GameOver = true
	e.state.Winners = nil
	for _, p := range e.state.Players {
		if !p.Bankrupt {
			e.state.Winners = append(e.state.Winners, p.ID)
		}
	}
	e.appendFeedLocked("Game over: last company standing")
}

// endByScoreLocked closes the match at the round limit: highest cash plus
// liquidation value among living players wins, every tied player included.
func (e *Engine) endByScoreLocked() {
	e.state.GameOver = true
	var best int64
	first := true
	for _, p := range e.state.Players {
		if p.Bankrupt {
			continue
		}
		score := p.Cash + AssetValue(p, e.tuning)
		if first || score > best {
			best = score
			first = false
		}
	}
	e.state.Winners = nil
	for _, p := range e.state.Players {
		if p.Bankrupt {
			continue
		}
		if p.Cash+AssetValue(p, e.tuning) == best {
			e.state.Winners = append(e.state.Winners, p.ID)
		}
	}
	e.appendFeedLocked(fmt.Sprintf("Game over after round %d", RoundLimit))
}

func (e *Engine) releaseLockLocked() {
	e.state.TurnLock = false
	e.state.LockOwner = ""
	e.state.LockedAt = 0
	e.lockGen++
	e.stopWatchdogLocked()
}

func (e *Engine) armWatchdogLocked(gen uint64) {
	e.stopWatchdogLocked()
	d := e.tuning.LockTimeout
	if d <= 0 {
		d = 25 * time.Second
	}
	e.watchdog = time.AfterFunc(d, func() { e.forceRelease(gen) })
}

func (e *Engine) stopWatchdogLocked() {
	if e.watchdog != nil {
		e.watchdog.Stop()
		e.watchdog = nil
	}
}

// forceRelease is the last-resort liveness guarantee: the lock is taken
// away from a stalled turn and play moves on. The stalled goroutine sees
// the bumped generation and stops mutating.
func (e *Engine) forceRelease(gen uint64) {
	e.mu.Lock()
	if e.closed || gen != e.lockGen || !e.state.TurnLock {
		e.mu.Unlock()
		return
	}
	owner := e.state.LockOwner
	e.log.Warn("turn lock held past liveness timeout, force releasing",
		"room", e.state.RoomID, "owner", owner)
	if idx := e.state.PlayerIndex(owner); idx >= 0 {
		e.appendFeedLocked(fmt.Sprintf("%s's turn timed out", e.state.Players[idx].Name))
	}
	e.advanceTurnLocked()
	snap := e.state.Clone()
	e.mu.Unlock()
	e.prompts.CloseAll()
	e.commit(context.Background(), snap)
}

func (e *Engine) commitCurrent(ctx context.Context) {
	e.mu.Lock()
	snap := e.state.Clone()
	e.mu.Unlock()
	e.commit(ctx, snap)
}

func (e *Engine) commit(ctx context.Context, snap MatchState) {
	e.mu.Lock()
	e.notifyLocked(snap)
	c := e.committer
	e.mu.Unlock()
	if c == nil {
		return
	}
	if err := c.Commit(ctx, snap.RoomID, snap); err != nil {
		// Local optimistic state stands until the next remote update.
		e.log.Error("snapshot commit failed", "room", snap.RoomID, "err", err)
	}
}

func (e *Engine) notifyLocked(snap MatchState) {
	for _, ch := range e.watchers {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (e *Engine) appendFeedLocked(text string) {
	e.feed = append(e.feed, FeedEntry{At: e.now(), Text: text})
	if len(e.feed) > feedCap {
		e.feed = e.feed[len(e.feed)-feedCap:]
	}
}

func (e *Engine) tilePromptData(p Player, cat Category) map[string]any {
	data := map[string]any{"cash": p.Cash}
	switch cat {
	case CategoryERP:
		data["current"] = string(tierOrBaseline(p.ERPLevel))
		data["catalog"] = e.tuning.ERP
	case CategoryMix:
		data["current"] = string(tierOrBaseline(p.MixProducts))
		data["catalog"] = e.tuning.Mix
	case CategoryTraining:
		data["catalog"] = e.tuning.TrainingCatalog
		data["held"] = p.Trainings
	case CategoryCommonSellers, CategoryFieldSales, CategoryInsideSales, CategoryManager:
		role, _ := roleForCategory(cat)
		data["role"] = string(role)
		data["hireCost"] = e.tuning.Roles[role].HireCost
		data["headcount"] = p.Headcount(role)
	case CategoryClients, CategoryDirectBuy:
		data["clientPrice"] = e.tuning.ClientPrice
		data["clients"] = p.Clients
	}
	return data
}

func roleForCategory(cat Category) (Role, bool) {
	switch cat {
	case CategoryCommonSellers:
		return RoleCommonSeller, true
	case CategoryFieldSales:
		return RoleFieldSales, true
	case CategoryInsideSales:
		return RoleInsideSales, true
	case CategoryManager:
		return RoleManager, true
	}
	return "", false
}

func roleDeltaKey(r Role) string {
	switch r {
	case RoleCommonSeller:
		return "vendedoresComunsDelta"
	case RoleFieldSales:
		return "fieldSalesDelta"
	case RoleInsideSales:
		return "insideSalesDelta"
	case RoleManager:
		return "gestoresDelta"
	}
	return ""
}

type trainingBuy struct {
	role  Role
	certs []string
}

// maxPurchaseQty bounds client-declared quantities. Anything beyond it is
// a malformed payload, not a plausible board move, and large values would
// overflow the int64 cost multiplication into a negative debit.
const maxPurchaseQty = 1000

type purchase struct {
	cost     int64
	deltas   map[string]any
	training *trainingBuy
	describe string
}

// purchasePlan turns a confirmed tile resolution into a priced set of
// ledger deltas. Prices come from the tuning catalog, never from the
// client payload; the one exception is the free-form direct-buy tile,
// which declares its own cost and deltas. Malformed payloads report !ok
// and are treated as a skip.
func purchasePlan(cat Category, res Resolution, t Tuning) (purchase, bool) {
	switch cat {
	case CategoryERP:
		tier, ok := ParseTier(res.String("tier"))
		if !ok {
			return purchase{}, false
		}
		return purchase{
			cost:     t.ERP[tier].Price,
			deltas:   map[string]any{"erpLevelSet": string(tier)},
			describe: fmt.Sprintf("bought ERP tier %s", tier),
		}, true
	case CategoryMix:
		tier, ok := ParseTier(res.String("tier"))
		if !ok {
			return purchase{}, false
		}
		return purchase{
			cost:     t.Mix[tier].Price,
			deltas:   map[string]any{"mixProdutosSet": string(tier)},
			describe: fmt.Sprintf("bought product mix tier %s", tier),
		}, true
	case CategoryTraining:
		role := Role(res.String("role"))
		certs := stringList(res["certs"])
		if c := res.String("cert"); c != "" {
			certs = append(certs, c)
		}
		if len(certs) == 0 {
			return purchase{}, false
		}
		var cost int64
		for _, cert := range certs {
			price, ok := t.trainingPrice(role, cert)
			if !ok {
				return purchase{}, false
			}
			cost += price
		}
		return purchase{
			cost:     cost,
			deltas:   map[string]any{},
			training: &trainingBuy{role: role, certs: certs},
			describe: fmt.Sprintf("bought %d training(s) for %s", len(certs), role),
		}, true
	case CategoryCommonSellers, CategoryFieldSales, CategoryInsideSales, CategoryManager:
		role, _ := roleForCategory(cat)
		qty, ok := purchaseQty(res)
		if !ok {
			return purchase{}, false
		}
		return purchase{
			cost:     t.Roles[role].HireCost * int64(qty),
			deltas:   map[string]any{roleDeltaKey(role): qty},
			describe: fmt.Sprintf("hired %d %s", qty, role),
		}, true
	case CategoryClients:
		qty, ok := purchaseQty(res)
		if !ok {
			return purchase{}, false
		}
		return purchase{
			cost:     t.ClientPrice * int64(qty),
			deltas:   map[string]any{"clientsDelta": qty},
			describe: fmt.Sprintf("signed %d new client(s)", qty),
		}, true
	case CategoryDirectBuy:
		cost := res.Int64("cost")
		deltas := map[string]any{}
		for _, key := range []string{"clientsDelta", "vendedoresComunsDelta", "fieldSalesDelta", "insideSalesDelta", "gestoresDelta", "erpLevelSet", "mixProdutosSet"} {
			if v, here := res[key]; here {
				deltas[key] = v
			}
		}
		if cost < 0 || (cost == 0 && len(deltas) == 0) {
			return purchase{}, false
		}
		return purchase{cost: cost, deltas: deltas, describe: "made a direct purchase"}, true
	}
	return purchase{}, false
}

// purchaseQty reads the declared quantity, defaulting a missing one to a
// single unit. Negative or absurd values report !ok.
func purchaseQty(res Resolution) (int, bool) {
	qty := res.Int64("qty")
	if qty == 0 {
		return 1, true
	}
	if qty < 0 || qty > maxPurchaseQty {
		return 0, false
	}
	return int(qty), true
}

func stringList(raw any) []string {
	var out []string
	switch v := raw.(type) {
	case []string:
		out = append(out, v...)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}
