package game

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Prompt actions the engine pattern-matches on. UIs may send more; anything
// unrecognized is treated as a skip.
const (
	ActionBuy       = "BUY"
	ActionHire      = "HIRE"
	ActionSkip      = "SKIP"
	ActionCancel    = "CANCEL"
	ActionOK        = "OK"
	ActionLoan      = "LOAN"
	ActionReduceERP = "REDUCE_ERP"
	ActionReduceMix = "REDUCE_MIX"
	ActionLayoff    = "LAYOFF"
	ActionBankrupt  = "BANKRUPT"
)

// Descriptor describes one prompt to the UI collaborator that will render
// it.
type Descriptor struct {
	ID       string         `json:"id"`
	Kind     string         `json:"kind"`
	Category Category       `json:"category,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// Resolution is the payload a prompt UI answers with. The engine reads the
// "action" field plus named numeric fields (cost, qty, amount, ...deltas).
type Resolution map[string]any

func (r Resolution) Action() string {
	s := strings.ToUpper(strings.TrimSpace(asString(r["action"])))
	if s == "" {
		return ActionSkip
	}
	return s
}

func (r Resolution) Int64(key string) int64 {
	return asInt64(r[key])
}

func (r Resolution) String(key string) string {
	return asString(r[key])
}

func skipResolution() Resolution {
	return Resolution{"action": ActionSkip}
}

type openPrompt struct {
	desc Descriptor
	ch   chan Resolution
	done bool
}

// Orchestrator is a single global modal stack per match. Open blocks the
// resolving goroutine until someone resolves the prompt; nesting works
// because a caller may Open again from inside an outer Open's continuation.
// Ordering beyond stack semantics (last opened resolves first) is the
// caller's job.
type Orchestrator struct {
	mu     sync.Mutex
	stack  []*openPrompt
	onOpen func(Descriptor)
}

func NewOrchestrator() *Orchestrator {
	return &Orchestrator{}
}

// OnOpen registers a listener invoked whenever a prompt is pushed. Used by
// the API layer to push pending prompts to clients.
func (o *Orchestrator) OnOpen(fn func(Descriptor)) {
	o.mu.Lock()
	o.onOpen = fn
	o.mu.Unlock()
}

// Open pushes a prompt and blocks until it resolves. Context cancellation
// resolves the prompt as a skip and reports the context error, so an
// aborted turn never leaves a prompt hanging.
func (o *Orchestrator) Open(ctx context.Context, desc Descriptor) (Resolution, error) {
	if desc.ID == "" {
		desc.ID = uuid.NewString()
	}
	p := &openPrompt{desc: desc, ch: make(chan Resolution, 1)}

	o.mu.Lock()
	o.stack = append(o.stack, p)
	notify := o.onOpen
	o.mu.Unlock()
	if notify != nil {
		notify(desc)
	}

	select {
	case res := <-p.ch:
		return res, nil
	case <-ctx.Done():
		o.remove(p)
		return skipResolution(), ctx.Err()
	}
}

// Resolve answers the top prompt. Each prompt resolves exactly once.
func (o *Orchestrator) Resolve(res Resolution) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.stack) == 0 {
		return ErrNoPendingPrompt
	}
	top := o.stack[len(o.stack)-1]
	o.stack = o.stack[:len(o.stack)-1]
	if top.done {
		return ErrNoPendingPrompt
	}
	top.done = true
	if res == nil {
		res = skipResolution()
	}
	top.ch <- res
	return nil
}

// CloseTop dismisses the top prompt without a decision; it still resolves,
// as a skip, so the turn engine never waits forever.
func (o *Orchestrator) CloseTop() {
	_ = o.Resolve(skipResolution())
}

// CloseAll skip-resolves every open prompt, top first. Used by the lock
// watchdog and on engine shutdown.
func (o *Orchestrator) CloseAll() {
	for {
		if err := o.Resolve(skipResolution()); err != nil {
			return
		}
	}
}

// Top returns the currently pending prompt, if any.
func (o *Orchestrator) Top() (Descriptor, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.stack) == 0 {
		return Descriptor{}, false
	}
	return o.stack[len(o.stack)-1].desc, true
}

func (o *Orchestrator) remove(target *openPrompt) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, p := range o.stack {
		if p == target {
			o.stack = append(o.stack[:i], o.stack[i+1:]...)
			target.done = true
			return
		}
	}
}
