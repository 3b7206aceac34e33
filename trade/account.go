package trade

import (
	"sync"
	"time"

	"github.com/niftyalgo/trader/market"
)

// Account owns one client's pending setups and positions. Every
// mutation goes through its mutex so a monitoring tick and an external
// adjustment cannot interleave mid-update.
type Account struct {
	mu sync.Mutex

	Code string

	setups    map[string]*Setup
	consumed  map[string]bool
	positions map[string]*Position // open, by order id
	closed    []*Position
	proposals map[string]float64 // order id -> proposed stop, applied next tick
}

func newAccount(code string) *Account {
	return &Account{
		Code:      code,
		setups:    make(map[string]*Setup),
		consumed:  make(map[string]bool),
		positions: make(map[string]*Position),
		proposals: make(map[string]float64),
	}
}

// ProposeStop queues a stop adjustment for the position. The monitoring
// loop applies it on the next tick so only one goroutine ever writes
// position state.
func (a *Account) ProposeStop(orderID string, stop float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.positions[orderID]; !ok {
		return
	}
	a.proposals[orderID] = stop
}

// TakeProposals drains the queued stop adjustments.
func (a *Account) TakeProposals() map[string]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.proposals) == 0 {
		return nil
	}
	out := a.proposals
	a.proposals = make(map[string]float64)
	return out
}

// AddSetup registers a pending setup. Invalid setups are the caller's
// problem; the account stores whatever the plan layer accepted.
func (a *Account) AddSetup(s *Setup) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.setups[s.ID] = s
	delete(a.consumed, s.ID)
}

// PendingSetups returns the setups still eligible for entry at now,
// dropping the ones whose window has lapsed.
func (a *Account) PendingSetups(now time.Time) []*Setup {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []*Setup
	for id, s := range a.setups {
		if a.consumed[id] {
			continue
		}
		if s.Expired(now) {
			delete(a.setups, id)
			continue
		}
		out = append(out, s)
	}
	return out
}

// Consume marks a setup used. A consumed setup is not offered for entry
// again unless re-enabled.
func (a *Account) Consume(setupID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.consumed[setupID] = true
}

// Reenable makes a consumed setup eligible for a fresh entry. Used when
// its position closed cleanly at the profit target.
func (a *Account) Reenable(setupID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.consumed, setupID)
}

// Reenabled reports whether the setup is currently eligible.
func (a *Account) Reenabled(setupID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, exists := a.setups[setupID]
	return exists && !a.consumed[setupID]
}

// Open registers a verified fill as a live position.
func (a *Account) Open(p *Position) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.positions[p.OrderID] = p
}

// OpenPositions snapshots the live positions.
func (a *Account) OpenPositions() []*Position {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]*Position, 0, len(a.positions))
	for _, p := range a.positions {
		out = append(out, p)
	}
	return out
}

// OpenCount returns the number of live positions.
func (a *Account) OpenCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.positions)
}

// OpenTypes lists the option types currently held, for the correlation
// gate.
func (a *Account) OpenTypes() []market.OptionType {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []market.OptionType
	for _, p := range a.positions {
		out = append(out, p.Instrument.OptionType)
	}
	return out
}

// Retire moves a terminal position out of the open set.
func (a *Account) Retire(orderID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.positions[orderID]
	if !ok {
		return
	}
	delete(a.positions, orderID)
	a.closed = append(a.closed, p)
}

// ClosedPositions snapshots today's finished trades.
func (a *Account) ClosedPositions() []*Position {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*Position(nil), a.closed...)
}

// Book is the repository of account aggregates. Accounts are created
// lazily on first access and live for the process lifetime.
type Book struct {
	mu       sync.Mutex
	accounts map[string]*Account
}

func NewBook() *Book {
	return &Book{accounts: make(map[string]*Account)}
}

// Account returns the aggregate for code, creating it if needed.
func (b *Book) Account(code string) *Account {
	b.mu.Lock()
	defer b.mu.Unlock()

	a, ok := b.accounts[code]
	if !ok {
		a = newAccount(code)
		b.accounts[code] = a
	}
	return a
}

// Codes lists the accounts registered so far.
func (b *Book) Codes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, 0, len(b.accounts))
	for code := range b.accounts {
		out = append(out, code)
	}
	return out
}
