package balance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrOpenReservations    = errors.New("balance has open reservations")
)

// WalletSource reads the exchange wallet.
type WalletSource interface {
	AvailableBalance(ctx context.Context, asset string) (float64, error)
}

// Manager holds the available capital of one session. Every mutation is a
// single critical section, so check-and-debit cannot interleave.
type Manager struct {
	mu        sync.Mutex
	available float64
	reserved  float64
	realized  float64
}

// NewManager creates a ledger seeded with the initial balance.
func NewManager(initial float64) *Manager {
	return &Manager{available: initial}
}

// Available returns the free balance.
func (m *Manager) Available() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

// Snapshot returns available, reserved margin and realized P&L together.
func (m *Manager) Snapshot() (available, reserved, realized float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available, m.reserved, m.realized
}

// Reserve debits margin if the balance covers it.
func (m *Manager) Reserve(amount float64) error {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return fmt.Errorf("invalid reserve amount %v", amount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if amount > m.available {
		return fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientBalance, amount, m.available)
	}
	m.available -= amount
	m.reserved += amount
	return nil
}

// Release returns a reservation untouched, used when an entry is rolled back.
func (m *Manager) Release(amount float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available += amount
	m.reserved -= amount
	log.Printf("balance: released %.4f (available %.4f)", amount, m.available)
}

// Settle credits margin plus realized P&L back and returns the new balance.
func (m *Manager) Settle(margin, pnl float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available += margin + pnl
	m.reserved -= margin
	m.realized += pnl
	return m.available
}

// Sync seeds the ledger from the exchange wallet. It refuses while margin is
// reserved, since the wallet figure already excludes it.
func (m *Manager) Sync(ctx context.Context, src WalletSource, asset string) (float64, error) {
	v, err := src.AvailableBalance(ctx, asset)
	if err != nil {
		return 0, fmt.Errorf("read %s wallet: %w", asset, err)
	}
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid %s wallet balance %v", asset, v)
	}
	m.mu.Lock()
	reserved := m.reserved
	m.mu.Unlock()
	if reserved != 0 {
		return 0, fmt.Errorf("%w: %.4f", ErrOpenReservations, reserved)
	}
	m.SetInitialBalance(v)
	log.Printf("balance: synced %.4f %s from exchange", v, asset)
	return v, nil
}

// SetInitialBalance resets the ledger.
func (m *Manager) SetInitialBalance(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available = v
	m.reserved = 0
	m.realized = 0
}
