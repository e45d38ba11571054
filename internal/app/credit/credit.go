// Package credit implements the double-entry credit ledger backing the
// chat endpoint's creditsUsed field: every chat turn debits the node's
// pool account and credits the session's usage account by the same
// amount. Grant credits the pool with a single entry and no matching
// debit.
package credit

import (
	"fmt"
	"sync"
	"time"

	"github.com/mabou7agar/nodefabric/internal/domain"
	"github.com/mabou7agar/nodefabric/internal/infra/sqlite"
)

const poolAccount = "node_pool"

// Ledger provides per-account balances backed by a LedgerStore.
type Ledger interface {
	Insert(e domain.LedgerEntry) (int64, error)
	Balance(account string) (int64, error)
}

// Service prices and records chat usage against the node's credit pool.
// mu serializes every balance-read-then-insert sequence below: without
// it, two concurrent ChargeChat calls could both read the same pool
// balance before either writes its debit, letting the pool go negative.
type Service struct {
	mu     sync.Mutex
	ledger Ledger
}

// NewService constructs a Service over db's ledger store.
func NewService(db *sqlite.DB) *Service {
	return &Service{ledger: db.LedgerStore()}
}

// PoolBalance returns the remaining balance of the node's credit pool.
func (s *Service) PoolBalance() (int64, error) {
	return s.ledger.Balance(poolAccount)
}

// ChargeChat debits the pool and credits sessionID's usage account by
// amount, returning an error without writing anything if the pool
// cannot cover the charge.
func (s *Service) ChargeChat(amount int64, sessionID string) error {
	if amount <= 0 {
		return fmt.Errorf("credit: charge amount must be positive, got %d", amount)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	poolBal, err := s.ledger.Balance(poolAccount)
	if err != nil {
		return fmt.Errorf("credit: read pool balance: %w", err)
	}
	if poolBal < amount {
		return fmt.Errorf("credit: insufficient pool balance: have %d, need %d", poolBal, amount)
	}

	sessionAccount := "session:" + sessionID
	sessionBal, err := s.ledger.Balance(sessionAccount)
	if err != nil {
		return fmt.Errorf("credit: read session balance: %w", err)
	}

	now := time.Now()
	if _, err := s.ledger.Insert(domain.LedgerEntry{
		Timestamp: now, Type: domain.TxChatUsage, EntryType: domain.EntryDebit,
		Account: poolAccount, Amount: amount, SessionID: sessionID,
		Description: "chat turn", Balance: poolBal - amount,
	}); err != nil {
		return fmt.Errorf("credit: debit pool: %w", err)
	}

	if _, err := s.ledger.Insert(domain.LedgerEntry{
		Timestamp: now, Type: domain.TxChatUsage, EntryType: domain.EntryCredit,
		Account: sessionAccount, Amount: amount, SessionID: sessionID,
		Description: "chat turn", Balance: sessionBal + amount,
	}); err != nil {
		return fmt.Errorf("credit: credit session: %w", err)
	}
	return nil
}

// EstimateChatCost prices a chat turn at one credit per ~1000 characters
// of combined prompt and response, with a floor of 1 credit.
func EstimateChatCost(promptLen, responseLen int) int64 {
	cost := int64((promptLen + responseLen) / 1000)
	if cost < 1 {
		return 1
	}
	return cost
}

// Grant adds amount to the node's credit pool, e.g. on daemon startup
// or an operator top-up.
func (s *Service) Grant(amount int64, reason string) error {
	if amount <= 0 {
		return fmt.Errorf("credit: grant amount must be positive, got %d", amount)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	poolBal, err := s.ledger.Balance(poolAccount)
	if err != nil {
		return fmt.Errorf("credit: read pool balance: %w", err)
	}
	_, err = s.ledger.Insert(domain.LedgerEntry{
		Timestamp: time.Now(), Type: domain.TxGrant, EntryType: domain.EntryCredit,
		Account: poolAccount, Amount: amount, Description: reason, Balance: poolBal + amount,
	})
	if err != nil {
		return fmt.Errorf("credit: grant: %w", err)
	}
	return nil
}
