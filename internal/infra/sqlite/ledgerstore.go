package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/mabou7agar/nodefabric/internal/domain"
)

// LedgerStore persists credit ledger entries for internal/app/credit's
// double-entry chat-cost accounting.
type LedgerStore struct {
	db *sql.DB
}

// Insert appends a ledger entry, returning its assigned ID.
func (s *LedgerStore) Insert(e domain.LedgerEntry) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO ledger_entries (timestamp, tx_type, entry_type, account, amount, session_id, description, balance)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp.Unix(), string(e.Type), string(e.EntryType), e.Account, e.Amount, e.SessionID, e.Description, e.Balance,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: insert ledger entry: %w", err)
	}
	return res.LastInsertId()
}

// Balance returns the running balance for account: the balance field of
// its most recently inserted entry, or 0 if the account has none.
func (s *LedgerStore) Balance(account string) (int64, error) {
	var balance int64
	err := s.db.QueryRow(
		`SELECT balance FROM ledger_entries WHERE account = ? ORDER BY id DESC LIMIT 1`, account,
	).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite: read ledger balance: %w", err)
	}
	return balance, nil
}
