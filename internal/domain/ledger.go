package domain

import "time"

// LedgerEntryType distinguishes the debit and credit halves of a
// double-entry transaction.
type LedgerEntryType string

const (
	EntryDebit  LedgerEntryType = "debit"
	EntryCredit LedgerEntryType = "credit"
)

// LedgerTxType names the kind of transaction a pair of ledger entries
// records.
type LedgerTxType string

const (
	TxChatUsage LedgerTxType = "chat_usage"
	TxRefund    LedgerTxType = "refund"
	TxGrant     LedgerTxType = "grant"
)

// LedgerEntry is one entry of a credit transaction: a chat charge writes
// a matched debit/credit pair whose amounts are equal, while a grant
// writes a single credit entry to the pool.
type LedgerEntry struct {
	ID          int64           `json:"id"`
	Timestamp   time.Time       `json:"timestamp"`
	Type        LedgerTxType    `json:"type"`
	EntryType   LedgerEntryType `json:"entryType"`
	Account     string          `json:"account"`
	Amount      int64           `json:"amount"`
	SessionID   string          `json:"sessionId,omitempty"`
	Description string          `json:"description,omitempty"`
	Balance     int64           `json:"balance"`
}
