package model

import "time"

// AccountStatus is the lifecycle state of a bank account.
type AccountStatus string

const (
	AccountOpen   AccountStatus = "OPEN"
	AccountClosed AccountStatus = "CLOSED"
)

// BankAccount holds integer minor units. Closed accounts are read-only
// and retain zero balance.
type BankAccount struct {
	ID        int64
	OwnerID   int64
	BankID    int64
	Balance   int64
	Status    AccountStatus
	Overdraft int64 // authorised overdraft, 0 for none
	OpenedAt  time.Time
}

// CanDebit reports whether the account may be debited by amount without
// violating its overdraft policy.
func (a *BankAccount) CanDebit(amount int64) bool {
	return a.Status == AccountOpen && a.Balance-amount >= -a.Overdraft
}

// BankTransaction is one leg of a double-entry transfer. The two legs
// of a transfer share TransferID; amounts over all legs (including the
// fee leg) sum to zero.
type BankTransaction struct {
	ID         int64
	TransferID string
	AccountID  int64
	Amount     int64 // negative = debit
	Fee        int64
	PID        int64 // originating process, 0 for out-of-band transfers
	CreatedAt  time.Time
}
