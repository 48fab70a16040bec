package types

import "time"

// TransactionStatus is a state of the borrow/return lifecycle.
type TransactionStatus string

const (
	// StatusPending is a borrow request awaiting admin approval.
	// Inventory is unaffected.
	StatusPending TransactionStatus = "Pending"

	// StatusBorrowed is an approved loan holding one unit of inventory.
	StatusBorrowed TransactionStatus = "Borrowed"

	// StatusPendingReturn is a return request awaiting admin approval.
	// The inventory unit is still held.
	StatusPendingReturn TransactionStatus = "PendingReturn"

	// StatusReturned is the terminal state: the loan is complete and the
	// inventory unit has been released.
	StatusReturned TransactionStatus = "Returned"
)

// Valid reports whether s is a known status.
func (s TransactionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusBorrowed, StatusPendingReturn, StatusReturned:
		return true
	}
	return false
}

// Open reports whether the status is not terminal.
func (s TransactionStatus) Open() bool {
	return s.Valid() && s != StatusReturned
}

// Transaction tracks a single loan of one book by one user, from the
// borrow request to the approved return.
type Transaction struct {
	// ID is the unique identifier of the transaction.
	ID int64 `json:"id" db:"id"`

	// UserID references the borrowing user.
	UserID int `json:"user_id" db:"user_id"`

	// BookID references the borrowed book.
	BookID int `json:"book_id" db:"book_id"`

	// Status is the current lifecycle state.
	Status TransactionStatus `json:"status" db:"status"`

	// BorrowDate is set when the borrow request is created.
	BorrowDate time.Time `json:"borrow_date" db:"borrow_date"`

	// ReturnDate is set only when a return is approved.
	ReturnDate *time.Time `json:"return_date" db:"return_date"`

	// UpdatedAt is the timestamp of the most recent transition.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Stats summarises the system for the admin dashboard.
type Stats struct {
	TotalUsers        int `json:"total_users"`
	TotalAdmins       int `json:"total_admins"`
	TotalRegularUsers int `json:"total_regular_users"`
	TotalBooks        int `json:"total_books"`
	TotalTransactions int `json:"total_transactions"`
	PendingBorrows    int `json:"pending_borrows"`
	ActiveBorrows     int `json:"active_borrows"`
	PendingReturns    int `json:"pending_returns"`
	ReturnedBooks     int `json:"returned_books"`
}
