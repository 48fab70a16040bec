package types

import "time"

// Book represents a catalog title and its currently available copies.
type Book struct {
	// ID is the unique identifier of the book.
	ID int `json:"id" db:"id"`

	// Title is the human-readable title of the book.
	Title string `json:"title" db:"title"`

	// Author is the author's display name.
	Author string `json:"author" db:"author"`

	// ISBN is the unique International Standard Book Number.
	ISBN string `json:"isbn" db:"isbn"`

	// Quantity is the number of copies available to lend. It is
	// decremented when a borrow is approved and incremented when a
	// return is approved, and never goes negative.
	Quantity int `json:"quantity" db:"quantity"`

	// ImageURL optionally references a cover image. It is either an
	// external URL supplied by an admin or the path of an uploaded cover.
	ImageURL *string `json:"image_url" db:"image_url"`

	// ImageKey is the object storage key of an uploaded cover.
	ImageKey string `json:"-" db:"image_key"`

	// CreatedAt is the timestamp at which the book was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the book.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// BookPatch carries a partial book update. Nil fields are left unchanged.
type BookPatch struct {
	Title    *string
	Author   *string
	ISBN     *string
	Quantity *int
	ImageURL *string
}

// InventoryMovement is one entry of the inventory ledger journal.
// Every approved borrow writes a -1 movement and every approved return
// a +1 movement for the same transaction.
type InventoryMovement struct {
	ID            int64     `json:"id" db:"id"`
	BookID        int       `json:"book_id" db:"book_id"`
	TransactionID int64     `json:"transaction_id" db:"transaction_id"`
	Delta         int       `json:"delta" db:"delta"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
