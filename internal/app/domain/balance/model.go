package balance

import "time"

// Account holds the spendable amount of one address.
type Account struct {
	Address   string    `json:"address"`
	Amount    uint64    `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Direction of a ledger movement.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// Transaction records a single ledger movement.
type Transaction struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"`
	Direction Direction `json:"direction"`
	Amount    uint64    `json:"amount"`
	Reference string    `json:"reference,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
