package storage

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// Client is a row of rdn_client.
type Client struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"client_name" db:"client_name"`
}

// Lienholder is a row of lienholder.
type Lienholder struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"lienholder_name" db:"lienholder_name"`
}

// FeeType is a row of fee_type.
type FeeType struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"fee_type_name" db:"fee_type_name"`
}

// FeeDetail is a contracted rate joined with the names it refers to.
type FeeDetail struct {
	ID             int64           `json:"fd_id" db:"fd_id"`
	ClientID       int64           `json:"client_id" db:"client_id"`
	LienholderID   int64           `json:"lh_id" db:"lh_id"`
	FeeTypeID      int64           `json:"ft_id" db:"ft_id"`
	ClientName     string          `json:"client_name" db:"client_name"`
	LienholderName string          `json:"lienholder_name" db:"lienholder_name"`
	FeeTypeName    string          `json:"fee_type_name" db:"fee_type_name"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
}
