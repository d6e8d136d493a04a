package models

import "github.com/shopspring/decimal"

// FeeLookupResult is the contracted repossession fee for a case.
type FeeLookupResult struct {
	FeeID          string          `json:"feeId"`
	ClientName     string          `json:"clientName"`
	LienholderName string          `json:"lienholderName"`
	FeeTypeName    string          `json:"feeTypeName"`
	Amount         decimal.Decimal `json:"amount"`
	IsFallback     bool            `json:"isFallback"`
	Placeholder    bool            `json:"placeholder,omitempty"`
	Message        string          `json:"message,omitempty"`
}
