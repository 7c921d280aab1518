package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type InventoryOperation string

const (
	InventorySet      InventoryOperation = "SET"
	InventoryIncrease InventoryOperation = "INCREASE"
	InventoryDecrease InventoryOperation = "DECREASE"
)

func (op InventoryOperation) Valid() bool {
	switch op {
	case InventorySet, InventoryIncrease, InventoryDecrease:
		return true
	}
	return false
}

type Car struct {
	ID        int64           `json:"id"`
	Brand     string          `json:"brand"`
	Model     string          `json:"model"`
	Inventory int             `json:"inventory"`
	DailyFee  decimal.Decimal `json:"daily_fee"`
	Deleted   bool            `json:"deleted"`
	CreatedOn time.Time       `json:"created_on"`
	UpdatedOn time.Time       `json:"updated_on"`
}

// IsAvailable reports whether at least one unit can be rented right now.
func (c *Car) IsAvailable() bool {
	return !c.Deleted && c.Inventory >= 1
}

// ApplyInventory computes the new counter for op without touching the car
// when the result would be invalid.
func (c *Car) ApplyInventory(op InventoryOperation, quantity int) error {
	if quantity < 0 {
		return ErrInvalidQuantity
	}

	next := c.Inventory
	switch op {
	case InventorySet:
		next = quantity
	case InventoryIncrease:
		next += quantity
	case InventoryDecrease:
		next -= quantity
		if next < 0 {
			return ErrInsufficientInventory
		}
	default:
		return ErrInvalidInput
	}

	c.Inventory = next
	return nil
}
