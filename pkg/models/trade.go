package models

import (
	"time"
)

// TradeRecord captures one pass of the decision pipeline for an underlying.
type TradeRecord struct {
	ID         string            `json:"id"`
	Underlying string            `json:"underlying"`
	Side       OptionClass       `json:"side"`
	Policy     ExpiryPolicy      `json:"policy"`
	Contract   *SelectedContract `json:"contract,omitempty"`
	Qty        int64             `json:"qty"`
	OrderID    string            `json:"order_id,omitempty"`
	Fill       *FillResult       `json:"fill,omitempty"`
	Skipped    bool              `json:"skipped"`
	Reason     string            `json:"reason,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// Cooldown blocks selection for an underlying until Until.
type Cooldown struct {
	Underlying string    `json:"underlying"`
	Reason     string    `json:"reason"`
	Until      time.Time `json:"until"`
}

func (c Cooldown) ActiveAt(now time.Time) bool {
	return now.Before(c.Until)
}
