package common

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TimeKeyLayout is the layout of candlestick time keys on the wire, in the
// exchange's local time.
const TimeKeyLayout = "2006-01-02 15:04:05"

// OHLC contains the open, high, low and close prices of a candlestick.
type OHLC struct {
	Open  decimal.Decimal
	High  decimal.Decimal
	Low   decimal.Decimal
	Close decimal.Decimal
}

// KLine is a single candlestick of historical or real-time data.
type KLine struct {
	Instrument Instrument
	KLType     KLType

	// Time is the start of the candlestick period.
	Time time.Time
	OHLC OHLC

	// LastClose is the close price of the previous candlestick.
	LastClose decimal.Decimal

	Volume     int64
	Turnover   decimal.Decimal
	ChangeRate decimal.Decimal
}

func (v KLine) String() string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("[failed to stringify KLine: %s]", err)
	}

	return string(data)
}

// MarketSnapshot is a point-in-time summary of an instrument.
type MarketSnapshot struct {
	Instrument Instrument
	Name       string
	UpdateTime time.Time

	LastPrice      decimal.Decimal
	OpenPrice      decimal.Decimal
	HighPrice      decimal.Decimal
	LowPrice       decimal.Decimal
	PrevClosePrice decimal.Decimal

	Volume    int64
	Turnover  decimal.Decimal
	Suspended bool
}

func (v MarketSnapshot) String() string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("[failed to stringify MarketSnapshot: %s]", err)
	}

	return string(data)
}

// PriceLevel is an aggregated order book level.
type PriceLevel struct {
	Price      decimal.Decimal
	Volume     int64
	OrderCount int32
}

// OrderBook is a full order book snapshot: bids are sorted by price
// descending, asks ascending.
type OrderBook struct {
	Instrument Instrument
	Bids       []PriceLevel
	Asks       []PriceLevel
}

// Empty reports whether both sides of the book are empty.
func (ob OrderBook) Empty() bool {
	return len(ob.Bids) == 0 && len(ob.Asks) == 0
}

// SubscriptionInfo reports the server-side view of subscriptions and the
// quota they consume.
type SubscriptionInfo struct {
	// TotalUsedQuota is the quota used by all connections of the account.
	TotalUsedQuota int
	// OwnUsedQuota is the quota used by this connection.
	OwnUsedQuota int
	RemainQuota  int

	Subscriptions map[SubType][]Instrument
}

func (v SubscriptionInfo) String() string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("[failed to stringify SubscriptionInfo: %s]", err)
	}

	return string(data)
}
