package common

import (
	"sort"

	"github.com/juju/errors"
)

// SubType is a kind of real-time data a client can subscribe to.
type SubType int32

// The following constants define every subscription kind. The numeric order
// is significant: registry snapshots and resubscription plans iterate kinds
// in ascending order.
const (
	SubTypeNone SubType = iota
	SubTypeQuote
	SubTypeOrderBook
	SubTypeTicker
	SubTypeRTData
	SubTypeBroker
	SubTypeK1M
	SubTypeK3M
	SubTypeK5M
	SubTypeK15M
	SubTypeK30M
	SubTypeK60M
	SubTypeKDay
	SubTypeKWeek
	SubTypeKMonth
	SubTypeKQuarter
	SubTypeKYear
)

// SubTypeNames contains wire names for SubType.
var SubTypeNames = map[SubType]string{
	SubTypeQuote:     "QUOTE",
	SubTypeOrderBook: "ORDER_BOOK",
	SubTypeTicker:    "TICKER",
	SubTypeRTData:    "RT_DATA",
	SubTypeBroker:    "BROKER",
	SubTypeK1M:       "K_1M",
	SubTypeK3M:       "K_3M",
	SubTypeK5M:       "K_5M",
	SubTypeK15M:      "K_15M",
	SubTypeK30M:      "K_30M",
	SubTypeK60M:      "K_60M",
	SubTypeKDay:      "K_DAY",
	SubTypeKWeek:     "K_WEEK",
	SubTypeKMonth:    "K_MON",
	SubTypeKQuarter:  "K_QUARTER",
	SubTypeKYear:     "K_YEAR",
}

func (st SubType) String() string {
	if name, ok := SubTypeNames[st]; ok {
		return name
	}

	return "NONE"
}

// Valid reports whether st is one of the known kinds.
func (st SubType) Valid() bool {
	_, ok := SubTypeNames[st]
	return ok
}

// IsKLine reports whether st is a candlestick kind. K-line kinds are charged
// more heavily against the subscription quota than the others.
func (st SubType) IsKLine() bool {
	return st >= SubTypeK1M && st <= SubTypeKYear
}

// KLType returns the candlestick period matching a k-line kind, or KLTypeNone
// for other kinds.
func (st SubType) KLType() KLType {
	if kt, ok := subTypeKLTypes[st]; ok {
		return kt
	}

	return KLTypeNone
}

// ParseSubType returns the kind with the given wire name, e.g. "K_DAY".
func ParseSubType(s string) (SubType, error) {
	for st, name := range SubTypeNames {
		if name == s {
			return st, nil
		}
	}

	return SubTypeNone, errors.NotValidf("subscription type %q", s)
}

// SortSubTypes sorts kinds in place, in ascending enum order.
func SortSubTypes(v []SubType) {
	sort.Slice(v, func(i, j int) bool { return v[i] < v[j] })
}

// KLType is a candlestick period.
type KLType int32

// The following constants define every candlestick period.
const (
	KLTypeNone KLType = iota
	KLType1Min
	KLType3Min
	KLType5Min
	KLType15Min
	KLType30Min
	KLType60Min
	KLTypeDay
	KLTypeWeek
	KLTypeMonth
	KLTypeQuarter
	KLTypeYear
)

// KLTypeNames contains wire names for KLType.
var KLTypeNames = map[KLType]string{
	KLType1Min:    "K_1M",
	KLType3Min:    "K_3M",
	KLType5Min:    "K_5M",
	KLType15Min:   "K_15M",
	KLType30Min:   "K_30M",
	KLType60Min:   "K_60M",
	KLTypeDay:     "K_DAY",
	KLTypeWeek:    "K_WEEK",
	KLTypeMonth:   "K_MON",
	KLTypeQuarter: "K_QUARTER",
	KLTypeYear:    "K_YEAR",
}

var subTypeKLTypes = map[SubType]KLType{
	SubTypeK1M:      KLType1Min,
	SubTypeK3M:      KLType3Min,
	SubTypeK5M:      KLType5Min,
	SubTypeK15M:     KLType15Min,
	SubTypeK30M:     KLType30Min,
	SubTypeK60M:     KLType60Min,
	SubTypeKDay:     KLTypeDay,
	SubTypeKWeek:    KLTypeWeek,
	SubTypeKMonth:   KLTypeMonth,
	SubTypeKQuarter: KLTypeQuarter,
	SubTypeKYear:    KLTypeYear,
}

func (kt KLType) String() string {
	if name, ok := KLTypeNames[kt]; ok {
		return name
	}

	return "NONE"
}

// ParseKLType returns the period with the given wire name.
func ParseKLType(s string) (KLType, error) {
	for kt, name := range KLTypeNames {
		if name == s {
			return kt, nil
		}
	}

	return KLTypeNone, errors.NotValidf("kline type %q", s)
}

// AuType is a price adjustment mode for historical candlesticks.
type AuType int32

const (
	AuTypeNone AuType = iota
	// AuTypeForward adjusts past prices to the latest corporate actions.
	AuTypeForward
	// AuTypeBackward adjusts recent prices to the earliest ones.
	AuTypeBackward
)

// AuTypeNames contains wire names for AuType.
var AuTypeNames = map[AuType]string{
	AuTypeNone:     "NONE",
	AuTypeForward:  "QFQ",
	AuTypeBackward: "HFQ",
}

func (at AuType) String() string {
	return AuTypeNames[at]
}

// ParseAuType returns the adjustment mode with the given wire name.
func ParseAuType(s string) (AuType, error) {
	for at, name := range AuTypeNames {
		if name == s {
			return at, nil
		}
	}

	return AuTypeNone, errors.NotValidf("adjustment type %q", s)
}
