package common

import (
	"strings"

	"github.com/juju/errors"
)

// Market identifies the exchange an instrument is listed on.
type Market int32

// The following constants define all markets known to the gateway.
const (
	MarketNone Market = iota
	MarketHK
	MarketUS
	MarketSH
	MarketSZ
	MarketSG
	MarketJP
)

// MarketNames contains the wire prefixes for Market.
var MarketNames = map[Market]string{
	MarketHK: "HK",
	MarketUS: "US",
	MarketSH: "SH",
	MarketSZ: "SZ",
	MarketSG: "SG",
	MarketJP: "JP",
}

func (m Market) String() string {
	if name, ok := MarketNames[m]; ok {
		return name
	}

	return "NONE"
}

// ParseMarket returns the market with the given wire prefix, e.g. "HK".
func ParseMarket(s string) (Market, error) {
	for m, name := range MarketNames {
		if name == s {
			return m, nil
		}
	}

	return MarketNone, errors.NotValidf("market %q", s)
}

// Instrument is a security code qualified by its market, e.g. "HK.00700" or
// "US.AAPL". Instruments are compared as plain strings, so two instruments are
// equal only if both the market prefix and the code match exactly.
type Instrument string

// NewInstrument joins the market prefix and the code.
func NewInstrument(m Market, code string) Instrument {
	return Instrument(m.String() + "." + code)
}

// ParseInstrument checks that s has the "<MARKET>.<CODE>" form with a known
// market and a non-empty code.
func ParseInstrument(s string) (Instrument, error) {
	inst := Instrument(s)
	if err := inst.Validate(); err != nil {
		return "", errors.Trace(err)
	}

	return inst, nil
}

// Validate returns a NotValid error if the instrument is malformed.
func (i Instrument) Validate() error {
	parts := strings.SplitN(string(i), ".", 2)
	if len(parts) != 2 || parts[1] == "" || strings.TrimSpace(parts[1]) != parts[1] {
		return errors.NotValidf("instrument %q", string(i))
	}

	if _, err := ParseMarket(parts[0]); err != nil {
		return errors.Annotatef(err, "instrument %q", string(i))
	}

	return nil
}

// Market returns the market part of the instrument, or MarketNone if the
// instrument is malformed.
func (i Instrument) Market() Market {
	parts := strings.SplitN(string(i), ".", 2)
	m, err := ParseMarket(parts[0])
	if err != nil {
		return MarketNone
	}

	return m
}

// Code returns the part after the market prefix.
func (i Instrument) Code() string {
	parts := strings.SplitN(string(i), ".", 2)
	if len(parts) != 2 {
		return ""
	}

	return parts[1]
}

// InstrumentsByName sorts instruments lexicographically.
type InstrumentsByName []Instrument

func (v InstrumentsByName) Len() int           { return len(v) }
func (v InstrumentsByName) Less(i, j int) bool { return v[i] < v[j] }
func (v InstrumentsByName) Swap(i, j int)      { v[i], v[j] = v[j], v[i] }
