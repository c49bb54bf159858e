package common

import (
	"sort"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func TestParseInstrument(t *testing.T) {
	for _, s := range []string{"HK.00700", "US.AAPL", "SH.600519", "SZ.000001", "US.BRK.B"} {
		inst, err := ParseInstrument(s)
		assert.Nil(t, err, "instrument %q", s)
		assert.Equal(t, Instrument(s), inst)
	}

	for _, s := range []string{"", "00700", "HK.", ".00700", "XX.00700", "HK. 00700", "hk.00700"} {
		_, err := ParseInstrument(s)
		assert.True(t, errors.IsNotValid(err), "instrument %q: %v", s, err)
	}
}

func TestInstrumentParts(t *testing.T) {
	inst := NewInstrument(MarketHK, "00700")
	assert.Equal(t, Instrument("HK.00700"), inst)
	assert.Equal(t, MarketHK, inst.Market())
	assert.Equal(t, "00700", inst.Code())

	assert.Equal(t, MarketNone, Instrument("garbage").Market())
	assert.Equal(t, "", Instrument("garbage").Code())
}

func TestInstrumentsByName(t *testing.T) {
	v := []Instrument{"US.AAPL", "HK.00700", "HK.00005"}
	sort.Sort(InstrumentsByName(v))
	assert.Equal(t, []Instrument{"HK.00005", "HK.00700", "US.AAPL"}, v)
}
