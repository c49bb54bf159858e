package common

import (
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func TestSubTypeNames(t *testing.T) {
	for st, name := range SubTypeNames {
		parsed, err := ParseSubType(name)
		assert.Nil(t, err)
		assert.Equal(t, st, parsed)
		assert.Equal(t, name, st.String())
		assert.True(t, st.Valid())
	}

	_, err := ParseSubType("K_2M")
	assert.True(t, errors.IsNotValid(err))
	assert.False(t, SubTypeNone.Valid())
	assert.False(t, SubType(100).Valid())
}

func TestSubTypeIsKLine(t *testing.T) {
	klines := 0
	for st := range SubTypeNames {
		if st.IsKLine() {
			klines++
			assert.NotEqual(t, KLTypeNone, st.KLType(), "%s", st)
			assert.Equal(t, st.String(), st.KLType().String())
		} else {
			assert.Equal(t, KLTypeNone, st.KLType(), "%s", st)
		}
	}

	assert.Equal(t, 11, klines)
	assert.False(t, SubTypeQuote.IsKLine())
	assert.False(t, SubTypeBroker.IsKLine())
	assert.True(t, SubTypeK1M.IsKLine())
	assert.True(t, SubTypeKYear.IsKLine())
}

func TestSortSubTypes(t *testing.T) {
	v := []SubType{SubTypeKDay, SubTypeQuote, SubTypeTicker, SubTypeOrderBook}
	SortSubTypes(v)
	assert.Equal(t, []SubType{SubTypeQuote, SubTypeOrderBook, SubTypeTicker, SubTypeKDay}, v)
}

func TestParseAuType(t *testing.T) {
	at, err := ParseAuType("QFQ")
	assert.Nil(t, err)
	assert.Equal(t, AuTypeForward, at)

	_, err = ParseAuType("bogus")
	assert.NotNil(t, err)
}
