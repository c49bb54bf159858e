package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/y3sh/quote-sdk-go/common"
)

func testKLine(inst common.Instrument, day int, close string) common.KLine {
	return common.KLine{
		Instrument: inst,
		KLType:     common.KLTypeDay,
		Time:       time.Date(2026, 1, day, 0, 0, 0, 0, time.UTC),
		OHLC: common.OHLC{
			Open:  decimal.RequireFromString("100.5"),
			High:  decimal.RequireFromString("102"),
			Low:   decimal.RequireFromString("99.25"),
			Close: decimal.RequireFromString(close),
		},
		LastClose:  decimal.RequireFromString("100"),
		Volume:     int64(1000 * day),
		Turnover:   decimal.RequireFromString("123456.78"),
		ChangeRate: decimal.RequireFromString("0.5"),
	}
}

func openTestStore(t *testing.T) *KLineStore {
	s, err := Open(filepath.Join(t.TempDir(), "klines.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func TestSaveLoadKLines(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	klines := []common.KLine{
		testKLine("HK.00700", 3, "101"),
		testKLine("HK.00700", 1, "101.5"),
		testKLine("HK.00700", 2, "100.75"),
		testKLine("US.AAPL", 1, "230"),
	}
	require.NoError(t, s.SaveKLines(ctx, klines))

	got, err := s.LoadKLines(ctx, "HK.00700", common.KLTypeDay, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 3)

	for i, day := range []int{1, 2, 3} {
		assert.Equal(t, time.Date(2026, 1, day, 0, 0, 0, 0, time.UTC), got[i].Time)
		assert.Equal(t, common.Instrument("HK.00700"), got[i].Instrument)
		assert.Equal(t, int64(1000*day), got[i].Volume)
	}

	assert.True(t, decimal.RequireFromString("101.5").Equal(got[0].OHLC.Close))
	assert.True(t, decimal.RequireFromString("99.25").Equal(got[0].OHLC.Low))
	assert.True(t, decimal.RequireFromString("123456.78").Equal(got[0].Turnover))

	// Range query
	got, err = s.LoadKLines(ctx, "HK.00700", common.KLTypeDay,
		time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 2, 23, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Time.Day())

	// Other period: nothing
	got, err = s.LoadKLines(ctx, "HK.00700", common.KLType1Min, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSaveKLinesReplaces(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.SaveKLines(ctx, []common.KLine{testKLine("SH.600000", 5, "10")}))
	require.NoError(t, s.SaveKLines(ctx, []common.KLine{testKLine("SH.600000", 5, "11")}))
	require.NoError(t, s.SaveKLines(ctx, nil))

	got, err := s.LoadKLines(ctx, "SH.600000", common.KLTypeDay, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "11", got[0].OHLC.Close.String())
}

func TestCursors(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	cursor, err := s.LoadCursor(ctx, "HK.00700", common.KLTypeDay)
	require.NoError(t, err)
	assert.Equal(t, "", cursor)

	require.NoError(t, s.SaveCursor(ctx, "HK.00700", common.KLTypeDay, "abc"))
	require.NoError(t, s.SaveCursor(ctx, "HK.00700", common.KLTypeDay, "def"))

	cursor, err = s.LoadCursor(ctx, "HK.00700", common.KLTypeDay)
	require.NoError(t, err)
	assert.Equal(t, "def", cursor)

	cursor, err = s.LoadCursor(ctx, "HK.00700", common.KLTypeWeek)
	require.NoError(t, err)
	assert.Equal(t, "", cursor)

	require.NoError(t, s.SaveCursor(ctx, "HK.00700", common.KLTypeDay, ""))

	cursor, err = s.LoadCursor(ctx, "HK.00700", common.KLTypeDay)
	require.NoError(t, err)
	assert.Equal(t, "", cursor)
}
