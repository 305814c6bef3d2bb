package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/fadebot/types"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := NewJournal(filepath.Join(t.TempDir(), "test.db"), "")
	require.NoError(t, err)
	return j
}

func TestJournalTradeRoundTrip(t *testing.T) {
	j := newTestJournal(t)

	closed := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"t1", "t2", "t3"} {
		j.LogTrade(types.TradeRecord{
			ID:        id,
			Symbol:    "BTCUSDT",
			Direction: types.Long,
			Entry:     decimal.NewFromInt(50000),
			Exit:      decimal.NewFromInt(50200),
			Size:      decimal.NewFromFloat(0.002),
			PnL:       decimal.NewFromFloat(0.4),
			Reason:    "TAKE_PROFIT",
			ClosedAt:  closed.Add(time.Duration(i) * time.Minute),
		}, 0.004, 95*time.Second)
	}

	trades, err := j.RecentTrades(2)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	// Newest first.
	assert.Equal(t, "t3", trades[0].ID)
	assert.Equal(t, "t2", trades[1].ID)
	assert.Equal(t, int64(95000), trades[0].HeldMs)
	assert.InDelta(t, 0.004, trades[0].MFE, 1e-9)
	assert.True(t, trades[0].PnL.Equal(decimal.NewFromFloat(0.4)))
}

func TestJournalSignalLog(t *testing.T) {
	j := newTestJournal(t)

	j.LogSignal("ETHUSDT", types.Sell, "REAL_PRESSURE", 72.5, true, "")
	j.LogSignal("ETHUSDT", types.Sell, "SPOOF_CLEANUP", 68.0, false, "regime not tradeable")

	var logs []SignalLog
	require.NoError(t, j.db.Order("id asc").Find(&logs).Error)
	require.Len(t, logs, 2)
	assert.True(t, logs[0].Admitted)
	assert.Empty(t, logs[0].Reason)
	assert.False(t, logs[1].Admitted)
	assert.Equal(t, "regime not tradeable", logs[1].Reason)
}

func TestJournalCatastropheLog(t *testing.T) {
	j := newTestJournal(t)

	j.LogCatastrophe("EXCHANGE_DISCONNECT", "ws dropped", "NORMAL", "DEGRADED")

	var logs []CatastropheLog
	require.NoError(t, j.db.Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, "NORMAL", logs[0].FromState)
	assert.Equal(t, "DEGRADED", logs[0].ToState)
}

func TestLiveStateDisabled(t *testing.T) {
	ls, err := NewLiveState("")
	require.NoError(t, err)
	assert.Nil(t, ls)

	// Nil receiver is safe everywhere.
	ls.PublishPositions(nil, nil)
	ls.PublishCatastrophe(nil, struct{}{})
	assert.NoError(t, ls.Close())
}
