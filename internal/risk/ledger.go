package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/utrading/utrading-copy-trader/internal/models"
)

type lossEntry struct {
	at     time.Time
	amount decimal.Decimal
}

// LossLedger 按风控档位累计滚动窗口内的已实现亏损
type LossLedger struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[models.RiskMode][]lossEntry
	now     func() time.Time
}

func NewLossLedger(window time.Duration) *LossLedger {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &LossLedger{
		window:  window,
		entries: make(map[models.RiskMode][]lossEntry),
		now:     time.Now,
	}
}

// Record 记录一笔亏损，非正数忽略
func (l *LossLedger) Record(mode models.RiskMode, loss decimal.Decimal) {
	if !loss.IsPositive() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[mode] = append(l.pruneLocked(mode), lossEntry{at: l.now(), amount: loss})
}

// Total 窗口内亏损合计
func (l *LossLedger) Total(mode models.RiskMode) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.pruneLocked(mode)
	l.entries[mode] = kept

	total := decimal.Zero
	for _, e := range kept {
		total = total.Add(e.amount)
	}
	return total
}

func (l *LossLedger) pruneLocked(mode models.RiskMode) []lossEntry {
	cutoff := l.now().Add(-l.window)
	list := l.entries[mode]
	i := 0
	for i < len(list) && !list[i].at.After(cutoff) {
		i++
	}
	return list[i:]
}
