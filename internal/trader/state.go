package trader

import (
	"sync"
	"time"

	"binance-triangle-bot-go/internal/models"
)

// attempt 是一次执行尝试的流水记录，进程生命周期内永不删除
type attempt struct {
	At time.Time
	ID string
}

// ExecutionState 是执行协调器的共享可变状态：在途的循环 id、在途币种、
// 以及按时间排列的尝试流水。所有并发执行共用一份，通过显式注入而非
// 包级全局变量传递，方便脱离真实网络单独测试门控与清理路径。
type ExecutionState struct {
	mu       sync.Mutex
	ids      map[string]struct{}
	symbols  map[string]struct{}
	attempts []attempt
}

// NewExecutionState 创建一个空的执行状态
func NewExecutionState() *ExecutionState {
	return &ExecutionState{
		ids:     make(map[string]struct{}),
		symbols: make(map[string]struct{}),
	}
}

// markInFlight 记录尝试流水并把循环 id 与三个币种标记为在途。
// 必须发生在任何网络调用之前，堵住准入检查与执行开始之间的竞态窗口。
func (s *ExecutionState) markInFlight(calculated *models.CalculatedTrade, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts = append(s.attempts, attempt{At: now, ID: calculated.ID})
	s.ids[calculated.ID] = struct{}{}
	for _, symbol := range calculated.Trade.Symbols() {
		s.symbols[symbol] = struct{}{}
	}
}

// clearInFlight 清除在途标记。无论执行成功还是失败都必须调用；
// 尝试流水保留不动，供去重与限频检查使用。
func (s *ExecutionState) clearInFlight(calculated *models.CalculatedTrade) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.ids, calculated.ID)
	for _, symbol := range calculated.Trade.Symbols() {
		delete(s.symbols, symbol)
	}
}

// InFlightIDs 返回在途循环数量
func (s *ExecutionState) InFlightIDs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// InFlightSymbols 返回在途币种数量
func (s *ExecutionState) InFlightSymbols() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.symbols)
}

// anySymbolInFlight 判断给定币种中是否有任何一个正处于在途执行中
func (s *ExecutionState) anySymbolInFlight(symbols [3]string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, symbol := range symbols {
		if _, ok := s.symbols[symbol]; ok {
			return symbol, true
		}
	}
	return "", false
}

// attemptedWithin 判断同一循环在回看窗口内是否已有过尝试
func (s *ExecutionState) attemptedWithin(id string, window time.Duration, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	floor := now.Add(-window)
	for i := len(s.attempts) - 1; i >= 0; i-- {
		if s.attempts[i].At.Before(floor) {
			break
		}
		if s.attempts[i].ID == id {
			return true
		}
	}
	return false
}

// attemptsSince 统计某个时间点之后的尝试次数
func (s *ExecutionState) attemptsSince(floor time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for i := len(s.attempts) - 1; i >= 0; i-- {
		if !s.attempts[i].At.After(floor) {
			break
		}
		count++
	}
	return count
}

// AttemptCount 返回进程启动以来的尝试总数
func (s *ExecutionState) AttemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts)
}
