package panel

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"binance-triangle-bot-go/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Panel 维护每个循环最近一次的计算结果，并渲染成利润排行表。
// 每个循环只保留最新一条，旧结果整体覆盖。
type Panel struct {
	rowNum          int
	profitThreshold float64

	mu    sync.Mutex
	cache map[string]*models.CalculatedTrade
}

// New 创建面板，rowNum 是展示的行数上限
func New(rowNum int, profitThreshold float64) *Panel {
	return &Panel{
		rowNum:          rowNum,
		profitThreshold: profitThreshold,
		cache:           make(map[string]*models.CalculatedTrade),
	}
}

// Update 记录一个循环的最新计算结果
func (p *Panel) Update(calculated *models.CalculatedTrade) {
	p.mu.Lock()
	p.cache[calculated.ID] = calculated
	p.mu.Unlock()
}

// Render 把当前利润最高的若干循环渲染到 w。
// 每行给出三条腿各自的快照年龄、整体最大年龄、路径和相对阈值的利润。
func (p *Panel) Render(w io.Writer) {
	now := time.Now().UnixMilli()

	p.mu.Lock()
	rows := make([]*models.CalculatedTrade, 0, len(p.cache))
	for _, calculated := range p.cache {
		if calculated.Depth.AB == nil || calculated.Depth.BC == nil || calculated.Depth.CA == nil {
			continue
		}
		rows = append(rows, calculated)
	}
	p.mu.Unlock()

	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Percent > rows[j].Percent
	})
	if len(rows) > p.rowNum {
		rows = rows[:p.rowNum]
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Delay [A-B]", "Delay [B-C]", "Delay [C-A]", "Delay [Max]", "Path", "Profit"})

	for _, row := range rows {
		t.AppendRow(table.Row{
			now - row.Depth.AB.EventTime,
			now - row.Depth.BC.EventTime,
			now - row.Depth.CA.EventTime,
			now - row.MinEventTime(),
			row.ID,
			fmt.Sprintf("%.4f%%", row.Percent-p.profitThreshold),
		})
	}
	t.Render()
}
