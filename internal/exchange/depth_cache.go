package exchange

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"binance-triangle-bot-go/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	liveStreamURL    = "wss://stream.binance.com:9443/stream"
	testnetStreamURL = "wss://stream.testnet.binance.vision/stream"
)

// DepthCache 维护一组 ticker 的最新订单簿快照。
// 数据来自币安的组合有限档深度推送，每个 ticker 的快照整体替换，
// 写入后不再修改，读取方拿到的指针永远指向某个一致的时间点。
type DepthCache struct {
	streamURL string
	depth     int
	bundle    int
	initDelay time.Duration
	logger    *zap.SugaredLogger

	mu        sync.RWMutex
	snapshots map[string]*models.DepthSnapshot
	pending   map[string]struct{}
	queue     []string

	updates      chan string
	kick         chan struct{}
	stop         chan struct{}
	once         sync.Once
	dispatchOnce sync.Once
}

// NewDepthCache 创建深度快照缓存
func NewDepthCache(isTestnet bool, depth int, cfg models.WebSocketConfig, logger *zap.SugaredLogger) *DepthCache {
	streamURL := liveStreamURL
	if isTestnet {
		streamURL = testnetStreamURL
	}
	return &DepthCache{
		streamURL: streamURL,
		depth:     depth,
		bundle:    cfg.BundleSize,
		initDelay: time.Duration(cfg.InitDelayMs) * time.Millisecond,
		logger:    logger,
		snapshots: make(map[string]*models.DepthSnapshot),
		pending:   make(map[string]struct{}),
		updates:   make(chan string),
		kick:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}
}

// streamLevel 返回订阅用的档位；有限档推送只支持 5/10/20 三种，
// 取能覆盖配置档位数的最小一档。
func (c *DepthCache) streamLevel() int {
	for _, level := range []int{5, 10, 20} {
		if c.depth <= level {
			return level
		}
	}
	return 20
}

// Subscribe 按分组大小把 ticker 拆到多条连接上，错峰建立。
// 每条连接由常驻 goroutine 维护，断开后自动重连。
func (c *DepthCache) Subscribe(tickers []string) {
	bundle := c.bundle
	if bundle <= 0 {
		bundle = len(tickers)
	}
	for start := 0; start < len(tickers); start += bundle {
		end := start + bundle
		if end > len(tickers) {
			end = len(tickers)
		}
		group := tickers[start:end]
		if start > 0 && c.initDelay > 0 {
			time.Sleep(c.initDelay)
		}
		go c.connectionLoop(group)
	}
	c.dispatchOnce.Do(func() { go c.dispatchLoop() })
}

// Close 停止所有连接维护循环
func (c *DepthCache) Close() {
	c.once.Do(func() { close(c.stop) })
}

// Updates 返回逐 ticker 的更新通知通道：哪个 ticker 的快照被替换，
// 通道里就送出哪个 ticker。同一 ticker 在被消费前只保留一个待处理
// 信号，消费方落后时推送按 ticker 合并而不是无限堆积。
func (c *DepthCache) Updates() <-chan string {
	return c.updates
}

// signalUpdate 把 ticker 加入待通知队列（已在队列中则合并），并唤醒分发循环
func (c *DepthCache) signalUpdate(ticker string) {
	c.mu.Lock()
	if _, queued := c.pending[ticker]; !queued {
		c.pending[ticker] = struct{}{}
		c.queue = append(c.queue, ticker)
	}
	c.mu.Unlock()

	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// popPending 按入队顺序取出一个待通知的 ticker
func (c *DepthCache) popPending() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) == 0 {
		return "", false
	}
	ticker := c.queue[0]
	c.queue = c.queue[1:]
	delete(c.pending, ticker)
	return ticker, true
}

// dispatchLoop 把待通知队列逐个转发到 Updates 通道。
// 转发阻塞期间同一 ticker 的新推送只会重新入队一次。
func (c *DepthCache) dispatchLoop() {
	for {
		ticker, ok := c.popPending()
		if !ok {
			select {
			case <-c.kick:
				continue
			case <-c.stop:
				return
			}
		}
		select {
		case c.updates <- ticker:
		case <-c.stop:
			return
		}
	}
}

// Snapshot 返回指定 ticker 集合的时间点快照映射。
// 没有数据的 ticker 对应 nil，由上层决定跳过还是等待。
func (c *DepthCache) Snapshot(tickers []string) map[string]*models.DepthSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]*models.DepthSnapshot, len(tickers))
	for _, ticker := range tickers {
		result[ticker] = c.snapshots[ticker]
	}
	return result
}

// StaleTickers 返回快照年龄超过给定阈值（或从未收到数据）的 ticker
func (c *DepthCache) StaleTickers(tickers []string, maxAge time.Duration) []string {
	floor := time.Now().Add(-maxAge).UnixMilli()

	c.mu.RLock()
	defer c.mu.RUnlock()

	var stale []string
	for _, ticker := range tickers {
		snapshot := c.snapshots[ticker]
		if snapshot == nil || snapshot.EventTime < floor {
			stale = append(stale, ticker)
		}
	}
	return stale
}

// WaitForAll 阻塞直到所有 ticker 都收到过至少一次快照，或超时
func (c *DepthCache) WaitForAll(tickers []string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		missing := 0
		c.mu.RLock()
		for _, ticker := range tickers {
			if c.snapshots[ticker] == nil {
				missing++
			}
		}
		c.mu.RUnlock()

		if missing == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("等待深度数据超时，仍有 %d 个 ticker 无快照", missing)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// connectionLoop 是一条连接的守护循环，负责建连和断线重连
func (c *DepthCache) connectionLoop(tickers []string) {
	streams := make([]string, len(tickers))
	for i, ticker := range tickers {
		streams[i] = fmt.Sprintf("%s@depth%d@100ms", strings.ToLower(ticker), c.streamLevel())
	}
	url := fmt.Sprintf("%s?streams=%s", c.streamURL, strings.Join(streams, "/"))

	for {
		select {
		case <-c.stop:
			return
		default:
			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			if err != nil {
				c.logger.Errorf("深度行情流连接失败 (%d tickers): %v", len(tickers), err)
			} else {
				c.logger.Infof("深度行情流已连接，承载 %d 个 ticker", len(tickers))
				if err := c.readLoop(conn); err != nil {
					c.logger.Warnf("深度行情流中断: %v", err)
				}
				conn.Close()
			}
			// 连接断开后，等待几秒再重连
			select {
			case <-c.stop:
				return
			case <-time.After(5 * time.Second):
			}
		}
	}
}

// readLoop 阻塞读取一条连接上的推送，直到连接损坏
func (c *DepthCache) readLoop(conn *websocket.Conn) error {
	const (
		pongWait   = 60 * time.Second
		pingPeriod = (pongWait * 9) / 10 // Must be less than pongWait
	)

	// 设置Pong处理器来延长读取超时
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// 启动一个goroutine来定期发送Ping
	pingStop := make(chan struct{})
	defer close(pingStop)
	go func() {
		pingTicker := time.NewTicker(pingPeriod)
		defer pingTicker.Stop()
		for {
			select {
			case <-pingTicker.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingStop:
				return
			}
		}
	}()

	for {
		select {
		case <-c.stop:
			return nil
		default:
			_, message, err := conn.ReadMessage()
			if err != nil {
				// 任何读取错误都意味着连接已损坏，交给外层循环重连
				return fmt.Errorf("读取消息失败: %w", err)
			}
			c.handleMessage(message)
		}
	}
}

// combinedStreamEvent 是组合流的外层信封
type combinedStreamEvent struct {
	Stream string `json:"stream"`
	Data   struct {
		LastUpdateID int64       `json:"lastUpdateId"`
		Bids         [][2]string `json:"bids"`
		Asks         [][2]string `json:"asks"`
	} `json:"data"`
}

// handleMessage 解析一条有限档推送并整体替换对应 ticker 的快照。
// 有限档推送不带事件时间，用本地接收时间代替。
func (c *DepthCache) handleMessage(message []byte) {
	var event combinedStreamEvent
	if err := json.Unmarshal(message, &event); err != nil {
		c.logger.Debugf("忽略无法解析的推送: %v", err)
		return
	}

	at := strings.Index(event.Stream, "@")
	if at <= 0 {
		return
	}
	ticker := strings.ToUpper(event.Stream[:at])

	snapshot := &models.DepthSnapshot{
		Bids:      parseLevels(event.Data.Bids, c.depth, true),
		Asks:      parseLevels(event.Data.Asks, c.depth, false),
		EventTime: time.Now().UnixMilli(),
	}

	c.mu.Lock()
	c.snapshots[ticker] = snapshot
	c.mu.Unlock()

	c.signalUpdate(ticker)
}

// parseLevels 把字符串档位转成数值档位，排序后截断到配置档位数。
// 买盘按价格从高到低，卖盘从低到高。
func parseLevels(raw [][2]string, depth int, bids bool) []models.PriceLevel {
	levels := make([]models.PriceLevel, 0, len(raw))
	for _, entry := range raw {
		price, err := strconv.ParseFloat(entry[0], 64)
		if err != nil {
			continue
		}
		quantity, err := strconv.ParseFloat(entry[1], 64)
		if err != nil || quantity == 0 {
			continue
		}
		levels = append(levels, models.PriceLevel{Price: price, Quantity: quantity})
	}

	sort.Slice(levels, func(i, j int) bool {
		if bids {
			return levels[i].Price > levels[j].Price
		}
		return levels[i].Price < levels[j].Price
	})

	if len(levels) > depth {
		levels = levels[:depth]
	}
	return levels
}
