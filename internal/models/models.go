package models

import "fmt"

// Config 结构体定义了机器人的所有配置参数
type Config struct {
	IsTestnet bool   `json:"is_testnet"` // 是否使用币安测试网
	DryRun    bool   `json:"dry_run"`    // 干跑模式：下单走测试接口，不产生真实成交
	DBPath    string `json:"db_path"`    // 执行流水数据库文件路径
	FeeAsset  string `json:"fee_asset"`  // 手续费返佣资产，默认 "BNB"

	Fund      map[string]FundRange `json:"fund"`       // 每个起始币种的投资量扫描区间
	Scanner   ScannerConfig        `json:"scanner"`    // 行情扫描配置
	Script    ScriptConfig         `json:"script"`     // 套利执行配置
	Panel     PanelConfig          `json:"panel"`      // 终端面板配置
	Message   MessageConfig        `json:"message"`    // 状态汇报配置
	WebSocket WebSocketConfig      `json:"web_socket"` // 深度行情流配置
	LogConfig LogConfig            `json:"log"`        // 日志配置
}

// FundRange 定义了单个币种的投资量优化扫描区间
type FundRange struct {
	Min  float64 `json:"min"`  // 最小投资量
	Max  float64 `json:"max"`  // 最大投资量
	Step float64 `json:"step"` // 扫描步长
}

// ScannerConfig 定义了深度行情的抓取范围
type ScannerConfig struct {
	Depth     int      `json:"depth"`     // 每侧订单簿保留的档位数
	Whitelist []string `json:"whitelist"` // 允许参与三角组合的币种白名单，空则不过滤
}

// ScriptConfig 定义了套利执行的阈值与策略
type ScriptConfig struct {
	Strategy  string    `json:"strategy"`  // 执行策略: "sequential" 或 "concurrent"
	Template  []string  `json:"template"`  // 三条腿的方向模板，取值 BUY/SELL/*
	Fee       float64   `json:"fee"`       // 单笔吃单手续费率（百分比）
	MaxTrade  int       `json:"max_trade"` // 执行次数上限，0 表示不限制
	Threshold Threshold `json:"threshold"`
}

// Threshold 定义了执行准入阈值
type Threshold struct {
	ProfitPercent float64 `json:"profit_percent"` // 最低净利润百分比
	DelayMs       int64   `json:"delay_ms"`       // 深度快照允许的最大年龄（毫秒）
}

// PanelConfig 定义了终端行情面板
type PanelConfig struct {
	Allow     bool `json:"allow"`      // 是否渲染面板
	RowNum    int  `json:"row_num"`    // 面板展示的行数
	RefreshMs int  `json:"refresh_ms"` // 刷新间隔（毫秒）
}

// MessageConfig 定义了周期性状态汇报
type MessageConfig struct {
	StatusRefreshMin float64 `json:"status_refresh_min"` // 状态汇报间隔（分钟），0 表示关闭
}

// WebSocketConfig 定义了深度行情流的分组订阅参数
type WebSocketConfig struct {
	BundleSize  int `json:"bundle_size"`   // 单条连接承载的 ticker 数量
	InitDelayMs int `json:"init_delay_ms"` // 连接之间的错峰延迟（毫秒）
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level"`       // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output"`      // 输出模式: "console", "file", "both"
	File       string `json:"file"`        // 日志文件路径
	MaxSize    int    `json:"max_size"`    // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age"`     // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress"`    // 是否压缩旧日志文件
}

// SymbolRule 描述了一个可交易 ticker 的交易规则
type SymbolRule struct {
	Ticker       string // 交易对标识，如 "ETHBTC"
	Base         string // 基础资产
	Quote        string // 计价资产
	DustDecimals int    // 允许下单的最大小数位数，由 LOT_SIZE 推导
}

// Balance 定义了账户中单个资产的可用余额
type Balance struct {
	Asset   string
	Free    float64
	OnOrder float64
}

// Fill 是市价单的单笔撮合明细
type Fill struct {
	Price           float64
	Quantity        float64
	Commission      float64
	CommissionAsset string
}

// OrderResult 是一笔市价单的执行回报
type OrderResult struct {
	OrderID            int64
	Ticker             string
	ExecutedQty        float64 // 成交的基础资产数量
	CummulativeQuoteQty float64 // 成交的计价资产数量，字段名沿用币安接口拼写
	Fills              []Fill
}

// ExecutionRecord 是一次执行尝试的持久化流水
type ExecutionRecord struct {
	ID              string        `json:"id"`               // 循环标识 "A-B-C"
	AttemptedAt     int64         `json:"attempted_at"`     // 发起时间（毫秒时间戳）
	DurationMs      int64         `json:"duration_ms"`      // 从发起到落定的耗时
	ExpectedPercent float64       `json:"expected_percent"` // 计算得到的预期利润率
	Actual          *ActualResult `json:"actual,omitempty"` // 实际成交汇总，失败或干跑时为空
	Error           string        `json:"error,omitempty"`  // 失败原因
	DryRun          bool          `json:"dry_run"`          // 是否为测试下单
}

// Error 定义了币安API返回的错误信息结构
type Error struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Error 方法使得 Error 实现了 error 接口
func (e *Error) Error() string {
	return fmt.Sprintf("API Error: code=%d, msg=%s", e.Code, e.Msg)
}
