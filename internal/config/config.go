package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"binance-triangle-bot-go/internal/models"

	"go.uber.org/zap"
)

// LoadConfig 从指定路径加载JSON配置文件并解析到Config结构体中
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	config := &models.Config{}
	err = decoder.Decode(config)
	if err != nil {
		return nil, err
	}

	return config, nil
}

// Validate 在启动前逐项审查配置，任何一处不合法都拒绝启动。
// 只可能是疏漏而非错误的情况（费率为零、步长过大）通过 logger 告警放行。
func Validate(config *models.Config, logger *zap.SugaredLogger) error {
	// fund
	if len(config.Fund) == 0 {
		return fmt.Errorf("投资区间 (fund) 不能为空")
	}
	for base, rng := range config.Fund {
		if base != strings.TrimSpace(base) {
			return fmt.Errorf("起始币种 (fund.%s) 不能包含空白字符", base)
		}
		if base != strings.ToUpper(base) {
			return fmt.Errorf("起始币种 (fund.%s) 必须为大写", base)
		}
		if rng.Min <= 0 {
			return fmt.Errorf("最小投资量 (fund.%s.min) 必须为正数", base)
		}
		if rng.Max <= 0 {
			return fmt.Errorf("最大投资量 (fund.%s.max) 必须为正数", base)
		}
		if rng.Step <= 0 {
			return fmt.Errorf("投资量步长 (fund.%s.step) 必须为正数", base)
		}
		if rng.Min > rng.Max {
			return fmt.Errorf("最小投资量 (fund.%s.min) 不能大于最大投资量 (fund.%s.max)", base, base)
		}
		if rng.Min != rng.Max && rng.Min+rng.Step > rng.Max {
			logger.Warnf("投资量步长 (fund.%s.step) 过大，优化扫描只会尝试一个投资量", base)
		}
	}

	// scanner
	if config.Scanner.Depth <= 0 {
		return fmt.Errorf("深度档位数 (scanner.depth) 必须为正整数")
	}
	if config.Scanner.Depth > 5000 {
		return fmt.Errorf("深度档位数 (scanner.depth) 不能超过 5000")
	}
	if config.Scanner.Depth > 100 && len(config.Scanner.Whitelist) == 0 {
		return fmt.Errorf("深度档位数 (scanner.depth) 超过 100 时必须配置白名单 (scanner.whitelist)")
	}
	for _, sym := range config.Scanner.Whitelist {
		if sym != strings.ToUpper(sym) {
			return fmt.Errorf("白名单币种 (scanner.whitelist) 必须全部为大写: %s", sym)
		}
	}

	// script
	if config.Script.MaxTrade < 0 {
		return fmt.Errorf("执行次数上限 (script.max_trade) 不能为负数")
	}
	if config.Script.Strategy != "sequential" && config.Script.Strategy != "concurrent" {
		return fmt.Errorf("执行策略 (script.strategy) 只能是 sequential 或 concurrent")
	}
	if config.Script.Strategy == "concurrent" && len(config.Scanner.Whitelist) == 0 {
		return fmt.Errorf("并发执行策略要求配置白名单 (scanner.whitelist)")
	}
	if len(config.Script.Template) != 3 {
		return fmt.Errorf("方向模板 (script.template) 必须恰好包含三个值")
	}
	for _, tpl := range config.Script.Template {
		if tpl != "BUY" && tpl != "SELL" && tpl != "*" {
			return fmt.Errorf("方向模板 (script.template) 只能包含 BUY、SELL、*: %s", tpl)
		}
	}
	if config.Script.Fee < 0 {
		return fmt.Errorf("吃单手续费率 (script.fee) 不能为负数")
	}
	if config.Script.Fee == 0 {
		logger.Warn("吃单手续费率 (script.fee) 为零，这多半是配置疏漏")
	}
	if config.Script.Threshold.DelayMs <= 0 {
		return fmt.Errorf("快照年龄阈值 (script.threshold.delay_ms) 必须为正整数")
	}

	// panel
	if config.Panel.Allow {
		if config.Panel.RowNum <= 0 {
			return fmt.Errorf("面板行数 (panel.row_num) 必须为正整数")
		}
		if config.Panel.RefreshMs <= 0 {
			return fmt.Errorf("面板刷新间隔 (panel.refresh_ms) 必须为正整数")
		}
	}

	// message
	if config.Message.StatusRefreshMin < 0 {
		return fmt.Errorf("状态汇报间隔 (message.status_refresh_min) 不能为负数")
	}

	// web_socket
	if config.WebSocket.BundleSize <= 0 {
		return fmt.Errorf("行情流分组大小 (web_socket.bundle_size) 必须为正整数")
	}
	if config.WebSocket.BundleSize > 1024 {
		return fmt.Errorf("行情流分组大小 (web_socket.bundle_size) 不能超过 1024")
	}
	if config.WebSocket.InitDelayMs < 0 {
		return fmt.Errorf("行情流错峰延迟 (web_socket.init_delay_ms) 不能为负数")
	}

	return nil
}
