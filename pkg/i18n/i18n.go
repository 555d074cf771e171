package i18n

import (
	"reflect"
	"sync"
)

// Language type
type Language string

const (
	LangEN Language = "en"
	LangZH Language = "zh"
)

// Messages holds all translatable strings
type Messages struct {
	// System
	Starting           string
	ConfigLoaded       string
	UsingDBPath        string
	ShuttingDown       string
	ConfigLoadFailed   string
	DBInitFailed       string
	DBMigrationsFailed string
	SessionFailed      string
	RunFailed          string
	APIServerError     string
	LoginDisabled      string

	// Modes
	PaperMode    string
	LiveMode     string
	BacktestMode string

	// Startup
	SymbolsBootstrapFailed string
	SymbolsReady           string
	BalanceInitialized     string
	StrategyLoaded         string
	EngineReady            string

	// Services
	ReconStarted      string
	TimeSyncStarted   string
	FeedStarted       string
	BacktestLoading   string
	BacktestLoadError string
	BacktestFinished  string

	// Shutdown
	EngineHalted       string
	PositionsLeftOpen  string
	BacktestKeepsAlive string
}

var (
	currentLang Language = LangEN
	mu          sync.RWMutex
	messages    *Messages
)

// English messages
var messagesEN = Messages{
	Starting:           "Starting futures engine...",
	ConfigLoaded:       "Config loaded (mode: %s, session: %s, port: %s)",
	UsingDBPath:        "Using DB path: %s",
	ShuttingDown:       "Shutting down gracefully...",
	ConfigLoadFailed:   "Failed to load config: %v",
	DBInitFailed:       "Failed to init database: %v",
	DBMigrationsFailed: "Failed to apply migrations: %v",
	SessionFailed:      "Failed to record session: %v",
	RunFailed:          "Engine stopped with error: %v",
	APIServerError:     "API server error: %v",
	LoginDisabled:      "No ADMIN_PASSWORD or ADMIN_PASSWORD_HASH set; control endpoints are locked",

	PaperMode:    "Running in PAPER mode (simulated fills on live candles)",
	LiveMode:     "Running in LIVE mode (orders WILL hit the exchange, testnet=%v)",
	BacktestMode: "Running in BACKTEST mode (%s to %s)",

	SymbolsBootstrapFailed: "Symbol metadata bootstrap failed: %v",
	SymbolsReady:           "Symbol metadata ready (%d symbols)",
	BalanceInitialized:     "Balance initialized: %.2f USDT",
	StrategyLoaded:         "Signal producer loaded: %s on %s",
	EngineReady:            "Engine ready: leverage=%dx margin=%.2f capacity=%d exit=%s filter=%s",

	ReconStarted:      "Reconciliation service started (every %s)",
	TimeSyncStarted:   "Exchange time sync started",
	FeedStarted:       "Market feed started for %v",
	BacktestLoading:   "Loading %s candles for %s",
	BacktestLoadError: "Historical load failed for %s: %v",
	BacktestFinished:  "Backtest finished: trades=%d wins=%d losses=%d net=%.4f final=%.4f",

	EngineHalted:       "Engine halted, no new entries",
	PositionsLeftOpen:  "%d positions remain open; exchange-side protective orders stay in place",
	BacktestKeepsAlive: "Backtest results stay available over the API until shutdown",
}

// Chinese messages
var messagesZH = Messages{
	Starting:           "啟動合約交易引擎...",
	ConfigLoaded:       "設定已載入（模式：%s，場次：%s，埠號：%s）",
	UsingDBPath:        "使用資料庫路徑：%s",
	ShuttingDown:       "正在優雅關閉...",
	ConfigLoadFailed:   "讀取設定失敗：%v",
	DBInitFailed:       "初始化資料庫失敗：%v",
	DBMigrationsFailed: "套用資料庫遷移失敗：%v",
	SessionFailed:      "記錄場次失敗：%v",
	RunFailed:          "引擎因錯誤停止：%v",
	APIServerError:     "API 伺服器錯誤：%v",
	LoginDisabled:      "未設定 ADMIN_PASSWORD 或 ADMIN_PASSWORD_HASH，控制端點已鎖定",

	PaperMode:    "PAPER 模式（以即時 K 線模擬成交）",
	LiveMode:     "LIVE 模式（委託將送至交易所，testnet=%v）",
	BacktestMode: "BACKTEST 模式（%s 至 %s）",

	SymbolsBootstrapFailed: "交易對規格載入失敗：%v",
	SymbolsReady:           "交易對規格已就緒（%d 個）",
	BalanceInitialized:     "資金已初始化：%.2f USDT",
	StrategyLoaded:         "訊號來源已載入：%s（%s）",
	EngineReady:            "引擎就緒：槓桿=%dx 保證金=%.2f 容量=%d 出場=%s 方向=%s",

	ReconStarted:      "對帳服務已啟動（每 %s）",
	TimeSyncStarted:   "交易所時間同步已啟動",
	FeedStarted:       "行情已啟動：%v",
	BacktestLoading:   "載入 %s K 線：%s",
	BacktestLoadError: "%s 歷史資料載入失敗：%v",
	BacktestFinished:  "回測完成：交易=%d 獲利=%d 虧損=%d 淨值=%.4f 最終資金=%.4f",

	EngineHalted:       "引擎已停止新倉",
	PositionsLeftOpen:  "仍有 %d 筆持倉；交易所端保護單保持不變",
	BacktestKeepsAlive: "回測結果可透過 API 查詢，直到關閉",
}

func init() {
	messages = &messagesEN
}

// SetLanguage sets the current language
func SetLanguage(lang Language) {
	mu.Lock()
	defer mu.Unlock()

	currentLang = lang
	switch lang {
	case LangZH:
		messages = &messagesZH
	default:
		currentLang = LangEN
		messages = &messagesEN
	}
}

// GetLanguage returns the current language
func GetLanguage() Language {
	mu.RLock()
	defer mu.RUnlock()
	return currentLang
}

// M returns the current messages
func M() *Messages {
	mu.RLock()
	defer mu.RUnlock()
	return messages
}

// Get returns specific message by key dynamically using reflection
func Get(key string) string {
	msg := M()
	v := reflect.ValueOf(msg).Elem()
	f := v.FieldByName(key)
	if f.IsValid() && f.Kind() == reflect.String {
		return f.String()
	}
	return key
}
