package utilities

import (
	"fmt"
	"regexp"
	"time"
)

// AppConfig is the root configuration, unmarshalled from JSON by viper.
type AppConfig struct {
	AppName     string           `mapstructure:"app_name"`
	Version     string           `mapstructure:"version"`
	Environment string           `mapstructure:"environment"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Logging     LoggingConfig    `mapstructure:"logging"`
	Trading     TradingConfig    `mapstructure:"trading"`
	MarketData  MarketDataConfig `mapstructure:"market_data"`
	Indicators  IndicatorsConfig `mapstructure:"indicators"`
	Sentiment   SentimentConfig  `mapstructure:"sentiment"`
	Fusion      FusionConfig     `mapstructure:"fusion"`
	Risk        RiskConfig       `mapstructure:"risk"`
	Strategy    StrategyConfig   `mapstructure:"strategy"`
	Execution   ExecutionConfig  `mapstructure:"execution"`
	Discord     DiscordConfig    `mapstructure:"discord"`
	Web         WebConfig        `mapstructure:"web"`
}

type DatabaseConfig struct {
	DBPath        string `mapstructure:"db_path"`
	RetentionDays int    `mapstructure:"retention_days"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type TradingConfig struct {
	Symbols          []string `mapstructure:"symbols"`
	Interval         string   `mapstructure:"interval"`
	CycleIntervalSec int      `mapstructure:"cycle_interval_sec"`
	InitialCapital   float64  `mapstructure:"initial_capital"`
	MaxConcurrency   int      `mapstructure:"max_concurrency"`
}

type MarketDataConfig struct {
	LookbackBars        int     `mapstructure:"lookback_bars"`
	PageSize            int     `mapstructure:"page_size"`
	InterRequestDelayMs int     `mapstructure:"inter_request_delay_ms"`
	RequestsPerSecond   float64 `mapstructure:"requests_per_second"`
	RateBurst           int     `mapstructure:"rate_burst"`
	StaleAfterBars      int     `mapstructure:"stale_after_bars"`
	MaxRepairAttempts   int     `mapstructure:"max_repair_attempts"`
	ReplayDataDir       string  `mapstructure:"replay_data_dir"`
}

type IndicatorsConfig struct {
	RSIPeriod          int     `mapstructure:"rsi_period"`
	RSIOversold        float64 `mapstructure:"rsi_oversold"`
	RSIOverbought      float64 `mapstructure:"rsi_overbought"`
	StochKPeriod       int     `mapstructure:"stoch_k_period"`
	StochDPeriod       int     `mapstructure:"stoch_d_period"`
	StochOversold      float64 `mapstructure:"stoch_oversold"`
	StochOverbought    float64 `mapstructure:"stoch_overbought"`
	MACDFastPeriod     int     `mapstructure:"macd_fast_period"`
	MACDSlowPeriod     int     `mapstructure:"macd_slow_period"`
	MACDSignalPeriod   int     `mapstructure:"macd_signal_period"`
	BollingerPeriod    int     `mapstructure:"bollinger_period"`
	BollingerStdDev    float64 `mapstructure:"bollinger_std_dev"`
	EMAFastPeriod      int     `mapstructure:"ema_fast_period"`
	EMASlowPeriod      int     `mapstructure:"ema_slow_period"`
	ATRPeriod          int     `mapstructure:"atr_period"`
	VolumeSpikeFactor  float64 `mapstructure:"volume_spike_factor"`
	VolumeLookback     int     `mapstructure:"volume_lookback"`
	SwingLookback      int     `mapstructure:"swing_lookback"`
	StaleConfidencePct float64 `mapstructure:"stale_confidence_pct"`
}

type SentimentConfig struct {
	BaseURL            string  `mapstructure:"base_url"`
	RequestTimeoutSec  int     `mapstructure:"request_timeout_sec"`
	CacheTTLSec        int     `mapstructure:"cache_ttl_sec"`
	FallbackConfidence float64 `mapstructure:"fallback_confidence"`
}

type FusionConfig struct {
	BuyThreshold  float64 `mapstructure:"buy_threshold"`
	SellThreshold float64 `mapstructure:"sell_threshold"`
	MinConfidence float64 `mapstructure:"min_confidence"`
}

type RiskConfig struct {
	DailyTradeCap     int     `mapstructure:"daily_trade_cap"`
	PauseThreshold    int     `mapstructure:"pause_threshold"`
	CoolingMinutes    int     `mapstructure:"cooling_minutes"`
	SoftLossThreshold int     `mapstructure:"soft_loss_threshold"`
	DecayFactor       float64 `mapstructure:"decay_factor"`
	RecoveryFactor    float64 `mapstructure:"recovery_factor"`
	MinMultiplier     float64 `mapstructure:"min_multiplier"`
}

type TierConfig struct {
	RiskPerTrade    float64 `mapstructure:"risk_per_trade"`
	TakeProfitPct   float64 `mapstructure:"take_profit_pct"`
	StopLossPct     float64 `mapstructure:"stop_loss_pct"`
	MaxHoldMinutes  int     `mapstructure:"max_hold_minutes"`
	TechnicalWeight float64 `mapstructure:"technical_weight"`
	SentimentWeight float64 `mapstructure:"sentiment_weight"`
}

type StrategyConfig struct {
	CapitalThreshold float64    `mapstructure:"capital_threshold"`
	Scalp            TierConfig `mapstructure:"scalp"`
	Swing            TierConfig `mapstructure:"swing"`
}

type ExecutionConfig struct {
	MaxCloseRetries   int     `mapstructure:"max_close_retries"`
	RetryBackoffMinMs int     `mapstructure:"retry_backoff_min_ms"`
	RetryBackoffMaxMs int     `mapstructure:"retry_backoff_max_ms"`
	PaperSlippagePct  float64 `mapstructure:"paper_slippage_pct"`
}

type DiscordConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

type WebConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// Normalize fills zero values with defaults and validates the fields the
// engine cannot run without.
func (c *AppConfig) Normalize() error {
	if c.AppName == "" {
		c.AppName = "robot-crypt"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Database.DBPath == "" {
		c.Database.DBPath = "data/robotcrypt.db"
	}
	if c.Database.RetentionDays <= 0 {
		c.Database.RetentionDays = 14
	}
	if c.Trading.Interval == "" {
		c.Trading.Interval = "5m"
	}
	if _, err := IntervalDuration(c.Trading.Interval); err != nil {
		return err
	}
	if c.Trading.CycleIntervalSec <= 0 {
		c.Trading.CycleIntervalSec = 60
	}
	if c.Trading.InitialCapital <= 0 {
		c.Trading.InitialCapital = 100
	}
	if c.Trading.MaxConcurrency <= 0 {
		c.Trading.MaxConcurrency = 4
	}
	if len(c.Trading.Symbols) == 0 {
		return fmt.Errorf("trading.symbols must not be empty")
	}

	md := &c.MarketData
	if md.LookbackBars <= 0 {
		md.LookbackBars = 200
	}
	if md.PageSize <= 0 {
		md.PageSize = 100
	}
	if md.InterRequestDelayMs < 0 {
		md.InterRequestDelayMs = 0
	}
	if md.RequestsPerSecond <= 0 {
		md.RequestsPerSecond = 2
	}
	if md.RateBurst <= 0 {
		md.RateBurst = 1
	}
	if md.StaleAfterBars <= 0 {
		md.StaleAfterBars = 2
	}
	if md.MaxRepairAttempts <= 0 {
		md.MaxRepairAttempts = 2
	}

	in := &c.Indicators
	if in.RSIPeriod <= 0 {
		in.RSIPeriod = 14
	}
	if in.RSIOversold <= 0 {
		in.RSIOversold = 30
	}
	if in.RSIOverbought <= 0 {
		in.RSIOverbought = 70
	}
	if in.StochKPeriod <= 0 {
		in.StochKPeriod = 14
	}
	if in.StochDPeriod <= 0 {
		in.StochDPeriod = 3
	}
	if in.StochOversold <= 0 {
		in.StochOversold = 20
	}
	if in.StochOverbought <= 0 {
		in.StochOverbought = 80
	}
	if in.MACDFastPeriod <= 0 {
		in.MACDFastPeriod = 12
	}
	if in.MACDSlowPeriod <= 0 {
		in.MACDSlowPeriod = 26
	}
	if in.MACDSignalPeriod <= 0 {
		in.MACDSignalPeriod = 9
	}
	if in.BollingerPeriod <= 0 {
		in.BollingerPeriod = 20
	}
	if in.BollingerStdDev <= 0 {
		in.BollingerStdDev = 2
	}
	if in.EMAFastPeriod <= 0 {
		in.EMAFastPeriod = 9
	}
	if in.EMASlowPeriod <= 0 {
		in.EMASlowPeriod = 21
	}
	if in.ATRPeriod <= 0 {
		in.ATRPeriod = 14
	}
	if in.VolumeSpikeFactor <= 0 {
		in.VolumeSpikeFactor = 2
	}
	if in.VolumeLookback <= 0 {
		in.VolumeLookback = 20
	}
	if in.SwingLookback <= 0 {
		in.SwingLookback = 20
	}
	if in.StaleConfidencePct <= 0 {
		in.StaleConfidencePct = 0.5
	}

	se := &c.Sentiment
	if se.BaseURL == "" {
		se.BaseURL = "https://api.alternative.me"
	}
	if se.RequestTimeoutSec <= 0 {
		se.RequestTimeoutSec = 10
	}
	if se.CacheTTLSec <= 0 {
		se.CacheTTLSec = 120
	}
	if se.FallbackConfidence <= 0 || se.FallbackConfidence > 0.2 {
		se.FallbackConfidence = 0.2
	}

	fu := &c.Fusion
	if fu.BuyThreshold <= 0 {
		fu.BuyThreshold = 0.25
	}
	if fu.SellThreshold >= 0 {
		fu.SellThreshold = -0.25
	}
	if fu.MinConfidence <= 0 {
		fu.MinConfidence = 0.3
	}

	r := &c.Risk
	if r.DailyTradeCap <= 0 {
		r.DailyTradeCap = 10
	}
	if r.PauseThreshold <= 0 {
		r.PauseThreshold = 2
	}
	if r.CoolingMinutes <= 0 {
		r.CoolingMinutes = 30
	}
	if r.SoftLossThreshold <= 0 {
		r.SoftLossThreshold = 1
	}
	if r.DecayFactor <= 0 || r.DecayFactor >= 1 {
		r.DecayFactor = 0.75
	}
	if r.RecoveryFactor <= 1 {
		r.RecoveryFactor = 1.15
	}
	if r.MinMultiplier <= 0 {
		r.MinMultiplier = 0.1
	}

	st := &c.Strategy
	if st.CapitalThreshold <= 0 {
		st.CapitalThreshold = 300
	}
	st.Scalp.normalize(TierDefaults{
		RiskPerTrade: 0.01, TakeProfitPct: 0.012, StopLossPct: 0.008,
		MaxHoldMinutes: 240, TechnicalWeight: 0.7, SentimentWeight: 0.3,
	})
	st.Swing.normalize(TierDefaults{
		RiskPerTrade: 0.02, TakeProfitPct: 0.04, StopLossPct: 0.025,
		MaxHoldMinutes: 4320, TechnicalWeight: 0.55, SentimentWeight: 0.45,
	})

	ex := &c.Execution
	if ex.MaxCloseRetries <= 0 {
		ex.MaxCloseRetries = 3
	}
	if ex.RetryBackoffMinMs <= 0 {
		ex.RetryBackoffMinMs = 500
	}
	if ex.RetryBackoffMaxMs <= ex.RetryBackoffMinMs {
		ex.RetryBackoffMaxMs = 5000
	}
	if ex.PaperSlippagePct < 0 {
		ex.PaperSlippagePct = 0
	}

	if c.Web.Enabled && c.Web.ListenAddr == "" {
		c.Web.ListenAddr = ":8080"
	}
	return nil
}

// TierDefaults carries fallback values for one strategy tier.
type TierDefaults struct {
	RiskPerTrade    float64
	TakeProfitPct   float64
	StopLossPct     float64
	MaxHoldMinutes  int
	TechnicalWeight float64
	SentimentWeight float64
}

func (t *TierConfig) normalize(d TierDefaults) {
	if t.RiskPerTrade <= 0 {
		t.RiskPerTrade = d.RiskPerTrade
	}
	if t.TakeProfitPct <= 0 {
		t.TakeProfitPct = d.TakeProfitPct
	}
	if t.StopLossPct <= 0 {
		t.StopLossPct = d.StopLossPct
	}
	if t.MaxHoldMinutes <= 0 {
		t.MaxHoldMinutes = d.MaxHoldMinutes
	}
	if t.TechnicalWeight <= 0 {
		t.TechnicalWeight = d.TechnicalWeight
	}
	if t.SentimentWeight <= 0 {
		t.SentimentWeight = d.SentimentWeight
	}
}

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{2,10}/[A-Z0-9]{2,10}$`)

// ValidateSymbol checks the BASE/QUOTE pair format, e.g. "BTC/USD".
func ValidateSymbol(symbol string) error {
	if !symbolPattern.MatchString(symbol) {
		return fmt.Errorf("symbol %q is not in BASE/QUOTE form", symbol)
	}
	return nil
}

// IntervalDuration converts an interval label such as "1m", "4h" or "1d"
// into its duration.
func IntervalDuration(interval string) (time.Duration, error) {
	if len(interval) < 2 {
		return 0, fmt.Errorf("unrecognized interval %q", interval)
	}
	unit := interval[len(interval)-1]
	var n int
	if _, err := fmt.Sscanf(interval[:len(interval)-1], "%d", &n); err != nil || n <= 0 {
		return 0, fmt.Errorf("unrecognized interval %q", interval)
	}
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unrecognized interval %q", interval)
	}
}
