package model

// TradeParams is the parameter set for the rule ensemble. It is produced by
// the optimizer and replaced wholesale, never mutated in place.
type TradeParams struct {
	EMAEnable  bool `json:"ema_enable" yaml:"ema_enable"`
	EMAPeriod1 int  `json:"ema_period_1" yaml:"ema_period_1"`
	EMAPeriod2 int  `json:"ema_period_2" yaml:"ema_period_2"`

	BBEnable bool    `json:"bb_enable" yaml:"bb_enable"`
	BBN      int     `json:"bb_n" yaml:"bb_n"`
	BBK      float64 `json:"bb_k" yaml:"bb_k"`

	IchimokuEnable bool `json:"ichimoku_enable" yaml:"ichimoku_enable"`

	RSIEnable     bool    `json:"rsi_enable" yaml:"rsi_enable"`
	RSIPeriod     int     `json:"rsi_period" yaml:"rsi_period"`
	RSIBuyThread  float64 `json:"rsi_buy_thread" yaml:"rsi_buy_thread"`
	RSISellThread float64 `json:"rsi_sell_thread" yaml:"rsi_sell_thread"`

	MACDEnable       bool `json:"macd_enable" yaml:"macd_enable"`
	MACDFastPeriod   int  `json:"macd_fast_period" yaml:"macd_fast_period"`
	MACDSlowPeriod   int  `json:"macd_slow_period" yaml:"macd_slow_period"`
	MACDSignalPeriod int  `json:"macd_signal_period" yaml:"macd_signal_period"`
}
