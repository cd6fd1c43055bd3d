package models

// ErrorCategory names one pattern of failed prediction.
type ErrorCategory string

const (
	ErrRSIOverbought          ErrorCategory = "rsi_overbought"
	ErrRSIOversold            ErrorCategory = "rsi_oversold"
	ErrMACDFalseSignal        ErrorCategory = "macd_false_signal"
	ErrVolumeAnomaly          ErrorCategory = "volume_anomaly"
	ErrEMACrossoverFail       ErrorCategory = "ema_crossover_fail"
	ErrBollingerBreakoutFail  ErrorCategory = "bollinger_breakout_fail"
	ErrPatternRecognitionFail ErrorCategory = "pattern_recognition_fail"
	ErrSupportResistanceBreak ErrorCategory = "support_resistance_break"
)
