package indicators

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"github.com/quantdesk/backtest-engine/internal/domain"
)

// compute dispatches to the go-talib wrapper for spec.Name and returns a
// dense series aligned 1:1 with bars (index i corresponds to bars[i].Date).
// Leading entries that talib reports as NaN (insufficient warmup) are left
// as math.NaN in the returned slice; the caller drops them rather than
// caching a bogus zero.
func compute(spec domain.IndicatorSpec, bars []domain.Bar) ([]float64, error) {
	spec = spec.WithDefaults()
	closes := closesOf(bars)
	highs := highsOf(bars)
	lows := lowsOf(bars)
	volumes := volumesOf(bars)

	switch spec.Name {
	case "SMA":
		period, _ := spec.ParamValue("period")
		return talib.Sma(closes, period), nil

	case "EMA":
		period, _ := spec.ParamValue("period")
		return talib.Ema(closes, period), nil

	case "RSI":
		period, _ := spec.ParamValue("period")
		return talib.Rsi(closes, period), nil

	case "ATR":
		period, _ := spec.ParamValue("period")
		return talib.Atr(highs, lows, closes, period), nil

	case "ADX":
		period, _ := spec.ParamValue("period")
		return talib.Adx(highs, lows, closes, period), nil

	case "MFI":
		period, _ := spec.ParamValue("period")
		return talib.Mfi(highs, lows, closes, volumes, period), nil

	case "MACD":
		fast, _ := spec.ParamValue("fast")
		slow, _ := spec.ParamValue("slow")
		signal, _ := spec.ParamValue("signal")
		macd, _, _ := talib.Macd(closes, fast, slow, signal)
		return macd, nil

	case "PPO":
		fast, _ := spec.ParamValue("fast")
		slow, _ := spec.ParamValue("slow")
		return talib.Ppo(closes, fast, slow, talib.SMA), nil

	case "PPO_SIGNAL":
		// go-talib has no native PPO-with-signal call (unlike Macd, which
		// returns all three series); the signal line is an EMA of the PPO
		// line itself, smoothed over the signal period.
		fast, _ := spec.ParamValue("fast")
		slow, _ := spec.ParamValue("slow")
		signal, _ := spec.ParamValue("signal")
		line := talib.Ppo(closes, fast, slow, talib.SMA)
		return emaOfLine(line, signal), nil

	case "PPO_HIST":
		fast, _ := spec.ParamValue("fast")
		slow, _ := spec.ParamValue("slow")
		signal, _ := spec.ParamValue("signal")
		line := talib.Ppo(closes, fast, slow, talib.SMA)
		sig := emaOfLine(line, signal)
		hist := make([]float64, len(line))
		for i := range hist {
			if math.IsNaN(line[i]) || math.IsNaN(sig[i]) {
				hist[i] = math.NaN()
				continue
			}
			hist[i] = line[i] - sig[i]
		}
		return hist, nil

	case "BBANDS":
		period, _ := spec.ParamValue("period")
		upper, _, lower := talib.BBands(closes, period, 2, 2, talib.SMA)
		// Bollinger band width as a fraction of the midline, the one figure
		// a Gate/Scale condition would actually compare against.
		width := make([]float64, len(upper))
		for i := range width {
			if upper[i]+lower[i] == 0 {
				width[i] = 0
				continue
			}
			width[i] = (upper[i] - lower[i]) / ((upper[i] + lower[i]) / 2)
		}
		return width, nil

	case "STOCH":
		fastK, _ := spec.ParamValue("fastk")
		slowK, _ := spec.ParamValue("slowk")
		slowD, _ := spec.ParamValue("slowd")
		slowKVals, _ := talib.Stoch(highs, lows, closes, fastK, slowK, talib.SMA, slowD, talib.SMA)
		return slowKVals, nil

	case "AROON":
		period, _ := spec.ParamValue("period")
		_, aroonUp := talib.Aroon(highs, lows, period)
		return aroonUp, nil

	case "VOLATILITY":
		period, _ := spec.ParamValue("period")
		return rollingVolatility(closes, period), nil

	case "RETURN":
		period, _ := spec.ParamValue("period")
		return rollingReturn(closes, period), nil

	default:
		return nil, fmt.Errorf("unknown indicator %q", spec.Name)
	}
}

// emaOfLine smooths an already-computed indicator line (which may carry its
// own leading NaN warmup entries) with an EMA of the given period, leaving
// the NaN prefix untouched rather than feeding it into the smoothing.
func emaOfLine(line []float64, period int) []float64 {
	out := make([]float64, len(line))
	start := 0
	for start < len(line) && math.IsNaN(line[start]) {
		out[start] = math.NaN()
		start++
	}
	if start >= len(line) {
		return out
	}
	copy(out[start:], talib.Ema(line[start:], period))
	return out
}

func closesOf(bars []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

func highsOf(bars []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.High
	}
	return out
}

func lowsOf(bars []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Low
	}
	return out
}

func volumesOf(bars []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Volume
	}
	return out
}
