package indicators

import "math"

// rollingVolatility computes, at each index i >= period, the annualized
// standard deviation of daily returns over the trailing period window.
// Used both as the VOLATILITY indicator and, via Sort Runtime, against a
// synthetic equity curve (spec §4.6).
func rollingVolatility(closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	for i := range out {
		out[i] = math.NaN()
	}
	if period < 2 {
		return out
	}
	for i := period; i < len(closes); i++ {
		window := closes[i-period : i+1]
		returns := dailyReturns(window)
		out[i] = stdDev(returns) * math.Sqrt(252)
	}
	return out
}

// rollingReturn computes, at each index i >= period, the percentage change
// over the trailing period, used as the RETURN(n) indicator Sort synthesis
// compares children by (spec §4.6).
func rollingReturn(closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	for i := range out {
		out[i] = math.NaN()
	}
	for i := period; i < len(closes); i++ {
		start := closes[i-period]
		if start == 0 {
			continue
		}
		out[i] = (closes[i] - start) / start
	}
	return out
}

func dailyReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		out[i-1] = (prices[i] - prices[i-1]) / prices[i-1]
	}
	return out
}

func mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	var sum float64
	for _, v := range data {
		sum += v
	}
	return sum / float64(len(data))
}

func stdDev(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	m := mean(data)
	var sumSq float64
	for _, v := range data {
		d := v - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(data)))
}
