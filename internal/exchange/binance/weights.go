package binance

// Request weights per endpoint.
const (
	weightServerTime    = 1
	weightExchangeInfo  = 10
	weightRecentTrades  = 1
	weightKlines        = 1
	weightAccount       = 5
	weightWAPIHistory   = 1
	weightOneSymbol     = 1
	weightAllPrices     = 2
	weightAll24hTickers = 40
	weightAllOpenOrders = 40
)

// depthWeight follows the exchange's tiering by requested depth.
func depthWeight(limit int) int {
	switch {
	case limit <= 100:
		return 1
	case limit <= 500:
		return 5
	case limit <= 1000:
		return 10
	default:
		return 50
	}
}

func symbolWeight(symbol string, all int) int {
	if symbol == "" {
		return all
	}
	return weightOneSymbol
}
