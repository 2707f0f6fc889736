package sources

import (
	"strings"
)

// Quote currencies treated as USD when matching exchange symbols to tracked pairs.
var stablecoinAliases = map[string]string{
	"USDT":  "USD",
	"USDC":  "USD",
	"FDUSD": "USD",
	"DAI":   "USD",
	"TUSD":  "USD",
	"USDP":  "USD",
}

var baseCurrencyAliases = map[string]string{
	"WBTC":  "BTC",
	"WETH":  "ETH",
	"STETH": "ETH",
	"WSUI":  "SUI",
}

// NormalizeSymbol converts an exchange pair to its canonical form
// Examples:
//   - BTC/USDT -> BTC/USD
//   - eth/usdc -> ETH/USD
//   - WBTC/USD -> BTC/USD
//   - SUI/EUR -> SUI/EUR (no change)
func NormalizeSymbol(symbol string) string {
	parts := strings.Split(symbol, "/")
	if len(parts) != 2 {
		return symbol
	}

	base := strings.ToUpper(strings.TrimSpace(parts[0]))
	quote := strings.ToUpper(strings.TrimSpace(parts[1]))

	if normalized, ok := baseCurrencyAliases[base]; ok {
		base = normalized
	}
	if normalized, ok := stablecoinAliases[quote]; ok {
		quote = normalized
	}

	return base + "/" + quote
}

// IsEquivalentSymbol checks if two symbols are equivalent after normalization
func IsEquivalentSymbol(symbol1, symbol2 string) bool {
	return NormalizeSymbol(symbol1) == NormalizeSymbol(symbol2)
}
