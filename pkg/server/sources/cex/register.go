package cex

import (
	"github.com/StrathCole/sui-oracle/pkg/server/sources"
)

func init() {
	sources.Register("cex.binance", NewBinanceSource)
	sources.Register("cex.coinbase", NewCoinbaseSource)
	sources.Register("cex.coingecko", NewCoinGeckoSource)
}
