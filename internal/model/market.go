package model

import (
	"strings"
	"time"
	_ "time/tzdata"
)

// Market identifies the venue a symbol trades on.
type Market int

const (
	MarketUS Market = iota
	MarketHK
	MarketSH // Shanghai A-shares
	MarketSZ // Shenzhen A-shares
	MarketCrypto
)

// String implements Stringer.
func (m Market) String() string {
	switch m {
	case MarketUS:
		return "US"
	case MarketHK:
		return "HK"
	case MarketSH:
		return "SH"
	case MarketSZ:
		return "SZ"
	case MarketCrypto:
		return "Crypto"
	default:
		return "unknown"
	}
}

// IsAShare reports whether the market is a mainland China exchange.
func (m Market) IsAShare() bool {
	return m == MarketSH || m == MarketSZ
}

// Location returns the exchange's local time zone, UTC when unknown.
func (m Market) Location() *time.Location {
	var name string
	switch m {
	case MarketUS:
		name = "America/New_York"
	case MarketHK:
		name = "Asia/Hong_Kong"
	case MarketSH, MarketSZ:
		name = "Asia/Shanghai"
	default:
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ParseMarket converts a caller string to a Market. Unknown strings map to US.
func ParseMarket(s string) Market {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hk", "hshare":
		return MarketHK
	case "sh", "ashare":
		return MarketSH
	case "sz":
		return MarketSZ
	case "crypto":
		return MarketCrypto
	default:
		return MarketUS
	}
}
