package diskcache

import "strings"

// unsafeChars are replaced by '_' in symbol directory names. Common tickers
// such as "EURUSD=X", "BTC/USDT" or "^GSPC" stay recognisable.
const unsafeChars = `=/\:*?"<>| `

// SanitizeSymbol maps a symbol to a directory name that is valid on common
// filesystems.
func SanitizeSymbol(symbol string) string {
	s := strings.Map(func(r rune) rune {
		if r < 0x20 || strings.ContainsRune(unsafeChars, r) {
			return '_'
		}
		return r
	}, strings.TrimSpace(symbol))
	switch s {
	case "", ".", "..":
		return "_" + s
	}
	return s
}
