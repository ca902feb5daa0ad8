package warm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"barcache/internal/model"
)

// Target is one symbol to keep warm.
type Target struct {
	Symbol string
	Market model.Market
}

type rawTarget struct {
	Symbol string `json:"symbol"`
	Market string `json:"market,omitempty"`
}

// LoadTargetsFromFile reads the symbols to warm.
// Supported formats:
//   - .txt  : one symbol per line, optionally "SYMBOL,MARKET"; '#' lines are comments
//   - .json : JSON array of strings or of {"symbol": ..., "market": ...} objects
//
// Market defaults to US.
func LoadTargetsFromFile(path string) ([]Target, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", path, err)
	}

	var raw []rawTarget
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		raw, err = parseTargetsJSON(content)
		if err != nil {
			return nil, fmt.Errorf("parse JSON: %w", err)
		}
	case ".txt":
		raw = parseTargetsFromText(string(content))
	default:
		return nil, fmt.Errorf("unsupported ticker file extension %q (use .txt or .json)", filepath.Ext(path))
	}

	// Remove empty and duplicates
	seen := make(map[Target]bool)
	var unique []Target
	for _, r := range raw {
		t := Target{
			Symbol: strings.TrimSpace(strings.ToUpper(r.Symbol)),
			Market: model.ParseMarket(r.Market),
		}
		if t.Symbol != "" && !seen[t] {
			seen[t] = true
			unique = append(unique, t)
		}
	}

	slog.Info("loaded targets from file", "count", len(unique), "path", path)
	return unique, nil
}

func parseTargetsJSON(content []byte) ([]rawTarget, error) {
	var symbols []string
	if err := json.Unmarshal(content, &symbols); err == nil {
		out := make([]rawTarget, len(symbols))
		for i, s := range symbols {
			out[i] = rawTarget{Symbol: s}
		}
		return out, nil
	}
	var objs []rawTarget
	if err := json.Unmarshal(content, &objs); err != nil {
		return nil, err
	}
	return objs, nil
}

// parseTargetsFromText parses one "SYMBOL[,MARKET]" per non-empty,
// non-comment line.
func parseTargetsFromText(s string) []rawTarget {
	var targets []rawTarget
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		symbol, market, _ := strings.Cut(line, ",")
		targets = append(targets, rawTarget{Symbol: symbol, Market: strings.TrimSpace(market)})
	}
	return targets
}

// indicesPaths are tried when no ticker file is configured.
var indicesPaths = []string{
	"indices/combined.txt",
	"indices/tickers.json",
	"indices/sp500.txt",
}

// LoadTargetsFromFileOrIndices loads path when it exists, else falls back
// to the first indices file found.
func LoadTargetsFromFileOrIndices(path string) ([]Target, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return LoadTargetsFromFile(path)
		}
		slog.Info("file not found, trying indices", "path", path)
	}

	for _, p := range indicesPaths {
		absPath, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		if _, err := os.Stat(absPath); err == nil {
			slog.Info("found indices file", "path", absPath)
			return LoadTargetsFromFile(absPath)
		}
	}
	return nil, fmt.Errorf("no ticker file: set TICKERS_FILE or provide one of %v", indicesPaths)
}
