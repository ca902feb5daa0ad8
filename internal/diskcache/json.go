package diskcache

import (
	"encoding/json"
	"fmt"
	"time"

	"barcache/internal/model"

	"github.com/shopspring/decimal"
)

// JSONCodec stores a cache file as a JSON document:
//
//	{"updated_at": 1700000000.5, "ttl": 900, "bars": [{"date": "...", "open": 1.0, ...}]}
//
// Prices are written as exact decimal literals.
type JSONCodec struct{}

func (JSONCodec) Extension() string { return "json" }

type jsonFile struct {
	UpdatedAt float64   `json:"updated_at"`
	TTL       int64     `json:"ttl"`
	Bars      []jsonBar `json:"bars"`
}

type jsonBar struct {
	Date   string      `json:"date"`
	Open   json.Number `json:"open"`
	High   json.Number `json:"high"`
	Low    json.Number `json:"low"`
	Close  json.Number `json:"close"`
	Volume json.Number `json:"volume"`
}

func (JSONCodec) Encode(f File) ([]byte, error) {
	out := jsonFile{
		UpdatedAt: unixSeconds(f.UpdatedAt),
		TTL:       int64(f.TTL / time.Second),
		Bars:      make([]jsonBar, len(f.Bars)),
	}
	for i, b := range f.Bars {
		out.Bars[i] = jsonBar{
			Date:   formatDate(b.Date),
			Open:   json.Number(b.Open.String()),
			High:   json.Number(b.High.String()),
			Low:    json.Number(b.Low.String()),
			Close:  json.Number(b.Close.String()),
			Volume: json.Number(fmt.Sprintf("%d", b.Volume)),
		}
	}
	return json.Marshal(out)
}

func (JSONCodec) Decode(data []byte) (File, error) {
	var in jsonFile
	if err := json.Unmarshal(data, &in); err != nil {
		return File{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if in.UpdatedAt <= 0 {
		return File{}, fmt.Errorf("%w: missing updated_at", ErrCorrupt)
	}

	f := File{
		UpdatedAt: fromUnixSeconds(in.UpdatedAt),
		TTL:       time.Duration(in.TTL) * time.Second,
		Bars:      make([]model.Bar, 0, len(in.Bars)),
	}
	for i, jb := range in.Bars {
		b, err := jb.toBar()
		if err != nil {
			return File{}, fmt.Errorf("%w: bar %d: %v", ErrCorrupt, i, err)
		}
		f.Bars = append(f.Bars, b)
	}
	return f, nil
}

func (jb jsonBar) toBar() (model.Bar, error) {
	date, err := parseDate(jb.Date)
	if err != nil {
		return model.Bar{}, err
	}
	var vals [4]decimal.Decimal
	for i, n := range []json.Number{jb.Open, jb.High, jb.Low, jb.Close} {
		if n == "" {
			continue
		}
		v, err := decimal.NewFromString(n.String())
		if err != nil {
			return model.Bar{}, err
		}
		vals[i] = v
	}
	var volume int64
	if jb.Volume != "" {
		v, err := decimal.NewFromString(jb.Volume.String())
		if err != nil {
			return model.Bar{}, err
		}
		volume = v.IntPart()
	}
	return model.Bar{
		Date:   date,
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: volume,
	}, nil
}
