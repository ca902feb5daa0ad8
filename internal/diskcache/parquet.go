package diskcache

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"barcache/internal/model"

	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"
)

const (
	metaUpdatedAt = "updated_at"
	metaTTL       = "ttl"
)

// ParquetCodec stores bars as Parquet rows; updated_at and ttl go into the
// file's key/value metadata.
type ParquetCodec struct{}

func (ParquetCodec) Extension() string { return "parquet" }

type parquetRow struct {
	Date   string  `parquet:"date"`
	Open   float64 `parquet:"open"`
	High   float64 `parquet:"high"`
	Low    float64 `parquet:"low"`
	Close  float64 `parquet:"close"`
	Volume int64   `parquet:"volume"`
}

func (ParquetCodec) Encode(f File) ([]byte, error) {
	rows := make([]parquetRow, len(f.Bars))
	for i, b := range f.Bars {
		rows[i] = parquetRow{
			Date:   formatDate(b.Date),
			Open:   b.Open.InexactFloat64(),
			High:   b.High.InexactFloat64(),
			Low:    b.Low.InexactFloat64(),
			Close:  b.Close.InexactFloat64(),
			Volume: b.Volume,
		}
	}

	var buf bytes.Buffer
	w := parquet.NewGenericWriter[parquetRow](&buf,
		parquet.KeyValueMetadata(metaUpdatedAt, strconv.FormatFloat(unixSeconds(f.UpdatedAt), 'f', -1, 64)),
		parquet.KeyValueMetadata(metaTTL, strconv.FormatInt(int64(f.TTL/time.Second), 10)),
	)
	if _, err := w.Write(rows); err != nil {
		return nil, fmt.Errorf("write rows: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close writer: %w", err)
	}
	return buf.Bytes(), nil
}

func (ParquetCodec) Decode(data []byte) (File, error) {
	r := bytes.NewReader(data)
	pf, err := parquet.OpenFile(r, int64(len(data)))
	if err != nil {
		return File{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	raw, ok := pf.Lookup(metaUpdatedAt)
	if !ok {
		return File{}, fmt.Errorf("%w: missing updated_at", ErrCorrupt)
	}
	updatedAt, err := strconv.ParseFloat(raw, 64)
	if err != nil || updatedAt <= 0 {
		return File{}, fmt.Errorf("%w: bad updated_at %q", ErrCorrupt, raw)
	}
	var ttl int64
	if raw, ok := pf.Lookup(metaTTL); ok {
		ttl, _ = strconv.ParseInt(raw, 10, 64)
	}

	rows, err := parquet.Read[parquetRow](r, int64(len(data)))
	if err != nil {
		return File{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	f := File{
		UpdatedAt: fromUnixSeconds(updatedAt),
		TTL:       time.Duration(ttl) * time.Second,
		Bars:      make([]model.Bar, 0, len(rows)),
	}
	for i, row := range rows {
		date, err := parseDate(row.Date)
		if err != nil {
			return File{}, fmt.Errorf("%w: row %d: %v", ErrCorrupt, i, err)
		}
		f.Bars = append(f.Bars, model.Bar{
			Date:   date,
			Open:   decimal.NewFromFloat(row.Open),
			High:   decimal.NewFromFloat(row.High),
			Low:    decimal.NewFromFloat(row.Low),
			Close:  decimal.NewFromFloat(row.Close),
			Volume: row.Volume,
		})
	}
	return f, nil
}
