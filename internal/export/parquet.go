// Package export writes query results to Parquet files in object storage.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/parquet-go/parquet-go"
)

type EncodeResult struct {
	Data     []byte
	RowCount int64
}

type parquetRecord struct {
	RowNumber  int64  `parquet:"row_number"`
	RecordJSON string `parquet:"record_json"`
}

// EncodeResultToParquet writes one Parquet row per result row. Each row is
// stored as a JSON object keyed by column name; repeated column names get a
// numeric suffix.
func EncodeResultToParquet(columns []string, rows [][]any) (EncodeResult, error) {
	if len(columns) == 0 {
		return EncodeResult{}, fmt.Errorf("columns are required")
	}
	keys := uniqueColumnNames(columns)

	records := make([]parquetRecord, 0, len(rows))
	for i, row := range rows {
		if len(row) != len(keys) {
			return EncodeResult{}, fmt.Errorf("row %d has %d values for %d columns", i+1, len(row), len(keys))
		}
		object := make(map[string]any, len(keys))
		for j, key := range keys {
			object[key] = row[j]
		}
		encoded, err := json.Marshal(object)
		if err != nil {
			return EncodeResult{}, fmt.Errorf("encode row %d: %w", i+1, err)
		}
		records = append(records, parquetRecord{RowNumber: int64(i + 1), RecordJSON: string(encoded)})
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[parquetRecord](buf)
	if _, err := writer.Write(records); err != nil {
		return EncodeResult{}, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return EncodeResult{}, fmt.Errorf("close parquet writer: %w", err)
	}
	return EncodeResult{Data: buf.Bytes(), RowCount: int64(len(records))}, nil
}

func uniqueColumnNames(columns []string) []string {
	seen := make(map[string]int, len(columns))
	out := make([]string, len(columns))
	for i, column := range columns {
		seen[column]++
		if seen[column] == 1 {
			out[i] = column
			continue
		}
		out[i] = column + "_" + strconv.Itoa(seen[column])
	}
	return out
}
