// Package export writes query results to parquet files for downstream
// analysis.
package export

import (
	"fmt"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/querypilot/querypilot/internal/store"
)

// WriteResult writes result to a parquet file at path. Column order follows
// the result; every value is rendered as an optional UTF8 string so the
// schema does not depend on what the query happened to select. NULLs stay
// NULL.
func WriteResult(path string, result store.Result) error {
	if len(result.Columns) == 0 {
		return fmt.Errorf("result has no columns")
	}

	group := parquet.Group{}
	for _, column := range result.Columns {
		group[column] = parquet.Optional(parquet.String())
	}
	schema := parquet.NewSchema("result", group)

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create parquet file %q: %w", path, err)
	}

	writer := parquet.NewGenericWriter[map[string]any](file, schema)
	records := make([]map[string]any, 0, len(result.Rows))
	for _, row := range result.Rows {
		record := make(map[string]any, len(result.Columns))
		for i, column := range result.Columns {
			if i >= len(row) || row[i] == nil {
				continue
			}
			record[column] = fmt.Sprint(row[i])
		}
		records = append(records, record)
	}

	if len(records) > 0 {
		if _, err := writer.Write(records); err != nil {
			_ = file.Close()
			return fmt.Errorf("write parquet rows: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		_ = file.Close()
		return fmt.Errorf("close parquet writer: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close parquet file %q: %w", path, err)
	}
	return nil
}
