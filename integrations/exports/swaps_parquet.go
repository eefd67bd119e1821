package exports

import (
	"fmt"
	"os"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

type parquetSwap struct {
	Index          int64  `parquet:"name=index, type=INT64"`
	ExecutedAt     string `parquet:"name=executed_at, type=BYTE_ARRAY, convertedtype=UTF8"`
	Caller         string `parquet:"name=caller, type=BYTE_ARRAY, convertedtype=UTF8"`
	TokenIn        string `parquet:"name=token_in, type=BYTE_ARRAY, convertedtype=UTF8"`
	TokenInSymbol  string `parquet:"name=token_in_symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	TokenOut       string `parquet:"name=token_out, type=BYTE_ARRAY, convertedtype=UTF8"`
	TokenOutSymbol string `parquet:"name=token_out_symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	AmountIn       string `parquet:"name=amount_in, type=BYTE_ARRAY, convertedtype=UTF8"`
	AmountOut      string `parquet:"name=amount_out, type=BYTE_ARRAY, convertedtype=UTF8"`
	Fee            string `parquet:"name=fee, type=BYTE_ARRAY, convertedtype=UTF8"`
	Digest         string `parquet:"name=digest, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// WriteSwapsParquet writes rows to a snappy-compressed Parquet file at path.
// Amounts are kept as decimal strings since they exceed 64 bits.
func WriteSwapsParquet(path string, rows []SwapRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("exports: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetSwap), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("exports: parquet schema: %w", err)
	}
	pw.RowGroupSize = 16 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		pr := &parquetSwap{
			Index:          int64(row.Index),
			ExecutedAt:     row.ExecutedAt.UTC().Format(time.RFC3339),
			Caller:         addressString(row.Caller),
			TokenIn:        row.TokenIn.String(),
			TokenInSymbol:  row.TokenInSymbol,
			TokenOut:       row.TokenOut.String(),
			TokenOutSymbol: row.TokenOutSymbol,
			AmountIn:       amountString(row.AmountIn),
			AmountOut:      amountString(row.AmountOut),
			Fee:            amountString(row.Fee),
			Digest:         row.Digest,
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("exports: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("exports: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("exports: close parquet file: %w", err)
	}
	return nil
}
