package exports

import (
	"fmt"
	"os"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"tgeledger/integrations/indexer"
)

type notificationRow struct {
	Sequence   int64  `parquet:"name=sequence, type=INT64"`
	Type       string `parquet:"name=type, type=UTF8"`
	CreatedAt  string `parquet:"name=created_at, type=UTF8"`
	Attributes string `parquet:"name=attributes, type=UTF8"`
}

type holderRow struct {
	Address        string `parquet:"name=address, type=UTF8"`
	Balance        string `parquet:"name=balance, type=UTF8"`
	Contribution   string `parquet:"name=contribution, type=UTF8"`
	PurchasedUnits string `parquet:"name=purchased_units, type=UTF8"`
	PendingRefund  string `parquet:"name=pending_refund, type=UTF8"`
	Whitelisted    bool   `parquet:"name=whitelisted, type=BOOLEAN"`
}

// WriteNotificationsParquet writes records to a SNAPPY-compressed parquet
// file at path.
func WriteNotificationsParquet(path string, records []indexer.Record) error {
	rows := make([]interface{}, 0, len(records))
	for _, rec := range records {
		attrs, err := encodeAttributes(rec.Attributes)
		if err != nil {
			return fmt.Errorf("exports: encode attributes: %w", err)
		}
		rows = append(rows, &notificationRow{
			Sequence:   int64(rec.Sequence),
			Type:       rec.Type,
			CreatedAt:  rec.CreatedAt.UTC().Format(time.RFC3339Nano),
			Attributes: attrs,
		})
	}
	return writeParquet(path, new(notificationRow), rows)
}

// WriteHoldersParquet writes a holder snapshot to a SNAPPY-compressed parquet
// file at path.
func WriteHoldersParquet(path string, holders []Holder) error {
	rows := make([]interface{}, 0, len(holders))
	for _, h := range holders {
		rec := holderRecord(h)
		rows = append(rows, &holderRow{
			Address:        rec[0],
			Balance:        rec[1],
			Contribution:   rec[2],
			PurchasedUnits: rec[3],
			PendingRefund:  rec[4],
			Whitelisted:    h.Account != nil && h.Account.Whitelisted,
		})
	}
	return writeParquet(path, new(holderRow), rows)
}

func writeParquet(path string, schema interface{}, rows []interface{}) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("exports: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, schema, 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("exports: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		if err := pw.Write(row); err != nil {
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
