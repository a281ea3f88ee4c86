package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"

	"tgeledger/integrations/indexer"
)

// NotificationsCSV builds a CSV export for the supplied notifications and
// returns the serialised data alongside a SHA-256 checksum of the payload.
func NotificationsCSV(records []indexer.Record) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	header := []string{"sequence", "type", "created_at", "attributes"}
	if err := writer.Write(header); err != nil {
		return nil, "", err
	}
	for _, rec := range records {
		attrs, err := encodeAttributes(rec.Attributes)
		if err != nil {
			return nil, "", err
		}
		record := []string{
			strconv.FormatUint(rec.Sequence, 10),
			rec.Type,
			rec.CreatedAt.UTC().Format(time.RFC3339Nano),
			attrs,
		}
		if err := writer.Write(record); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	return data, checksum(data), nil
}

// encodeAttributes renders attributes as JSON with sorted keys.
func encodeAttributes(attrs map[string]string) (string, error) {
	if attrs == nil {
		attrs = map[string]string{}
	}
	raw, err := json.Marshal(attrs)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
