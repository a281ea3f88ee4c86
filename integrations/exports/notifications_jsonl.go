package exports

import (
	"bytes"
	"encoding/json"
	"time"

	"tgeledger/integrations/indexer"
)

// NotificationsJSONL builds a JSON Lines export for the supplied notifications
// and returns the serialised payload alongside a checksum.
func NotificationsJSONL(records []indexer.Record) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, rec := range records {
		attrs := rec.Attributes
		if attrs == nil {
			attrs = map[string]string{}
		}
		payload := map[string]interface{}{
			"sequence":   rec.Sequence,
			"type":       rec.Type,
			"created_at": rec.CreatedAt.UTC().Format(time.RFC3339Nano),
			"attributes": attrs,
		}
		if err := encoder.Encode(payload); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	return data, checksum(data), nil
}
