//go:build !jsonv2

package report

import (
	"encoding/json"
	"io"
)

// encodeDocument writes doc as indented JSON terminated by a newline.
func encodeDocument(out io.Writer, doc *Document) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// flattenPayload round-trips payload through JSON into a generic map.
func flattenPayload(payload any) (map[string]any, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, err
	}
	return decoded, nil
}
