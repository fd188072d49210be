//go:build jsonv2

package report

import (
	"encoding/json/jsontext"
	jsonv2 "encoding/json/v2"
	"io"
)

func encodeDocument(out io.Writer, doc *Document) error {
	if err := jsonv2.MarshalWrite(out, doc, jsontext.WithIndent("  ")); err != nil {
		return err
	}
	_, err := io.WriteString(out, "\n")
	return err
}

func flattenPayload(payload any) (map[string]any, error) {
	data, err := jsonv2.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var decoded map[string]any
	if err := jsonv2.Unmarshal(data, &decoded); err != nil {
		return nil, err
	}
	return decoded, nil
}
