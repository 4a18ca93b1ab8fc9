package persistence

import "encoding/json"

// encodeMetadata serializes event metadata as JSON. Nil maps encode to nil
// so the column stays NULL for events without metadata.
func encodeMetadata(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

// decodeMetadata is the inverse of encodeMetadata.
func decodeMetadata(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
