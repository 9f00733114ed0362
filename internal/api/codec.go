package api

import "encoding/json"

// The job record stores its maps and options as JSON text columns; these
// helpers convert between the wire structs and the stored form. Encoding
// failures cannot happen for the map and option types involved, so the
// encoders swallow them.

func jsonMarshal(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}

func jsonUnmarshal(raw string, dst any) error {
	return json.Unmarshal([]byte(raw), dst)
}

func encodeStringMap(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	return jsonMarshal(m)
}

func decodeStringMap(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}
	m := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}
