package saved

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Feature is one declared column of a saved dataset.
type Feature struct {
	Name  string `json:"name"`
	DType string `json:"dtype"`
}

// decodeFeatures walks the features object token by token so the declared
// column order survives; encoding/json maps would sort it.
func decodeFeatures(raw json.RawMessage) ([]Feature, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decode features: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("decode features: expected object, got %v", tok)
	}

	var features []Feature
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode features: %w", err)
		}
		name, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("decode features: unexpected key %v", keyTok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("decode feature %q: %w", name, err)
		}
		features = append(features, Feature{Name: name, DType: featureDType(value)})
	}
	return features, nil
}

func featureDType(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil || len(items) == 0 {
			return "Sequence(unknown)"
		}
		return "Sequence(" + featureDType(items[0]) + ")"
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "unknown"
	}
	var dtype, typ string
	if v, ok := fields["dtype"]; ok {
		_ = json.Unmarshal(v, &dtype)
	}
	if v, ok := fields["_type"]; ok {
		_ = json.Unmarshal(v, &typ)
	}
	switch {
	case typ == "ClassLabel":
		return "int64"
	case typ == "Sequence" || typ == "List" || typ == "LargeList":
		inner := "unknown"
		if feature, ok := fields["feature"]; ok {
			inner = featureDType(feature)
		}
		return "Sequence(" + inner + ")"
	case dtype != "":
		return dtype
	case typ != "":
		return typ
	default:
		return "struct"
	}
}
