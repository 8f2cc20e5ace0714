package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"storemon/internal/normalize"
)

func ParseJSONBytes(data []byte) (*normalize.ObservationFields, error) {
	var obj map[string]interface{}
	if err := decodeJSON(data, &obj); err != nil {
		return nil, err
	}
	return ParseJSONMap(obj), nil
}

// decodeJSON keeps numbers as json.Number; store ids exceed float64
// precision.
func decodeJSON(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// ParseJSONMap reads an observation from a decoded object. Keys are
// matched case-insensitively; numeric store ids are accepted.
func ParseJSONMap(obj map[string]interface{}) *normalize.ObservationFields {
	flat := make(map[string]string, len(obj))
	for key, val := range obj {
		switch v := val.(type) {
		case nil:
			continue
		case float64:
			flat[strings.ToLower(key)] = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			flat[strings.ToLower(key)] = fmt.Sprint(v)
		}
	}
	return &normalize.ObservationFields{
		StoreID:   firstNonEmpty(flat, storeKeys...),
		Status:    firstNonEmpty(flat, statusKeys...),
		Timestamp: firstNonEmpty(flat, timestampKeys...),
	}
}
