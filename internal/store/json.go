package store

import "encoding/json"

// encodeList serializes a string slice into a JSON text column. A nil
// slice encodes as an empty array so columns never hold SQL NULL.
func encodeList(list []string) string {
	if list == nil {
		list = []string{}
	}
	b, _ := json.Marshal(list)
	return string(b)
}

// decodeList deserializes a JSON text column into a string slice.
func decodeList(raw string) []string {
	var list []string
	if raw == "" {
		return []string{}
	}
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return []string{}
	}
	if list == nil {
		list = []string{}
	}
	return list
}
