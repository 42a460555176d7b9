package reqcache

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CacheKey composes the key shared by the cache store and the in-flight
// registry: METHOD:path:params. Params are serialized as JSON, so map keys
// come out sorted and equal params always produce equal keys. Nil params
// serialize like an empty object.
func CacheKey(method, path string, params any) string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(method))
	b.WriteByte(':')
	b.WriteString(path)
	b.WriteByte(':')
	b.WriteString(serializeParams(params))
	return b.String()
}

func serializeParams(params any) string {
	switch p := params.(type) {
	case nil:
		return "{}"
	case json.RawMessage:
		if len(p) == 0 {
			return "{}"
		}
		return string(p)
	case []byte:
		if len(p) == 0 {
			return "{}"
		}
		return string(p)
	case string:
		return p
	}

	b, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("%#v", params)
	}
	if string(b) == "null" {
		return "{}"
	}
	return string(b)
}
