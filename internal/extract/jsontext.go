package extract

import (
	"bytes"
	"encoding/json"
	"strings"
)

// maxJSONScan bounds how much model output FirstJSON inspects
const maxJSONScan = 256 << 10

// FirstJSON returns the first syntactically valid JSON object or array
// embedded in free-form text, such as a model reply wrapped in prose or code
// fences. It reports false when there is none and never panics.
func FirstJSON(text string) (json.RawMessage, bool) {
	if len(text) > maxJSONScan {
		text = text[:maxJSONScan]
	}
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != '{' && c != '[' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(text[i:]))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			continue
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) > 0 && (raw[0] == '{' || raw[0] == '[') {
			return raw, true
		}
	}
	return nil, false
}
