package provider

import (
	"encoding/json"
	"strings"
)

// NormalizeContent flattens the content shapes providers return into plain
// text. Strings pass through, block lists concatenate their text parts, and
// maps fall back to their text-like fields before JSON encoding.
func NormalizeContent(content interface{}) string {
	switch v := content.(type) {
	case nil:
		return ""
	case string:
		return v
	case []ContentBlock:
		var sb strings.Builder
		for _, block := range v {
			if block.Text != "" {
				sb.WriteString(block.Text)
			}
		}
		return sb.String()
	case []interface{}:
		var sb strings.Builder
		for _, item := range v {
			sb.WriteString(NormalizeContent(item))
		}
		return sb.String()
	case map[string]interface{}:
		for _, key := range []string{"text", "content", "output_text"} {
			if s, ok := v[key].(string); ok && s != "" {
				return s
			}
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(raw)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}

// JoinBlocks collects the text of every block into one string
func JoinBlocks(blocks []ContentBlock) string {
	var sb strings.Builder
	for _, b := range blocks {
		sb.WriteString(b.Text)
	}
	return sb.String()
}
