package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// chatPaths hold chat targets. YAML reads an unquoted "-100123" as an int,
// which the strict JSON decoder would reject for a string field.
var chatPaths = map[string]bool{
	"telegram.default_chat_id": true,
	"logging.telegram.chat":    true,
	"projects.*":               true,
}

// coerceToJSONBytes converts a .yaml/.yml file to JSON so both formats go
// through the same strict decoder. Other extensions are returned as is.
//
// Returns (jsonBytes, format, err) where format is "json" or "yaml".
func coerceToJSONBytes(path string, data []byte) ([]byte, string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return data, "json", nil
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, "yaml", fmt.Errorf("yaml unmarshal: %w", err)
	}
	if len(doc.Content) == 0 {
		return []byte("{}"), "yaml", nil
	}
	quoteChatIDs(doc.Content[0], "")

	var v any
	if err := doc.Content[0].Decode(&v); err != nil {
		return nil, "yaml", fmt.Errorf("yaml decode: %w", err)
	}
	j, err := json.Marshal(normalizeYAML(v))
	if err != nil {
		return nil, "yaml", fmt.Errorf("yaml->json marshal: %w", err)
	}
	return j, "yaml", nil
}

func quoteChatIDs(n *yaml.Node, path string) {
	if n.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i].Value, n.Content[i+1]
		p := key
		if path != "" {
			p = path + "." + key
		}
		if val.Kind == yaml.ScalarNode && val.Tag == "!!int" && (chatPaths[p] || chatPaths[path+".*"]) {
			val.Tag = "!!str"
			continue
		}
		quoteChatIDs(val, p)
	}
}

// normalizeYAML turns non-string map keys into strings for json.Marshal.
func normalizeYAML(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = normalizeYAML(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = normalizeYAML(x[i])
		}
		return x
	default:
		return in
	}
}
