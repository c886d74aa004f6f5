package events

import (
	"bytes"
	"errors"
	"io"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"golang.org/x/net/html"
)

const (
	placeholderTooDeep     = "[Object too deeply nested]"
	placeholderTooManyKeys = "[Object has too many keys]"
)

var (
	errMetadataNotObject = errors.New("metadata must be a JSON object")
	errCorruptMetadata   = errors.New("stored metadata is not valid JSON")
)

// StripTags removes every HTML tag from s and keeps the text content.
// The contents of script and style elements are discarded.
func StripTags(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}

	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return strings.TrimSpace(b.String())
			}
			return ""
		case html.StartTagToken:
			if isRawTextTag(z) {
				skip++
			}
		case html.EndTagToken:
			if isRawTextTag(z) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func isRawTextTag(z *html.Tokenizer) bool {
	name, _ := z.TagName()
	switch string(name) {
	case "script", "style":
		return true
	}
	return false
}

type metadataLimits struct {
	maxDepth int
	maxKeys  int
}

// sanitizeMetadata decodes an object, strips HTML from every string and
// replaces parts beyond the depth or key limits with placeholders.
func sanitizeMetadata(raw json.RawMessage, limits metadataLimits) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil {
		return nil, errMetadataNotObject
	}

	keys := 0
	clean := sanitizeValue(obj, 0, &keys, limits)
	out, err := json.Marshal(clean)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func sanitizeValue(v interface{}, depth int, keys *int, limits metadataLimits) interface{} {
	switch val := v.(type) {
	case string:
		return StripTags(val)
	case map[string]interface{}:
		if depth >= limits.maxDepth {
			return placeholderTooDeep
		}
		if *keys >= limits.maxKeys {
			return placeholderTooManyKeys
		}

		names := make([]string, 0, len(val))
		for k := range val {
			names = append(names, k)
		}
		sort.Strings(names)

		out := make(map[string]interface{}, len(val))
		for _, k := range names {
			if *keys >= limits.maxKeys {
				break
			}
			*keys++
			out[k] = sanitizeValue(val[k], depth+1, keys, limits)
		}
		return out
	case []interface{}:
		if depth >= limits.maxDepth {
			return placeholderTooDeep
		}
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = sanitizeValue(item, depth+1, keys, limits)
		}
		return out
	default:
		return val
	}
}
