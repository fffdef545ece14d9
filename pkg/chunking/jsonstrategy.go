// Copyright 2025 The Quiver Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package chunking

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/quiverkb/quiver/pkg/models"
)

// minJSONChunkChars is the grouping floor: adjacent small elements are merged
// until a chunk reaches roughly this size.
const minJSONChunkChars = 200

type jsonElement struct {
	path string
	text string
}

// chunkJSON parses the document and emits chunks per JSON element, grouping
// small elements and recursing into large ones. Unparseable or oversized
// documents fall back to the default window.
func (s *Service) chunkJSON(doc *models.Document) []*models.Chunk {
	if len(doc.Content) > s.cfg.JSON.MaxJSONSizeForParsing {
		return s.chunkText(doc)
	}

	var root any
	if err := json.Unmarshal([]byte(doc.Content), &root); err != nil {
		return s.chunkText(doc)
	}

	extractor := &jsonExtractor{
		maxDepth:    s.cfg.JSON.MaxRecursionDepth,
		maxObjects:  s.cfg.JSON.MaxObjectsToProcess,
		maxKeys:     s.cfg.JSON.MaxObjectKeysToProcess,
		maxPerChunk: s.cfg.JSON.MaxArrayItemsPerChunk,
		chunkSize:   s.cfg.ChunkSize,
	}
	elements := extractor.extract("$", root, 0)
	if len(elements) == 0 {
		return s.chunkText(doc)
	}

	grouped := groupJSONElements(elements, s.cfg.ChunkSize)

	var schema map[string]any
	if s.cfg.JSON.EnableSchemaInference {
		schema = inferJSONSchema(root)
	}

	var chunks []*models.Chunk
	for _, group := range grouped {
		if len(chunks) >= s.cfg.MaxChunksPerDocument {
			break
		}
		chunk := models.NewChunk(doc, len(chunks), group.text)
		chunk.SetMetadata(MetaSectionTitle, group.path)
		if schema != nil {
			chunk.SetMetadata(MetaJSONRootType, schema["root_type"])
			chunk.SetMetadata(MetaJSONDepth, schema["nesting_depth"])
			chunk.SetMetadata(MetaJSONTypeHistogram, schema["type_histogram"])
			chunk.SetMetadata(MetaJSONKeyPatterns, schema["key_patterns"])
			chunk.SetMetadata(MetaJSONClassification, schema["classification"])
			if hints := schema["format_hints"]; hints != nil {
				chunk.SetMetadata(MetaJSONFormatHints, hints)
			}
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

type jsonExtractor struct {
	maxDepth    int
	maxObjects  int
	maxKeys     int
	maxPerChunk int
	chunkSize   int
	objects     int
}

// extract walks the value producing leaf-ish elements. Large containers are
// recursed into while the depth and object budgets last; whatever exceeds a
// budget is serialized whole.
func (e *jsonExtractor) extract(path string, value any, depth int) []jsonElement {
	e.objects++
	if depth >= e.maxDepth || e.objects > e.maxObjects {
		return []jsonElement{e.serialize(path, value)}
	}

	switch v := value.(type) {
	case map[string]any:
		whole := e.serialize(path, v)
		if len(whole.text) <= e.chunkSize {
			return []jsonElement{whole}
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if len(keys) > e.maxKeys {
			keys = keys[:e.maxKeys]
		}
		var out []jsonElement
		for _, k := range keys {
			out = append(out, e.extract(path+"."+k, v[k], depth+1)...)
		}
		return out
	case []any:
		whole := e.serialize(path, v)
		if len(whole.text) <= e.chunkSize && len(v) <= e.maxPerChunk {
			return []jsonElement{whole}
		}
		var out []jsonElement
		for start := 0; start < len(v); start += e.maxPerChunk {
			end := start + e.maxPerChunk
			if end > len(v) {
				end = len(v)
			}
			slicePath := fmt.Sprintf("%s[%d:%d]", path, start, end)
			group := e.serialize(slicePath, v[start:end])
			if len(group.text) > e.chunkSize && depth+1 < e.maxDepth {
				for i := start; i < end; i++ {
					out = append(out, e.extract(fmt.Sprintf("%s[%d]", path, i), v[i], depth+1)...)
				}
			} else {
				out = append(out, group)
			}
		}
		return out
	default:
		return []jsonElement{e.serialize(path, value)}
	}
}

func (e *jsonExtractor) serialize(path string, value any) jsonElement {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		data = []byte(fmt.Sprintf("%v", value))
	}
	return jsonElement{path: path, text: string(data)}
}

// groupJSONElements merges consecutive small elements until the minimum chunk
// size is reached, without crossing the configured chunk size.
func groupJSONElements(elements []jsonElement, chunkSize int) []jsonElement {
	var out []jsonElement
	var pending jsonElement

	flush := func() {
		if pending.text != "" {
			out = append(out, pending)
			pending = jsonElement{}
		}
	}

	for _, el := range elements {
		if pending.text == "" {
			pending = el
		} else if len(pending.text)+len(el.text) <= chunkSize {
			pending.text += "\n" + el.text
		} else {
			flush()
			pending = el
		}
		if len(pending.text) >= minJSONChunkChars {
			flush()
		}
	}
	flush()
	return out
}

var (
	reSnakeKey   = regexp.MustCompile(`^[a-z0-9]+(_[a-z0-9]+)+$`)
	reCamelKey   = regexp.MustCompile(`^[a-z]+([A-Z][a-z0-9]*)+$`)
	reUUIDValue  = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	reISODate    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}([T ]\d{2}:\d{2})?`)
	reEmailValue = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// inferJSONSchema produces the document-level structural summary attached to
// every chunk: root type, depth, type histogram, key patterns, classification
// and value format hints.
func inferJSONSchema(root any) map[string]any {
	histogram := map[string]int{}
	patterns := map[string][]string{}
	hints := map[string][]string{}
	maxDepth := 0

	var visit func(value any, key string, depth int)
	visit = func(value any, key string, depth int) {
		if depth > maxDepth {
			maxDepth = depth
		}
		switch v := value.(type) {
		case map[string]any:
			histogram["object"]++
			for k, child := range v {
				classifyKey(k, patterns)
				visit(child, k, depth+1)
			}
		case []any:
			histogram["array"]++
			for _, item := range v {
				visit(item, key, depth+1)
			}
		case string:
			histogram["string"]++
			classifyValue(key, v, hints)
		case float64:
			histogram["number"]++
		case bool:
			histogram["boolean"]++
			patterns["boolean_flags"] = appendUnique(patterns["boolean_flags"], key)
		case nil:
			histogram["null"]++
		}
	}
	visit(root, "", 0)

	return map[string]any{
		"root_type":      jsonTypeName(root),
		"nesting_depth":  maxDepth,
		"type_histogram": histogram,
		"key_patterns":   patterns,
		"classification": classifyStructure(root, histogram),
		"format_hints":   hints,
	}
}

func classifyKey(key string, patterns map[string][]string) {
	if reSnakeKey.MatchString(key) {
		patterns["snake_case"] = appendUnique(patterns["snake_case"], key)
	}
	if reCamelKey.MatchString(key) {
		patterns["camel_case"] = appendUnique(patterns["camel_case"], key)
	}
	lower := strings.ToLower(key)
	if lower == "id" || strings.HasSuffix(lower, "_id") || strings.HasSuffix(lower, "id") && len(lower) > 2 {
		patterns["id_fields"] = appendUnique(patterns["id_fields"], key)
	}
	if strings.Contains(lower, "time") || strings.Contains(lower, "date") || strings.HasSuffix(lower, "_at") {
		patterns["timestamp_fields"] = appendUnique(patterns["timestamp_fields"], key)
	}
}

func classifyValue(key, value string, hints map[string][]string) {
	switch {
	case reEmailValue.MatchString(value):
		hints["email"] = appendUnique(hints["email"], key)
	case strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://"):
		hints["url"] = appendUnique(hints["url"], key)
	case reUUIDValue.MatchString(value):
		hints["uuid"] = appendUnique(hints["uuid"], key)
	case reISODate.MatchString(value):
		hints["iso_date"] = appendUnique(hints["iso_date"], key)
	}
}

func classifyStructure(root any, histogram map[string]int) string {
	switch v := root.(type) {
	case []any:
		if histogram["object"] > 0 {
			return "object_collection"
		}
		return "data_container"
	case map[string]any:
		// Mostly-scalar flat objects read like configuration.
		scalar := 0
		for _, child := range v {
			switch child.(type) {
			case map[string]any, []any:
			default:
				scalar++
			}
		}
		if len(v) > 0 && scalar*2 >= len(v) {
			return "configuration"
		}
		return "data_container"
	default:
		return "scalar"
	}
}

func jsonTypeName(value any) string {
	switch value.(type) {
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case nil:
		return "null"
	default:
		return "unknown"
	}
}

func appendUnique(list []string, item string) []string {
	if item == "" {
		return list
	}
	for _, existing := range list {
		if existing == item {
			return list
		}
	}
	return append(list, item)
}
