package capability

import (
	"errors"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// Property names checked first when looking for a nested size object.
var preferredSizeFields = []string{"image_size", "size"}

// ParseSchema extracts the capability flags of endpointID from an OpenAPI
// document. SubmitEndpoint is left empty; the fetcher fills it in.
func ParseSchema(raw []byte, endpointID string) (Capability, error) {
	if !gjson.ValidBytes(raw) {
		return Capability{}, &SchemaFetchError{Endpoint: endpointID, Err: errors.New("response is not valid JSON")}
	}
	doc := gjson.ParseBytes(raw)

	op, ok := operationFor(doc, endpointID)
	if !ok {
		return Capability{}, &SchemaShapeError{Endpoint: endpointID, Reason: "missing operation path"}
	}
	ref := child(op, "post", "requestBody", "content", "application/json", "schema", "$ref")
	if ref.String() == "" {
		return Capability{}, &SchemaShapeError{Endpoint: endpointID, Reason: "missing request body reference"}
	}
	input, ok := resolveRef(doc, ref.String())
	if !ok {
		return Capability{}, &SchemaShapeError{Endpoint: endpointID, Reason: "missing referenced schema " + ref.String()}
	}
	props := child(input, "properties")
	if !props.IsObject() {
		return Capability{}, &SchemaShapeError{Endpoint: endpointID, Reason: "missing properties"}
	}

	out := Capability{
		SupportsDiscreteSize: hasDimensions(props),
		SupportsAspectRatio:  child(props, "aspect_ratio").Exists(),
	}
	if field, ok := findSizeObject(doc, props); ok {
		out.UsesSizeObject = true
		out.SizeField = field
	}
	return out, nil
}

func operationFor(doc gjson.Result, endpointID string) (gjson.Result, bool) {
	paths := child(doc, "paths")
	if !paths.IsObject() {
		return gjson.Result{}, false
	}
	trimmed := strings.Trim(endpointID, "/")
	for _, key := range []string{"/" + trimmed, trimmed} {
		if op := child(paths, key); op.IsObject() {
			return op, true
		}
	}
	return gjson.Result{}, false
}

// findSizeObject returns the first property whose schema declares both width
// and height, checking preferred names before the rest in sorted order.
func findSizeObject(doc, props gjson.Result) (string, bool) {
	all := props.Map()
	names := make([]string, 0, len(all))
	for _, name := range preferredSizeFields {
		if _, ok := all[name]; ok {
			names = append(names, name)
		}
	}
	rest := make([]string, 0, len(all))
	for name := range all {
		if name == "width" || name == "height" || isPreferred(name) {
			continue
		}
		rest = append(rest, name)
	}
	sort.Strings(rest)
	names = append(names, rest...)

	for _, name := range names {
		if declaresSizeObject(doc, all[name]) {
			return name, true
		}
	}
	return "", false
}

func isPreferred(name string) bool {
	for _, p := range preferredSizeFields {
		if p == name {
			return true
		}
	}
	return false
}

// declaresSizeObject follows at most one $ref and one level of
// anyOf/oneOf/allOf alternatives, each of which may be a $ref itself.
func declaresSizeObject(doc, prop gjson.Result) bool {
	if hasDimensions(child(prop, "properties")) {
		return true
	}
	if ref := child(prop, "$ref").String(); ref != "" {
		if target, ok := resolveRef(doc, ref); ok && hasDimensions(child(target, "properties")) {
			return true
		}
	}
	for _, union := range []string{"anyOf", "oneOf", "allOf"} {
		alts := child(prop, union)
		if !alts.IsArray() {
			continue
		}
		for _, alt := range alts.Array() {
			if hasDimensions(child(alt, "properties")) {
				return true
			}
			if ref := child(alt, "$ref").String(); ref != "" {
				if target, ok := resolveRef(doc, ref); ok && hasDimensions(child(target, "properties")) {
					return true
				}
			}
		}
	}
	return false
}

func hasDimensions(props gjson.Result) bool {
	return props.IsObject() && child(props, "width").Exists() && child(props, "height").Exists()
}

// resolveRef resolves a local JSON pointer such as "#/components/schemas/Input".
func resolveRef(doc gjson.Result, ref string) (gjson.Result, bool) {
	if !strings.HasPrefix(ref, "#/") {
		return gjson.Result{}, false
	}
	segments := strings.Split(strings.TrimPrefix(ref, "#/"), "/")
	for i, seg := range segments {
		seg = strings.ReplaceAll(seg, "~1", "/")
		segments[i] = strings.ReplaceAll(seg, "~0", "~")
	}
	target := child(doc, segments...)
	if !target.IsObject() {
		return gjson.Result{}, false
	}
	return target, true
}

// child walks literal object keys, escaping gjson path syntax in each key.
func child(r gjson.Result, keys ...string) gjson.Result {
	parts := make([]string, len(keys))
	for i, key := range keys {
		parts[i] = escapeKey(key)
	}
	return r.Get(strings.Join(parts, "."))
}

func escapeKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, ch := range key {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9', ch == '_', ch == '-':
		default:
			b.WriteByte('\\')
		}
		b.WriteRune(ch)
	}
	return b.String()
}
