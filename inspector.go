package callback

import (
	"github.com/tidwall/gjson"
)

// Inspector examines raw bytes and returns a View for field queries.
type Inspector interface {
	Inspect(raw []byte) (View, error)
}

// View provides field access over an inbound payload, used to tell
// envelopes apart and to pick them apart without a full decode. Paths use
// gjson syntax; the empty path is the value the View was made from.
type View interface {
	// HasField reports whether the path exists.
	HasField(path string) bool

	// GetString returns the string at path. The second result is false when
	// the path is missing or not a string.
	GetString(path string) (string, bool)

	// GetBytes returns the raw encoded value at path (for JSON, strings keep
	// their quotes).
	GetBytes(path string) ([]byte, bool)

	// Value returns the decoded value at path.
	Value(path string) (any, bool)

	// Each visits the members of the object or array at path until fn
	// returns false. Array members get an empty key.
	Each(path string, fn func(key string, member View) bool)
}

// JSONInspector returns an Inspector backed by gjson.
func JSONInspector() Inspector {
	return jsonInspector{}
}

type jsonInspector struct{}

func (jsonInspector) Inspect(raw []byte) (View, error) {
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return nil, ErrInvalidJSON
	}
	return jsonView{root: gjson.ParseBytes(raw)}, nil
}

type jsonView struct {
	root gjson.Result
}

func (v jsonView) get(path string) gjson.Result {
	if path == "" {
		return v.root
	}
	return v.root.Get(path)
}

func (v jsonView) HasField(path string) bool {
	return v.get(path).Exists()
}

func (v jsonView) GetString(path string) (string, bool) {
	r := v.get(path)
	if r.Type != gjson.String {
		return "", false
	}
	return r.Str, true
}

func (v jsonView) GetBytes(path string) ([]byte, bool) {
	r := v.get(path)
	if !r.Exists() {
		return nil, false
	}
	return []byte(r.Raw), true
}

func (v jsonView) Value(path string) (any, bool) {
	r := v.get(path)
	if !r.Exists() {
		return nil, false
	}
	return r.Value(), true
}

func (v jsonView) Each(path string, fn func(string, View) bool) {
	r := v.get(path)
	if !r.IsObject() && !r.IsArray() {
		return
	}
	r.ForEach(func(key, value gjson.Result) bool {
		k := ""
		if key.Type == gjson.String {
			k = key.Str
		}
		return fn(k, jsonView{root: value})
	})
}
