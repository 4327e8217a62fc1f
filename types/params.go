package types

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Params is the flat key/value parameter map that is the only
// configuration channel into the state core (spec §3, §6). Keys are
// suffix-scoped: "<key>_<object>[_<parent>...]" overlays the bare "<key>".
type Params map[string]string

// LoadParams reads a YAML-encoded map[string]string from path, the same
// way phenix's config loader decodes YAML config bodies.
func LoadParams(path string) (Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading params file: %w", err)
	}

	var p Params

	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshaling params YAML: %w", err)
	}

	return p, nil
}

// Merge returns a new Params with every key of other overlaid on top of p
// (other wins on conflict). Used by the CLI to layer flag-derived params on
// top of a loaded file without mutating either map.
func (p Params) Merge(other Params) Params {
	out := make(Params, len(p)+len(other))

	for k, v := range p {
		out[k] = v
	}

	for k, v := range other {
		out[k] = v
	}

	return out
}

// scopeSuffixes returns the underscore-joined scope suffixes to try, most
// specific first, ending with "" for the bare key: the full scope chain,
// then each dropped-from-the-front subchain, then each individual scope
// element (tail to head), then bare.
//
// e.g. scopeSuffixes([]string{"vm1", "image1"}) returns
// ["vm1_image1", "image1", "image1", "vm1", ""].
func scopeSuffixes(scope []string) []string {
	suffixes := make([]string, 0, 2*len(scope)+1)

	for i := 0; i < len(scope); i++ {
		suffixes = append(suffixes, strings.Join(scope[i:], "_"))
	}

	for i := len(scope) - 1; i >= 0; i-- {
		suffixes = append(suffixes, scope[i])
	}

	return append(suffixes, "")
}

// Get returns the most specific value of key for the given dotted object
// scope, trying progressively shorter suffixes of scope before falling
// back to the bare key, and finally def.
//
// e.g. Get("image_name", []string{"vm1", "image1"}) tries, in order:
// "image_name_vm1_image1", "image_name_image1", "image_name_vm1",
// "image_name".
func (p Params) Get(key string, scope []string, def string) string {
	for _, suffix := range scopeSuffixes(scope) {
		k := key
		if suffix != "" {
			k = key + "_" + suffix
		}

		if v, ok := p[k]; ok {
			return v
		}
	}

	return def
}

// GetBool is Get with the result parsed as a boolean (false on parse
// failure or absence).
func (p Params) GetBool(key string, scope []string, def bool) bool {
	v := p.Get(key, scope, "")
	if v == "" {
		return def
	}

	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}

	return b
}

// GetInt is Get with the result parsed as an int.
func (p Params) GetInt(key string, scope []string, def int) int {
	v := p.Get(key, scope, "")
	if v == "" {
		return def
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}

	return n
}

// Fields splits a whitespace-separated value, the representation used by
// e.g. "<op>_location" and "skip_types".
func (p Params) Fields(key string, scope []string) []string {
	return strings.Fields(p.Get(key, scope, ""))
}

// ScopedView returns the subset of p relevant to a specific object scope,
// with keys stripped of their scope suffix so that callers (and
// mapstructure, via Decode) see plain field names. Most-specific value per
// bare key wins, mirroring Get's precedence: suffixes are walked in
// scopeSuffixes' most-to-least-specific order, and the first suffix level
// at which a bare key is seen wins regardless of map iteration order.
func (p Params) ScopedView(scope []string) Params {
	view := make(Params)
	seen := make(map[string]bool)

	for _, suffix := range scopeSuffixes(scope) {
		for k, v := range p {
			bare, ok := matchSuffix(k, suffix)
			if !ok || seen[bare] {
				continue
			}

			seen[bare] = true
			view[bare] = v
		}
	}

	return view
}

// matchSuffix checks whether key is "<bare>_<suffix>", or key itself when
// suffix is "", and if so returns the bare portion.
func matchSuffix(key, suffix string) (string, bool) {
	if suffix == "" {
		return key, true
	}

	if strings.HasSuffix(key, "_"+suffix) {
		return strings.TrimSuffix(key, "_"+suffix), true
	}

	return "", false
}

// Decode loosely-types the scoped view of p into v using mapstructure, the
// same decoding approach phenix's config tests use to turn a generic YAML
// map into a typed spec struct.
func (p Params) Decode(scope []string, v interface{}) error {
	view := p.ScopedView(scope)

	generic := make(map[string]interface{}, len(view))
	for k, val := range view {
		generic[k] = val
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           v,
		TagName:          "param",
	})
	if err != nil {
		return fmt.Errorf("building param decoder: %w", err)
	}

	if err := dec.Decode(generic); err != nil {
		return fmt.Errorf("decoding params: %w", err)
	}

	return nil
}
