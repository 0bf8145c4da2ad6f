package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// SettingsHash returns the deterministic fingerprint of a node's settings
// record plus its kind identifier, canonicalized by round-tripping through
// a sorted-key JSON representation.
func SettingsHash(kind string, settings []byte) (string, error) {
	canon, err := canonicalizeJSON(settings)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write(canon)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// EffectiveHash composes a node's settings hash with its upstream artifact
// hashes, in port order, into the cache key used by the Artifact Cache.
func EffectiveHash(settingsHash string, upstreamHashes []string) string {
	h := sha256.New()
	h.Write([]byte(settingsHash))
	for _, u := range upstreamHashes {
		h.Write([]byte{0})
		h.Write([]byte(u))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalizeJSON re-encodes arbitrary JSON with map keys sorted at every
// level so that semantically identical settings records hash identically
// regardless of field order.
func canonicalizeJSON(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		raw = []byte("null")
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return json.Marshal(canonicalizeValue(v))
}

func canonicalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make(orderedMap, 0, len(keys))
		for _, k := range keys {
			ordered = append(ordered, kv{k, canonicalizeValue(t[k])})
		}
		return ordered
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = canonicalizeValue(e)
		}
		return out
	default:
		return t
	}
}

type kv struct {
	K string
	V interface{}
}

type orderedMap []kv

func (o orderedMap) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, pair := range o {
		if i > 0 {
			buf = append(buf, ',')
		}
		key, err := json.Marshal(pair.K)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(pair.V)
		if err != nil {
			return nil, err
		}
		buf = append(buf, key...)
		buf = append(buf, ':')
		buf = append(buf, val...)
	}
	buf = append(buf, '}')
	return buf, nil
}
