// Package correlation ties an asynchronous generation callback back to the
// user who submitted it.
//
// The token travels opaquely through the provider as the task "param" and is
// echoed back on completion. Providers have been observed to return it under
// different paths and either as a nested object or as an encoded JSON string,
// so decoding walks an ordered list of named strategies.
package correlation

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Encode returns the token to send with a generation request.
func Encode(userID int64) string {
	token := map[string]any{
		"input": map[string]any{
			"user_id": strconv.FormatInt(userID, 10),
		},
	}
	b, _ := json.Marshal(token)
	return string(b)
}

// Strategy extracts a user id from a decoded callback body.
type Strategy struct {
	Name    string
	Extract func(body map[string]any) (int64, bool)
}

// Strategies are tried in order; the first hit wins.
var Strategies = []Strategy{
	{Name: "data.param.input.user_id", Extract: fromParam([]string{"data", "param"}, []string{"input", "user_id"})},
	{Name: "data.param.user_id", Extract: fromParam([]string{"data", "param"}, []string{"user_id"})},
	{Name: "param.input.user_id", Extract: fromParam([]string{"param"}, []string{"input", "user_id"})},
	{Name: "param.user_id", Extract: fromParam([]string{"param"}, []string{"user_id"})},
}

// Decode resolves the user id carried by a raw callback payload. It never
// panics; malformed or foreign payloads report ok=false.
func Decode(raw []byte) (int64, bool) {
	userID, _, ok := DecodeWithStrategy(raw)
	return userID, ok
}

// DecodeWithStrategy is Decode that also names the strategy that matched.
func DecodeWithStrategy(raw []byte) (userID int64, strategy string, ok bool) {
	defer func() {
		if recover() != nil {
			userID, strategy, ok = 0, "", false
		}
	}()

	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return 0, "", false
	}
	for _, s := range Strategies {
		if id, hit := s.Extract(body); hit {
			return id, s.Name, true
		}
	}
	return 0, "", false
}

func fromParam(paramPath, idPath []string) func(map[string]any) (int64, bool) {
	return func(body map[string]any) (int64, bool) {
		param, ok := lookup(body, paramPath)
		if !ok {
			return 0, false
		}
		obj, ok := asObject(param)
		if !ok {
			return 0, false
		}
		id, ok := lookup(obj, idPath)
		if !ok {
			return 0, false
		}
		return asUserID(id)
	}
}

func lookup(obj map[string]any, path []string) (any, bool) {
	var cur any = obj
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

// asObject accepts the param either as an object or as a JSON-encoded string.
func asObject(v any) (map[string]any, bool) {
	switch p := v.(type) {
	case map[string]any:
		return p, true
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(p), &m); err != nil {
			return nil, false
		}
		return m, m != nil
	}
	return nil, false
}

func asUserID(v any) (int64, bool) {
	var id int64
	switch t := v.(type) {
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, false
		}
		id = n
	case float64:
		if t != float64(int64(t)) {
			return 0, false
		}
		id = int64(t)
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0, false
		}
		id = n
	default:
		return 0, false
	}
	if id <= 0 {
		return 0, false
	}
	return id, true
}
