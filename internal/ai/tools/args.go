package tools

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

func readStringArg(obj map[string]any, keys ...string) (string, bool) {
	for _, key := range keys {
		v, ok := obj[key]
		if !ok || v == nil {
			continue
		}
		switch vv := v.(type) {
		case string:
			return vv, true
		case json.Number:
			return vv.String(), true
		case float64:
			return strconv.FormatFloat(vv, 'f', -1, 64), true
		}
	}
	return "", false
}

func readIntArg(obj map[string]any, keys ...string) (int, bool) {
	for _, key := range keys {
		v, ok := obj[key]
		if !ok || v == nil {
			continue
		}
		switch vv := v.(type) {
		case float64:
			if math.IsNaN(vv) || math.IsInf(vv, 0) {
				continue
			}
			return int(vv), true
		case int:
			return vv, true
		case int64:
			return int(vv), true
		case json.Number:
			if n, err := vv.Int64(); err == nil {
				return int(n), true
			}
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(vv)); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

func clampInt(v int, lo int, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func cloneArgs(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
