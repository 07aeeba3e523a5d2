package fragment

// Equal reports whether two fragment values are structurally equal. Numeric
// scalars compare by value regardless of the concrete Go type, because YAML
// decoding yields int while JSON decoding yields float64 for the same wire
// value. nil and a missing value are not conflated by this function; callers
// decide what absence means.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	switch av := a.(type) {
	case Map:
		bv, ok := b.(Map)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, item := range av {
			other, present := bv[k]
			if !present || !Equal(item, other) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i, item := range av {
			if !Equal(item, bv[i]) {
				return false
			}
		}
		return true
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}

	an, aIsNum := asFloat(a)
	bn, bIsNum := asFloat(b)
	if aIsNum && bIsNum {
		return an == bn
	}

	return a == b
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
