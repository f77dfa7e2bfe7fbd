package store

import (
	"fmt"
	"strconv"
)

// ToInt64 translates a value scanned from a wide-integer column (DuckDB's
// HUGEINT/DECIMAL types surface as driver-specific structs, not a plain Go
// int64) into an ordinary int64. Per §4.B, callers outside this package
// must never see a wide-integer object. The warehouse's current row scans
// read numeric columns straight into Go integers and do not call it.
func ToInt64(v any) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	case string:
		return strconv.ParseInt(n, 10, 64)
	case fmt.Stringer:
		// Covers DuckDB's HUGEINT/DECIMAL driver types, which implement
		// String() but are not assignable to a numeric Go type directly.
		return strconv.ParseInt(n.String(), 10, 64)
	default:
		return 0, fmt.Errorf("store: cannot convert %T to int64", v)
	}
}
