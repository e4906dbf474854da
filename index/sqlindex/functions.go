package sqlindex

import (
	"database/sql/driver"
	"fmt"
	"math/bits"
	"sync"

	sqlite "modernc.org/sqlite"
)

var registerOnce sync.Once

// registerFunctions makes hamming_distance available to connections opened
// after the call.
func registerFunctions() {
	registerOnce.Do(func() {
		_ = sqlite.RegisterDeterministicScalarFunction("hamming_distance", 2, hammingDistanceImpl)
	})
}

// hammingDistanceImpl counts differing bits between two BLOBs. Bytes beyond
// the shorter argument count as differing against zero.
func hammingDistanceImpl(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("hamming_distance: expected 2 arguments, got %d", len(args))
	}
	a, err := asBlob(args[0])
	if err != nil {
		return nil, err
	}
	b, err := asBlob(args[1])
	if err != nil {
		return nil, err
	}
	if len(a) < len(b) {
		a, b = b, a
	}

	d := 0
	for i := range b {
		d += bits.OnesCount8(a[i] ^ b[i])
	}
	for _, v := range a[len(b):] {
		d += bits.OnesCount8(v)
	}
	return int64(d), nil
}

func asBlob(v driver.Value) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return x, nil
	default:
		return nil, fmt.Errorf("hamming_distance: unsupported argument type %T; want BLOB", v)
	}
}
