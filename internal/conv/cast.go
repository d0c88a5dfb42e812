package conv

import (
	"fmt"
	"math"
)

// Uint64ToInt narrows an emulated size or offset to a host int, as needed
// for slice lengths and mapping sizes.
func Uint64ToInt(v uint64) (int, error) {
	if v > uint64(math.MaxInt) {
		return 0, fmt.Errorf("conv: %d overflows int", v)
	}

	return int(v), nil
}

// Uint64ToInt64 narrows an emulated byte amount to the signed quantity a
// resource ledger charges.
func Uint64ToInt64(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("conv: %d overflows int64", v)
	}

	return int64(v), nil
}
