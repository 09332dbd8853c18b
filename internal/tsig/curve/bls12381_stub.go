//go:build !blst

package curve

// newBLS12381 reports the pairing backend as unavailable. The BLS12-381
// adapter needs cgo and the supranational bindings, so it sits behind the
// blst build tag; the default build keeps the pure-Go curves only.
func newBLS12381() (Adapter, error) { return nil, ErrNotBuilt }
