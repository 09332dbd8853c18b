package dkg

import (
	"sort"

	"github.com/quorsig/quorsig/internal/tsig/curve"
)

// Share pairs a participant index with a scalar value dealt to it.
type Share struct {
	Index uint32
	Value curve.Scalar
}

// LagrangeCoefficient computes λ_i(0) for the interpolation set indices:
// Π_{j≠i} (-x_j) / (x_i - x_j), all mod the group order. Indices must be
// distinct and contain i.
func LagrangeCoefficient(ad curve.Adapter, i uint32, indices []uint32) (curve.Scalar, error) {
	if ad == nil || i == 0 || len(indices) == 0 {
		return nil, ErrInvalidParams
	}
	found := false
	xi := ad.ScalarFromUint64(uint64(i))
	num := ad.ScalarFromUint64(1)
	den := ad.ScalarFromUint64(1)
	zero := ad.ScalarFromUint64(0)
	for _, j := range indices {
		if j == i {
			found = true
			continue
		}
		if j == 0 {
			return nil, ErrInvalidParams
		}
		xj := ad.ScalarFromUint64(uint64(j))
		neg, err := ad.SubScalars(zero, xj)
		if err != nil {
			return nil, err
		}
		num, err = ad.MulScalars(num, neg)
		if err != nil {
			return nil, err
		}
		diff, err := ad.SubScalars(xi, xj)
		if err != nil {
			return nil, err
		}
		den, err = ad.MulScalars(den, diff)
		if err != nil {
			return nil, err
		}
	}
	if !found {
		return nil, ErrInvalidParams
	}
	inv, err := ad.ModInverse(den)
	if err != nil {
		return nil, err
	}
	return ad.MulScalars(num, inv)
}

// CombineAtZero interpolates the shared secret from at least k shares. The k
// smallest indices are used; duplicates are rejected.
func CombineAtZero(ad curve.Adapter, shares []Share, k int) (curve.Scalar, error) {
	if ad == nil || k <= 0 || len(shares) < k {
		return nil, ErrInvalidParams
	}
	sorted := append([]Share(nil), shares...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })
	sorted = sorted[:k]

	indices := make([]uint32, 0, len(sorted))
	seen := map[uint32]struct{}{}
	for _, s := range sorted {
		if s.Index == 0 || s.Value == nil {
			return nil, ErrInvalidParams
		}
		if _, ok := seen[s.Index]; ok {
			return nil, ErrInvalidParams
		}
		seen[s.Index] = struct{}{}
		indices = append(indices, s.Index)
	}
	acc := ad.ScalarFromUint64(0)
	for _, s := range sorted {
		coeff, err := LagrangeCoefficient(ad, s.Index, indices)
		if err != nil {
			return nil, err
		}
		term, err := ad.MulScalars(s.Value, coeff)
		if err != nil {
			return nil, err
		}
		acc, err = ad.AddScalars(acc, term)
		if err != nil {
			return nil, err
		}
	}
	return acc, nil
}
