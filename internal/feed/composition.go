// Feedengine - Feed Generation and Scoring Engine
// Copyright 2026 The Feedengine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opencircle/feedengine

package feed

import (
	"math"
	"sort"
)

// ratioTolerance is the accepted deviation of a ratio sum from 1.0.
const ratioTolerance = 1e-6

// ResolveSlots converts composition ratios into per-category slot counts
// summing exactly to length, using largest-remainder (Hamilton) allocation:
// each category gets floor(ratio*length), then leftover slots go one-by-one
// to the categories with the largest fractional remainders. Ties break by
// declared category order, so the result is deterministic.
//
// Returns a ConfigError when ratios contain a negative value or do not sum
// to 1.0 within tolerance.
func ResolveSlots(ratios map[Category]float64, length int) (map[Category]int, error) {
	if length < 0 {
		return nil, NewConfigError("negative feed length %d", length)
	}
	if err := ValidateRatios(ratios); err != nil {
		return nil, err
	}

	type allocation struct {
		category  Category
		base      int
		remainder float64
	}

	allocs := make([]allocation, 0, len(ratios))
	assigned := 0
	for _, cat := range categories {
		ratio, ok := ratios[cat]
		if !ok {
			continue
		}
		raw := ratio * float64(length)
		base := int(math.Floor(raw))
		allocs = append(allocs, allocation{
			category:  cat,
			base:      base,
			remainder: raw - float64(base),
		})
		assigned += base
	}

	// Leftover slots from flooring; at most len(allocs)-1.
	leftover := length - assigned

	// Stable sort keeps declared order among equal remainders.
	sort.SliceStable(allocs, func(i, j int) bool {
		return allocs[i].remainder > allocs[j].remainder
	})

	slots := make(map[Category]int, len(allocs))
	for i := range allocs {
		if leftover > 0 {
			allocs[i].base++
			leftover--
		}
		slots[allocs[i].category] = allocs[i].base
	}

	return slots, nil
}

// ValidateRatios checks that every key is a declared category and that all
// ratios are non-negative and sum to 1.0 within tolerance. Unknown keys are
// rejected rather than ignored: they would count toward the sum here but
// never receive slots, silently breaking the exact-sum allocation.
func ValidateRatios(ratios map[Category]float64) error {
	if len(ratios) == 0 {
		return NewConfigError("no category ratios configured")
	}

	sum := 0.0
	for cat, ratio := range ratios {
		if !ValidCategory(cat) {
			return NewConfigError("unknown category %s in ratios", cat)
		}
		if ratio < 0 {
			return NewConfigError("negative ratio %f for category %s", ratio, cat)
		}
		sum += ratio
	}

	if math.Abs(sum-1.0) > ratioTolerance {
		return NewConfigError("ratios sum to %f, want 1.0", sum)
	}
	return nil
}

// RenormalizeRatios restricts ratios to the surviving categories and scales
// them back to a 1.0 sum, preserving relative proportions. Used when a
// source fails and its slots are redistributed. Returns nil when no
// survivor has positive ratio.
func RenormalizeRatios(ratios map[Category]float64, survivors []Category) map[Category]float64 {
	sum := 0.0
	for _, cat := range survivors {
		sum += ratios[cat]
	}
	if sum <= 0 {
		return nil
	}

	out := make(map[Category]float64, len(survivors))
	for _, cat := range survivors {
		out[cat] = ratios[cat] / sum
	}
	return out
}

// categoriesByRatio returns the configured categories ordered by ratio
// descending, ties broken by declared order. This drives the round-robin
// interleave so merge order is deterministic.
func categoriesByRatio(ratios map[Category]float64) []Category {
	out := make([]Category, 0, len(ratios))
	for _, cat := range categories {
		if _, ok := ratios[cat]; ok {
			out = append(out, cat)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return ratios[out[i]] > ratios[out[j]]
	})
	return out
}
