// Package testutil provides testing utilities for imgmatch.
//
// This package is intended for use in tests and benchmarks only.
//
// # Random Hashes
//
//	rng := testutil.NewRNG(seed)
//	words := rng.HashWords(256)
//	near := rng.FlipBits(words, 256, 3) // exactly 3 bits away
//
// # Synthetic Images
//
//	img := rng.SmoothImage(128, 128, 8)
//	dup := testutil.Brighten(img, 12)
//	other := testutil.Invert(img)
//
// # Ground Truth
//
//	results := testutil.BruteForceRange(items, query, radius)
package testutil
