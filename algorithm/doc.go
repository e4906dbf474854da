// Package algorithm provides the perceptual hashing algorithms used as
// matcher stages.
//
// Every algorithm is identified by a Spec ("dhash/8", "phash/16") from which
// a stable numeric ID is derived; hashes carry that ID so that values from
// different algorithms are never compared. Images are downscaled with
// github.com/nfnt/resize before bits are extracted.
//
// Three families are built in:
//
//	ahash: brightness above the thumbnail mean
//	dhash: horizontal gradient sign
//	phash: low-frequency DCT coefficients above their median
//
// Additional families can be added with Register, which makes them available
// to New and therefore to snapshot loading.
package algorithm
