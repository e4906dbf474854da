// Package imghash defines the perceptual hash value shared by algorithms,
// indexes and the matcher.
//
// A Hash is a fixed-length bit vector tagged with the identifier of the
// algorithm that produced it. Two hashes have a defined hamming distance
// only when both the algorithm identifier and the bit resolution match;
// comparing anything else returns ErrIncompatible.
//
//	b := imghash.NewBuilder(algoID, 64)
//	b.Set(3)
//	h := b.Hash()
//	d, err := h.Distance(other)
package imghash
