// Package pipeline holds the ordered stage configuration of a matcher and the
// threshold resolution rules.
//
// A stage pairs an algorithm with Settings. Stages run in insertion order and
// the order is significant: the matcher reports distances from the last
// stage. Re-adding an algorithm updates its settings in place.
package pipeline
