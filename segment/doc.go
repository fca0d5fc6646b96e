// Package segment tracks a content unit through its generation pipeline
// with a fixed transition graph. The Machine enforces edge legality and
// the store's compare-and-swap enforces the expected-from guard, so a
// duplicate stage-completion report is rejected instead of advancing a
// segment twice.
package segment
