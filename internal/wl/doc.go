// Package wl implements the UBI wear-leveling and consolidation core: the
// subsystem that virtualizes a pool of physical eraseblocks (PEBs) -- each
// with a bounded erase budget and a chance of developing bit-flips or going
// bad -- into a pool of logical eraseblocks (LEBs) with uniform wear,
// transparent scrubbing, and opportunistic consolidation on MLC-style media.
//
// wl does not talk to real flash. It calls out to two collaborators it
// accepts as interfaces: IO (erase/read/write primitives and header
// persistence, see [internal/flashio]) and EBA (the logical-to-physical map
// and volume layer, see [internal/eba]). Both are out of scope per the
// specification this package implements; wl only specifies the interaction
// points.
package wl
