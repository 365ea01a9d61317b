// Package checksum provides the CRC-32 accumulator used for entry payloads.
//
// The algorithm is the reflected CRC-32 with polynomial 0xEDB88320, an all
// ones initial register and a complemented result. State is the raw
// register, so Init, Update and Final compose the same way the on-flash
// format was defined.
package checksum

import "hash/crc32"

// Poly is the reflected CRC-32 polynomial
const Poly = 0xEDB88320

var table = crc32.MakeTable(Poly)

// State is the running CRC register
type State uint32

// Init returns a fresh accumulator
func Init() State {
	return 0xFFFFFFFF
}

// Update folds p into the accumulator
func Update(s State, p []byte) State {
	// crc32.Update complements on entry and exit
	return State(^crc32.Update(^uint32(s), table, p))
}

// Final returns the checksum of everything folded into s
func Final(s State) uint32 {
	return ^uint32(s)
}

// Compute returns the checksum of p
func Compute(p []byte) uint32 {
	return Final(Update(Init(), p))
}
