package crypto

// MerkleRoot builds a Merkle root from a list of hex-encoded hashes. With an
// odd number of leaves the last one is duplicated. An empty list hashes to the
// SHA256 of the empty string.
func MerkleRoot(hashes []string) string {
	if len(hashes) == 0 {
		return SHA256Hex(nil)
	}

	if len(hashes) == 1 {
		return hashes[0]
	}

	level := make([]string, len(hashes))
	copy(level, hashes)

	if len(level)%2 == 1 {
		level = append(level, level[len(level)-1])
	}

	next := make([]string, 0, len(level)/2)
	for i := 0; i < len(level); i += 2 {
		next = append(next, SHA256Hex([]byte(level[i]+level[i+1])))
	}

	return MerkleRoot(next)
}
