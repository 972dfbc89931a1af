package miner

// Filter decides which working tree files are mined.
type Filter interface {
	// Check reports whether name is accepted. denied is true when name matched an
	// explicit deny pattern, as opposed to simply not matching any accept pattern.
	Check(name string) (accepted bool, denied bool)
}
