package weaver

// Resolve returns the included entries in the order supplied.
// It performs no I/O and no deduplication.
func Resolve(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Included {
			out = append(out, e)
		}
	}
	return out
}
