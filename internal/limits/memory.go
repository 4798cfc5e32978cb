package limits

// seed is the initial content of the memory-growth buffer.
const seed = "Hello"

// Grow appends a single unit to buf.
func Grow(buf []byte) []byte {
	return append(buf, 'o')
}

// ConsumeMemory grows a buffer forever. It has no cap, never yields and does
// not recover from allocation failure: the host's memory enforcement is the
// only way out.
func ConsumeMemory() {
	buf := []byte(seed)
	for {
		buf = Grow(buf)
	}
}
