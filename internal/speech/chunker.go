package speech

import "strings"

// Chunker buffers streamed content deltas and releases text in
// sentence-sized pieces suitable for synthesis. Token streams split words
// and punctuation arbitrarily, so the chunker is the only place allowed to
// decide where one synthesizable piece ends.
type Chunker struct {
	buf strings.Builder

	// minRunes guards against synthesizing fragments like "Dr." as a
	// standalone piece.
	minRunes int
}

const defaultMinChunkRunes = 24

func NewChunker() *Chunker {
	return &Chunker{minRunes: defaultMinChunkRunes}
}

// Write appends one delta and returns any complete sentences now ready for
// synthesis, in order. A sentence is ready when a terminator is followed by
// whitespace or another terminator, and the accumulated text is long enough
// to be worth a synthesis round trip.
func (c *Chunker) Write(delta string) []string {
	c.buf.WriteString(delta)

	var out []string
	for {
		piece, rest, found := splitSentence(c.buf.String(), c.minRunes)
		if !found {
			break
		}
		out = append(out, piece)
		c.buf.Reset()
		c.buf.WriteString(rest)
	}
	return out
}

// Flush returns whatever remains buffered, trimmed, and resets the chunker.
// It returns "" when nothing meaningful is left.
func (c *Chunker) Flush() string {
	rest := strings.TrimSpace(c.buf.String())
	c.buf.Reset()
	return rest
}

// Pending returns the number of buffered bytes awaiting a boundary.
func (c *Chunker) Pending() int {
	return c.buf.Len()
}

func splitSentence(text string, minRunes int) (piece, rest string, found bool) {
	runes := []rune(text)
	for i := 0; i < len(runes)-1; i++ {
		if !isTerminator(runes[i]) {
			continue
		}
		// Swallow a run of terminators ("?!", "...").
		end := i
		for end+1 < len(runes) && isTerminator(runes[end+1]) {
			end++
		}
		if end+1 >= len(runes) {
			// Terminator run reaches the buffer tail; the next delta may
			// extend it, so wait.
			return "", "", false
		}
		if runes[end+1] != ' ' && runes[end+1] != '\n' && runes[end+1] != '\t' {
			i = end
			continue
		}
		candidate := strings.TrimSpace(string(runes[:end+1]))
		if len([]rune(candidate)) < minRunes {
			i = end
			continue
		}
		return candidate, strings.TrimLeft(string(runes[end+1:]), " \n\t"), true
	}
	return "", "", false
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?':
		return true
	}
	return false
}
