package segment

import "time"

// Utterance is one finalized span of speech. It is never mutated after the
// segmenter hands it off.
type Utterance struct {
	Chunks     [][]byte
	StartedAt  time.Time
	Offset     time.Duration
	SampleRate int

	duration time.Duration
	voiced   time.Duration
}

// Duration is the total buffered audio, trailing silence included.
func (u Utterance) Duration() time.Duration {
	return u.duration
}

// Voiced is the span from onset to the end of the last chunk above threshold.
func (u Utterance) Voiced() time.Duration {
	return u.voiced
}

// Len returns the number of chunks.
func (u Utterance) Len() int {
	return len(u.Chunks)
}

// Empty reports whether the utterance carries no audio.
func (u Utterance) Empty() bool {
	return len(u.Chunks) == 0
}

// PCM concatenates all chunks into one little-endian int16 buffer.
func (u Utterance) PCM() []byte {
	total := 0
	for _, chunk := range u.Chunks {
		total += len(chunk)
	}
	out := make([]byte, 0, total)
	for _, chunk := range u.Chunks {
		out = append(out, chunk...)
	}
	return out
}
