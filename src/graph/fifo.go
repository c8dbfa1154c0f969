package graph

import "fmt"

// Fifo is a fixed-depth, point-to-point, strictly ordered channel. Words are
// vector units: float32 slices whose length equals the channel's vector
// width. Producers must check CanPush before pushing and consumers CanPop
// before popping; violating either is a construction bug and panics.
type Fifo struct {
	name  string
	depth int
	words [][]float32
}

// NewFifo creates an empty channel holding at most depth words.
func NewFifo(name string, depth int) *Fifo {
	if depth < 1 {
		panic(fmt.Sprintf("channel %q: depth must be at least 1, got %d", name, depth))
	}
	return &Fifo{
		name:  name,
		depth: depth,
		words: make([][]float32, 0, depth),
	}
}

// Name returns the channel identifier.
func (f *Fifo) Name() string {
	return f.name
}

// Depth returns the fixed capacity in words.
func (f *Fifo) Depth() int {
	return f.depth
}

// Len returns the number of queued words.
func (f *Fifo) Len() int {
	return len(f.words)
}

// CanPush reports whether one more word fits.
func (f *Fifo) CanPush() bool {
	return len(f.words) < f.depth
}

// CanPop reports whether a word is available.
func (f *Fifo) CanPop() bool {
	return len(f.words) > 0
}

// Push enqueues one word.
func (f *Fifo) Push(word []float32) {
	if !f.CanPush() {
		panic(fmt.Sprintf("channel %q: push on full channel (depth %d)", f.name, f.depth))
	}
	f.words = append(f.words, word)
}

// Pop dequeues the oldest word.
func (f *Fifo) Pop() []float32 {
	if !f.CanPop() {
		panic(fmt.Sprintf("channel %q: pop on empty channel", f.name))
	}
	word := f.words[0]
	f.words = f.words[1:]
	return word
}

// Front returns the oldest word without consuming it.
func (f *Fifo) Front() []float32 {
	if !f.CanPop() {
		panic(fmt.Sprintf("channel %q: front on empty channel", f.name))
	}
	return f.words[0]
}
