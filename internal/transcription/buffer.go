package transcription

import (
	"strings"
	"sync"
)

// TurnBuffer accumulates transcript fragments until the provider marks the
// turn complete.
type TurnBuffer struct {
	mu   sync.Mutex
	text strings.Builder
}

// Append adds a fragment to the current turn and returns the turn so far
func (b *TurnBuffer) Append(fragment string) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.text.WriteString(fragment)
	return b.text.String()
}

// Pending returns the text of the unfinished turn
func (b *TurnBuffer) Pending() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text.String()
}

// Complete returns the finished turn and resets the buffer.
// ok is false when the turn held no text besides whitespace.
func (b *TurnBuffer) Complete() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	text := strings.TrimSpace(b.text.String())
	b.text.Reset()
	return text, text != ""
}

// Reset drops the unfinished turn
func (b *TurnBuffer) Reset() {
	b.mu.Lock()
	b.text.Reset()
	b.mu.Unlock()
}
