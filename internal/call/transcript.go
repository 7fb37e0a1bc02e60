package call

import (
	"strings"
	"sync"
)

// Transcript collects the lines of a conversation in the order the items
// were created, even though their text completes out of order.
type Transcript struct {
	mu    sync.Mutex
	order []string
	lines map[string]string
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{lines: make(map[string]string)}
}

// Reserve claims a slot for an item. Reserving an existing item keeps its
// position and clears its text.
func (t *Transcript) Reserve(itemID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.lines[itemID]; !ok {
		t.order = append(t.order, itemID)
	}
	t.lines[itemID] = ""
}

// Fill sets the text of a reserved item. It returns false if the item was
// never reserved.
func (t *Transcript) Fill(itemID, line string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.lines[itemID]; !ok {
		return false
	}
	t.lines[itemID] = line
	return true
}

// Lines returns the filled lines in order.
func (t *Transcript) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	lines := make([]string, 0, len(t.order))
	for _, id := range t.order {
		if line := t.lines[id]; line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func (t *Transcript) String() string {
	return strings.Join(t.Lines(), "\n")
}
