package editor

import (
	"sync"

	"satunaskah/internal/text"
)

// WordsPerPage drives the page estimate shown in the status bar.
const WordsPerPage = 500

// Buffer is the live editable content of one open document.
//
// SetContent replaces the content wholesale; there is no field-level merge.
// OnChange callbacks fire after local edits only, not after SetContent.
type Buffer interface {
	Content() string
	SetContent(content string)
	OnChange(fn func(content string))
}

type Metrics struct {
	Words      int `json:"words"`
	Characters int `json:"characters"`
	Pages      int `json:"pages"`
}

func computeMetrics(content string) Metrics {
	plain := text.Extract(content)
	words := text.Words(plain)
	pages := (words + WordsPerPage - 1) / WordsPerPage
	if pages < 1 {
		pages = 1
	}
	return Metrics{Words: words, Characters: text.Characters(plain), Pages: pages}
}

// MemoryBuffer is the in-memory Buffer used by the headless editor.
type MemoryBuffer struct {
	mu        sync.Mutex
	content   string
	metrics   Metrics
	mutations int
	listeners []func(string)
}

func NewMemoryBuffer() *MemoryBuffer {
	return &MemoryBuffer{metrics: computeMetrics("")}
}

func (b *MemoryBuffer) Content() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.content
}

func (b *MemoryBuffer) SetContent(content string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.content = content
	b.metrics = computeMetrics(content)
	b.mutations++
}

// Edit applies a local edit and notifies OnChange listeners.
func (b *MemoryBuffer) Edit(content string) {
	b.mu.Lock()
	b.content = content
	b.metrics = computeMetrics(content)
	b.mutations++
	listeners := append([]func(string){}, b.listeners...)
	b.mu.Unlock()

	for _, fn := range listeners {
		fn(content)
	}
}

func (b *MemoryBuffer) OnChange(fn func(content string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

func (b *MemoryBuffer) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.metrics
}

// Mutations counts every Edit and SetContent since creation.
func (b *MemoryBuffer) Mutations() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mutations
}
