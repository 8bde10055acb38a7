package typing

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRevealWordByWord(t *testing.T) {
	r := NewReveal("What  is\tBig-O?\n")

	var steps []string
	for r.Advance() {
		steps = append(steps, r.Visible())
	}
	steps = append(steps, r.Visible())

	assert.Equal(t, []string{"What", "What  is", "What  is\tBig-O?\n"}, steps)
	assert.True(t, r.Done())
	assert.Equal(t, "What  is\tBig-O?\n", r.Full())
}

func TestRevealPreservesText(t *testing.T) {
	texts := []string{
		"",
		"   ",
		"one",
		"  leading and trailing  ",
		"héllo wörld ✓ done",
		"line one\nline two",
	}
	for _, text := range texts {
		r := NewReveal(text)
		assert.Equal(t, "", visibleBeforeStart(r), "text %q", text)
		for r.Advance() {
			assert.True(t, strings.HasPrefix(text, r.Visible()))
		}
		assert.Equal(t, text, r.Visible())
	}
}

func visibleBeforeStart(r *Reveal) string {
	if r.Done() {
		return ""
	}
	return r.Visible()
}

func TestRevealFinish(t *testing.T) {
	r := NewReveal("a b c d")
	r.Advance()
	r.Finish()
	assert.True(t, r.Done())
	assert.Equal(t, "a b c d", r.Visible())
	assert.False(t, r.Advance())
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestPrinterKeepsOrder(t *testing.T) {
	var out syncBuffer
	p := NewPrinter(&out, time.Millisecond)
	defer p.Close()

	p.Print("Tutor: ", "Correct! Well done.")
	p.Print("Tutor: ", "Next: explain O(log n)")
	p.Wait()

	assert.Equal(t, "Tutor: Correct! Well done.\nTutor: Next: explain O(log n)\n", out.String())
}

func TestPrinterWithoutTick(t *testing.T) {
	var out syncBuffer
	p := NewPrinter(&out, 0)
	defer p.Close()

	p.Print("", "instant")
	p.Wait()
	assert.Equal(t, "instant\n", out.String())
}

func TestPrinterCloseDropsQueue(t *testing.T) {
	var out syncBuffer
	p := NewPrinter(&out, 0)
	p.Close()
	p.Print("", "ignored")
	p.Wait()
	assert.Empty(t, out.String())
}
