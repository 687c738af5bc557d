package runner

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineBufferUnderCapacity(t *testing.T) {
	b := newLineBuffer(4)
	b.Append("a")
	b.Append("b")
	assert.Equal(t, []string{"a", "b"}, b.Snapshot())
}

func TestLineBufferDropsOldestWhenFull(t *testing.T) {
	b := newLineBuffer(3)
	for _, line := range []string{"1", "2", "3", "4", "5"} {
		b.Append(line)
	}
	assert.Equal(t, []string{"3", "4", "5"}, b.Snapshot())
}

func TestLineBufferEmptySnapshot(t *testing.T) {
	b := newLineBuffer(3)
	assert.Nil(t, b.Snapshot())
}

func TestLineBufferConcurrentAppend(t *testing.T) {
	b := newLineBuffer(64)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				b.Append(fmt.Sprintf("w%d-%d", w, i))
			}
		}(w)
	}
	wg.Wait()
	assert.Len(t, b.Snapshot(), 64)
}
