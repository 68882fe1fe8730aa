// SPDX-License-Identifier: MIT

package ffmpeg

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineRingKeepsLastLines(t *testing.T) {
	r := NewLineRing(3)
	for i := 1; i <= 5; i++ {
		_, _ = fmt.Fprintf(r, "line%d\n", i)
	}
	assert.Equal(t, []string{"line3", "line4", "line5"}, r.LastN(3))
	assert.Equal(t, []string{"line5"}, r.LastN(1))
}

func TestLineRingUnderfilled(t *testing.T) {
	r := NewLineRing(10)
	_, _ = r.Write([]byte("only\n"))
	assert.Equal(t, []string{"only"}, r.LastN(20))
}

func TestLineRingMultilineWrite(t *testing.T) {
	r := NewLineRing(5)
	_, _ = r.Write([]byte("a\nb\nc\n"))
	assert.Equal(t, []string{"a", "b", "c"}, r.LastN(5))
}

func TestLineRingConcurrent(t *testing.T) {
	r := NewLineRing(16)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_, _ = fmt.Fprintf(r, "g%d-%d\n", g, i)
			}
		}(g)
	}
	wg.Wait()
	assert.Len(t, r.LastN(16), 16)
}
