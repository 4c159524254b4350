package room

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccumulatorAppend(t *testing.T) {
	a := Accumulator{}
	assert.Equal(t, "", a.String())
	assert.Equal(t, "winter forest\n", a.Append("winter forest"))
	assert.Equal(t, "winter forest\nfrozen lake\n", a.Append("frozen lake"))
	assert.Equal(t, "winter forest\nfrozen lake\n", a.String())
}

func TestAccumulatorConcurrentAppend(t *testing.T) {
	const n = 200
	a := Accumulator{}
	var wg sync.WaitGroup
	snapshots := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snapshots[i] = a.Append(fmt.Sprintf("fragment-%d", i))
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(a.String(), "\n"), "\n")
	assert.Len(t, lines, n)
	seen := make(map[string]int)
	for _, line := range lines {
		seen[line]++
	}
	for i := 0; i < n; i++ {
		assert.Equal(t, 1, seen[fmt.Sprintf("fragment-%d", i)])
	}
	// every returned snapshot is a prefix of the final buffer and ends with the caller's own fragment
	final := a.String()
	for i, snapshot := range snapshots {
		assert.True(t, strings.HasPrefix(final, snapshot))
		assert.True(t, strings.HasSuffix(snapshot, fmt.Sprintf("fragment-%d\n", i)))
	}
}
