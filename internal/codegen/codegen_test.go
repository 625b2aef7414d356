package codegen

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextCode_Format(t *testing.T) {
	g, err := New(1)
	require.NoError(t, err)

	code, err := g.NextCode("3f2a9c1e-0000-4000-8000-000000000000")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(code, "3F2A9C-"), code)
}

func TestNextCode_FallbackPrefix(t *testing.T) {
	g, err := New(1)
	require.NoError(t, err)

	code, err := g.NextCode("---")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(code, "CPN-"), code)
}

func TestNextCode_UniqueUnderConcurrency(t *testing.T) {
	g, err := New(7)
	require.NoError(t, err)

	const workers, perWorker = 8, 500
	var (
		mu   sync.Mutex
		seen = make(map[string]struct{}, workers*perWorker)
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				code, err := g.NextCode("campaign")
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				seen[code] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}

func TestNew_RejectsOutOfRangeNode(t *testing.T) {
	_, err := New(1 << 20)
	assert.Error(t, err)
}
