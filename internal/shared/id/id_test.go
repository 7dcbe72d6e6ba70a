package id

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateUnique(t *testing.T) {
	gen := NewGenerator()

	assert.NotEqual(t, gen.Generate().String(), gen.Generate().String())
}

func TestGenerateStringShape(t *testing.T) {
	gen := NewGenerator()

	assert.Len(t, gen.GenerateString(), 26)
}

func TestGenerateWithPrefix(t *testing.T) {
	gen := NewGenerator()

	for _, prefix := range []string{ConnectionPrefix, TracePrefix} {
		id := gen.GenerateWithPrefix(prefix)

		require.True(t, strings.HasPrefix(id, prefix+"_"), "id %q lacks prefix %q", id, prefix)

		_, err := ulid.Parse(strings.TrimPrefix(id, prefix+"_"))
		assert.NoError(t, err, "suffix of %q is not a ULID", id)
	}
}

func TestMintedIdentifierPrefixes(t *testing.T) {
	assert.True(t, strings.HasPrefix(NewConnectionID(), "conn_"))
	assert.True(t, strings.HasPrefix(NewTraceID(), "trc_"))
}

func TestTimestampToleratesPrefix(t *testing.T) {
	before := time.Now().UnixMilli()
	id := NewTraceID()
	after := time.Now().UnixMilli()

	ts, err := Timestamp(id)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, ts.UnixMilli(), before)
	assert.LessOrEqual(t, ts.UnixMilli(), after)
}

func TestTimestampRejectsGarbage(t *testing.T) {
	for _, id := range []string{"", "invalid", "trc_notaulid"} {
		_, err := Timestamp(id)
		assert.Error(t, err, "id %q should not parse", id)
	}
}

func TestConcurrentGenerationUnique(t *testing.T) {
	gen := NewGenerator()

	const goroutines = 50
	const perGoroutine = 100

	var wg sync.WaitGroup
	ids := make(chan string, goroutines*perGoroutine)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				ids <- gen.GenerateString()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool, goroutines*perGoroutine)
	for id := range ids {
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, goroutines*perGoroutine)
}

func TestGeneratedIdentifiersSortByMintTime(t *testing.T) {
	gen := NewGenerator()

	ids := make([]string, 5)
	for i := range ids {
		ids[i] = gen.GenerateString()
		time.Sleep(2 * time.Millisecond)
	}

	for i := 1; i < len(ids); i++ {
		assert.Greater(t, ids[i], ids[i-1])
	}
}

func TestDefaultGeneratorIsSingleton(t *testing.T) {
	assert.Same(t, Default(), Default())
}

func BenchmarkGenerateWithPrefix(b *testing.B) {
	gen := NewGenerator()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = gen.GenerateWithPrefix(TracePrefix)
	}
}
