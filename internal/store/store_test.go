// File: internal/store/store_test.go
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCreatesStateDirectory(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", "state")
	s, err := New(dir)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, dir, s.Dir())
}

func TestNewRejectsEmptyDirectory(t *testing.T) {
	t.Parallel()

	_, err := New("")
	require.Error(t, err)
}

func TestLoadMissingDocument(t *testing.T) {
	t.Parallel()

	s, err := New(t.TempDir())
	require.NoError(t, err)

	blob, err := s.Load("never-written.json")
	require.NoError(t, err, "a missing document is not an error")
	assert.Nil(t, blob)
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	t.Parallel()

	s, err := New(t.TempDir())
	require.NoError(t, err)

	content := []byte(`{"status":"posted"}`)
	require.NoError(t, s.Save("community_state.json", content))

	got, err := s.Load("community_state.json")
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestSaveReplacesAndLeavesNoTempFile(t *testing.T) {
	t.Parallel()

	s, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Save("doc.json", []byte("first")))
	require.NoError(t, s.Save("doc.json", []byte("second")))

	got, err := s.Load("doc.json")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)

	_, err = os.Stat(s.Path("doc.json") + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must not survive a save")

	_, err = os.Stat(s.Path("doc.json") + ".lock")
	assert.NoError(t, err, "sidecar lock file remains for future saves")
}

func TestJSONHelpers(t *testing.T) {
	t.Parallel()

	s, err := New(t.TempDir())
	require.NoError(t, err)

	type record struct {
		ID    string `json:"id"`
		Count int    `json:"count"`
	}

	var out record
	found, err := s.LoadJSON("records.json", &out)
	require.NoError(t, err)
	assert.False(t, found)

	in := record{ID: "task-1", Count: 3}
	require.NoError(t, s.SaveJSON("records.json", in))

	found, err = s.LoadJSON("records.json", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, in, out)
}

func TestLoadJSONCorruptDocument(t *testing.T) {
	t.Parallel()

	s, err := New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Save("broken.json", []byte("{not json")))

	var out map[string]any
	_, err = s.LoadJSON("broken.json", &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.json")
}

func TestConcurrentSavesStayIntact(t *testing.T) {
	t.Parallel()

	s, err := New(t.TempDir())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			blob := []byte(fmt.Sprintf(`{"writer":%d}`, i))
			assert.NoError(t, s.Save("contended.json", blob))
		}()
	}
	wg.Wait()

	var out map[string]int
	found, err := s.LoadJSON("contended.json", &out)
	require.NoError(t, err, "the surviving document must be intact JSON")
	require.True(t, found)
	assert.Contains(t, out, "writer")
}
