// file: internal/service/prompt_store/prompt_store_test.go
package prompt_store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultWhenMissing(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "prompts.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultAnalysisPrompt, s.Get())
}

func TestNew_LoadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"sql_analysis_prompt":"be brief"}`), 0o644))

	s, err := New(path)
	require.NoError(t, err)
	assert.Equal(t, "be brief", s.Get())
}

func TestNew_CorruptFileKeepsDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))

	s, err := New(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultAnalysisPrompt, s.Get())
}

func TestUpdate_PersistsAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "prompts.json")
	s, err := New(path)
	require.NoError(t, err)

	require.NoError(t, s.Update("answer in bullet points"))
	assert.Equal(t, "answer in bullet points", s.Get())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var sf settingsFile
	require.NoError(t, json.Unmarshal(data, &sf))
	assert.Equal(t, "answer in bullet points", sf.SQLAnalysisPrompt)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "临时文件应已被 rename")

	reloaded, err := New(path)
	require.NoError(t, err)
	assert.Equal(t, "answer in bullet points", reloaded.Get())
}

func TestUpdate_RejectsEmpty(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "prompts.json"))
	require.NoError(t, err)
	assert.ErrorIs(t, s.Update("   "), ErrEmptyPrompt)
	assert.Equal(t, DefaultAnalysisPrompt, s.Get())
}

func TestUpdate_ConcurrentReadersSeeWholeValues(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "prompts.json"))
	require.NoError(t, err)

	values := map[string]bool{DefaultAnalysisPrompt: true}
	for i := 0; i < 5; i++ {
		values["prompt-"+string(rune('a'+i))] = true
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Update("prompt-" + string(rune('a'+i)))
		}(i)
	}
	for i := 0; i < 50; i++ {
		assert.True(t, values[s.Get()])
	}
	wg.Wait()
	assert.True(t, values[s.Get()])
}

func TestWatch_ReloadsExternalEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.json")
	s, err := New(path)
	require.NoError(t, err)
	require.NoError(t, s.Watch())
	defer s.Close()

	require.NoError(t, os.WriteFile(path, []byte(`{"sql_analysis_prompt":"edited by hand"}`), 0o644))

	assert.Eventually(t, func() bool {
		return s.Get() == "edited by hand"
	}, 5*time.Second, 50*time.Millisecond)
}
