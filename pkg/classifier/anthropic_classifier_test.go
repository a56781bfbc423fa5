package classifier

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/require"
)

func TestBuildClassificationPromptIncludesBothFiles(t *testing.T) {
	taskDir := t.TempDir()
	trialDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(taskDir, "task.md"), []byte("fix the bug"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(trialDir, "result.json"), []byte(`{"reward":1}`), 0o644))

	prompt, err := buildClassificationPrompt(taskDir, trialDir)
	require.NoError(t, err)
	require.Contains(t, prompt, "fix the bug")
	require.Contains(t, prompt, `{"reward":1}`)
}

func TestBuildClassificationPromptToleratesMissingFiles(t *testing.T) {
	prompt, err := buildClassificationPrompt(t.TempDir(), t.TempDir())
	require.NoError(t, err)
	require.Contains(t, prompt, "TASK:")
	require.Contains(t, prompt, "TRIAL RESULT:")
}

func TestReadIfExistsMissingFile(t *testing.T) {
	text, err := readIfExists(filepath.Join(t.TempDir(), "absent.md"))
	require.NoError(t, err)
	require.Empty(t, text)
}

func TestConcatTextJoinsTextBlocksOnly(t *testing.T) {
	msg := &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: "hello "},
			{Type: "text", Text: "world"},
		},
	}
	require.Equal(t, "hello world", concatText(msg))
}
