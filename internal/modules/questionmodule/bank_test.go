package questionmodule

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mcqSet = `id: mcq-basic
title: Basic Screening
duration_seconds: 1800
capabilities: [camera]
questions:
  - id: q1
    type: mcq
    prompt: Pick the first option
    options: [alpha, beta, gamma]
    answer: alpha
    points: 10
  - id: q2
    type: text
    prompt: Describe your experience
    points: 5
`

const codingSet = `id: mcq-coding
title: Engineering Assessment
duration_seconds: 3600
capabilities: [camera, screen]
questions:
  - id: c1
    type: mcq
    prompt: Which complexity
    options: ["O(1)", "O(n)"]
    answer: "O(n)"
    points: 10
  - id: c2
    type: code
    prompt: Reverse a string
    points: 20
`

func writeBank(t *testing.T, files map[string]string) *Bank {
	t.Helper()

	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	bank := NewBank(hclog.NewNullLogger(), dir, nil)
	require.NoError(t, bank.Load())
	return bank
}

func TestBankLoadsYamlSets(t *testing.T) {
	bank := writeBank(t, map[string]string{
		"mcq.yaml":    mcqSet,
		"coding.yaml": codingSet,
	})

	assert.Len(t, bank.Sets(), 2)

	set, ok := bank.Set("mcq-coding")
	require.True(t, ok)
	assert.Equal(t, "Engineering Assessment", set.Title)
	assert.Equal(t, 3600, set.DurationSeconds)
	assert.Equal(t, []string{"camera", "screen"}, set.Capabilities)
	assert.Equal(t, 30, set.TotalPoints())
}

func TestBankSkipsInvalidFiles(t *testing.T) {
	bank := writeBank(t, map[string]string{
		"good.yaml":      mcqSet,
		"broken.yaml":    "id: [not\nvalid yaml",
		"no-answer.yaml": "id: bad\nquestions:\n  - id: q1\n    type: mcq\n    points: 5\n",
		"notes.txt":      "not a question set",
	})

	assert.Len(t, bank.Sets(), 1)
	_, ok := bank.Set("mcq-basic")
	assert.True(t, ok)
}

func TestSanitizedStripsAnswerKeys(t *testing.T) {
	bank := writeBank(t, map[string]string{"mcq.yaml": mcqSet})

	set, ok := bank.Set("mcq-basic")
	require.True(t, ok)

	sanitized := set.Sanitized()
	for _, q := range sanitized.Questions {
		assert.Empty(t, q.CorrectOption)
	}

	// The bank's own copy keeps the key for grading.
	q, ok := set.Question("q1")
	require.True(t, ok)
	assert.Equal(t, "alpha", q.CorrectOption)
}

func TestQuestionLookup(t *testing.T) {
	bank := writeBank(t, map[string]string{"mcq.yaml": mcqSet})

	set, _ := bank.Set("mcq-basic")

	q, ok := set.Question("q2")
	require.True(t, ok)
	assert.Equal(t, TypeFreeText, q.Type)

	_, ok = set.Question("missing")
	assert.False(t, ok)
}

func TestBankReloadReplacesSets(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(mcqSet), 0o644))

	bank := NewBank(hclog.NewNullLogger(), dir, nil)
	require.NoError(t, bank.Load())
	require.Len(t, bank.Sets(), 1)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(codingSet), 0o644))
	require.NoError(t, bank.Load())
	assert.Len(t, bank.Sets(), 2)
}
