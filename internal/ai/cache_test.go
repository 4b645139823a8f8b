package ai

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toolTurn(i int) []Message {
	id := string(rune('a' + i))
	return []Message{
		{Role: RoleAssistant, Content: Parts(
			TextPart("working"),
			ToolCallPart(id, "readFile", json.RawMessage(`{"path":"spec/index.md"}`)),
		)},
		{Role: RoleUser, Content: Parts(ToolResultPart(id, "readFile", "# App"))},
	}
}

func TestApplyCacheBudget_EmptyHistory(t *testing.T) {
	var history []Message
	ApplyCacheBudget(history)
	assert.Equal(t, 0, CountCacheMarkers(history))
}

func TestApplyCacheBudget_MarksPlainLastMessage(t *testing.T) {
	history := []Message{SystemMessage("sys"), UserMessage("hi")}
	ApplyCacheBudget(history)
	assert.True(t, history[1].CacheMarked)
	assert.False(t, history[0].CacheMarked)
	assert.Equal(t, 1, CountCacheMarkers(history))
}

func TestApplyCacheBudget_EmptyPartsLeftAlone(t *testing.T) {
	history := []Message{UserMessage("hi"), {Role: RoleAssistant, Content: Parts()}}
	ApplyCacheBudget(history)
	assert.Equal(t, 0, CountCacheMarkers(history))
}

func TestApplyCacheBudget_NeverExceedsLimitAndKeepsNewest(t *testing.T) {
	history := []Message{SystemMessage("sys"), UserMessage("build me a todo app")}
	ApplyCacheBudget(history)

	for step := 0; step < 12; step++ {
		history = append(history, toolTurn(step)...)
		ApplyCacheBudget(history)

		require.LessOrEqual(t, CountCacheMarkers(history), MaxCacheMarkers, "step %d", step)
		last := history[len(history)-1]
		require.True(t, last.Content.Parts[len(last.Content.Parts)-1].CacheMarked, "step %d", step)
	}
	assert.Equal(t, MaxCacheMarkers, CountCacheMarkers(history))
	// The first user turn was the oldest marker and must have been dropped.
	assert.False(t, history[1].CacheMarked)
}

func TestApplyCacheBudget_StripsOldestFirst(t *testing.T) {
	history := []Message{
		{Role: RoleUser, Content: PlainText("one"), CacheMarked: true},
		{Role: RoleAssistant, Content: Parts(
			Part{Type: PartText, Text: "two", CacheMarked: true},
			Part{Type: PartText, Text: "three", CacheMarked: true},
		)},
		{Role: RoleUser, Content: PlainText("four"), CacheMarked: true},
		{Role: RoleAssistant, Content: Parts(TextPart("five"))},
	}
	ApplyCacheBudget(history)

	assert.False(t, history[0].CacheMarked)
	assert.True(t, history[1].Content.Parts[0].CacheMarked)
	assert.True(t, history[1].Content.Parts[1].CacheMarked)
	assert.True(t, history[2].CacheMarked)
	assert.True(t, history[3].Content.Parts[0].CacheMarked)
	assert.Equal(t, 4, CountCacheMarkers(history))
}

func TestApplyCacheBudget_Idempotent(t *testing.T) {
	history := []Message{SystemMessage("sys"), UserMessage("hi")}
	for i := 0; i < 6; i++ {
		history = append(history, toolTurn(i)...)
		ApplyCacheBudget(history)
	}

	snapshot, err := MarshalHistory(history)
	require.NoError(t, err)
	ApplyCacheBudget(history)
	ApplyCacheBudget(history)
	again, err := MarshalHistory(history)
	require.NoError(t, err)

	if diff := cmp.Diff(snapshot, again); diff != "" {
		t.Fatalf("budget not idempotent (-first +second):\n%s", diff)
	}
}
