package events

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/specforge/internal/ai"
)

var fixedNow = time.UnixMilli(1_700_000_000_000)

func TestStripContextTags(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no tags", "  hello  ", "hello"},
		{"single pair", "build a todo app\n\n<additional-context>\nfiles\n</additional-context>", "build a todo app"},
		{"two pairs", "a<additional-context>x</additional-context>b<additional-context>y</additional-context>c", "abc"},
		{"unmatched open left intact", "a <additional-context> b", "a <additional-context> b"},
		{"other tags untouched", "<note>keep</note>", "<note>keep</note>"},
		{"only context", "<additional-context>x</additional-context>", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripContextTags(tt.in))
		})
	}
}

func TestStepEvents_Ordering(t *testing.T) {
	response := []ai.Part{
		ai.TextPart("I'll add it."),
		ai.ToolCallPart("c1", "writeFile", json.RawMessage(`{"path":"spec/a.md","content":"x"}`)),
		ai.ReasoningPart("thinking about it", "sig"),
	}
	results := []ai.Part{ai.ToolResultPart("c1", "writeFile", "File written: spec/a.md")}

	evs := StepEvents(response, results, AgentChat, fixedNow)
	require.Len(t, evs, 4)
	assert.Equal(t, AIReasoning, evs[0].EventType)
	assert.Equal(t, AIMessage, evs[1].EventType)
	assert.Equal(t, ToolCall, evs[2].EventType)
	assert.Equal(t, ToolResult, evs[3].EventType)
	for _, ev := range evs {
		assert.Equal(t, AgentChat, ev.Agent)
		assert.Equal(t, fixedNow.UnixMilli(), ev.Timestamp)
	}
	assert.Contains(t, evs[2].Markdown, "### Tool call: `writeFile`")
	assert.Contains(t, evs[2].Markdown, "\n  \"path\": \"spec/a.md\"")
	assert.Contains(t, evs[3].Markdown, "File written: spec/a.md")
}

func TestStepEvents_SkipsBlankText(t *testing.T) {
	evs := StepEvents([]ai.Part{ai.TextPart("  "), ai.ReasoningPart("", "")}, nil, AgentCodeGenerator, fixedNow)
	assert.Empty(t, evs)
}

func TestToolResultMarkdown_EscapesFences(t *testing.T) {
	payload := "here is code:\n```go\nfmt.Println()\n```\n"
	md := ToolResultMarkdown("readFile", payload)

	// Only the opening and closing fences survive unescaped.
	assert.Equal(t, 2, strings.Count(md, "```"))
	assert.Equal(t, 2, strings.Count(md, "\\`\\`\\`"))
	assert.True(t, strings.HasSuffix(md, "\n```"))
	assert.Contains(t, md, "\\`\\`\\`go")
}

func TestToolResultMarkdown_StringifiesNonStrings(t *testing.T) {
	md := ToolResultMarkdown("listFiles", map[string]int{"n": 2})
	assert.Contains(t, md, "\"n\": 2")
}

func TestToolCallMarkdown_InvalidJSONKeptVerbatim(t *testing.T) {
	md := ToolCallMarkdown("readFile", json.RawMessage(`{not json`))
	assert.Contains(t, md, "{not json")
	assert.Contains(t, ToolCallMarkdown("listFiles", nil), "```json\n{}\n```")
}

func TestUserEvent(t *testing.T) {
	ev := UserEvent("hi\n\n<additional-context>\n- spec/a.md\n</additional-context>", AgentChat, fixedNow)
	assert.Equal(t, UserMessage, ev.EventType)
	assert.Equal(t, "hi", ev.Markdown)
}

func TestLog_ConcurrentSnapshot(t *testing.T) {
	l := NewLog([]ChatEvent{New(UserMessage, "hi", AgentChat, fixedNow)})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.Append(New(AIMessage, "x", AgentChat, fixedNow))
				_ = l.Snapshot()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 401, l.Len())

	blob, err := l.Marshal()
	require.NoError(t, err)
	parsed, err := ParseEvents(blob)
	require.NoError(t, err)
	assert.Len(t, parsed, 401)
	assert.Equal(t, "hi", parsed[0].Markdown)
}

func TestParseEvents(t *testing.T) {
	got, err := ParseEvents("")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = ParseEvents("{")
	assert.Error(t, err)

	blob, err := MarshalEvents(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", blob)
}
