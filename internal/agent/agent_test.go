package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/specforge/internal/ai"
	"github.com/suPer8Hu/specforge/internal/ai/aitest"
	"github.com/suPer8Hu/specforge/internal/events"
	"github.com/suPer8Hu/specforge/internal/vfs"
)

type recordingObserver struct {
	mu     sync.Mutex
	events []events.ChatEvent
	states []State
}

func (o *recordingObserver) StateUpdated(ctx context.Context, s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, s)
}

func (o *recordingObserver) EventsEmitted(ctx context.Context, evs []events.ChatEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, evs...)
}

func (o *recordingObserver) types() []events.EventType {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]events.EventType, 0, len(o.events))
	for _, ev := range o.events {
		out = append(out, ev.EventType)
	}
	return out
}

func fixedClock() time.Time { return time.UnixMilli(1_700_000_000_000) }

func TestChatAgent_EditsSpecAndReportsChange(t *testing.T) {
	fs := vfs.FromTemplate(map[string]string{"spec/index.md": "# Todo", "code/src/App.tsx": "app"})
	prov := aitest.New(
		aitest.WriteFile("c1", "spec/index.md", "# Todo\n\nAdd due dates."),
		aitest.Text("Added due dates to the spec."),
	)
	obs := &recordingObserver{}
	a := &ChatAgent{Provider: prov, Observer: obs, Now: fixedClock}

	res, err := a.Run(context.Background(), "add due dates", fs, nil)
	require.NoError(t, err)
	assert.True(t, res.SpecModified)
	assert.Equal(t, "Added due dates to the spec.", res.Response)

	// system, user, assistant tool call, tool results, final assistant
	require.Len(t, res.History, 5)
	assert.Equal(t, ai.RoleSystem, res.History[0].Role)
	assert.Equal(t, ai.RoleUser, res.History[3].Role)
	assert.Equal(t, ai.PartToolResult, res.History[3].Content.Parts[0].Type)

	assert.Equal(t, []events.EventType{
		events.UserMessage, events.ToolCall, events.ToolResult, events.AIMessage,
	}, obs.types())
	assert.Equal(t, "add due dates", obs.events[0].Markdown)

	// one state before the loop plus one per step
	assert.Len(t, obs.states, 3)
	assert.Len(t, obs.states[2].History, 5)
}

func TestChatAgent_UserTurnListsSpecFiles(t *testing.T) {
	fs := vfs.FromTemplate(map[string]string{"spec/b.md": "b", "spec/a.md": "a", "code/x.ts": "x"})
	prov := aitest.New(aitest.Text("ok"))
	a := &ChatAgent{Provider: prov}

	_, err := a.Run(context.Background(), "hi", fs, nil)
	require.NoError(t, err)

	user := prov.Requests()[0].Messages[1]
	want := "hi\n\n<additional-context>\n<current-files-in-project>\n- spec/a.md\n- spec/b.md\n</current-files-in-project>\n</additional-context>"
	assert.Equal(t, want, user.Content.Text)

	prov = aitest.New(aitest.Text("ok"))
	a = &ChatAgent{Provider: prov}
	_, err = a.Run(context.Background(), "hi", vfs.New(), nil)
	require.NoError(t, err)
	assert.Contains(t, prov.Requests()[0].Messages[1].Content.Text, "No files in project yet.")
}

func TestChatAgent_CannotTouchCode(t *testing.T) {
	fs := vfs.FromTemplate(map[string]string{"spec/index.md": "# Todo", "code/src/App.tsx": "app"})
	prov := aitest.New(
		aitest.WriteFile("c1", "code/src/App.tsx", "hacked"),
		aitest.Text("done"),
	)
	a := &ChatAgent{Provider: prov}

	res, err := a.Run(context.Background(), "change the code", fs, nil)
	require.NoError(t, err)
	assert.False(t, res.SpecModified)

	got, _ := fs.Read("code/src/App.tsx")
	assert.Equal(t, "app", got)
	assert.Equal(t, "Access denied: code/src/App.tsx", res.History[3].Content.Parts[0].Output)
}

func TestChatAgent_ReusesExistingSystemPrompt(t *testing.T) {
	history := []ai.Message{ai.SystemMessage("sys"), ai.UserMessage("earlier"), {Role: ai.RoleAssistant, Content: ai.Parts(ai.TextPart("hello"))}}
	prov := aitest.New(aitest.Text("again"))
	a := &ChatAgent{Provider: prov}

	res, err := a.Run(context.Background(), "next", vfs.New(), history)
	require.NoError(t, err)
	require.Len(t, res.History, 5)
	assert.Equal(t, "sys", res.History[0].Content.Text)
	systems := 0
	for _, m := range res.History {
		if m.Role == ai.RoleSystem {
			systems++
		}
	}
	assert.Equal(t, 1, systems)
}

func TestSpecDigest_Deterministic(t *testing.T) {
	a := vfs.New()
	a.Write("spec/b.md", "B")
	a.Write("spec/a.md", "A")
	a.Write("code/x.ts", "1")

	b := vfs.New()
	b.Write("spec/a.md", "A")
	b.Write("spec/b.md", "B")

	assert.Equal(t, SpecDigest(a), SpecDigest(b))

	b.Write("code/y.ts", "2")
	assert.Equal(t, SpecDigest(a), SpecDigest(b), "code changes must not affect the digest")

	b.Write("spec/b.md", "B2")
	assert.NotEqual(t, SpecDigest(a), SpecDigest(b))

	assert.Len(t, SpecDigest(vfs.New()), 64)
}

func TestRunner_StopsAtStepLimitWithinCacheBudget(t *testing.T) {
	prov := aitest.New()
	prov.Fallback = aitest.Call("loop", "listFiles", map[string]any{})
	a := &ChatAgent{Provider: prov}

	res, err := a.Run(context.Background(), "loop forever", vfs.New(), nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxSteps, prov.Calls())
	// system + user + (assistant + results) per step
	assert.Len(t, res.History, 2+2*DefaultMaxSteps)

	for i, req := range prov.Requests() {
		n := ai.CountCacheMarkers(req.Messages)
		require.LessOrEqual(t, n, ai.MaxCacheMarkers, "request %d", i)
		last := req.Messages[len(req.Messages)-1]
		marked := last.CacheMarked
		if last.Content.Kind == ai.ContentParts {
			marked = last.Content.Parts[len(last.Content.Parts)-1].CacheMarked
		}
		require.True(t, marked, "request %d: newest block must be cache marked", i)
	}
}

func TestRunner_ProviderErrorKeepsProgress(t *testing.T) {
	fs := vfs.New()
	prov := aitest.New(aitest.WriteFile("c1", "spec/a.md", "A")).FailAt(1, errors.New("overloaded"))
	a := &ChatAgent{Provider: prov}

	res, err := a.Run(context.Background(), "go", fs, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overloaded")
	assert.True(t, res.SpecModified)
	assert.Len(t, res.History, 4)
}

func TestCodeGenerator_FixVerificationIsBounded(t *testing.T) {
	fs := vfs.FromTemplate(map[string]string{"spec/index.md": "# Todo"})
	prov := aitest.New(aitest.WriteFile("c1", "code/src/App.tsx", "fixed"))
	prov.Fallback = aitest.Call("r", "readFile", map[string]string{"path": "code/src/App.tsx"})
	obs := &recordingObserver{}
	g := &CodeGenerator{Provider: prov, Observer: obs}

	_, err := g.FixVerification(context.Background(), fs, "src/App.tsx:1 error")
	require.NoError(t, err)
	assert.Equal(t, FixMaxSteps, prov.Calls())

	got, ok := fs.Read("code/src/App.tsx")
	require.True(t, ok)
	assert.Equal(t, "fixed", got)

	first := prov.Requests()[0].Messages
	require.Len(t, first, 2)
	assert.Contains(t, first[1].Content.Text, "src/App.tsx:1 error")

	for _, ev := range obs.events {
		assert.Equal(t, events.AgentCodeGenerator, ev.Agent)
	}
	for _, s := range obs.states {
		assert.Nil(t, s.History)
	}
}

func TestCodeGenerator_Reconcile(t *testing.T) {
	fs := vfs.FromTemplate(map[string]string{"spec/index.md": "# Todo"})
	prov := aitest.New(
		aitest.WriteFile("c1", "code/src/App.tsx", "todo app"),
		aitest.Text("Generated the app."),
	)
	g := &CodeGenerator{Provider: prov}

	text, err := g.Reconcile(context.Background(), fs)
	require.NoError(t, err)
	assert.Equal(t, "Generated the app.", text)
	assert.True(t, fs.Exists("code/src/App.tsx"))
	assert.Equal(t, CodeGeneratorSystemPrompt(), prov.Requests()[0].Messages[0].Content.Text)
}

func TestDemoteHeadings(t *testing.T) {
	in := "# Title\n\nbody\n## Inline\ntext\n\n## Sub\n"
	want := "## Title\n\nbody\n## Inline\ntext\n\n### Sub\n"
	assert.Equal(t, want, DemoteHeadings(in))
	assert.NotContains(t, ChatSystemPrompt(), "{{SPEC_STRUCTURE}}")
	assert.True(t, strings.Contains(ChatSystemPrompt(), "## spec/index.md"))
}
