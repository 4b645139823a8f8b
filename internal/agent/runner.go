package agent

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/suPer8Hu/specforge/internal/ai"
	"github.com/suPer8Hu/specforge/internal/events"
	"github.com/suPer8Hu/specforge/internal/tools"
	"github.com/suPer8Hu/specforge/internal/vfs"
)

const DefaultMaxSteps = 50

// State is what a run has mutated so far. History is nil for runs whose
// conversation is not kept across invocations.
type State struct {
	History []ai.Message
	VFS     *vfs.VFS
}

// Observer receives incremental progress from a run. Calls happen on the
// run's goroutine, in order.
type Observer interface {
	StateUpdated(ctx context.Context, s State)
	EventsEmitted(ctx context.Context, evs []events.ChatEvent)
}

type nopObserver struct{}

func (nopObserver) StateUpdated(context.Context, State)                 {}
func (nopObserver) EventsEmitted(context.Context, []events.ChatEvent) {}

// Runner drives the bounded tool-calling loop for one agent invocation.
type Runner struct {
	Provider ai.Provider
	Tools    *tools.Registry
	FS       *vfs.VFS
	Agent    events.Agent
	MaxSteps int
	// PersistHistory controls whether State.History is reported to the
	// observer.
	PersistHistory bool

	Observer Observer
	Logger   *zap.Logger
	Now      func() time.Time
}

// RunResult carries the model's final text and every message the run
// produced, in order.
type RunResult struct {
	Text     string
	Steps    int
	Messages []ai.Message
	History  []ai.Message
}

func (r *Runner) defaults() {
	if r.MaxSteps <= 0 {
		r.MaxSteps = DefaultMaxSteps
	}
	if r.Observer == nil {
		r.Observer = nopObserver{}
	}
	if r.Logger == nil {
		r.Logger = zap.NewNop()
	}
	if r.Now == nil {
		r.Now = time.Now
	}
}

func (r *Runner) state(history []ai.Message) State {
	s := State{VFS: r.FS}
	if r.PersistHistory {
		s.History = history
	}
	return s
}

// Run executes steps until the model stops requesting tools or MaxSteps is
// reached. history is extended in place and returned in the result.
func (r *Runner) Run(ctx context.Context, history []ai.Message) (RunResult, error) {
	r.defaults()
	defs := r.Tools.Definitions()

	var (
		response []ai.Message
		appended int
		text     string
	)
	for step := 0; step < r.MaxSteps; step++ {
		ai.ApplyCacheBudget(history)

		resp, err := r.Provider.Complete(ctx, ai.Request{Messages: history, Tools: defs})
		if err != nil {
			return RunResult{Text: text, Steps: step, Messages: response, History: history},
				fmt.Errorf("%s agent step %d: %w", r.Agent, step+1, err)
		}

		var calls, results []ai.Part
		if len(resp.Parts) > 0 {
			parts := append([]ai.Part(nil), resp.Parts...)
			assistant := ai.Message{Role: ai.RoleAssistant, Content: ai.Parts(parts...)}
			response = append(response, assistant)
			if t := ai.TextOf(assistant); t != "" {
				text = t
			}
			calls = assistant.ToolCalls()
		}
		for _, c := range calls {
			out := r.Tools.Execute(c.ToolName, c.Input)
			results = append(results, ai.ToolResultPart(c.ToolCallID, c.ToolName, out))
		}
		if len(results) > 0 {
			response = append(response, ai.Message{Role: ai.RoleUser, Content: ai.Parts(results...)})
		}

		history = append(history, response[appended:]...)
		appended = len(response)

		if evs := events.StepEvents(resp.Parts, results, r.Agent, r.Now()); len(evs) > 0 {
			r.Observer.EventsEmitted(ctx, evs)
		}
		r.Observer.StateUpdated(ctx, r.state(history))

		r.Logger.Debug("agent step finished",
			zap.String("agent", string(r.Agent)),
			zap.Int("step", step+1),
			zap.Int("tool_calls", len(calls)),
			zap.Int64("input_tokens", resp.Usage.InputTokens),
			zap.Int64("cache_read_tokens", resp.Usage.CacheReadTokens),
		)

		if len(calls) == 0 {
			return RunResult{Text: text, Steps: step + 1, Messages: response, History: history}, nil
		}
	}

	r.Logger.Warn("agent hit step limit", zap.String("agent", string(r.Agent)), zap.Int("max_steps", r.MaxSteps))
	return RunResult{Text: text, Steps: r.MaxSteps, Messages: response, History: history}, nil
}
