package agent

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/suPer8Hu/specforge/internal/ai"
	"github.com/suPer8Hu/specforge/internal/events"
	"github.com/suPer8Hu/specforge/internal/tools"
	"github.com/suPer8Hu/specforge/internal/vfs"
)

const FixMaxSteps = 10

// CodeGenerator rewrites code/ to match spec/. Each invocation starts from a
// fresh conversation.
type CodeGenerator struct {
	Provider ai.Provider
	Observer Observer
	Logger   *zap.Logger
	Now      func() time.Time
}

// Reconcile regenerates the application after a spec change.
func (g *CodeGenerator) Reconcile(ctx context.Context, fs *vfs.VFS) (string, error) {
	return g.run(ctx, fs, reconcileInstruction, DefaultMaxSteps)
}

// FixVerification asks for a minimal fix for a failed verification run.
func (g *CodeGenerator) FixVerification(ctx context.Context, fs *vfs.VFS, report string) (string, error) {
	return g.run(ctx, fs, fixInstruction(report), FixMaxSteps)
}

func (g *CodeGenerator) run(ctx context.Context, fs *vfs.VFS, instruction string, maxSteps int) (string, error) {
	history := []ai.Message{
		ai.SystemMessage(CodeGeneratorSystemPrompt()),
		ai.UserMessage(instruction),
	}
	runner := &Runner{
		Provider: g.Provider,
		Tools:    tools.New(fs),
		FS:       fs,
		Agent:    events.AgentCodeGenerator,
		MaxSteps: maxSteps,
		Observer: g.Observer,
		Logger:   g.Logger,
		Now:      g.Now,
	}
	res, err := runner.Run(ctx, history)
	return res.Text, err
}
