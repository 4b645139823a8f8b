package coordinator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/suPer8Hu/specforge/internal/agent"
	"github.com/suPer8Hu/specforge/internal/ai"
	"github.com/suPer8Hu/specforge/internal/deploy"
	"github.com/suPer8Hu/specforge/internal/events"
	"github.com/suPer8Hu/specforge/internal/project"
)

// persister writes each incremental update of a run to the project record.
// Every write replaces the whole column.
type persister struct {
	repo      *project.Repo
	projectID string
	timeline  *events.Log
	publisher EventPublisher
	logger    *zap.Logger
	now       func() time.Time
}

var _ agent.Observer = (*persister)(nil)

func (p *persister) StateUpdated(ctx context.Context, s agent.State) {
	fields := map[string]any{}
	if s.VFS != nil {
		blob, err := s.VFS.Serialize()
		if err != nil {
			p.logger.Error("serialize vfs", zap.Error(err))
		} else {
			fields["vfs"] = blob
		}
	}
	if s.History != nil {
		blob, err := ai.MarshalHistory(s.History)
		if err != nil {
			p.logger.Error("serialize history", zap.Error(err))
		} else {
			fields["chat_history"] = blob
		}
	}
	if err := p.repo.SaveFields(ctx, p.projectID, fields); err != nil {
		p.logger.Error("persist run state", zap.Error(err))
	}
}

func (p *persister) EventsEmitted(ctx context.Context, evs []events.ChatEvent) {
	if len(evs) == 0 {
		return
	}
	p.timeline.Append(evs...)
	blob, err := p.timeline.Marshal()
	if err != nil {
		p.logger.Error("serialize events", zap.Error(err))
		return
	}
	if err := p.repo.SaveEvents(ctx, p.projectID, blob); err != nil {
		p.logger.Error("persist events", zap.Error(err))
	}
	if p.publisher != nil {
		if err := p.publisher.Publish(ctx, p.projectID, evs); err != nil {
			p.logger.Warn("publish events", zap.Error(err))
		}
	}
}

// note records a system line in the timeline as a tool result from source.
func (p *persister) note(ctx context.Context, source, line string) {
	md := events.ToolResultMarkdown(source, line)
	p.EventsEmitted(ctx, []events.ChatEvent{events.New(events.ToolResult, md, events.AgentCodeGenerator, p.now())})
}

func (p *persister) emitter(ctx context.Context) deploy.Emit {
	return func(line string) { p.note(ctx, "deploy", line) }
}
