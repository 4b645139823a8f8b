package agent

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/suPer8Hu/specforge/internal/ai"
	"github.com/suPer8Hu/specforge/internal/events"
	"github.com/suPer8Hu/specforge/internal/tools"
	"github.com/suPer8Hu/specforge/internal/vfs"
)

const SpecPrefix = "spec/"

// ChatAgent talks with the user and edits files under spec/ only.
type ChatAgent struct {
	Provider ai.Provider
	Observer Observer
	Logger   *zap.Logger
	Now      func() time.Time
	MaxSteps int
}

type ChatResult struct {
	Response     string
	SpecModified bool
	History      []ai.Message
}

// Run appends message to history, runs the tool loop over fs, and reports
// whether any spec file changed.
func (a *ChatAgent) Run(ctx context.Context, message string, fs *vfs.VFS, history []ai.Message) (ChatResult, error) {
	reg := tools.New(fs, SpecPrefix)
	obs := a.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	now := a.Now
	if now == nil {
		now = time.Now
	}

	before := SpecDigest(fs)

	if len(history) == 0 {
		history = append(history, ai.SystemMessage(ChatSystemPrompt()))
	}
	history = append(history, ai.UserMessage(withFileContext(message, reg.FilterAllowed(fs.List()))))

	obs.EventsEmitted(ctx, []events.ChatEvent{events.UserEvent(message, events.AgentChat, now())})
	obs.StateUpdated(ctx, State{History: history, VFS: fs})

	runner := &Runner{
		Provider:       a.Provider,
		Tools:          reg,
		FS:             fs,
		Agent:          events.AgentChat,
		MaxSteps:       a.MaxSteps,
		PersistHistory: true,
		Observer:       obs,
		Logger:         a.Logger,
		Now:            now,
	}
	res, err := runner.Run(ctx, history)
	out := ChatResult{Response: res.Text, History: res.History, SpecModified: SpecDigest(fs) != before}
	return out, err
}

func withFileContext(message string, files []string) string {
	var b strings.Builder
	b.WriteString(message)
	b.WriteString("\n\n<additional-context>\n<current-files-in-project>\n")
	if len(files) == 0 {
		b.WriteString("No files in project yet.")
	} else {
		for i, f := range files {
			if i > 0 {
				b.WriteByte('\n')
			}
			b.WriteString("- ")
			b.WriteString(f)
		}
	}
	b.WriteString("\n</current-files-in-project>\n</additional-context>")
	return b.String()
}

// SpecDigest fingerprints every file under spec/. encoding/json writes map
// keys sorted, so equal spec contents always hash the same.
func SpecDigest(fs *vfs.VFS) string {
	contents := make(map[string]string)
	for _, p := range fs.ListUnder(SpecPrefix) {
		if c, ok := fs.Read(p); ok {
			contents[p] = c
		}
	}
	b, err := json.Marshal(contents)
	if err != nil {
		b = []byte("{}")
	}
	sum := blake2b.Sum256(b)
	return hex.EncodeToString(sum[:])
}
