package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/suPer8Hu/specforge/internal/events"
)

var (
	eventsFollow bool
	eventsWidth  int
	eventsPlain  bool
)

var eventsCmd = &cobra.Command{
	Use:   "events <project_id>",
	Short: "Print a project's chat timeline",
	Long: `Render the stored timeline of a project as markdown in the terminal.

With --follow the command keeps running and prints events as runs emit
them (requires Redis).`,
	Args: cobra.ExactArgs(1),
	RunE: runEvents,
}

func init() {
	eventsCmd.Flags().BoolVarP(&eventsFollow, "follow", "f", false, "Keep printing new events")
	eventsCmd.Flags().IntVar(&eventsWidth, "width", 100, "Word wrap width")
	eventsCmd.Flags().BoolVar(&eventsPlain, "plain", false, "Print raw markdown")
}

func runEvents(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.coord.Repo.Get(ctx, args[0])
	if err != nil {
		return err
	}
	evs, err := events.ParseEvents(p.AgentEvents)
	if err != nil {
		return err
	}

	r, err := newEventRenderer(eventsWidth, eventsPlain)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, ev := range evs {
		if err := r.write(out, ev); err != nil {
			return err
		}
	}

	if !eventsFollow {
		return nil
	}
	if a.redis == nil {
		return errors.New("--follow needs redis")
	}
	live, closeSub, err := a.redis.Subscribe(ctx, p.ID)
	if err != nil {
		return err
	}
	defer closeSub()
	for {
		select {
		case ev, ok := <-live:
			if !ok {
				return nil
			}
			if err := r.write(out, ev); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

type eventRenderer struct {
	term *glamour.TermRenderer // nil prints raw markdown
}

func newEventRenderer(width int, plain bool) (*eventRenderer, error) {
	if plain {
		return &eventRenderer{}, nil
	}
	term, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil, err
	}
	return &eventRenderer{term: term}, nil
}

func (r *eventRenderer) write(w io.Writer, ev events.ChatEvent) error {
	ts := time.UnixMilli(ev.Timestamp).Format("15:04:05")
	header := fmt.Sprintf("── %s · %s · %s", ts, ev.Agent, ev.EventType)
	body := ev.Markdown
	if r.term != nil {
		rendered, err := r.term.Render(body)
		if err != nil {
			return err
		}
		body = rendered
	}
	_, err := fmt.Fprintf(w, "%s\n%s\n", header, body)
	return err
}
