package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/suPer8Hu/specforge/internal/agent"
	"github.com/suPer8Hu/specforge/internal/ai"
	"github.com/suPer8Hu/specforge/internal/common"
	"github.com/suPer8Hu/specforge/internal/deploy"
	"github.com/suPer8Hu/specforge/internal/events"
	"github.com/suPer8Hu/specforge/internal/project"
	"github.com/suPer8Hu/specforge/internal/vm"
)

var ErrVMUnavailable = errors.New("vm did not become ready")

// Job is one queued chat run. It is also the RabbitMQ message body.
type Job struct {
	RunID     string `json:"run_id"`
	ProjectID string `json:"project_id"`
	UserID    uint64 `json:"user_id"`
	Message   string `json:"message"`
}

type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

// EventPublisher forwards timeline events to live listeners.
type EventPublisher interface {
	Publish(ctx context.Context, projectID string, evs []events.ChatEvent) error
}

type ProviderFunc func(ctx context.Context) (ai.Provider, error)

type Coordinator struct {
	Repo     *project.Repo
	Projects *project.Service
	Provider ProviderFunc
	VM       vm.Executor
	Deploy   deploy.Options

	Dispatcher Dispatcher
	Publisher  EventPublisher // optional

	VMReadyTimeout time.Duration
	VMPollInterval time.Duration

	Logger *zap.Logger
	Now    func() time.Time

	background sync.WaitGroup
}

func (c *Coordinator) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func (c *Coordinator) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// Start claims the project's processing flag and queues the run. A project
// that is already processing is rejected with ErrAlreadyProcessing and left
// untouched.
func (c *Coordinator) Start(ctx context.Context, userID uint64, projectID, message string) (string, error) {
	if _, err := c.Repo.GetOwned(ctx, userID, projectID); err != nil {
		return "", err
	}

	claimed, err := c.Repo.TryClaimProcessing(ctx, projectID)
	if err != nil {
		return "", err
	}
	if !claimed {
		return "", project.ErrAlreadyProcessing
	}

	runID, err := c.queue(ctx, userID, projectID, message)
	if err != nil {
		if rerr := c.Repo.ReleaseProcessing(context.WithoutCancel(ctx), projectID); rerr != nil {
			c.logger().Error("release processing flag", zap.String("project_id", projectID), zap.Error(rerr))
		}
		return "", fmt.Errorf("start run: %w", err)
	}

	c.logger().Info("run queued", zap.String("project_id", projectID), zap.String("run_id", runID))
	return runID, nil
}

func (c *Coordinator) queue(ctx context.Context, userID uint64, projectID, message string) (string, error) {
	runID, err := common.NewULID()
	if err != nil {
		return "", err
	}
	run := &project.Run{
		ID:        runID,
		ProjectID: projectID,
		UserID:    userID,
		Message:   message,
		Status:    project.RunQueued,
	}
	if err := c.Repo.CreateRun(ctx, run); err != nil {
		return "", err
	}
	job := Job{RunID: runID, ProjectID: projectID, UserID: userID, Message: message}
	if err := c.Dispatcher.Dispatch(ctx, job); err != nil {
		_ = c.Repo.MarkRunFailed(context.WithoutCancel(ctx), runID, "dispatch: "+err.Error())
		return "", err
	}
	return runID, nil
}

// Run executes the chain for a queued job: chat agent, then code generation
// and deployment when the spec changed. The processing flag is released on
// every path once the run has been picked up.
func (c *Coordinator) Run(ctx context.Context, job Job) (err error) {
	log := c.logger().With(zap.String("project_id", job.ProjectID), zap.String("run_id", job.RunID))

	started, err := c.Repo.MarkRunRunning(ctx, job.RunID)
	if err == nil && !started {
		log.Info("run already picked up, skipping")
		return nil
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error("run panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("run %s panicked: %v", job.RunID, r)
			_ = c.Repo.MarkRunFailed(context.WithoutCancel(ctx), job.RunID, err.Error())
		}
		if rerr := c.Repo.ReleaseProcessing(context.WithoutCancel(ctx), job.ProjectID); rerr != nil {
			log.Error("release processing flag", zap.Error(rerr))
		}
		log.Info("run finished", zap.Duration("cost", time.Since(start)), zap.Error(err))
	}()
	if err != nil {
		return err
	}

	p, err := c.Repo.Get(ctx, job.ProjectID)
	if err != nil {
		_ = c.Repo.MarkRunFailed(ctx, job.RunID, err.Error())
		return err
	}
	fs, err := project.LoadVFS(p)
	if err != nil {
		_ = c.Repo.MarkRunFailed(ctx, job.RunID, err.Error())
		return err
	}
	history, err := ai.ParseHistory(p.ChatHistory)
	if err != nil {
		_ = c.Repo.MarkRunFailed(ctx, job.RunID, err.Error())
		return err
	}
	prior, perr := events.ParseEvents(p.AgentEvents)
	if perr != nil {
		log.Warn("unreadable agent events, starting a new timeline", zap.Error(perr))
	}

	ps := &persister{
		repo:      c.Repo,
		projectID: job.ProjectID,
		timeline:  events.NewLog(prior),
		publisher: c.Publisher,
		logger:    log,
		now:       c.now,
	}

	fail := func(stage string, cause error) error {
		ps.note(context.WithoutCancel(ctx), "run", failureText(stage, cause))
		_ = c.Repo.MarkRunFailed(context.WithoutCancel(ctx), job.RunID, cause.Error())
		return fmt.Errorf("%s: %w", stage, cause)
	}

	provider, err := c.Provider(ctx)
	if err != nil {
		return fail("model", err)
	}

	chat := &agent.ChatAgent{Provider: provider, Observer: ps, Logger: log, Now: c.now}
	res, err := chat.Run(ctx, job.Message, fs, history)
	if err != nil {
		return fail("chat", err)
	}
	if !res.SpecModified {
		return c.Repo.MarkRunSucceeded(ctx, job.RunID, false, "")
	}

	gen := &agent.CodeGenerator{Provider: provider, Observer: ps, Logger: log, Now: c.now}
	if _, err := gen.Reconcile(ctx, fs); err != nil {
		return fail("code generation", err)
	}

	vmID, err := c.readyVM(ctx, job.ProjectID, ps)
	if err != nil {
		return fail("vm", err)
	}

	pipeline := &deploy.Pipeline{Exec: c.VM, Fixer: gen, Options: c.deployOptions(log)}
	url, err := pipeline.Deploy(ctx, vmID, fs, ps.emitter(ctx))
	if err != nil {
		return fail("deploy", err)
	}
	if err := c.Repo.SetAppRunning(ctx, job.ProjectID, true); err != nil {
		log.Warn("mark app running", zap.Error(err))
	}
	return c.Repo.MarkRunSucceeded(ctx, job.RunID, true, url)
}

func (c *Coordinator) deployOptions(log *zap.Logger) deploy.Options {
	o := c.Deploy
	o.Logger = log
	return o
}

func failureText(stage string, err error) string {
	return fmt.Sprintf("The %s step failed: %v", stage, err)
}

// readyVM returns the project's VM id once it is ready, creating one when
// the project has none or its last VM failed.
func (c *Coordinator) readyVM(ctx context.Context, projectID string, ps *persister) (string, error) {
	timeout := c.VMReadyTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	interval := c.VMPollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	announced := false
	for {
		p, err := c.Repo.Get(wctx, projectID)
		if err != nil {
			return "", err
		}
		switch {
		case p.VMID == "" || p.VMStatus == project.VMFailed:
			ps.note(ctx, "vm", "Creating a VM for this project")
			return c.provisionVM(ctx, projectID, ps.emitter(ctx))
		case p.VMStatus == project.VMReady || p.VMStatus == project.VMNone:
			return p.VMID, nil
		}
		if !announced {
			ps.note(ctx, "vm", "Waiting for the VM to finish warming up")
			announced = true
		}
		select {
		case <-wctx.Done():
			return "", fmt.Errorf("%w within %s", ErrVMUnavailable, timeout)
		case <-ticker.C:
		}
	}
}

// provisionVM creates a VM and installs system packages, recording each
// lifecycle transition on the project.
func (c *Coordinator) provisionVM(ctx context.Context, projectID string, emit deploy.Emit) (string, error) {
	bg := context.WithoutCancel(ctx)
	if err := c.Repo.SetVMStatus(ctx, projectID, project.VMCreating, ""); err != nil {
		return "", err
	}
	v, err := c.VM.Create(ctx)
	if err != nil {
		_ = c.Repo.SetVMStatus(bg, projectID, project.VMFailed, err.Error())
		return "", fmt.Errorf("create vm: %w", err)
	}
	if err := c.Repo.SetVMID(ctx, projectID, v.ID); err != nil {
		return "", err
	}
	if err := c.Repo.SetVMStatus(ctx, projectID, project.VMWarmingUp, ""); err != nil {
		return "", err
	}
	pipeline := &deploy.Pipeline{Exec: c.VM, Options: c.deployOptions(c.logger())}
	if err := pipeline.Setup(ctx, v.ID, emit); err != nil {
		_ = c.Repo.SetVMStatus(bg, projectID, project.VMFailed, err.Error())
		return "", err
	}
	if err := c.Repo.SetVMStatus(ctx, projectID, project.VMReady, ""); err != nil {
		return "", err
	}
	return v.ID, nil
}
