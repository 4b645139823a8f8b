package coordinator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/suPer8Hu/specforge/internal/deploy"
	"github.com/suPer8Hu/specforge/internal/project"
)

// CreateProject stores a new project from the template and starts its VM in
// the background. The returned project is not yet ready for deployment.
func (c *Coordinator) CreateProject(ctx context.Context, userID uint64, name string) (*project.Project, error) {
	p, err := c.Projects.Create(ctx, userID, name)
	if err != nil {
		return nil, err
	}
	if c.VM == nil {
		return p, nil
	}
	if err := c.Repo.SetVMStatus(ctx, p.ID, project.VMCreating, ""); err != nil {
		return nil, err
	}
	p.VMStatus = project.VMCreating

	c.background.Add(1)
	go func() {
		defer c.background.Done()
		c.warmUp(context.WithoutCancel(ctx), p.ID)
	}()
	return p, nil
}

// warmUp creates the VM and runs a first deploy of the template so
// dependencies are installed before the first chat run needs them.
func (c *Coordinator) warmUp(ctx context.Context, projectID string) {
	log := c.logger().With(zap.String("project_id", projectID))
	defer func() {
		if r := recover(); r != nil {
			log.Error("vm warm-up panicked", zap.Any("panic", r))
			_ = c.Repo.SetVMStatus(ctx, projectID, project.VMFailed, fmt.Sprint(r))
		}
	}()

	failed := func(stage string, err error) {
		log.Error("vm warm-up failed", zap.String("stage", stage), zap.Error(err))
		if serr := c.Repo.SetVMStatus(ctx, projectID, project.VMFailed, stage+": "+err.Error()); serr != nil {
			log.Error("record vm failure", zap.Error(serr))
		}
	}

	v, err := c.VM.Create(ctx)
	if err != nil {
		failed("create", err)
		return
	}
	if err := c.Repo.SetVMID(ctx, projectID, v.ID); err != nil {
		failed("save vm id", err)
		return
	}
	if err := c.Repo.SetVMStatus(ctx, projectID, project.VMWarmingUp, ""); err != nil {
		failed("save status", err)
		return
	}

	p, err := c.Repo.Get(ctx, projectID)
	if err != nil {
		failed("load project", err)
		return
	}
	fs, err := project.LoadVFS(p)
	if err != nil {
		failed("load vfs", err)
		return
	}

	pipeline := &deploy.Pipeline{Exec: c.VM, Options: c.deployOptions(log)}
	emit := func(line string) { log.Debug("warm-up", zap.String("line", line)) }
	if _, err := pipeline.WarmUp(ctx, v.ID, fs, emit); err != nil {
		failed("warm-up", err)
		return
	}
	if err := c.Repo.SetVMStatus(ctx, projectID, project.VMReady, ""); err != nil {
		log.Error("record vm ready", zap.Error(err))
		return
	}
	if err := c.Repo.SetAppRunning(ctx, projectID, true); err != nil {
		log.Warn("mark app running", zap.Error(err))
	}
	log.Info("vm ready", zap.String("vm_id", v.ID))
}

// Wait blocks until background VM warm-ups have finished.
func (c *Coordinator) Wait() {
	c.background.Wait()
}
