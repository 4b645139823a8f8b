package deploy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/suPer8Hu/specforge/internal/vfs"
	"github.com/suPer8Hu/specforge/internal/vm"
)

var ErrVerificationFailed = errors.New("deploy: verification failed after all fix attempts")

// Emit receives one human-readable progress line per user-meaningful action.
type Emit func(line string)

// Fixer repairs code after a failed verification.
type Fixer interface {
	FixVerification(ctx context.Context, fs *vfs.VFS, report string) (string, error)
}

// Options configures the pipeline. Empty commands are skipped, so start
// from DefaultOptions.
type Options struct {
	AppDir        string
	CodePrefix    string
	ScreenSession string

	PublicPort  int
	DevPort     int
	BackendPort int
	// PlaceholderBackendURL is rewritten to <public url>/api in .env files.
	PlaceholderBackendURL string

	InstallCommand string
	CodegenCommand string
	VerifyCommand  string
	StartCommand   string

	MaxFixAttempts               int
	ProceedOnVerificationFailure bool

	PollInterval time.Duration
	PollTimeout  time.Duration
	HTTPClient   *http.Client

	Logger *zap.Logger
}

func DefaultOptions() Options {
	return Options{
		AppDir:                       "/app",
		CodePrefix:                   "code/",
		ScreenSession:                "app",
		PublicPort:                   3000,
		DevPort:                      5173,
		BackendPort:                  3210,
		PlaceholderBackendURL:        "http://127.0.0.1:3210",
		InstallCommand:               "pnpm install",
		CodegenCommand:               "CONVEX_AGENT_MODE=anonymous pnpm exec convex codegen",
		VerifyCommand:                "pnpm lint",
		StartCommand:                 "CONVEX_AGENT_MODE=anonymous pnpm dev",
		MaxFixAttempts:               5,
		ProceedOnVerificationFailure: true,
		PollInterval:                 2 * time.Second,
		PollTimeout:                  60 * time.Second,
	}
}

// Pipeline ships the code/ tree of a VFS to a VM and brings the app up.
type Pipeline struct {
	Exec    vm.Executor
	Fixer   Fixer
	Options Options
}

func (p *Pipeline) opts() Options {
	o := p.Options
	d := DefaultOptions()
	if o.AppDir == "" {
		o.AppDir = d.AppDir
	}
	o.AppDir = path.Clean(o.AppDir)
	if o.CodePrefix == "" {
		o.CodePrefix = d.CodePrefix
	}
	if o.ScreenSession == "" {
		o.ScreenSession = d.ScreenSession
	}
	if o.PublicPort == 0 {
		o.PublicPort = d.PublicPort
	}
	if o.DevPort == 0 {
		o.DevPort = d.DevPort
	}
	if o.BackendPort == 0 {
		o.BackendPort = d.BackendPort
	}
	if o.StartCommand == "" {
		o.StartCommand = d.StartCommand
	}
	if o.MaxFixAttempts <= 0 {
		o.MaxFixAttempts = d.MaxFixAttempts
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = d.PollTimeout
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

func (p *Pipeline) run(ctx context.Context, vmID, command string) (vm.ExecResult, error) {
	res, err := p.Exec.Exec(ctx, vmID, command)
	if err != nil {
		return vm.ExecResult{}, err
	}
	return res, nil
}

// Deploy runs every phase in order and returns the app's public URL.
func (p *Pipeline) Deploy(ctx context.Context, vmID string, fs *vfs.VFS, emit Emit) (string, error) {
	emit = orNop(emit)
	if err := p.ResetAndUpload(ctx, vmID, fs, emit); err != nil {
		return "", err
	}
	if err := p.Install(ctx, vmID, emit); err != nil {
		return "", err
	}
	if err := p.Verify(ctx, vmID, fs, emit); err != nil {
		return "", err
	}
	return p.Launch(ctx, vmID, emit)
}

// Setup installs the system packages a fresh VM needs.
func (p *Pipeline) Setup(ctx context.Context, vmID string, emit Emit) error {
	emit = orNop(emit)
	emit("Preparing VM (nginx, screen, pnpm)")
	res, err := p.run(ctx, vmID, vm.SetupCommand)
	if err != nil {
		return fmt.Errorf("vm setup: %w", err)
	}
	if !res.OK() {
		return fmt.Errorf("vm setup exited %d: %s", res.StatusCode, tail(res.Stderr, 2000))
	}
	return nil
}

// WarmUp prepares a freshly created VM and then deploys the project's
// initial code.
func (p *Pipeline) WarmUp(ctx context.Context, vmID string, fs *vfs.VFS, emit Emit) (string, error) {
	if err := p.Setup(ctx, vmID, emit); err != nil {
		return "", err
	}
	return p.Deploy(ctx, vmID, fs, emit)
}

// ResetAndUpload stops the running app, wipes the app directory, writes
// every code file and configures the reverse proxy.
func (p *Pipeline) ResetAndUpload(ctx context.Context, vmID string, fs *vfs.VFS, emit Emit) error {
	emit = orNop(emit)
	o := p.opts()

	stop := fmt.Sprintf("screen -S %s -X quit >/dev/null 2>&1 || true; pkill -f 'pnpm dev' || true; pkill -f vite || true",
		shellQuote(o.ScreenSession))
	if _, err := p.run(ctx, vmID, stop); err != nil {
		return fmt.Errorf("stop app: %w", err)
	}
	if _, err := p.run(ctx, vmID, fmt.Sprintf("rm -rf %[1]s && mkdir -p %[1]s", shellQuote(o.AppDir))); err != nil {
		return fmt.Errorf("clean app dir: %w", err)
	}
	emit("Stopped the running app and cleaned " + o.AppDir)

	if err := p.upload(ctx, vmID, fs, o, emit); err != nil {
		return err
	}

	res, err := p.run(ctx, vmID, nginxScript(o))
	if err != nil {
		return fmt.Errorf("configure proxy: %w", err)
	}
	if !res.OK() {
		return fmt.Errorf("configure proxy: nginx exited %d: %s", res.StatusCode, tail(res.Stderr, 2000))
	}
	emit(fmt.Sprintf("Configured proxy: port %d -> app %d, /api -> backend %d", o.PublicPort, o.DevPort, o.BackendPort))
	return nil
}

func (p *Pipeline) upload(ctx context.Context, vmID string, fs *vfs.VFS, o Options, emit Emit) error {
	script, n := uploadScript(fs, o, p.Exec.PublicURL(vmID))
	res, err := p.run(ctx, vmID, script)
	if err != nil {
		return fmt.Errorf("upload files: %w", err)
	}
	if !res.OK() {
		return fmt.Errorf("upload files exited %d: %s", res.StatusCode, tail(res.Stderr, 2000))
	}
	emit(fmt.Sprintf("Uploaded %d files", n))
	return nil
}

// Install installs dependencies and runs backend code generation. Failures
// are reported but left for Verify to surface.
func (p *Pipeline) Install(ctx context.Context, vmID string, emit Emit) error {
	emit = orNop(emit)
	o := p.opts()
	if o.InstallCommand != "" {
		emit("Installing dependencies")
		res, err := p.run(ctx, vmID, fmt.Sprintf("cd %s && %s", shellQuote(o.AppDir), o.InstallCommand))
		if err != nil {
			return fmt.Errorf("install: %w", err)
		}
		if !res.OK() {
			emit(fmt.Sprintf("Dependency install failed (exit %d)", res.StatusCode))
			o.Logger.Warn("install failed", zap.String("vm_id", vmID), zap.Int("status", res.StatusCode), zap.String("stderr", tail(res.Stderr, 2000)))
		}
	}
	if o.CodegenCommand != "" {
		res, err := p.run(ctx, vmID, fmt.Sprintf("cd %s && %s", shellQuote(o.AppDir), o.CodegenCommand))
		if err != nil {
			return fmt.Errorf("backend codegen: %w", err)
		}
		if res.OK() {
			emit("Generated backend bindings")
		} else {
			emit(fmt.Sprintf("Backend codegen failed (exit %d)", res.StatusCode))
		}
	}
	return nil
}

// Verify runs the verification command and, while it fails, asks the Fixer
// for a repair, re-uploads and re-verifies, up to MaxFixAttempts times.
func (p *Pipeline) Verify(ctx context.Context, vmID string, fs *vfs.VFS, emit Emit) error {
	emit = orNop(emit)
	o := p.opts()
	if o.VerifyCommand == "" {
		return nil
	}

	verify := func() (vm.ExecResult, error) {
		return p.run(ctx, vmID, fmt.Sprintf("cd %s && %s", shellQuote(o.AppDir), o.VerifyCommand))
	}

	res, err := verify()
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	if res.OK() {
		emit("Verification passed")
		return nil
	}

	for attempt := 1; attempt <= o.MaxFixAttempts; attempt++ {
		emit(fmt.Sprintf("Verification failed, fix attempt %d/%d", attempt, o.MaxFixAttempts))
		if p.Fixer == nil {
			break
		}

		pkgBefore, _ := fs.Read(o.CodePrefix + "package.json")
		if _, err := p.Fixer.FixVerification(ctx, fs, verificationReport(o.VerifyCommand, res)); err != nil {
			o.Logger.Warn("fix attempt failed", zap.String("vm_id", vmID), zap.Int("attempt", attempt), zap.Error(err))
		}

		if err := p.upload(ctx, vmID, fs, o, emit); err != nil {
			return err
		}
		if pkgAfter, _ := fs.Read(o.CodePrefix + "package.json"); pkgAfter != pkgBefore {
			if err := p.Install(ctx, vmID, emit); err != nil {
				return err
			}
		}

		res, err = verify()
		if err != nil {
			return fmt.Errorf("verify: %w", err)
		}
		if res.OK() {
			emit(fmt.Sprintf("Verification passed after %d fix attempt(s)", attempt))
			return nil
		}
	}

	if o.ProceedOnVerificationFailure {
		emit("Verification still failing; launching anyway")
		o.Logger.Warn("verification failed, proceeding", zap.String("vm_id", vmID))
		return nil
	}
	emit("Verification still failing; deploy stopped")
	return ErrVerificationFailed
}

func verificationReport(command string, res vm.ExecResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "$ %s\nexit status %d\n", command, res.StatusCode)
	if s := strings.TrimSpace(res.Stdout); s != "" {
		b.WriteString("\nstdout:\n")
		b.WriteString(tail(s, 8000))
		b.WriteString("\n")
	}
	if s := strings.TrimSpace(res.Stderr); s != "" {
		b.WriteString("\nstderr:\n")
		b.WriteString(tail(s, 8000))
		b.WriteString("\n")
	}
	return b.String()
}

// Launch starts the app detached and waits for it to answer.
func (p *Pipeline) Launch(ctx context.Context, vmID string, emit Emit) (string, error) {
	emit = orNop(emit)
	o := p.opts()
	cmd := fmt.Sprintf("cd %s && screen -dmS %s bash -c %s",
		shellQuote(o.AppDir), shellQuote(o.ScreenSession), shellQuote(o.StartCommand+" > /tmp/app.log 2>&1"))
	res, err := p.run(ctx, vmID, cmd)
	if err != nil {
		return "", fmt.Errorf("launch: %w", err)
	}
	if !res.OK() {
		return "", fmt.Errorf("launch exited %d: %s", res.StatusCode, tail(res.Stderr, 2000))
	}
	emit("Launched the app")

	url := strings.TrimRight(p.Exec.PublicURL(vmID), "/")
	if p.waitReady(ctx, url, o) {
		emit("App is live at " + url)
	} else {
		emit("App did not answer within " + o.PollTimeout.String() + "; it may still be starting at " + url)
		o.Logger.Warn("readiness timeout", zap.String("vm_id", vmID), zap.String("url", url))
	}
	return url, nil
}

func orNop(emit Emit) Emit {
	if emit == nil {
		return func(string) {}
	}
	return emit
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
