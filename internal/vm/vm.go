package vm

import "context"

type VM struct {
	ID string `json:"id"`
}

type ExecResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	StatusCode int    `json:"statusCode"`
}

func (r ExecResult) OK() bool { return r.StatusCode == 0 }

// Executor is the remote VM capability: create a machine, run a shell
// command on it to completion, and address it publicly.
type Executor interface {
	Create(ctx context.Context) (VM, error)
	Exec(ctx context.Context, vmID, command string) (ExecResult, error)
	PublicURL(vmID string) string
}

// SetupCommand installs what the deploy pipeline expects on a fresh VM.
const SetupCommand = "apt-get update && apt-get install --yes nginx screen && npm i -g pnpm"
