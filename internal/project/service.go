package project

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/suPer8Hu/specforge/internal/common"
	"github.com/suPer8Hu/specforge/internal/events"
	"github.com/suPer8Hu/specforge/internal/vfs"
)

var (
	ErrInvalidName  = errors.New("project name must be 1-100 characters")
	ErrInvalidPath  = errors.New("invalid file path")
	ErrFileExists   = errors.New("file already exists")
	ErrFileNotFound = errors.New("file not found")
)

// Service holds the read side of projects plus the few direct edits a user
// can make outside of a chat run.
type Service struct {
	repo      *Repo
	logger    *zap.Logger
	publicURL func(vmID string) string
}

func NewService(repo *Repo, logger *zap.Logger, publicURL func(vmID string) string) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, logger: logger, publicURL: publicURL}
}

func (s *Service) Repo() *Repo { return s.repo }

// Create stores a new project seeded from the template. Its VM is started
// separately.
func (s *Service) Create(ctx context.Context, userID uint64, name string) (*Project, error) {
	name = strings.TrimSpace(name)
	if name == "" || len([]rune(name)) > 100 {
		return nil, ErrInvalidName
	}
	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	blob, err := TemplateVFS().Serialize()
	if err != nil {
		return nil, err
	}
	p := &Project{
		ID:          id,
		UserID:      userID,
		Name:        name,
		VFS:         blob,
		ChatHistory: "[]",
		AgentEvents: "[]",
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) List(ctx context.Context, userID uint64) ([]Project, error) {
	return s.repo.ListByUser(ctx, userID)
}

func (s *Service) Get(ctx context.Context, userID uint64, id string) (*Project, error) {
	return s.repo.GetOwned(ctx, userID, id)
}

// LoadVFS parses a project's stored VFS. A corrupt blob is an error, never
// an empty file system.
func LoadVFS(p *Project) (*vfs.VFS, error) {
	fs, err := vfs.Deserialize(p.VFS)
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", p.ID, err)
	}
	return fs, nil
}

type FilesView struct {
	Files []string        `json:"files"`
	Tree  []*vfs.TreeNode `json:"file_tree"`
}

func (s *Service) Files(ctx context.Context, userID uint64, id string) (*FilesView, error) {
	p, err := s.repo.GetOwned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	fs, err := LoadVFS(p)
	if err != nil {
		return nil, err
	}
	return &FilesView{Files: fs.List(), Tree: fs.Tree()}, nil
}

func (s *Service) FileContent(ctx context.Context, userID uint64, id, path string) (string, error) {
	p, err := s.repo.GetOwned(ctx, userID, id)
	if err != nil {
		return "", err
	}
	fs, err := LoadVFS(p)
	if err != nil {
		return "", err
	}
	content, ok := fs.Read(path)
	if !ok {
		return "", ErrFileNotFound
	}
	return content, nil
}

func validPath(p string) bool {
	if p == "" || strings.HasPrefix(p, "/") || strings.HasSuffix(p, "/") {
		return false
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return false
		}
	}
	return true
}

// CreateFile adds a new file. It refuses while a run is in flight, since the
// run would overwrite the VFS on its next step.
func (s *Service) CreateFile(ctx context.Context, userID uint64, id, path, content string) error {
	if !validPath(path) {
		return ErrInvalidPath
	}
	p, err := s.repo.GetOwned(ctx, userID, id)
	if err != nil {
		return err
	}
	if p.IsProcessing {
		return ErrAlreadyProcessing
	}
	fs, err := LoadVFS(p)
	if err != nil {
		return err
	}
	if fs.Exists(path) {
		return ErrFileExists
	}
	fs.Write(path, content)
	blob, err := fs.Serialize()
	if err != nil {
		return err
	}
	return s.repo.SaveVFS(ctx, id, blob)
}

// WriteZip streams every file of the project as a zip archive.
func (s *Service) WriteZip(ctx context.Context, userID uint64, id string, w io.Writer) error {
	p, err := s.repo.GetOwned(ctx, userID, id)
	if err != nil {
		return err
	}
	fs, err := LoadVFS(p)
	if err != nil {
		return err
	}
	return fs.WriteZip(w)
}

type ChatView struct {
	Events       []events.ChatEvent `json:"events"`
	IsProcessing bool               `json:"is_processing"`
}

func (s *Service) Chat(ctx context.Context, userID uint64, id string) (*ChatView, error) {
	p, err := s.repo.GetOwned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	evs, err := events.ParseEvents(p.AgentEvents)
	if err != nil {
		s.logger.Warn("unreadable agent events, returning empty timeline", zap.String("project_id", id), zap.Error(err))
		evs = []events.ChatEvent{}
	}
	return &ChatView{Events: evs, IsProcessing: p.IsProcessing}, nil
}

// ClearChat drops the model conversation and the visible timeline.
func (s *Service) ClearChat(ctx context.Context, userID uint64, id string) error {
	p, err := s.repo.GetOwned(ctx, userID, id)
	if err != nil {
		return err
	}
	if p.IsProcessing {
		return ErrAlreadyProcessing
	}
	return s.repo.SaveFields(ctx, id, map[string]any{"chat_history": "[]", "agent_events": "[]"})
}

type VMView struct {
	VMURL       *string  `json:"vm_url"`
	AppRunning  bool     `json:"app_running"`
	HasDeployed bool     `json:"has_deployed"`
	VMStatus    VMStatus `json:"vm_status"`
	VMError     string   `json:"vm_error,omitempty"`
}

// VM reports the preview URL, which is only exposed once the app runs.
func (s *Service) VM(ctx context.Context, userID uint64, id string) (*VMView, error) {
	p, err := s.repo.GetOwned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	v := &VMView{
		AppRunning:  p.AppRunning,
		HasDeployed: p.VMID != "",
		VMStatus:    p.VMStatus,
		VMError:     p.VMError,
	}
	if p.VMID != "" && p.AppRunning && s.publicURL != nil {
		u := s.publicURL(p.VMID)
		v.VMURL = &u
	}
	return v, nil
}

// Run returns a chat run owned by userID.
func (s *Service) Run(ctx context.Context, userID uint64, runID string) (*Run, error) {
	run, err := s.repo.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.UserID != userID {
		return nil, ErrRunNotFound
	}
	return run, nil
}
