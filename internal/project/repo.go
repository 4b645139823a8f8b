package project

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

var (
	ErrProjectNotFound   = errors.New("project not found")
	ErrRunNotFound       = errors.New("run not found")
	ErrAlreadyProcessing = errors.New("project is already processing a message")
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Create(ctx context.Context, p *Project) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *Repo) Get(ctx context.Context, id string) (*Project, error) {
	var p Project
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}
	return &p, nil
}

// GetOwned returns ErrProjectNotFound both for missing projects and for
// projects owned by someone else.
func (r *Repo) GetOwned(ctx context.Context, userID uint64, id string) (*Project, error) {
	var p Project
	if err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}
	return &p, nil
}

// ListByUser returns the user's projects newest first, without the large
// blob columns.
func (r *Repo) ListByUser(ctx context.Context, userID uint64) ([]Project, error) {
	var out []Project
	err := r.db.WithContext(ctx).
		Select("id", "user_id", "name", "is_processing", "vm_id", "vm_status", "vm_error", "app_running", "created_at", "updated_at").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&out).Error
	return out, err
}

// TryClaimProcessing flips is_processing false->true in one statement.
// It reports false when another run already holds the flag.
func (r *Repo) TryClaimProcessing(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Project{}).
		Where("id = ? AND is_processing = ?", id, false).
		Update("is_processing", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *Repo) ReleaseProcessing(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&Project{}).
		Where("id = ?", id).
		Update("is_processing", false).Error
}

// SaveFields overwrites the given columns. Each incremental update from a
// run goes through here.
func (r *Repo) SaveFields(ctx context.Context, id string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&Project{}).Where("id = ?", id).Updates(fields).Error
}

func (r *Repo) SaveVFS(ctx context.Context, id, blob string) error {
	return r.SaveFields(ctx, id, map[string]any{"vfs": blob})
}

func (r *Repo) SaveHistory(ctx context.Context, id, blob string) error {
	return r.SaveFields(ctx, id, map[string]any{"chat_history": blob})
}

func (r *Repo) SaveEvents(ctx context.Context, id, blob string) error {
	return r.SaveFields(ctx, id, map[string]any{"agent_events": blob})
}

func (r *Repo) SetVMID(ctx context.Context, id, vmID string) error {
	return r.SaveFields(ctx, id, map[string]any{"vm_id": vmID})
}

func (r *Repo) SetVMStatus(ctx context.Context, id string, status VMStatus, vmErr string) error {
	return r.SaveFields(ctx, id, map[string]any{"vm_status": status, "vm_error": vmErr})
}

func (r *Repo) SetAppRunning(ctx context.Context, id string, running bool) error {
	return r.SaveFields(ctx, id, map[string]any{"app_running": running})
}

func (r *Repo) CreateRun(ctx context.Context, run *Run) error {
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *Repo) GetRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return &run, nil
}

// MarkRunRunning only moves queued runs, so a redelivered message cannot
// start the same run twice.
func (r *Repo) MarkRunRunning(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Run{}).
		Where("id = ? AND status = ?", id, RunQueued).
		Update("status", RunRunning)
	return res.RowsAffected == 1, res.Error
}

func (r *Repo) MarkRunSucceeded(ctx context.Context, id string, specModified bool, appURL string) error {
	var url *string
	if appURL != "" {
		url = &appURL
	}
	return r.db.WithContext(ctx).Model(&Run{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        RunSucceeded,
			"spec_modified": specModified,
			"app_url":       url,
			"error":         nil,
		}).Error
}

func (r *Repo) MarkRunFailed(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&Run{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": RunFailed,
			"error":  errMsg,
		}).Error
}
