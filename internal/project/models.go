package project

import "time"

type VMStatus string

const (
	VMNone      VMStatus = ""
	VMCreating  VMStatus = "creating"
	VMWarmingUp VMStatus = "warming_up"
	VMReady     VMStatus = "ready"
	VMFailed    VMStatus = "failed"
)

type Project struct {
	ID     string `gorm:"primaryKey;size:26" json:"id"` // ULID length
	UserID uint64 `gorm:"index;not null" json:"-"`
	Name   string `gorm:"type:varchar(100);not null" json:"name"`

	VFS         string `gorm:"column:vfs;type:longtext;not null" json:"-"`
	ChatHistory string `gorm:"type:longtext;not null" json:"-"`
	AgentEvents string `gorm:"type:longtext;not null" json:"-"`

	IsProcessing bool `gorm:"not null;default:false;index" json:"is_processing"`

	VMID       string   `gorm:"column:vm_id;type:varchar(64)" json:"-"`
	VMStatus   VMStatus `gorm:"column:vm_status;type:varchar(16)" json:"vm_status"`
	VMError    string   `gorm:"column:vm_error;type:text" json:"vm_error,omitempty"`
	AppRunning bool     `gorm:"not null;default:false" json:"app_running"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Project) TableName() string { return "projects" }

type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Run is one chat-triggered chain (chat agent, code generator, deploy).
type Run struct {
	ID        string `gorm:"primaryKey;size:26" json:"run_id"`
	ProjectID string `gorm:"size:26;index;not null" json:"project_id"`
	UserID    uint64 `gorm:"index;not null" json:"-"`

	Message string `gorm:"type:text;not null" json:"message"`

	Status RunStatus `gorm:"type:varchar(16);index;not null" json:"status"`

	SpecModified bool    `json:"spec_modified"`
	AppURL       *string `gorm:"type:varchar(255)" json:"app_url,omitempty"`
	Error        *string `gorm:"type:text" json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Run) TableName() string { return "agent_runs" }
