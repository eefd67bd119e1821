package deployer

import (
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Run statuses.
const (
	StatusRunning   = "RUNNING"
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
)

// Run is one execution of a plan.
type Run struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Network    string    `gorm:"size:32;index"`
	Target     string    `gorm:"size:64"`
	Deployer   string    `gorm:"size:64"`
	Owner      string    `gorm:"size:64"`
	Vault      string    `gorm:"size:64"`
	Status     string    `gorm:"size:16;index"`
	TotalCost  string    `gorm:"size:80"`
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
	Steps      []Step
}

// Step records one transaction or local call of a run.
type Step struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	RunID     uuid.UUID `gorm:"type:uuid;index"`
	Seq       int
	Kind      string `gorm:"size:32"`
	Subject   string `gorm:"size:64"`
	Ref       string `gorm:"size:80"`
	Units     uint64
	Cost      string `gorm:"size:80"`
	Status    string `gorm:"size:16"`
	Error     string
	CreatedAt time.Time
}

// Manifest persists deployment runs.
type Manifest struct {
	db *gorm.DB
}

// OpenManifest connects to dsn. postgres:// URLs use the Postgres driver,
// anything else is treated as a SQLite path.
func OpenManifest(dsn string) (*Manifest, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "file::memory:?cache=shared"
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	return NewManifest(db)
}

// NewManifest migrates the schema on db.
func NewManifest(db *gorm.DB) (*Manifest, error) {
	if err := db.AutoMigrate(&Run{}, &Step{}); err != nil {
		return nil, fmt.Errorf("migrate manifest: %w", err)
	}
	return &Manifest{db: db}, nil
}

// Start records a new running run.
func (m *Manifest) Start(run *Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	run.Status = StatusRunning
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	return m.db.Create(run).Error
}

// Record appends a step to runID.
func (m *Manifest) Record(runID uuid.UUID, step *Step) error {
	if step.ID == uuid.Nil {
		step.ID = uuid.New()
	}
	step.RunID = runID
	return m.db.Create(step).Error
}

// Finish stores the final status of run.
func (m *Manifest) Finish(run *Run, runErr error) error {
	now := time.Now().UTC()
	run.FinishedAt = &now
	run.Status = StatusSucceeded
	if runErr != nil {
		run.Status = StatusFailed
		run.Error = runErr.Error()
	}
	return m.db.Model(&Run{}).Where("id = ?", run.ID).Updates(map[string]any{
		"vault":       run.Vault,
		"status":      run.Status,
		"error":       run.Error,
		"total_cost":  run.TotalCost,
		"finished_at": run.FinishedAt,
	}).Error
}

// Get loads a run with its steps ordered by sequence.
func (m *Manifest) Get(id uuid.UUID) (*Run, error) {
	var run Run
	err := m.db.Preload("Steps", func(db *gorm.DB) *gorm.DB {
		return db.Order("seq asc")
	}).First(&run, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// Latest returns the most recent runs for network, newest first.
func (m *Manifest) Latest(network string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}
	var runs []Run
	q := m.db.Order("started_at desc").Limit(limit)
	if network != "" {
		q = q.Where("network = ?", network)
	}
	if err := q.Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// Close releases the underlying connection.
func (m *Manifest) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
