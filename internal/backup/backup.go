// Package backup writes encrypted copies of the event database to
// S3-compatible storage.
package backup

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/robfig/cron/v3"
	_ "modernc.org/sqlite"

	"github.com/dukerupert/eventecho/internal/config"
	"github.com/dukerupert/eventecho/internal/model"
	"github.com/dukerupert/eventecho/internal/store"
)

var (
	ErrDisabled = errors.New("backup not configured")
	ErrNotFound = errors.New("backup not found")
)

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// State represents the backup manager state.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDisabled State = "disabled"
	StateError    State = "error"
)

// Status holds the current backup manager status.
type Status struct {
	State      State      `json:"state"`
	LastBackup *time.Time `json:"last_backup,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Manager runs encrypted backups of the SQLite file at dbPath.
type Manager struct {
	mu     sync.Mutex
	cfg    config.BackupConfig
	dbPath string
	status Status

	db      *sql.DB
	backups *store.BackupStore
	client  s3Client
	logger  *slog.Logger

	cron *cron.Cron
}

// NewManager creates a backup manager. It is disabled unless the bucket,
// credentials and passphrase are all set.
func NewManager(cfg config.BackupConfig, dbPath string, db *sql.DB, bs *store.BackupStore, logger *slog.Logger) *Manager {
	m := &Manager{
		cfg:     cfg,
		dbPath:  dbPath,
		db:      db,
		backups: bs,
		logger:  logger,
		status:  Status{State: StateDisabled},
	}
	if Enabled(cfg) {
		m.client = newS3Client(cfg.S3)
		m.status.State = StateIdle
	}
	return m
}

// Enabled reports whether cfg carries everything a backup needs.
func Enabled(cfg config.BackupConfig) bool {
	return cfg.S3.Bucket != "" && cfg.S3.AccessKey != "" && cfg.S3.SecretKey != "" && cfg.Passphrase != ""
}

func newS3Client(cfg config.S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Start schedules backups and retention cleanup on cfg.Schedule. It is a
// no-op when the manager is disabled or already started.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status.State == StateDisabled || m.cron != nil {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(m.cfg.Schedule, m.scheduled); err != nil {
		return fmt.Errorf("backup schedule %q: %w", m.cfg.Schedule, err)
	}
	c.Start()
	m.cron = c
	m.logger.Info("backup scheduler started", "schedule", m.cfg.Schedule, "retention_days", m.cfg.RetentionDays)
	return nil
}

// Stop halts the schedule and waits for a running backup to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

// Status returns the current backup status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

func (m *Manager) scheduled() {
	ctx := context.Background()
	if _, err := m.RunNow(ctx); err != nil {
		m.logger.Error("scheduled backup failed", "error", err)
	}
	if err := m.Cleanup(ctx); err != nil {
		m.logger.Error("backup cleanup failed", "error", err)
	}
}

// RunNow takes a backup immediately and returns its record id.
func (m *Manager) RunNow(ctx context.Context) (int64, error) {
	if m.client == nil {
		return 0, ErrDisabled
	}

	m.setStatus(Status{State: StateRunning})

	id, err := m.runBackup(ctx)
	if err != nil {
		m.setStatus(Status{State: StateError, Error: err.Error()})
		return 0, err
	}

	now := time.Now().UTC()
	m.setStatus(Status{State: StateIdle, LastBackup: &now})
	m.logger.Info("backup complete", "backup_id", id)
	return id, nil
}

func (m *Manager) runBackup(ctx context.Context) (int64, error) {
	timestamp := time.Now().UTC().Format("2006-01-02T150405Z")
	filename := fmt.Sprintf("backup-%s.db.enc", timestamp)
	s3Key := "eventecho/" + filename

	record, err := m.backups.Create(filename, s3Key)
	if err != nil {
		return 0, fmt.Errorf("create backup record: %w", err)
	}

	fail := func(err error) (int64, error) {
		if uerr := m.backups.UpdateStatus(record.ID, model.BackupStatusFailed, err.Error()); uerr != nil {
			m.logger.Error("record backup failure", "backup_id", record.ID, "error", uerr)
		}
		return 0, err
	}

	if err := m.backups.UpdateStatus(record.ID, model.BackupStatusUploading, ""); err != nil {
		return fail(err)
	}

	if _, err := m.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fail(fmt.Errorf("wal checkpoint: %w", err))
	}

	plaintext, err := os.ReadFile(m.dbPath)
	if err != nil {
		return fail(fmt.Errorf("read database: %w", err))
	}

	sealed, err := Seal(plaintext, m.cfg.Passphrase)
	if err != nil {
		return fail(fmt.Errorf("encrypt: %w", err))
	}

	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.cfg.S3.Bucket),
		Key:           aws.String(s3Key),
		Body:          bytes.NewReader(sealed),
		ContentLength: aws.Int64(int64(len(sealed))),
	})
	if err != nil {
		return fail(fmt.Errorf("upload to s3: %w", err))
	}

	if err := m.backups.UpdateCompleted(record.ID, int64(len(sealed))); err != nil {
		return 0, err
	}
	return record.ID, nil
}

// List returns the most recent backup records.
func (m *Manager) List(limit int) ([]model.Backup, error) {
	return m.backups.List(limit)
}

// Fetch downloads and decrypts a backup into a temporary file, checks its
// integrity, and returns the file's path. The caller removes it.
func (m *Manager) Fetch(ctx context.Context, backupID int64) (string, error) {
	if m.client == nil {
		return "", ErrDisabled
	}

	record, err := m.backups.GetByID(backupID)
	if err != nil {
		return "", fmt.Errorf("get backup: %w", err)
	}
	if record == nil {
		return "", ErrNotFound
	}

	result, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.cfg.S3.Bucket),
		Key:    aws.String(record.S3Key),
	})
	if err != nil {
		return "", fmt.Errorf("download from s3: %w", err)
	}
	defer result.Body.Close()

	sealed, err := io.ReadAll(result.Body)
	if err != nil {
		return "", fmt.Errorf("read download: %w", err)
	}
	plaintext, err := Open(sealed, m.cfg.Passphrase)
	if err != nil {
		return "", fmt.Errorf("decrypt backup: %w", err)
	}

	out, err := os.CreateTemp("", fmt.Sprintf("eventecho-restore-%d-*.db", backupID))
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	path := out.Name()
	if _, err := out.Write(plaintext); err != nil {
		out.Close()
		os.Remove(path)
		return "", fmt.Errorf("write restored db: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return "", err
	}

	if err := checkIntegrity(path); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func checkIntegrity(path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open restored db: %w", err)
	}
	defer db.Close()

	var integrity string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&integrity); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if integrity != "ok" {
		return fmt.Errorf("integrity check failed: %s", integrity)
	}
	return nil
}

// Replace installs a fetched database file at dbPath. Nothing may hold
// dbPath open while it runs.
func Replace(srcPath, dbPath string) error {
	if err := copyFile(srcPath, dbPath); err != nil {
		return fmt.Errorf("replace database: %w", err)
	}
	os.Remove(dbPath + "-wal")
	os.Remove(dbPath + "-shm")
	return nil
}

// Cleanup deletes backups older than the retention period from the bucket
// and the history table.
func (m *Manager) Cleanup(ctx context.Context) error {
	if m.client == nil || m.cfg.RetentionDays <= 0 {
		return nil
	}

	before := time.Now().UTC().AddDate(0, 0, -m.cfg.RetentionDays)
	keys, err := m.backups.DeleteOlderThan(before)
	if err != nil {
		return fmt.Errorf("delete old backups: %w", err)
	}

	for _, key := range keys {
		if _, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(m.cfg.S3.Bucket),
			Key:    aws.String(key),
		}); err != nil {
			m.logger.Warn("delete s3 object", "key", key, "error", err)
		}
	}
	if len(keys) > 0 {
		m.logger.Info("old backups removed", "count", len(keys))
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".restore"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, filepath.Clean(dst))
}
