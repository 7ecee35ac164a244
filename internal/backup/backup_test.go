package backup

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dukerupert/eventecho/internal/config"
	"github.com/dukerupert/eventecho/internal/database"
	"github.com/dukerupert/eventecho/internal/model"
	"github.com/dukerupert/eventecho/internal/store"
)

// mockS3Client implements s3Client for testing.
type mockS3Client struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, _ := io.ReadAll(input.Body)
	m.objects[*input.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockS3Client) DeleteObject(_ context.Context, input *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *input.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockS3Client) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		keys = append(keys, k)
	}
	return keys
}

func testConfig() config.BackupConfig {
	return config.BackupConfig{
		S3:            config.S3Config{Bucket: "test", AccessKey: "key", SecretKey: "secret", Region: "us-east-1"},
		Passphrase:    "correct horse",
		Schedule:      "0 3 * * *",
		RetentionDays: 30,
	}
}

func setupManager(t *testing.T) (*Manager, *mockS3Client, *sql.DB, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "events.db")
	db, err := database.Open(dbPath)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	m := NewManager(testConfig(), dbPath, db, store.NewBackupStore(db), slog.Default())
	mock := newMockS3()
	m.client = mock
	return m, mock, db, dbPath
}

func TestManagerState(t *testing.T) {
	discard := slog.Default()

	if got := NewManager(config.BackupConfig{}, "", nil, nil, discard).Status().State; got != StateDisabled {
		t.Errorf("empty config state = %q, want %q", got, StateDisabled)
	}

	noPass := testConfig()
	noPass.Passphrase = ""
	if got := NewManager(noPass, "", nil, nil, discard).Status().State; got != StateDisabled {
		t.Errorf("missing passphrase state = %q, want %q", got, StateDisabled)
	}

	if got := NewManager(testConfig(), "", nil, nil, discard).Status().State; got != StateIdle {
		t.Errorf("full config state = %q, want %q", got, StateIdle)
	}
}

func TestDisabledManager(t *testing.T) {
	m := NewManager(config.BackupConfig{}, "", nil, nil, slog.Default())

	if err := m.Start(); err != nil {
		t.Fatalf("start disabled: %v", err)
	}
	m.Stop()

	if _, err := m.RunNow(context.Background()); !errors.Is(err, ErrDisabled) {
		t.Errorf("RunNow err = %v, want ErrDisabled", err)
	}
	if _, err := m.Fetch(context.Background(), 1); !errors.Is(err, ErrDisabled) {
		t.Errorf("Fetch err = %v, want ErrDisabled", err)
	}
	if err := m.Cleanup(context.Background()); err != nil {
		t.Errorf("Cleanup err = %v, want nil", err)
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	cfg := testConfig()
	cfg.Schedule = "every tuesday"
	m := NewManager(cfg, "", nil, nil, slog.Default())

	if err := m.Start(); err == nil {
		m.Stop()
		t.Fatal("expected error for invalid schedule")
	}
}

func TestRunNowAndFetch(t *testing.T) {
	m, mock, db, _ := setupManager(t)

	if _, err := db.Exec(`INSERT INTO events (owner_key, description, date) VALUES ('@alice', 'Dentist', '2025-07-01')`); err != nil {
		t.Fatalf("seed: %v", err)
	}

	id, err := m.RunNow(context.Background())
	if err != nil {
		t.Fatalf("run backup: %v", err)
	}

	st := m.Status()
	if st.State != StateIdle || st.LastBackup == nil {
		t.Errorf("status = %+v, want idle with last backup", st)
	}
	if keys := mock.keys(); len(keys) != 1 {
		t.Fatalf("uploaded objects = %v, want 1", keys)
	}

	backups, err := m.List(10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(backups) != 1 || backups[0].ID != id || backups[0].Status != model.BackupStatusCompleted {
		t.Fatalf("backups = %+v", backups)
	}
	if backups[0].SizeBytes == 0 {
		t.Error("expected size to be recorded")
	}

	path, err := m.Fetch(context.Background(), id)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	defer os.Remove(path)

	restored, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open restored: %v", err)
	}
	defer restored.Close()

	var desc string
	if err := restored.QueryRow(`SELECT description FROM events WHERE owner_key = '@alice'`).Scan(&desc); err != nil {
		t.Fatalf("query restored: %v", err)
	}
	if desc != "Dentist" {
		t.Errorf("restored description = %q, want Dentist", desc)
	}
}

func TestRunNowUploadFailure(t *testing.T) {
	m, mock, _, _ := setupManager(t)
	mock.putErr = errors.New("bucket unreachable")

	if _, err := m.RunNow(context.Background()); err == nil {
		t.Fatal("expected upload error")
	}
	if m.Status().State != StateError {
		t.Errorf("state = %q, want %q", m.Status().State, StateError)
	}

	backups, _ := m.List(10)
	if len(backups) != 1 || backups[0].Status != model.BackupStatusFailed {
		t.Fatalf("backups = %+v, want one failed record", backups)
	}
	if backups[0].ErrorMessage == "" {
		t.Error("expected error message to be recorded")
	}
}

func TestFetchWrongPassphrase(t *testing.T) {
	m, _, _, _ := setupManager(t)

	id, err := m.RunNow(context.Background())
	if err != nil {
		t.Fatalf("run backup: %v", err)
	}

	m.cfg.Passphrase = "battery staple"
	if _, err := m.Fetch(context.Background(), id); err == nil {
		t.Fatal("expected decrypt error")
	}
}

func TestFetchMissing(t *testing.T) {
	m, _, _, _ := setupManager(t)

	if _, err := m.Fetch(context.Background(), 42); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestReplace(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "fetched.db")
	dst := filepath.Join(dir, "events.db")

	os.WriteFile(src, []byte("new"), 0600)
	os.WriteFile(dst, []byte("old"), 0600)
	os.WriteFile(dst+"-wal", []byte("wal"), 0600)

	if err := Replace(src, dst); err != nil {
		t.Fatalf("replace: %v", err)
	}

	got, _ := os.ReadFile(dst)
	if string(got) != "new" {
		t.Errorf("db content = %q, want new", got)
	}
	if _, err := os.Stat(dst + "-wal"); !os.IsNotExist(err) {
		t.Error("expected wal file to be removed")
	}
}

func TestCleanup(t *testing.T) {
	m, mock, db, _ := setupManager(t)

	oldID, err := m.RunNow(context.Background())
	if err != nil {
		t.Fatalf("run backup: %v", err)
	}
	if _, err := db.Exec(`UPDATE backups SET created_at = ? WHERE id = ?`, time.Now().UTC().AddDate(0, 0, -45), oldID); err != nil {
		t.Fatalf("age backup: %v", err)
	}
	if keys := mock.keys(); len(keys) != 1 {
		t.Fatalf("uploaded objects = %v, want 1", keys)
	}

	if _, err := m.backups.Create("recent.db.enc", "eventecho/recent.db.enc"); err != nil {
		t.Fatalf("create recent: %v", err)
	}
	mock.objects["eventecho/recent.db.enc"] = []byte("recent")

	if err := m.Cleanup(context.Background()); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	if keys := mock.keys(); len(keys) != 1 || keys[0] != "eventecho/recent.db.enc" {
		t.Errorf("objects = %v, want only eventecho/recent.db.enc", keys)
	}
	backups, _ := m.List(10)
	if len(backups) != 1 || backups[0].Filename != "recent.db.enc" {
		t.Errorf("backups = %+v, want only recent.db.enc", backups)
	}
}
