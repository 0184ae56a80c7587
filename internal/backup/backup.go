// Package backup makes encrypted snapshots of the SQLite database and
// uploads them to S3-compatible storage on a daily schedule.
package backup

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/menolisa/billing/internal/model"
	"github.com/menolisa/billing/internal/store"
)

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

// Config holds backup manager configuration.
type Config struct {
	S3            S3Config
	DBPath        string
	Passphrase    string
	HourUTC       int
	RetentionDays int
}

// Manager manages encrypted backups to S3-compatible storage. It is
// disabled (all methods no-ops or errors) when S3 credentials or the
// passphrase are missing.
type Manager struct {
	mu          sync.RWMutex
	cfg         Config
	db          *sql.DB
	backupStore *store.BackupStore
	client      s3Client
	logger      *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a new backup manager.
func NewManager(cfg Config, db *sql.DB, bs *store.BackupStore, logger *slog.Logger) *Manager {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	m := &Manager{
		cfg:         cfg,
		db:          db,
		backupStore: bs,
		logger:      logger,
	}
	if cfg.S3.Bucket != "" && cfg.S3.AccessKey != "" && cfg.S3.SecretKey != "" && cfg.Passphrase != "" {
		m.client = newS3Client(cfg.S3)
	}
	return m
}

func newS3Client(cfg S3Config) *s3.Client {
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

// Enabled reports whether the manager has working storage configuration.
func (m *Manager) Enabled() bool {
	return m.client != nil
}

// Start begins the scheduled backup loop.
func (m *Manager) Start(ctx context.Context) {
	if !m.Enabled() {
		return
	}

	m.mu.Lock()
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.mu.Unlock()

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(1 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.checkSchedule(ctx)
			}
		}
	}()
}

// Stop gracefully stops the backup manager.
func (m *Manager) Stop() {
	m.mu.RLock()
	cancel := m.cancel
	done := m.done
	m.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (m *Manager) checkSchedule(ctx context.Context) {
	now := time.Now().UTC()
	if now.Hour() != m.cfg.HourUTC || now.Minute() != 0 {
		return
	}

	if _, err := m.RunNow(ctx); err != nil {
		m.logger.Error("scheduled backup failed", "error", err)
	}
	if err := m.Cleanup(ctx); err != nil {
		m.logger.Error("backup cleanup failed", "error", err)
	}
}

// RunNow takes a snapshot immediately: checkpoint the WAL, copy the
// database file, encrypt the copy, and upload it.
func (m *Manager) RunNow(ctx context.Context) (int64, error) {
	if !m.Enabled() {
		return 0, fmt.Errorf("backup not configured")
	}

	timestamp := time.Now().UTC().Format("2006-01-02T150405Z")
	filename := fmt.Sprintf("backup-%s.db.enc", timestamp)
	s3Key := "billing/" + filename

	record, err := m.backupStore.Create(filename, s3Key)
	if err != nil {
		return 0, fmt.Errorf("create backup record: %w", err)
	}

	m.backupStore.UpdateStatus(record.ID, model.BackupStatusUploading, "")

	data, err := m.snapshot(ctx)
	if err != nil {
		m.backupStore.UpdateStatus(record.ID, model.BackupStatusFailed, err.Error())
		return 0, err
	}

	salt, err := GenerateSalt()
	if err != nil {
		m.backupStore.UpdateStatus(record.ID, model.BackupStatusFailed, err.Error())
		return 0, err
	}
	enc, err := Encrypt(data, m.cfg.Passphrase, salt)
	if err != nil {
		m.backupStore.UpdateStatus(record.ID, model.BackupStatusFailed, err.Error())
		return 0, fmt.Errorf("encrypt: %w", err)
	}

	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.cfg.S3.Bucket),
		Key:           aws.String(s3Key),
		Body:          bytes.NewReader(enc),
		ContentLength: aws.Int64(int64(len(enc))),
	})
	if err != nil {
		m.backupStore.UpdateStatus(record.ID, model.BackupStatusFailed, err.Error())
		return 0, fmt.Errorf("upload to s3: %w", err)
	}

	m.backupStore.UpdateCompleted(record.ID, int64(len(enc)))
	m.logger.Info("backup uploaded", "key", s3Key, "bytes", len(enc))
	return record.ID, nil
}

// snapshot checkpoints the WAL and reads the database file.
func (m *Manager) snapshot(ctx context.Context) ([]byte, error) {
	if _, err := m.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return nil, fmt.Errorf("wal checkpoint: %w", err)
	}
	data, err := os.ReadFile(m.cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("read database: %w", err)
	}
	return data, nil
}

// Fetch downloads and decrypts a stored backup.
func (m *Manager) Fetch(ctx context.Context, backupID int64) ([]byte, error) {
	if !m.Enabled() {
		return nil, fmt.Errorf("backup not configured")
	}

	record, err := m.backupStore.GetByID(backupID)
	if err != nil {
		return nil, fmt.Errorf("get backup: %w", err)
	}
	if record == nil {
		return nil, fmt.Errorf("backup not found")
	}

	result, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.cfg.S3.Bucket),
		Key:    aws.String(record.S3Key),
	})
	if err != nil {
		return nil, fmt.Errorf("download from s3: %w", err)
	}
	defer result.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(result.Body); err != nil {
		return nil, fmt.Errorf("read downloaded object: %w", err)
	}

	data, err := Decrypt(buf.Bytes(), m.cfg.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("decrypt backup: %w", err)
	}
	return data, nil
}

// Cleanup deletes backups older than the retention period.
func (m *Manager) Cleanup(ctx context.Context) error {
	if !m.Enabled() {
		return nil
	}

	before := time.Now().UTC().AddDate(0, 0, -m.cfg.RetentionDays)
	keys, err := m.backupStore.DeleteOlderThan(before)
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
	return nil
}
