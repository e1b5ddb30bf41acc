package sshkey

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/irgordon/deploycenter/internal/core/domain"
	"github.com/irgordon/deploycenter/internal/crypto"
)

const (
	// RuntimeDirName is created under the OS temp directory with mode 0700.
	RuntimeDirName = "deploy-center-ssh-runtime"

	// failsafeTTL bounds the on-disk lifetime of a key regardless of how the
	// deployment ends; the orphan sweeper uses the same horizon.
	failsafeTTL   = 5 * time.Minute
	sweepInterval = 60 * time.Second
)

var recognisedHeaders = []string{"OPENSSH PRIVATE KEY", "RSA PRIVATE KEY", "EC PRIVATE KEY"}

// Handle is an ephemeral on-disk private key. Destroy is idempotent, cancels
// the failsafe timer, and securely erases the file.
type Handle struct {
	Path        string
	Fingerprint string

	destroyOnce sync.Once
	timer       *time.Timer
	manager     *Manager
}

// Destroy securely erases the key file. Safe to call any number of times and
// never returns an error: destruction failures are logged and left to the
// failsafe timer and orphan sweeper.
func (h *Handle) Destroy() {
	h.destroyOnce.Do(func() {
		if h.timer != nil {
			h.timer.Stop()
		}
		h.manager.destroy(h.Path)
	})
}

// Manager materialises short-lived SSH private keys for git operations and
// guarantees their destruction.
type Manager struct {
	dir     string
	decrypt crypto.Service
	logger  *slog.Logger

	initOnce  sync.Once
	initErr   error
	stopSweep chan struct{}
	sweepOnce sync.Once
}

func NewManager(decrypt crypto.Service, logger *slog.Logger) *Manager {
	return &Manager{
		dir:       filepath.Join(os.TempDir(), RuntimeDirName),
		decrypt:   decrypt,
		logger:    logger,
		stopSweep: make(chan struct{}),
	}
}

// Dir exposes the runtime directory (for tests and diagnostics).
func (m *Manager) Dir() string { return m.dir }

// Init is idempotent and process-wide: it creates the 0700 runtime directory
// and launches the orphan sweeper.
func (m *Manager) Init() error {
	m.initOnce.Do(func() {
		if err := os.MkdirAll(m.dir, 0o700); err != nil {
			m.initErr = fmt.Errorf("sshkey: cannot create runtime dir: %w", err)
			return
		}
		// Pre-existing directories keep whatever mode they had; tighten.
		if err := os.Chmod(m.dir, 0o700); err != nil && runtime.GOOS != "windows" {
			m.logger.Warn("sshkey: cannot tighten runtime dir mode", slog.Any("error", err))
		}
		go m.sweepLoop()
	})
	return m.initErr
}

// Close stops the orphan sweeper.
func (m *Manager) Close() {
	m.sweepOnce.Do(func() { close(m.stopSweep) })
}

// Materialise decrypts the stored key blob and writes it to a fresh 0600
// file under the runtime directory. The returned handle's failsafe timer
// force-destroys the file after 5 minutes regardless of outcome.
func (m *Manager) Materialise(blob *domain.EncryptedBlob, projectID uuid.UUID) (*Handle, error) {
	if err := m.Init(); err != nil {
		return nil, err
	}

	plaintext, err := m.decrypt.Decrypt(blob)
	if err != nil {
		return nil, fmt.Errorf("sshkey: decrypt failed: %w", err)
	}
	defer zero(plaintext)

	if err := validateKeyMaterial(plaintext); err != nil {
		return nil, err
	}

	nonce := make([]byte, 8)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("sshkey: entropy failure: %w", err)
	}
	name := fmt.Sprintf("key-p%s-%d-%s", projectID, time.Now().UnixMilli(), hex.EncodeToString(nonce))
	path := filepath.Join(m.dir, name)

	if err := os.WriteFile(path, plaintext, 0o600); err != nil {
		return nil, fmt.Errorf("sshkey: write failed: %w", err)
	}

	// 0600 is best-effort off POSIX; verify and log rather than fail.
	if info, err := os.Stat(path); err == nil {
		if runtime.GOOS != "windows" && info.Mode().Perm() != 0o600 {
			m.logger.Warn("sshkey: key file mode is not 0600",
				slog.String("path", path),
				slog.String("mode", info.Mode().Perm().String()))
		}
	}

	h := &Handle{
		Path:        path,
		Fingerprint: fingerprint(plaintext),
		manager:     m,
	}
	h.timer = time.AfterFunc(failsafeTTL, func() {
		m.logger.Warn("sshkey: failsafe destroying key past its TTL", slog.String("path", path))
		h.Destroy()
	})

	return h, nil
}

func validateKeyMaterial(plaintext []byte) error {
	text := string(plaintext)
	if !strings.Contains(text, "PRIVATE KEY") {
		return errors.New("sshkey: decrypted payload is not a private key")
	}
	for _, h := range recognisedHeaders {
		if strings.Contains(text, h) {
			return nil
		}
	}
	return errors.New("sshkey: unrecognised private key format (want OPENSSH, RSA or EC)")
}

// destroy overwrites the file's full length three times (random, zeros,
// ones) and unlinks it. Errors are logged, never propagated: the sweeper
// retries anything left behind.
func (m *Manager) destroy(path string) {
	info, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Warn("sshkey: stat before erase failed", slog.String("path", path), slog.Any("error", err))
		}
		return
	}

	if err := overwrite(path, info.Size()); err != nil {
		// Copy-on-write and journaling filesystems cannot guarantee the old
		// blocks are gone; the contract stays best effort + unlink.
		m.logger.Warn("sshkey: secure overwrite incomplete", slog.String("path", path), slog.Any("error", err))
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("sshkey: unlink failed", slog.String("path", path), slog.Any("error", err))
	}
}

func overwrite(path string, size int64) error {
	if size == 0 {
		return nil
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	passes := [][]byte{randomPass(size), bytePass(size, 0x00), bytePass(size, 0xFF)}
	for _, buf := range passes {
		if _, err := f.WriteAt(buf, 0); err != nil {
			return err
		}
		if err := f.Sync(); err != nil {
			return err
		}
	}
	return nil
}

func randomPass(size int64) []byte {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		// Fall back to a fixed pattern; the zero and one passes still run.
		for i := range buf {
			buf[i] = 0xA5
		}
	}
	return buf
}

func bytePass(size int64, b byte) []byte {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

// sweepLoop periodically secure-destroys any key file older than the
// failsafe TTL. Covers process restarts that orphaned keys on disk.
func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopSweep:
			return
		case <-ticker.C:
			m.SweepOrphans(time.Now().Add(-failsafeTTL))
		}
	}
}

// SweepOrphans destroys every file in the runtime directory last modified
// before the cutoff.
func (m *Manager) SweepOrphans(cutoff time.Time) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			m.logger.Info("sshkey: sweeping orphaned key file", slog.String("name", e.Name()))
			m.destroy(filepath.Join(m.dir, e.Name()))
		}
	}
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
