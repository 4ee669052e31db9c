package recordingmodule

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/talentvine/webdesk/internal/database"
	"github.com/talentvine/webdesk/internal/events"
)

// Store is the durable local home of finalized session recordings.
// Blobs land here before any upload attempt, so a failed submit to the
// record service never loses captured footage. Files are content
// addressed by sha256 and written atomically.
type Store struct {
	logger      hclog.Logger
	db          *gorm.DB
	bus         events.EventBus
	baseDir     string
	maxBlobSize int64
}

// NewStore creates a store rooted at baseDir.
func NewStore(logger hclog.Logger, db *gorm.DB, bus events.EventBus, baseDir string, maxBlobSize int64) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating recordings dir: %w", err)
	}
	return &Store{
		logger:      logger.Named("recording-store"),
		db:          db,
		bus:         bus,
		baseDir:     baseDir,
		maxBlobSize: maxBlobSize,
	}, nil
}

// blobPath fans files out by hash prefix so no single directory grows
// unbounded.
func (s *Store) blobPath(hash string) string {
	return filepath.Join(s.baseDir, hash[:2], hash[2:4], hash+".webm")
}

// Store writes one finalized blob to disk and records its metadata.
// The write is atomic: data goes to a temp file in the target
// directory and is renamed into place, so a crash never leaves a
// half-written recording at the final path.
func (s *Store) Store(sessionID, kind, filename string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("refusing to store empty recording")
	}
	if s.maxBlobSize > 0 && int64(len(data)) > s.maxBlobSize {
		return "", fmt.Errorf("recording exceeds max blob size: %d > %d", len(data), s.maxBlobSize)
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	path := s.blobPath(hash)

	if _, err := os.Stat(path); err != nil {
		if err := s.writeAtomic(path, data); err != nil {
			return "", err
		}
	} else {
		s.logger.Debug("recording content already on disk", "hash", hash)
	}

	if s.db != nil {
		row := database.Recording{
			ID:        uuid.New().String(),
			SessionID: sessionID,
			Kind:      kind,
			Filename:  filename,
			Path:      path,
			SizeBytes: int64(len(data)),
			SHA256:    hash,
		}
		if err := s.db.Create(&row).Error; err != nil {
			return "", fmt.Errorf("recording metadata insert: %w", err)
		}
	}

	s.logger.Info("recording stored", "session_id", sessionID, "kind", kind, "size", len(data), "hash", hash)
	if s.bus != nil {
		event := events.NewSessionEvent(events.EventRecordingStored, sessionID, "recording stored")
		event.Data["kind"] = kind
		event.Data["size"] = len(data)
		s.bus.PublishAsync(event)
	}

	return path, nil
}

func (s *Store) writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating blob dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".recording-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing recording: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing recording: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("publishing recording: %w", err)
	}
	return nil
}

// MarkUploaded records the durable URL the record service returned for
// a session's recording of the given kind.
func (s *Store) MarkUploaded(sessionID, kind, url string) error {
	if s.db == nil {
		return nil
	}

	result := s.db.Model(&database.Recording{}).
		Where("session_id = ? AND kind = ?", sessionID, kind).
		Update("upload_url", url)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("no recording found for session %s kind %s", sessionID, kind)
	}

	if s.bus != nil {
		event := events.NewSessionEvent(events.EventRecordingUploaded, sessionID, "recording uploaded")
		event.Data["kind"] = kind
		event.Data["url"] = url
		s.bus.PublishAsync(event)
	}
	return nil
}

// Get returns the metadata row for one recording.
func (s *Store) Get(id string) (*database.Recording, error) {
	if s.db == nil {
		return nil, fmt.Errorf("no database configured")
	}

	var rec database.Recording
	if err := s.db.First(&rec, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// BySession returns every recording row for a session.
func (s *Store) BySession(sessionID string) ([]database.Recording, error) {
	if s.db == nil {
		return nil, fmt.Errorf("no database configured")
	}

	var recs []database.Recording
	if err := s.db.Where("session_id = ?", sessionID).Order("created_at").Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// Verify re-hashes the stored file and checks it against the recorded
// digest. A mismatch means on-disk corruption.
func (s *Store) Verify(id string) error {
	rec, err := s.Get(id)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(rec.Path)
	if err != nil {
		return fmt.Errorf("reading recording file: %w", err)
	}

	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != rec.SHA256 {
		return fmt.Errorf("recording %s failed integrity check", id)
	}
	if int64(len(data)) != rec.SizeBytes {
		return fmt.Errorf("recording %s size mismatch: %d != %d", id, len(data), rec.SizeBytes)
	}
	return nil
}
