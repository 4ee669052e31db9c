package recordingmodule

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newDiskStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(hclog.NewNullLogger(), nil, nil, t.TempDir(), 1<<20)
	require.NoError(t, err)
	return store
}

func newMockedStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	store, err := NewStore(hclog.NewNullLogger(), db, nil, t.TempDir(), 1<<20)
	require.NoError(t, err)
	return store, mock
}

func TestStoreWritesBlobAtomically(t *testing.T) {
	store := newDiskStore(t)
	data := []byte("recorded footage bytes")

	path, err := store.Store("sess-1", "camera", "cand_camera.webm", data)
	require.NoError(t, err)

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, onDisk)

	// Path is derived from the content hash.
	sum := sha256.Sum256(data)
	assert.Contains(t, path, hex.EncodeToString(sum[:]))

	// No temp leftovers in the blob directory.
	entries, err := os.ReadDir(store.baseDir)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.NotContains(t, entry.Name(), ".recording-")
	}
}

func TestStoreDeduplicatesIdenticalContent(t *testing.T) {
	store := newDiskStore(t)
	data := []byte("same bytes twice")

	first, err := store.Store("sess-1", "camera", "a.webm", data)
	require.NoError(t, err)
	second, err := store.Store("sess-2", "camera", "b.webm", data)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestStoreRefusesEmptyBlob(t *testing.T) {
	store := newDiskStore(t)
	_, err := store.Store("sess-1", "camera", "empty.webm", nil)
	require.Error(t, err)
}

func TestStoreEnforcesMaxBlobSize(t *testing.T) {
	store, err := NewStore(hclog.NewNullLogger(), nil, nil, t.TempDir(), 8)
	require.NoError(t, err)

	_, err = store.Store("sess-1", "camera", "big.webm", []byte("way past eight bytes"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max blob size")
}

func TestMarkUploadedUpdatesRow(t *testing.T) {
	store, mock := newMockedStore(t)

	mock.ExpectExec(`UPDATE "recordings" SET "upload_url"=\$1 WHERE session_id = \$2 AND kind = \$3`).
		WithArgs("https://records.example/blob", "sess-1", "camera").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.MarkUploaded("sess-1", "camera", "https://records.example/blob"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkUploadedWithoutMatchingRow(t *testing.T) {
	store, mock := newMockedStore(t)

	mock.ExpectExec(`UPDATE "recordings"`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.MarkUploaded("sess-9", "screen", "https://records.example/blob")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no recording found")
}
