package recordingmodule

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/talentvine/webdesk/internal/config"
	"github.com/talentvine/webdesk/internal/database"
	"github.com/talentvine/webdesk/internal/errors"
	"github.com/talentvine/webdesk/internal/events"
	"github.com/talentvine/webdesk/internal/modules/modulemanager"
)

// Module owns the durable recording store and its read-only routes.
type Module struct {
	logger hclog.Logger
	store  *Store
}

var defaultModule = &Module{}

// Register adds the recording module to the module registry.
func Register() {
	modulemanager.Register(defaultModule)
}

// GetStore returns the store once the module is initialized.
func GetStore() *Store {
	return defaultModule.store
}

func (m *Module) ID() string   { return "system.recordings" }
func (m *Module) Name() string { return "Recording Store" }
func (m *Module) Core() bool   { return true }

func (m *Module) Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&database.Recording{})
}

func (m *Module) Init() error {
	cfg := config.Get()

	m.logger = hclog.New(&hclog.LoggerOptions{
		Name:  "webdesk",
		Level: hclog.LevelFromString(cfg.Logging.Level),
	})

	store, err := NewStore(m.logger, database.GetDB(), events.GetGlobalEventBus(),
		cfg.Recordings.DataDir, cfg.Recordings.MaxBlobSize)
	if err != nil {
		return err
	}
	m.store = store
	return nil
}

// RegisterRoutes exposes the stored recordings read-only.
func (m *Module) RegisterRoutes(router *gin.Engine) {
	group := router.Group("/api/v1/recordings")
	group.GET("", m.listRecordings)
	group.GET("/:id", m.streamRecording)
	group.GET("/:id/verify", m.verifyRecording)
}

func (m *Module) listRecordings(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		errors.HandleValidationError(c, "session_id query parameter is required", "session_id")
		return
	}

	recs, err := m.store.BySession(sessionID)
	if err != nil {
		errors.HandleInternalError(c, "failed to list recordings", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"recordings": recs})
}

func (m *Module) streamRecording(c *gin.Context) {
	rec, err := m.store.Get(c.Param("id"))
	if err != nil {
		errors.HandleNotFound(c, "recording", c.Param("id"))
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+rec.Filename+`"`)
	c.File(rec.Path)
}

func (m *Module) verifyRecording(c *gin.Context) {
	id := c.Param("id")
	if err := m.store.Verify(id); err != nil {
		c.JSON(http.StatusConflict, gin.H{"id": id, "valid": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "valid": true})
}
