package assessmentmodule

import (
	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/talentvine/webdesk/internal/candidateclient"
	"github.com/talentvine/webdesk/internal/config"
	"github.com/talentvine/webdesk/internal/database"
	"github.com/talentvine/webdesk/internal/events"
	"github.com/talentvine/webdesk/internal/modules/modulemanager"
	"github.com/talentvine/webdesk/internal/modules/questionmodule"
	"github.com/talentvine/webdesk/internal/modules/recordingmodule"
)

// Module is the proctored session engine: the session manager, its
// HTTP surface and the WebSocket relay endpoint. It initializes after
// the question and recording modules it depends on.
type Module struct {
	logger  hclog.Logger
	manager *Manager
}

var defaultModule = &Module{}

// Register adds the assessment module to the module registry.
func Register() {
	modulemanager.Register(defaultModule)
}

// GetManager returns the session manager once the module is
// initialized.
func GetManager() *Manager {
	return defaultModule.manager
}

func (m *Module) ID() string   { return "system.assessment" }
func (m *Module) Name() string { return "Assessment Sessions" }
func (m *Module) Core() bool   { return true }

func (m *Module) Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&database.AssessmentSession{}, &database.ProctorNotice{})
}

func (m *Module) Init() error {
	cfg := config.Get()

	m.logger = hclog.New(&hclog.LoggerOptions{
		Name:  "webdesk",
		Level: hclog.LevelFromString(cfg.Logging.Level),
	})

	client := candidateclient.NewClient(m.logger, candidateclient.Config{
		BaseURL:         cfg.CandidateService.BaseURL,
		Token:           cfg.CandidateService.APIToken,
		Timeout:         cfg.CandidateService.RequestTimeout,
		MaxRetries:      uint64(cfg.CandidateService.MaxRetries),
		InitialInterval: cfg.CandidateService.RetryInterval,
	})

	m.manager = NewManager(
		m.logger,
		events.GetGlobalEventBus(),
		database.GetDB(),
		cfg.Assessment,
		questionmodule.GetBank(),
		client,
		client,
		recordingmodule.GetStore(),
	)
	return nil
}

// RegisterRoutes mounts the session lifecycle API and the relay
// WebSocket.
func (m *Module) RegisterRoutes(router *gin.Engine) {
	h := &handler{logger: m.logger, manager: m.manager}

	group := router.Group("/api/v1/assessment")
	group.POST("/sessions", h.createSession)
	group.GET("/sessions/:id", h.getSession)
	group.POST("/sessions/:id/permissions", h.requestPermissions)
	group.POST("/sessions/:id/submit", h.submitSession)
	group.POST("/sessions/:id/abort", h.abortSession)
	group.GET("/sessions/:id/ws", h.attachSocket)
}
