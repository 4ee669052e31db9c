package questionmodule

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/talentvine/webdesk/internal/config"
	"github.com/talentvine/webdesk/internal/errors"
	"github.com/talentvine/webdesk/internal/events"
	"github.com/talentvine/webdesk/internal/modules/modulemanager"
)

// Module owns the question bank and its candidate-facing routes.
type Module struct {
	logger hclog.Logger
	bank   *Bank
}

var defaultModule = &Module{}

// Register adds the question module to the module registry.
func Register() {
	modulemanager.Register(defaultModule)
}

// GetBank returns the bank once the module is initialized.
func GetBank() *Bank {
	return defaultModule.bank
}

func (m *Module) ID() string   { return "system.questions" }
func (m *Module) Name() string { return "Question Bank" }
func (m *Module) Core() bool   { return true }

// Migrate is a no-op: question sets live on disk, not in the database.
func (m *Module) Migrate(db *gorm.DB) error { return nil }

func (m *Module) Init() error {
	cfg := config.Get()

	m.logger = hclog.New(&hclog.LoggerOptions{
		Name:  "webdesk",
		Level: hclog.LevelFromString(cfg.Logging.Level),
	})

	if err := os.MkdirAll(cfg.Questions.BankDir, 0o755); err != nil {
		return err
	}

	bank := NewBank(m.logger, cfg.Questions.BankDir, events.GetGlobalEventBus())
	if err := bank.Load(); err != nil {
		return err
	}
	if cfg.Questions.HotReload {
		if err := bank.Watch(); err != nil {
			m.logger.Warn("question bank hot reload unavailable", "error", err)
		}
	}

	m.bank = bank
	return nil
}

// RegisterRoutes exposes the question sets with answer keys stripped.
func (m *Module) RegisterRoutes(router *gin.Engine) {
	group := router.Group("/api/v1/questions")
	group.GET("/sets", m.listSets)
	group.GET("/sets/:id", m.getSet)
}

func (m *Module) listSets(c *gin.Context) {
	sets := m.bank.Sets()
	out := make([]*QuestionSet, 0, len(sets))
	for _, set := range sets {
		out = append(out, set.Sanitized())
	}
	c.JSON(http.StatusOK, gin.H{"sets": out})
}

func (m *Module) getSet(c *gin.Context) {
	set, ok := m.bank.Set(c.Param("id"))
	if !ok {
		errors.HandleNotFound(c, "question set", c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, set.Sanitized())
}
