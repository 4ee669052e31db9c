package modulemanager

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type stubModule struct {
	id       string
	core     bool
	migrated bool
	inited   bool
	initErr  error
	loadLog  *[]string
}

func (m *stubModule) ID() string   { return m.id }
func (m *stubModule) Name() string { return "Stub " + m.id }
func (m *stubModule) Core() bool   { return m.core }

func (m *stubModule) Migrate(db *gorm.DB) error {
	m.migrated = true
	return nil
}

func (m *stubModule) Init() error {
	m.inited = true
	if m.loadLog != nil {
		*m.loadLog = append(*m.loadLog, m.id)
	}
	return m.initErr
}

func TestLoadAllRunsInRegistrationOrder(t *testing.T) {
	ResetForTesting()
	t.Cleanup(ResetForTesting)

	var order []string
	Register(&stubModule{id: "system.questions", core: true, loadLog: &order})
	Register(&stubModule{id: "system.recordings", core: true, loadLog: &order})
	Register(&stubModule{id: "system.assessment", core: true, loadLog: &order})

	require.NoError(t, LoadAll(nil))
	assert.Equal(t, []string{"system.questions", "system.recordings", "system.assessment"}, order)
}

func TestLoadAllPropagatesInitFailure(t *testing.T) {
	ResetForTesting()
	t.Cleanup(ResetForTesting)

	Register(&stubModule{id: "system.broken", core: true, initErr: fmt.Errorf("boom")})

	err := LoadAll(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestDisabledModuleIsSkipped(t *testing.T) {
	ResetForTesting()
	t.Cleanup(ResetForTesting)

	optional := &stubModule{id: "system.optional"}
	Register(optional)
	DisableModule("system.optional")

	require.NoError(t, LoadAll(nil))
	assert.False(t, optional.inited)
}

func TestCoreModuleCannotBeDisabled(t *testing.T) {
	ResetForTesting()
	t.Cleanup(ResetForTesting)

	core := &stubModule{id: "system.assessment", core: true}
	Register(core)
	DisableModule("system.assessment")

	require.NoError(t, LoadAll(nil))
	assert.True(t, core.inited)
}

func TestGetModule(t *testing.T) {
	ResetForTesting()
	t.Cleanup(ResetForTesting)

	Register(&stubModule{id: "system.questions"})

	module, ok := GetModule("system.questions")
	require.True(t, ok)
	assert.Equal(t, "system.questions", module.ID())

	_, ok = GetModule("system.missing")
	assert.False(t, ok)
}
