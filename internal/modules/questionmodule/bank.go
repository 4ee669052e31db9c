package questionmodule

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
	"gopkg.in/yaml.v3"

	"github.com/talentvine/webdesk/internal/events"
)

// QuestionType distinguishes auto-graded from free-form questions.
type QuestionType string

const (
	TypeMultipleChoice QuestionType = "mcq"
	TypeFreeText       QuestionType = "text"
	TypeCode           QuestionType = "code"
)

// Question is one entry of a question set. CorrectOption is only
// meaningful for multiple-choice questions and is never sent to
// candidates.
type Question struct {
	ID            string       `yaml:"id" json:"id"`
	Type          QuestionType `yaml:"type" json:"type"`
	Prompt        string       `yaml:"prompt" json:"prompt"`
	Options       []string     `yaml:"options,omitempty" json:"options,omitempty"`
	CorrectOption string       `yaml:"answer,omitempty" json:"-"`
	Points        int          `yaml:"points" json:"points"`
}

// QuestionSet is an ordered list of questions plus the session
// parameters of the assessment variant it belongs to.
type QuestionSet struct {
	ID              string     `yaml:"id" json:"id"`
	Title           string     `yaml:"title" json:"title"`
	DurationSeconds int        `yaml:"duration_seconds" json:"durationSeconds"`
	Capabilities    []string   `yaml:"capabilities" json:"capabilities"`
	Questions       []Question `yaml:"questions" json:"questions"`
}

// TotalPoints sums the point values of every question in the set.
func (s *QuestionSet) TotalPoints() int {
	total := 0
	for _, q := range s.Questions {
		total += q.Points
	}
	return total
}

// Question returns the question with the given id, if present.
func (s *QuestionSet) Question(id string) (*Question, bool) {
	for i := range s.Questions {
		if s.Questions[i].ID == id {
			return &s.Questions[i], true
		}
	}
	return nil, false
}

// Sanitized returns a copy safe for candidate-facing payloads: answer
// keys stripped, everything else intact.
func (s *QuestionSet) Sanitized() *QuestionSet {
	out := *s
	out.Questions = make([]Question, len(s.Questions))
	for i, q := range s.Questions {
		q.CorrectOption = ""
		out.Questions[i] = q
	}
	return &out
}

// Bank loads question sets from yaml files in one directory and keeps
// them fresh while the service runs.
type Bank struct {
	logger hclog.Logger
	dir    string
	bus    events.EventBus

	mu   sync.RWMutex
	sets map[string]*QuestionSet

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewBank creates a bank over the given directory.
func NewBank(logger hclog.Logger, dir string, bus events.EventBus) *Bank {
	return &Bank{
		logger: logger.Named("question-bank"),
		dir:    dir,
		bus:    bus,
		sets:   make(map[string]*QuestionSet),
	}
}

// Load reads every yaml file in the bank directory, replacing the
// in-memory sets. A file that fails to parse is skipped with a warning
// so one bad edit never empties the bank.
func (b *Bank) Load() error {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return fmt.Errorf("reading question bank dir: %w", err)
	}

	loaded := make(map[string]*QuestionSet)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(b.dir, entry.Name())
		set, err := loadSetFile(path)
		if err != nil {
			b.logger.Warn("skipping question set", "file", entry.Name(), "error", err)
			continue
		}
		if _, dup := loaded[set.ID]; dup {
			b.logger.Warn("duplicate question set id", "id", set.ID, "file", entry.Name())
			continue
		}
		loaded[set.ID] = set
	}

	b.mu.Lock()
	b.sets = loaded
	b.mu.Unlock()

	b.logger.Info("question bank loaded", "sets", len(loaded))
	return nil
}

func loadSetFile(path string) (*QuestionSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var set QuestionSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	if set.ID == "" {
		return nil, fmt.Errorf("%s: question set missing id", filepath.Base(path))
	}
	if len(set.Questions) == 0 {
		return nil, fmt.Errorf("%s: question set %s has no questions", filepath.Base(path), set.ID)
	}
	for _, q := range set.Questions {
		if q.Type == TypeMultipleChoice && q.CorrectOption == "" {
			return nil, fmt.Errorf("%s: question %s is mcq without an answer", filepath.Base(path), q.ID)
		}
	}
	return &set, nil
}

// Watch reloads the bank whenever a file in the directory changes.
func (b *Bank) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(b.dir); err != nil {
		watcher.Close()
		return err
	}

	b.watcher = watcher
	b.done = make(chan struct{})

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				b.logger.Debug("question bank change detected", "file", event.Name)
				if err := b.Load(); err != nil {
					b.logger.Error("question bank reload failed", "error", err)
					continue
				}
				if b.bus != nil {
					b.bus.PublishAsync(events.NewSystemEvent(
						events.EventQuestionsReloaded, "question bank reloaded"))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				b.logger.Warn("question bank watch error", "error", err)
			case <-b.done:
				return
			}
		}
	}()

	return nil
}

// Close stops the watcher if one is running.
func (b *Bank) Close() {
	if b.watcher != nil {
		close(b.done)
		b.watcher.Close()
		b.watcher = nil
	}
}

// Set returns a question set by id.
func (b *Bank) Set(id string) (*QuestionSet, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	set, ok := b.sets[id]
	return set, ok
}

// Sets returns every loaded set, answer keys included. Callers serving
// candidates must sanitize.
func (b *Bank) Sets() []*QuestionSet {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*QuestionSet, 0, len(b.sets))
	for _, set := range b.sets {
		out = append(out, set)
	}
	return out
}
