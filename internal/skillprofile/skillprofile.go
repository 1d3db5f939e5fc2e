// Package skillprofile loads the opaque SkillProfile artifact from
// spec §6 — a YAML file naming a worker's capability set and display
// metadata — and optionally watches its directory for live reload, the
// same fsnotify-driven refresh pattern the teacher uses for its own
// file-watcher-driven UI state.
package skillprofile

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/taskswarm/orchestrator/internal/log"
)

// Profile is the parsed contents of one skill-profile YAML file.
type Profile struct {
	WorkerID     string            `yaml:"worker_id"`
	Capabilities []string          `yaml:"capabilities"`
	DisplayName  string            `yaml:"display_name"`
	Metadata     map[string]string `yaml:"metadata"`
}

// Load parses a single skill-profile file from path.
func Load(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("reading skill profile %s: %w", path, err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("parsing skill profile %s: %w", path, err)
	}
	return p, nil
}

// LoadDir parses every *.yaml/*.yml file directly inside dir, keyed by
// worker id. A file that fails to parse is logged and skipped rather
// than aborting the whole directory load.
func LoadDir(dir string) (map[string]Profile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading skill profile dir %s: %w", dir, err)
	}
	profiles := make(map[string]Profile)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		p, err := Load(filepath.Join(dir, e.Name()))
		if err != nil {
			log.ErrorErr(log.CatSkill, "skipping unparsable skill profile", err, "file", e.Name())
			continue
		}
		if p.WorkerID == "" {
			log.Warn(log.CatSkill, "skill profile missing worker_id, skipping", "file", e.Name())
			continue
		}
		profiles[p.WorkerID] = p
	}
	return profiles, nil
}

// ChangeHandler is invoked with the reloaded profile set whenever the
// watched directory's contents change.
type ChangeHandler func(map[string]Profile)

// Watcher watches a skill-profile directory with fsnotify and invokes
// onChange with a freshly reloaded profile set on every write/create/
// remove/rename event. Events are not debounced: a burst of several
// events for a single save (common with editors) reloads the directory
// and invokes onChange once per event.
type Watcher struct {
	dir     string
	fsw     *fsnotify.Watcher
	onChange ChangeHandler

	mu     sync.Mutex
	closed bool
}

// NewWatcher starts watching dir. Call Close to stop.
func NewWatcher(dir string, onChange ChangeHandler) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating skill profile watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching skill profile dir %s: %w", dir, err)
	}
	w := &Watcher{dir: dir, fsw: fsw, onChange: onChange}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			profiles, err := LoadDir(w.dir)
			if err != nil {
				log.ErrorErr(log.CatWatcher, "reloading skill profiles after change", err, "dir", w.dir)
				continue
			}
			log.Info(log.CatWatcher, "skill profiles reloaded", "dir", w.dir, "count", len(profiles))
			w.onChange(profiles)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.ErrorErr(log.CatWatcher, "skill profile watcher error", err, "dir", w.dir)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.fsw.Close()
}
