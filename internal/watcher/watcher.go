// Package watcher monitors the configuration file and hot-applies the
// settings that can change at runtime: the client API key allow-list and the
// management key. Edits to accounts or server settings are detected, logged,
// and skipped until the next restart.
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"reflect"
	"slices"
	"sync"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/relay-for-me/AccountRelayAPI/internal/config"
)

// Hooks receives the reloadable settings after a successful config reload.
// Nil hooks are skipped.
type Hooks struct {
	// OnAPIKeys is invoked with the new client key allow-list.
	OnAPIKeys func(keys []string)

	// OnManagementKey is invoked with the rotated management key.
	OnManagementKey func(key string)
}

// Watcher watches the configuration file for changes.
type Watcher struct {
	configPath string
	hooks      Hooks
	watcher    *fsnotify.Watcher

	mu       sync.RWMutex
	config   *config.Config
	lastHash string
}

// NewWatcher creates a watcher for the given config file. cfg is the
// configuration the process started with; it anchors change detection, and
// its file content hash seeds the duplicate-event filter.
func NewWatcher(configPath string, cfg *config.Config, hooks Hooks) (*Watcher, error) {
	fsWatcher, errNewWatcher := fsnotify.NewWatcher()
	if errNewWatcher != nil {
		return nil, errNewWatcher
	}

	w := &Watcher{
		configPath: configPath,
		hooks:      hooks,
		watcher:    fsWatcher,
		config:     cfg,
	}
	if data, err := os.ReadFile(configPath); err == nil && len(data) > 0 {
		w.lastHash = contentHash(data)
	}
	return w, nil
}

// Start begins watching the configuration file.
func (w *Watcher) Start(ctx context.Context) error {
	if errAdd := w.watcher.Add(w.configPath); errAdd != nil {
		log.Errorf("failed to watch config file %s: %v", w.configPath, errAdd)
		return errAdd
	}
	log.Debugf("watching config file: %s", w.configPath)

	go w.processEvents(ctx)
	return nil
}

// Stop stops the file watcher.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

// Config returns the most recently loaded configuration.
func (w *Watcher) Config() *config.Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// processEvents handles file system events until the context is canceled or
// the watcher is closed.
func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case errWatch, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("file watcher error: %v", errWatch)
		}
	}
}

// handleEvent reacts to a write or create on the config file. Editors and
// atomic writers fire several events per save, so the file content is hashed
// and unchanged content skips the reload.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	isConfigEvent := event.Name == w.configPath && (event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create)
	if !isConfigEvent {
		return
	}
	log.Debugf("file system event detected: %s %s", event.Op.String(), event.Name)

	data, err := os.ReadFile(w.configPath)
	if err != nil {
		log.Errorf("failed to read config file for hash check: %v", err)
		return
	}
	if len(data) == 0 {
		// Truncate-then-write saves surface a zero-length intermediate state.
		log.Debugf("ignoring empty config file write event")
		return
	}
	newHash := contentHash(data)

	w.mu.RLock()
	currentHash := w.lastHash
	w.mu.RUnlock()
	if currentHash != "" && currentHash == newHash {
		log.Debugf("config file content unchanged (hash match), skipping reload")
		return
	}

	log.Infof("config file changed, reloading: %s", w.configPath)
	if w.reload() {
		w.mu.Lock()
		w.lastHash = newHash
		w.mu.Unlock()
	}
}

// reload parses the config file and applies the runtime-reloadable settings.
// A parse or validation failure keeps the previous configuration in effect.
func (w *Watcher) reload() bool {
	newConfig, errLoad := config.LoadConfig(w.configPath)
	if errLoad != nil {
		log.Errorf("failed to reload config: %v", errLoad)
		return false
	}

	w.mu.Lock()
	oldConfig := w.config
	w.config = newConfig
	w.mu.Unlock()

	w.applyChanges(oldConfig, newConfig)
	return true
}

// applyChanges compares the old and new configuration and hot-applies what it
// can. Account and server changes only take effect on restart.
func (w *Watcher) applyChanges(oldConfig, newConfig *config.Config) {
	if !slices.Equal(oldConfig.APIKeys, newConfig.APIKeys) {
		log.Infof("api_keys changed (%d -> %d keys), applying", len(oldConfig.APIKeys), len(newConfig.APIKeys))
		if w.hooks.OnAPIKeys != nil {
			w.hooks.OnAPIKeys(newConfig.APIKeys)
		}
	}

	if oldConfig.Server.ManagementKey != newConfig.Server.ManagementKey {
		if w.hooks.OnManagementKey != nil {
			w.hooks.OnManagementKey(newConfig.Server.ManagementKey)
		}
		switch {
		case oldConfig.Server.ManagementKey == "":
			// Routes are only registered at startup when a key is present.
			log.Warnf("management_key added; management routes stay unregistered until restart")
		case newConfig.Server.ManagementKey == "":
			log.Warnf("management_key removed; management routes reject all requests until restart")
		default:
			log.Infof("management_key rotated, applying")
		}
	}

	if !reflect.DeepEqual(oldConfig.Accounts, newConfig.Accounts) {
		log.Warnf("accounts changed in config file; account changes require a restart, skipping")
	}

	oldServer, newServer := oldConfig.Server, newConfig.Server
	oldServer.ManagementKey, newServer.ManagementKey = "", ""
	if oldServer != newServer {
		log.Warnf("server settings changed in config file; server changes require a restart, skipping")
	}
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
