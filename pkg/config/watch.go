// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Watcher re-applies the admin tier whenever the backing file changes.
// Editors typically replace the file, so the parent directory is watched
// and events are filtered by name.
type Watcher struct {
	path    string
	target  *Config
	watcher *fsnotify.Watcher
	onApply func(error)
	done    chan struct{}
}

// Watch starts watching path and merging its contents into target as the
// admin tier. onApply, if non-nil, is invoked after every attempt.
func Watch(path string, target *Config, onApply func(error)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := fsw.Add(filepath.Dir(path)); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	w := &Watcher{
		path:    path,
		target:  target,
		watcher: fsw,
		onApply: onApply,
		done:    make(chan struct{}),
	}
	go w.run()

	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			err := w.apply()
			if w.onApply != nil {
				w.onApply(err)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("Config watcher error")

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) apply() error {
	var patch Config
	if _, err := toml.DecodeFile(w.path, &patch); err != nil {
		log.WithFields(log.Fields{
			"path":  w.path,
			"error": err,
		}).Warn("Ignoring unparsable admin config update")
		return err
	}

	if err := w.target.Merge(TierAdmin, &patch); err != nil {
		log.WithFields(log.Fields{
			"path":  w.path,
			"error": err,
		}).Warn("Admin config update rejected")
		return err
	}

	log.WithField("path", w.path).Info("Applied admin config update")
	return nil
}

func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
