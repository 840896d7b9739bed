// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package pipeline

import (
	"fmt"
	"os"
	"path"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/timshannon/badgerhold"
)

const dirBadger string = "db"

// RunRecord is one persisted pipeline execution, keyed by its run id.
type RunRecord struct {
	Key      string `badgerhold:"key"`
	Pipeline string `badgerholdIndex:"Pipeline"`
	Started  time.Time
	Finished time.Time
	TimedOut bool
	Error    string
}

// StepRecord is one persisted step outcome.
type StepRecord struct {
	Key      string `badgerhold:"key"`
	RunID    string `badgerholdIndex:"RunID"`
	Pipeline string `badgerholdIndex:"Pipeline"`
	StepID   string
	Tool     string
	Finished time.Time
	Error    string
}

// Journal persists pipeline runs for the stats surface. All writes are
// best-effort; a journal failure never fails the pipeline.
type Journal struct {
	bh *badgerhold.Store

	mu  sync.Mutex
	seq uint64
}

// OpenJournal opens (or creates) the journal under dir.
func OpenJournal(dir string) (*Journal, error) {
	badgerDir := path.Join(dir, dirBadger)
	if err := os.MkdirAll(badgerDir, 0700); err != nil {
		return nil, err
	}

	opts := badgerhold.DefaultOptions
	opts.Dir = badgerDir
	opts.ValueDir = badgerDir

	bh, err := badgerhold.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Journal{bh: bh}, nil
}

func (j *Journal) Close() error {
	return j.bh.Close()
}

func (j *Journal) nextStepKey(runID string) string {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.seq++
	return fmt.Sprintf("%s/%d", runID, j.seq)
}

// RunStarted records the begin of a run; RunFinished with the same run id
// completes the record.
func (j *Journal) RunStarted(runID, pipeline string, started time.Time) {
	rec := RunRecord{
		Key:      runID,
		Pipeline: pipeline,
		Started:  started,
	}
	if err := j.bh.Insert(rec.Key, rec); err != nil {
		log.WithError(err).Debug("Journal insert failed")
	}
}

func (j *Journal) RunFinished(runID string, runErr error, timedOut bool) {
	var rec RunRecord
	if err := j.bh.Get(runID, &rec); err != nil {
		return
	}

	rec.Finished = time.Now()
	rec.TimedOut = timedOut
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if err := j.bh.Update(rec.Key, rec); err != nil {
		log.WithError(err).Debug("Journal update failed")
	}
}

func (j *Journal) StepFinished(runID, pipeline, stepID, tool string, stepErr error) {
	rec := StepRecord{
		Key:      j.nextStepKey(runID),
		RunID:    runID,
		Pipeline: pipeline,
		StepID:   stepID,
		Tool:     tool,
		Finished: time.Now(),
	}
	if stepErr != nil {
		rec.Error = stepErr.Error()
	}
	if err := j.bh.Insert(rec.Key, rec); err != nil {
		log.WithError(err).Debug("Journal insert failed")
	}
}

// Runs returns the persisted runs of one pipeline, or all runs when
// pipeline is empty.
func (j *Journal) Runs(pipeline string) ([]RunRecord, error) {
	var runs []RunRecord
	var err error
	if pipeline == "" {
		err = j.bh.Find(&runs, nil)
	} else {
		err = j.bh.Find(&runs, badgerhold.Where("Pipeline").Eq(pipeline))
	}
	return runs, err
}

// Steps returns the persisted step outcomes of one pipeline.
func (j *Journal) Steps(pipeline string) ([]StepRecord, error) {
	var steps []StepRecord
	err := j.bh.Find(&steps, badgerhold.Where("Pipeline").Eq(pipeline))
	return steps, err
}
