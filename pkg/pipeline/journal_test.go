// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quicpro/quicpro-go/pkg/qerr"
)

func TestJournalRoundTrip(t *testing.T) {
	journal, err := OpenJournal(t.TempDir())
	require.NoError(t, err)
	defer journal.Close()

	const runID = "run-0001"
	started := time.Now()
	journal.RunStarted(runID, "demo", started)
	journal.StepFinished(runID, "demo", "extract", "ExtractKeywords", nil)
	journal.StepFinished(runID, "demo", "generate", "GenerateText", qerr.New(qerr.UnexpectedStatus, "boom"))
	journal.RunFinished(runID, nil, false)

	runs, err := journal.Runs("demo")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0].Key)
	assert.False(t, runs[0].Finished.IsZero())
	assert.Empty(t, runs[0].Error)

	steps, err := journal.Steps("demo")
	require.NoError(t, err)
	require.Len(t, steps, 2)

	byID := make(map[string]StepRecord)
	for _, s := range steps {
		assert.Equal(t, runID, s.RunID)
		byID[s.StepID] = s
	}
	assert.Empty(t, byID["extract"].Error)
	assert.Contains(t, byID["generate"].Error, "UnexpectedStatus")

	other, err := journal.Runs("other")
	require.NoError(t, err)
	assert.Empty(t, other)
}
