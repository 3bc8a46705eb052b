package state

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleState() *OrchestratorState {
	st := New(
		Issue{Number: 42, Title: "Add health check", Body: "We need /health"},
		"fyrsmithlabs/widgets",
		"pilot/issue-42-add-health-check",
		"main",
		Limits{MaxEMs: 2, MaxWorkersPerEM: 3, ReviewWaitMinutes: 15},
	)
	st.EMs = []EMState{
		{
			ID: 1, Task: "implement endpoint", FocusArea: "server",
			Branch: "pilot/issue-42-em-1", Status: StatusWorkersRunning,
			Workers: []WorkerState{
				{ID: 1, Task: "add handler", Files: []string{"health.go"}, Branch: "pilot/issue-42-em-1-w-1", Status: StatusMerged},
				{ID: 2, Task: "wire route", Files: []string{"routes.go"}, Branch: "pilot/issue-42-em-1-w-2", Status: StatusPending},
			},
		},
	}
	return st
}

func TestSerializeRoundTrip(t *testing.T) {
	st := sampleState()
	st.RecordError(PhaseAnalyzing, assertErr("executor timed out"), "em 1")
	st.FinalPR = &FinalPR{Number: 99, URL: "https://example.com/pr/99"}

	data, err := json.MarshalIndent(st, "", "  ")
	require.NoError(t, err)

	var back OrchestratorState
	require.NoError(t, json.Unmarshal(data, &back))

	// UpdatedAt is the only field Save is allowed to touch; everything
	// else must survive the round trip exactly.
	back.UpdatedAt = st.UpdatedAt
	assert.Equal(t, *st, back)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func TestStatusTerminal(t *testing.T) {
	terminal := []Status{StatusMerged, StatusSkipped, StatusFailed}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), s)
	}
	open := []Status{StatusPending, StatusInProgress, StatusWorkersRunning, StatusPRCreated, StatusApproved, StatusChangesRequested}
	for _, s := range open {
		assert.False(t, s.Terminal(), s)
	}
}

func TestEMJoin(t *testing.T) {
	t.Run("not ready while a worker is open", func(t *testing.T) {
		st := sampleState()
		assert.False(t, st.EMs[0].ReadyForPR())
	})

	t.Run("ready when all terminal with a merge", func(t *testing.T) {
		st := sampleState()
		st.EMs[0].Workers[1].Status = StatusSkipped
		assert.True(t, st.EMs[0].ReadyForPR())
	})

	t.Run("not ready when all terminal but none merged", func(t *testing.T) {
		st := sampleState()
		st.EMs[0].Workers[0].Status = StatusSkipped
		st.EMs[0].Workers[1].Status = StatusFailed
		assert.False(t, st.EMs[0].ReadyForPR())
	})

	t.Run("no workers means not broken down yet", func(t *testing.T) {
		em := EMState{ID: 1, Status: StatusPending}
		assert.False(t, em.ReadyForPR())
	})
}

func TestFinalJoin(t *testing.T) {
	st := sampleState()
	assert.False(t, st.ReadyForFinalPR(), "EM still running")

	st.EMs[0].Workers[1].Status = StatusSkipped
	st.EMs[0].Status = StatusMerged
	assert.True(t, st.ReadyForFinalPR())

	st.FinalPR = &FinalPR{Number: 5}
	assert.False(t, st.ReadyForFinalPR(), "final PR already exists")
}

func TestPendingEMPromotion(t *testing.T) {
	st := sampleState()
	st.EMs = append([]EMState{{ID: 0, Task: "project setup", Branch: "pilot/issue-42-setup", Status: StatusWorkersRunning}}, st.EMs...)
	st.PendingEMs = []EMState{{ID: 2, Task: "docs", Status: StatusPending}}

	assert.False(t, st.PromotePendingEMs(), "setup EM not terminal yet")
	assert.Len(t, st.PendingEMs, 1)
	assert.False(t, st.AllEMsTerminal(), "pending EMs block the tree join")

	st.FindEM(0).Status = StatusMerged
	assert.True(t, st.PromotePendingEMs())
	assert.Empty(t, st.PendingEMs)
	require.NotNil(t, st.FindEM(2))
}

func TestRetryResetsTerminalOnly(t *testing.T) {
	st := sampleState()

	t.Run("open worker cannot be retried", func(t *testing.T) {
		err := st.RetryWorker(1, 2)
		require.Error(t, err)
		assert.Equal(t, StatusPending, st.EMs[0].Workers[1].Status)
	})

	t.Run("terminal worker resets to pending", func(t *testing.T) {
		st.EMs[0].Workers[1].Status = StatusFailed
		st.EMs[0].Workers[1].Error = "executor crashed"
		require.NoError(t, st.RetryWorker(1, 2))
		assert.Equal(t, StatusPending, st.EMs[0].Workers[1].Status)
		assert.Empty(t, st.EMs[0].Workers[1].Error)
	})

	t.Run("unknown ids are errors", func(t *testing.T) {
		require.Error(t, st.RetryWorker(9, 1))
		require.Error(t, st.RetryEM(9))
	})
}

func TestRecordErrorTruncates(t *testing.T) {
	st := sampleState()
	st.RecordError(PhaseWorkerExecution, assertErr(strings.Repeat("x", 2000)), "worker 1/1")
	st.RecordError(PhaseWorkerExecution, assertErr("short"), "")
	st.RecordError(PhaseWorkerExecution, assertErr(strings.Repeat("é", 2000)), "worker 1/2")

	require.Len(t, st.ErrorHistory, 3)
	assert.LessOrEqual(t, len(st.ErrorHistory[0].Message), maxErrorMessageLen+3)
	assert.Equal(t, "short", st.ErrorHistory[1].Message)

	// Truncation lands on a rune boundary, never inside one.
	multi := st.ErrorHistory[2].Message
	assert.True(t, utf8.ValidString(multi))
	assert.True(t, strings.HasSuffix(multi, "é..."))
}

func TestBranchNames(t *testing.T) {
	assert.Equal(t, "pilot/issue-42-add-health-check", WorkBranchName("pilot", 42, "Add health check!"))
	assert.Equal(t, "pilot/issue-42-setup", EMBranchName("pilot", 42, 0))
	assert.Equal(t, "pilot/issue-42-em-3", EMBranchName("pilot", 42, 3))
	assert.Equal(t, "pilot/issue-42-em-3-w-2", WorkerBranchName("pilot/issue-42-em-3", 2))
	assert.Equal(t, "pilot/issue-42-", WorkBranchPattern("pilot", 42))
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Add health check", "add-health-check"},
		{"Fix: crash in parser (#12)", "fix-crash-in-parser-12"},
		{"   ", "issue"},
		{strings.Repeat("very long title ", 10), "very-long-title-very-long-title-very-lon"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := Slugify(tt.in)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, len(got), maxSlugLen)
		})
	}
}
