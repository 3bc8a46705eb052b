package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewToken builds an idempotency token for an internal dispatch. The
// composite key lets the dispatch transport detect duplicate delivery;
// the uuid suffix keeps distinct emissions of the same logical event
// distinguishable in logs.
func NewToken(t Type, issueNumber, emID, workerID int, now time.Time) string {
	return fmt.Sprintf("%s:%d:%d:%d:%d:%s",
		t, issueNumber, emID, workerID, now.Unix(), uuid.NewString()[:8])
}

// NewDispatch builds an internal dispatch event carrying a fresh
// idempotency token.
func NewDispatch(t Type, issueNumber, emID, workerID int) *Event {
	return &Event{
		Type:             t,
		IssueNumber:      issueNumber,
		EMID:             emID,
		WorkerID:         workerID,
		IdempotencyToken: NewToken(t, issueNumber, emID, workerID, time.Now()),
	}
}
