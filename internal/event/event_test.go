package event

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("external event", func(t *testing.T) {
		e, err := Parse([]byte(`{"type":"issue_labeled","issueNumber":42}`))
		require.NoError(t, err)
		assert.Equal(t, IssueLabeled, e.Type)
		assert.Equal(t, 42, e.IssueNumber)
		assert.False(t, e.Type.Internal())
	})

	t.Run("internal event with token", func(t *testing.T) {
		e, err := Parse([]byte(`{"type":"execute_worker","issueNumber":7,"emId":1,"workerId":2,"idempotencyToken":"x"}`))
		require.NoError(t, err)
		assert.True(t, e.Type.Internal())
		assert.Equal(t, 1, e.EMID)
		assert.Equal(t, 2, e.WorkerID)
	})

	t.Run("unknown type rejected", func(t *testing.T) {
		_, err := Parse([]byte(`{"type":"volcano","issueNumber":1}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown event type")
	})

	t.Run("missing issue number rejected", func(t *testing.T) {
		_, err := Parse([]byte(`{"type":"pr_merged"}`))
		require.Error(t, err)
	})

	t.Run("malformed json rejected", func(t *testing.T) {
		_, err := Parse([]byte(`{`))
		require.Error(t, err)
	})
}

func TestNewToken(t *testing.T) {
	now := time.Unix(1700000000, 0)
	tok := NewToken(ExecuteWorker, 42, 1, 3, now)

	assert.True(t, strings.HasPrefix(tok, "execute_worker:42:1:3:1700000000:"), tok)

	// Same composite key, distinct emissions stay distinguishable.
	other := NewToken(ExecuteWorker, 42, 1, 3, now)
	assert.NotEqual(t, tok, other)
}

func TestNewDispatch(t *testing.T) {
	e := NewDispatch(StartEM, 9, 2, 0)
	require.NoError(t, e.Validate())
	assert.NotEmpty(t, e.IdempotencyToken)
	assert.True(t, e.Type.Internal())
}
