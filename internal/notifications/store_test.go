package notifications

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindByUserQuery(t *testing.T) {
	query, args, err := findByUserQuery("u1", "")
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT id, user_id, type, title, message, status, metadata, created_at, sent_at "+
			"FROM notifications WHERE user_id = $1 ORDER BY created_at DESC",
		query)
	assert.Equal(t, []interface{}{"u1"}, args)

	query, args, err = findByUserQuery("u1", StatusPending)
	require.NoError(t, err)
	assert.Contains(t, query, "WHERE user_id = $1 AND status = $2 ORDER BY created_at DESC")
	assert.Equal(t, []interface{}{"u1", StatusPending}, args)
}

func TestUpdateStatusQueryIsConditional(t *testing.T) {
	sent := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	n := &Notification{ID: "n1", Status: StatusSent, SentAt: &sent}

	query, args, err := updateStatusQuery(n, StatusPending)
	require.NoError(t, err)
	assert.Equal(t, "UPDATE notifications SET status = $1, sent_at = $2 WHERE id = $3 AND status = $4", query)
	assert.Equal(t, []interface{}{StatusSent, &sent, "n1", StatusPending}, args)
}
