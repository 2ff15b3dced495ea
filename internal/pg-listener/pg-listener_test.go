package pg_listener

import (
	"errors"
	"testing"

	"github.com/blnkfinance/floorsync/database"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

type recordingHandler struct {
	changes []database.QueueChange
	err     error
}

func (r *recordingHandler) HandleNotification(change database.QueueChange) error {
	r.changes = append(r.changes, change)
	return r.err
}

func TestNewDBListenerDefaults(t *testing.T) {
	l := NewDBListener(ListenerConfig{PgConnStr: "postgres://localhost/floorsync"}, &recordingHandler{})
	assert.Equal(t, database.QueueChannel, l.config.Channel)
	assert.True(t, l.config.MinReconnect > 0)
	assert.True(t, l.config.PingInterval > 0)
}

func TestHandleNotificationDecodesChange(t *testing.T) {
	handler := &recordingHandler{}
	l := NewDBListener(ListenerConfig{}, handler)

	l.handleNotification(&pq.Notification{
		Channel: database.QueueChannel,
		Extra:   `{"key":"floorsync.submissions","newest":"sub_2","pending":2}`,
	})

	assert.Equal(t, []database.QueueChange{{Key: "floorsync.submissions", Newest: "sub_2", Pending: 2}}, handler.changes)
}

func TestHandleNotificationSkipsMalformedPayload(t *testing.T) {
	handler := &recordingHandler{err: errors.New("unused")}
	l := NewDBListener(ListenerConfig{}, handler)

	l.handleNotification(&pq.Notification{Extra: "not json"})
	assert.Empty(t, handler.changes)
}
