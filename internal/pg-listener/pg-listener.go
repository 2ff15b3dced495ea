package pg_listener

import (
	"context"
	"encoding/json"
	"time"

	"github.com/blnkfinance/floorsync/database"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// NotificationHandler receives decoded queue change notifications.
type NotificationHandler interface {
	HandleNotification(change database.QueueChange) error
}

type ListenerConfig struct {
	PgConnStr    string
	Channel      string
	MinReconnect time.Duration
	MaxReconnect time.Duration
	PingInterval time.Duration
}

type DBListener struct {
	config  ListenerConfig
	handler NotificationHandler
}

func NewDBListener(config ListenerConfig, handler NotificationHandler) *DBListener {
	if config.Channel == "" {
		config.Channel = database.QueueChannel
	}
	if config.MinReconnect <= 0 {
		config.MinReconnect = 10 * time.Second
	}
	if config.MaxReconnect <= 0 {
		config.MaxReconnect = time.Minute
	}
	if config.PingInterval <= 0 {
		config.PingInterval = 90 * time.Second
	}
	return &DBListener{
		config:  config,
		handler: handler,
	}
}

// Start listens until ctx is done. The pq listener reconnects on its own; a nil
// notification marks a reconnect, after which writes may have been missed.
func (d *DBListener) Start(ctx context.Context) error {
	listener := pq.NewListener(d.config.PgConnStr, d.config.MinReconnect, d.config.MaxReconnect, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logrus.WithError(err).Warn("queue listener connection event")
		}
	})
	defer listener.Close()

	if err := listener.Listen(d.config.Channel); err != nil {
		return err
	}
	logrus.WithField("channel", d.config.Channel).Info("listening for queue changes")

	for {
		select {
		case <-ctx.Done():
			return nil
		case notification := <-listener.Notify:
			if notification == nil {
				logrus.Info("queue listener reconnected")
				continue
			}
			d.handleNotification(notification)
		case <-time.After(d.config.PingInterval):
			if err := listener.Ping(); err != nil {
				logrus.WithError(err).Warn("queue listener ping failed")
			}
		}
	}
}

func (d *DBListener) handleNotification(notification *pq.Notification) {
	var change database.QueueChange
	if err := json.Unmarshal([]byte(notification.Extra), &change); err != nil {
		logrus.WithError(err).Error("error decoding queue change")
		return
	}

	if err := d.handler.HandleNotification(change); err != nil {
		logrus.WithError(err).Error("error handling queue change")
	}
}
