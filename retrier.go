package mindkite

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

var retrySleep = time.Second

// Retryable is a device whose run loop may fail and need a close/reopen
// cycle, like the headset's Bluetooth serial link dropping mid-flight.
type Retryable interface {
	Open() error
	Close() error
	Start(ctx context.Context) error
	Name() string
}

// retry supervises an already-open Retryable: whenever its run loop
// returns an error the device is closed, reopened and restarted until the
// context ends. The first Open is the caller's so startup failures stay
// fatal instead of retrying forever.
func retry(ctx context.Context, r Retryable) error {
	var err error
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			log.WithField("err", err).Errorf("%s: reconnecting due to error", r.Name())
			if err = r.Close(); err != nil {
				log.WithField("err", err).Warnf("%s: unable to close", r.Name())
			}
			time.Sleep(retrySleep)
			if err = r.Open(); err != nil {
				continue
			}
		}
		err = r.Start(ctx)
	}
}
