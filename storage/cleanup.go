package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// ScheduleCleanup runs kv.Cleanup every interval in the background. Stop the
// returned scheduler (and wait on the context it returns) before closing kv.
//
// Reclamation only saves space. Readers mask expired records on their own, so
// nothing breaks if a run is late or fails.
func ScheduleCleanup(kv KeyValue, interval time.Duration) (*cron.Cron, error) {
	if interval < minCleanupInterval {
		return nil, errors.New("cleanup interval must be at least one second")
	}
	c := cron.New()
	_, err := c.AddFunc(fmt.Sprintf("@every %v", interval), func() {
		if err := kv.Cleanup(); err != nil {
			log.Error().Err(err).Msg("error cleaning up the database")
			return
		}
		log.Debug().Msg("reclaimed expired records")
	})
	if err != nil {
		return nil, fmt.Errorf("can't schedule the cleanup job: %v", err)
	}
	c.Start()
	return c, nil
}
