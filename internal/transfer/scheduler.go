package transfer

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/kolcenter/import-transfer-service/internal/config"
	"github.com/kolcenter/import-transfer-service/internal/models"
	"github.com/kolcenter/import-transfer-service/internal/storage"
)

// Scheduler periodically transfers every batch that still has queued staging
// rows. It is opt-in (TRANSFER_AUTO); the dashboard normally triggers
// transfers explicitly over HTTP.
type Scheduler struct {
	service  *Service
	store    storage.Storage
	interval time.Duration
}

// NewScheduler creates a new auto-transfer scheduler
func NewScheduler(cfg config.TransferConfig, service *Service, store storage.Storage) *Scheduler {
	return &Scheduler{
		service:  service,
		store:    store,
		interval: cfg.AutoInterval,
	}
}

// Start runs the scheduler until ctx is cancelled. SingletonMode guarantees
// runs never overlap, so at most one transfer touches a staging table at a
// time.
func (s *Scheduler) Start(ctx context.Context) {
	scheduler := gocron.NewScheduler(time.UTC)

	log.Printf("starting auto-transfer scheduler with interval %v", s.interval)

	_, err := scheduler.Every(s.interval).SingletonMode().Do(func() {
		s.runPending(ctx)
	})
	if err != nil {
		log.Printf("failed to schedule auto-transfer: %v", err)
		return
	}

	scheduler.StartAsync()

	<-ctx.Done()
	scheduler.Stop()
	log.Println("auto-transfer scheduler stopped")
}

// runPending transfers every pending batch for every entity. Row failures are
// already data in the summary; only infrastructure errors are logged.
func (s *Scheduler) runPending(ctx context.Context) {
	transfers := map[string]func(context.Context, models.TransferRequest) (*models.TransferSummary, error){
		models.EntityComments: s.service.TransferComments,
		models.EntityMetrics:  s.service.TransferMetrics,
		models.EntityPosts:    s.service.TransferPosts,
	}

	for _, entity := range []string{models.EntityComments, models.EntityMetrics, models.EntityPosts} {
		names, err := s.store.PendingFileNames(ctx, entity)
		if err != nil {
			log.Printf("auto-transfer: failed to list pending %s batches: %v", entity, err)
			continue
		}

		for _, fileName := range names {
			summary, err := transfers[entity](ctx, models.TransferRequest{FileName: fileName})
			if err != nil {
				log.Printf("auto-transfer: %s batch %s failed: %v", entity, fileName, err)
				continue
			}
			log.Printf("auto-transfer: %s batch %s: attempts=%d inserted=%d failed=%d",
				entity, fileName, summary.Attempts, summary.Inserted, summary.Failed)
		}
	}
}
