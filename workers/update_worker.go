// workers/update_worker.go
package workers

import (
	"context"
	"errors"
	"log"
	"time"

	"gorm.io/gorm"

	"squad-stats/models"
	"squad-stats/services"
)

// DebounceInterval is the minimum gap between two update tasks of one account.
const DebounceInterval = 5 * time.Minute

// TaskRunner executes one update task; see services.UpdateService.RunTask.
type TaskRunner interface {
	RunTask(ctx context.Context, task *models.UpdateTask, recent []models.Match) ([]models.Match, error)
}

// UpdateWorker is the single background consumer of the update task queue.
// It sleeps until woken, waits for the coalescing delay and drains every
// incomplete task.
type UpdateWorker struct {
	db       *gorm.DB
	runner   TaskRunner
	wake     chan struct{}
	coalesce time.Duration
	debounce time.Duration
	now      func() time.Time
}

func NewUpdateWorker(db *gorm.DB, runner TaskRunner, coalesce time.Duration) *UpdateWorker {
	return &UpdateWorker{
		db:       db,
		runner:   runner,
		wake:     make(chan struct{}, 1),
		coalesce: coalesce,
		debounce: DebounceInterval,
		now:      time.Now,
	}
}

// Wake signals the worker; signals sent while a wake is pending collapse into one.
func (w *UpdateWorker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Schedule creates an update task for the account unless one was scheduled
// within the debounce interval and is still pending. It returns nil when no
// task was created.
func (w *UpdateWorker) Schedule(steamID string, force bool) (*models.UpdateTask, error) {
	var created *models.UpdateTask
	err := w.db.Transaction(func(tx *gorm.DB) error {
		var account models.Account
		if err := tx.First(&account, "steam_id = ?", steamID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return services.ErrAccountNotFound
			}
			return err
		}

		now := w.now()
		var last models.UpdateTask
		err := tx.Where("account_id = ?", steamID).Order("scheduled_at DESC").First(&last).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return err
		case !force && !last.IsCompleted() && now.Sub(last.ScheduledAt) < w.debounce:
			return nil
		}

		task := &models.UpdateTask{AccountID: steamID, ScheduledAt: now}
		if err := tx.Create(task).Error; err != nil {
			return err
		}
		created = task
		return nil
	})
	if err != nil || created == nil {
		return nil, err
	}
	log.Printf("🗓️ [UPDATE] Scheduled update task %s for %s", created.ID, steamID)
	w.Wake()
	return created, nil
}

func (w *UpdateWorker) Start(ctx context.Context) {
	log.Println("🔁 Starting Update Worker (update tasks → matches)…")
	go w.run(ctx)
}

func (w *UpdateWorker) run(ctx context.Context) {
	// Tasks left over from a previous run
	w.Wake()
	for {
		select {
		case <-w.wake:
			select {
			case <-time.After(w.coalesce):
			case <-ctx.Done():
				log.Println("⏹️ Update Worker stopped")
				return
			}
			w.Drain(ctx)
		case <-ctx.Done():
			log.Println("⏹️ Update Worker stopped")
			return
		}
	}
}

// pendingTasks returns the incomplete tasks grouped per account: accounts by
// their most recent scheduling first, and each account's tasks in scheduling order.
func (w *UpdateWorker) pendingTasks() ([]models.UpdateTask, error) {
	var tasks []models.UpdateTask
	if err := w.db.Where("completed_at IS NULL").Order("scheduled_at DESC").Find(&tasks).Error; err != nil {
		return nil, err
	}
	groups := make(map[string][]models.UpdateTask)
	var accounts []string
	for _, t := range tasks {
		if _, ok := groups[t.AccountID]; !ok {
			accounts = append(accounts, t.AccountID)
		}
		groups[t.AccountID] = append(groups[t.AccountID], t)
	}
	out := make([]models.UpdateTask, 0, len(tasks))
	for _, id := range accounts {
		g := groups[id]
		for i := len(g) - 1; i >= 0; i-- {
			out = append(out, g[i])
		}
	}
	return out, nil
}

// Drain runs every incomplete task once. Task failures are logged and leave the
// task incomplete for a later drain.
func (w *UpdateWorker) Drain(ctx context.Context) int {
	tasks, err := w.pendingTasks()
	if err != nil {
		log.Printf("❌ [UPDATE] Failed to load pending tasks: %v", err)
		return 0
	}
	if len(tasks) == 0 {
		return 0
	}
	log.Printf("[UPDATE] 📥 Processing %d pending task(s)…", len(tasks))

	var recent []models.Match
	done := 0
	for i := range tasks {
		if ctx.Err() != nil {
			return done
		}
		task := &tasks[i]
		recent, err = w.runner.RunTask(ctx, task, recent)
		if err != nil {
			log.Printf("❌ CRITICAL [UPDATE] Task %s of %s failed (%s): %v", task.ID, task.AccountID, services.KindOf(err), err)
			continue
		}
		done++
	}
	log.Printf("[UPDATE] ✅ Completed %d of %d task(s)", done, len(tasks))
	return done
}
