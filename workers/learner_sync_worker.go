// workers/learner_sync_worker.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"speaking-practice-system/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RemoteLearner matches the JSON shape of the accounts service profile feed.
// Subscription tier and expiry come from the payments side of that service;
// the quota guard reads them from our local snapshot.
type RemoteLearner struct {
	ExternalID            string     `json:"external_id"`
	Username              string     `json:"username"`
	Email                 string     `json:"email"`
	SubscriptionTier      string     `json:"subscription_tier"`
	SubscriptionExpiresAt *time.Time `json:"subscription_expires_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// GetLearnerChangesResponse is the top-level structure of the feed response.
type GetLearnerChangesResponse struct {
	Learners []RemoteLearner `json:"learners"`
}

// LearnerSyncWorker incrementally mirrors learner profiles and subscription
// state into the local learners table. Progression counters are never
// touched by the sync: the upsert only assigns identity and subscription
// columns.
type LearnerSyncWorker struct {
	db           *gorm.DB
	interval     time.Duration
	baseURL      string
	endpointPath string
	serviceToken string
	httpClient   *http.Client
}

func NewLearnerSyncWorker(db *gorm.DB, accountsServiceBaseURL, endpointPath, serviceToken string) *LearnerSyncWorker {
	return &LearnerSyncWorker{
		db:           db,
		interval:     1 * time.Minute,
		baseURL:      accountsServiceBaseURL,
		endpointPath: endpointPath,
		serviceToken: serviceToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (w *LearnerSyncWorker) Start(ctx context.Context) {
	log.Println("🔁 Starting Learner Sync Worker (accounts service → learners)…")
	go w.run(ctx)
}

func (w *LearnerSyncWorker) run(ctx context.Context) {
	// Initial backfill from the beginning of time.
	if err := w.syncBatch(ctx, time.Time{}); err != nil {
		log.Printf("⚠️ Initial learner sync failed: %v", err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.syncBatch(ctx, w.getLastSyncTime()); err != nil {
				log.Printf("❌ Learner sync batch failed: %v", err)
			}
		case <-ctx.Done():
			log.Println("⏹️ Learner Sync Worker stopped")
			return
		}
	}
}

// getLastSyncTime finds the most recent UpdatedAt in the local snapshot.
func (w *LearnerSyncWorker) getLastSyncTime() time.Time {
	var lastTime time.Time
	err := w.db.Raw("SELECT MAX(updated_at) FROM learners WHERE deleted_at IS NULL").Scan(&lastTime).Error
	if err != nil || lastTime.IsZero() {
		return time.Unix(0, 0)
	}
	return lastTime
}

// syncBatch fetches learner changes since the cursor and upserts them.
func (w *LearnerSyncWorker) syncBatch(ctx context.Context, since time.Time) error {
	sinceStr := since.UTC().Format(time.RFC3339)

	base, err := url.Parse(w.baseURL)
	if err != nil {
		return fmt.Errorf("invalid accounts service URL '%s': %w", w.baseURL, err)
	}
	endpointURL := base.JoinPath(w.endpointPath)
	q := endpointURL.Query()
	q.Set("since", sinceStr)
	endpointURL.RawQuery = q.Encode()
	finalURL := endpointURL.String()

	req, err := http.NewRequestWithContext(ctx, "GET", finalURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request to %s: %w", finalURL, err)
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request to accounts service failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		log.Printf("[SYNC] ❌ Accounts service returned %d for %s: %s", resp.StatusCode, finalURL, string(body))
		return fmt.Errorf("accounts service non-200 response: %d", resp.StatusCode)
	}

	var response GetLearnerChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return fmt.Errorf("failed to decode accounts service response: %w", err)
	}

	if len(response.Learners) == 0 {
		return nil
	}

	log.Printf("[SYNC] 📥 Processing %d learner(s) from accounts service…", len(response.Learners))

	var upsertCount, errorCount int
	for _, remote := range response.Learners {
		tier := remote.SubscriptionTier
		if tier == "" {
			tier = models.TierFree
		}
		local := models.Learner{
			ExternalUserID:        remote.ExternalID,
			Username:              remote.Username,
			Email:                 remote.Email,
			SubscriptionTier:      tier,
			SubscriptionExpiresAt: remote.SubscriptionExpiresAt,
		}

		// The upsert assigns identity/subscription columns only; streak and
		// level counters belong to this service and must survive a sync.
		if err := w.db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "external_user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"username", "email", "subscription_tier", "subscription_expires_at", "updated_at",
			}),
		}).Create(&local).Error; err != nil {
			errorCount++
			log.Printf("[SYNC] ⚠️ Failed to upsert learner (external_id=%q): %v", remote.ExternalID, err)
		} else {
			upsertCount++
		}
	}

	log.Printf("[SYNC] ✅ Synced %d learner(s) (%d upserted, %d errors)", len(response.Learners), upsertCount, errorCount)
	return nil
}
