package clickhouse

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"booking-service/internal/client"
	"booking-service/internal/models"
	"booking-service/internal/util"
)

const insertTimeout = 5 * time.Second

// SMSLogRepository appends verification events to ClickHouse for auditing.
// Writes are best-effort: callers log and continue on failure, a lost audit
// row must never fail a verification request.
type SMSLogRepository struct {
	client *client.ClickHouseClient
}

func NewSMSLogRepository(chClient *client.ClickHouseClient) *SMSLogRepository {
	return &SMSLogRepository{client: chClient}
}

func (r *SMSLogRepository) Append(ctx context.Context, entry models.SMSLogEntry) error {
	ctx, cancel := context.WithTimeout(ctx, insertTimeout)
	defer cancel()

	err := r.client.Exec(ctx, `
        INSERT INTO sms_verification_log (event_id, phone_masked, event, outcome, occurred_at)
        VALUES (?, ?, ?, ?, ?)`,
		entry.EventID, entry.PhoneMasked, entry.Event, entry.Outcome, entry.OccurredAt)
	if err != nil {
		util.Error("failed to append sms log entry",
			zap.String("event", entry.Event),
			zap.Error(err))
		return fmt.Errorf("failed to append sms log entry: %w", err)
	}

	return nil
}
