// Package sms enqueues outbound verification messages. Actual delivery is
// handled by a separate gateway consuming the Kafka topic; this package only
// composes the message text and publishes the job.
package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"booking-service/internal/client"
	"booking-service/internal/models"
	"booking-service/internal/phone"
	"booking-service/internal/util"
)

// Sender delivers a one-time code to a phone number.
type Sender interface {
	Send(ctx context.Context, phoneE164, body string) error
}

// ComposeBody renders the verification message in the requested language,
// falling back to English for anything unrecognized.
func ComposeBody(lang, code string) string {
	switch lang {
	case "de":
		return fmt.Sprintf("Dein Bestätigungscode lautet: %s", code)
	default:
		return fmt.Sprintf("Your verification code is: %s", code)
	}
}

// containsNonASCII decides whether the gateway must send the message as a
// unicode SMS. German umlauts in the localized body trigger this.
func containsNonASCII(s string) bool {
	for _, r := range s {
		if r > 127 {
			return true
		}
	}
	return false
}

// KafkaSender publishes SMS jobs keyed by phone number, so retries for the
// same recipient land on the same partition in order.
type KafkaSender struct {
	producer *client.KafkaProducer
	topic    string
}

func NewKafkaSender(producer *client.KafkaProducer, topic string) *KafkaSender {
	return &KafkaSender{producer: producer, topic: topic}
}

func (s *KafkaSender) Send(ctx context.Context, phoneE164, body string) error {
	now := time.Now().UTC()
	job := models.SMSJob{
		JobID:     uuid.New().String(),
		To:        phoneE164,
		Body:      body,
		Unicode:   containsNonASCII(body),
		ClientRef: fmt.Sprintf("otp:%s:%d", phoneE164, now.Unix()),
		CreatedAt: now,
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal sms job: %w", err)
	}

	err = s.producer.ProduceMessage(ctx, s.topic, []byte(phoneE164), payload, map[string]string{
		"job_id": job.JobID,
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue sms job: %w", err)
	}

	util.Info("sms job enqueued",
		zap.String("job_id", job.JobID),
		zap.String("phone", phone.Mask(phoneE164)))
	return nil
}

// LogSender is used in development when no Kafka cluster is configured. It
// logs the full message body, code included, so never enable it in production.
type LogSender struct{}

func (LogSender) Send(_ context.Context, phoneE164, body string) error {
	util.Warn("sms delivery disabled, logging message instead",
		zap.String("phone", phone.Mask(phoneE164)),
		zap.String("body", body))
	return nil
}
