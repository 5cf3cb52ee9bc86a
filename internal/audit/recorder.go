package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"phone-auth-service/internal/client"
	"phone-auth-service/internal/util"
)

// Recorder fans audit events out to Kafka, ClickHouse and
// Elasticsearch. Every sink is optional: a nil client is skipped, and
// sink failures are logged but never surfaced to the caller, because
// auditing must not fail an authentication.
type Recorder struct {
	kafka      *client.KafkaProducer
	clickhouse *client.ClickHouseClient
	es         *client.ESClient

	topic   string
	table   string
	esIndex string
}

func NewRecorder(kafka *client.KafkaProducer, clickhouse *client.ClickHouseClient, es *client.ESClient,
	topic, table, esIndex string) *Recorder {
	return &Recorder{
		kafka:      kafka,
		clickhouse: clickhouse,
		es:         es,
		topic:      topic,
		table:      table,
		esIndex:    esIndex,
	}
}

// Record emits the event to all configured sinks without blocking the
// caller's request. Safe on a nil recorder.
func (r *Recorder) Record(event Event) {
	if r == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	go r.emit(event)
}

func (r *Recorder) emit(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	payload, err := json.Marshal(event)
	if err != nil {
		util.Error("Failed to marshal audit event", util.ErrorField(err))
		return
	}

	if r.kafka != nil {
		if err := r.kafka.ProduceMessage(ctx, r.topic, []byte(event.ID), payload, map[string]string{
			"event_type": string(event.Type),
		}); err != nil {
			util.Warn("Failed to publish audit event to Kafka",
				util.String("event_type", string(event.Type)),
				util.ErrorField(err))
		}
	}

	if r.clickhouse != nil {
		err := r.clickhouse.Exec(ctx, `
            INSERT INTO `+r.table+` (
                event_id, event_type, occurred_at, phone_hash, purpose,
                challenge_id, user_id, delivery_ref, ip_address, detail
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			event.ID, string(event.Type), event.At, event.PhoneHash, event.Purpose,
			event.ChallengeID, event.UserID, event.DeliveryRef, event.IPAddress, event.Detail)
		if err != nil {
			util.Warn("Failed to insert audit event into ClickHouse",
				util.String("event_type", string(event.Type)),
				util.ErrorField(err))
		}
	}

	if r.es != nil {
		res, err := r.es.IndexDocument(r.esIndex, event.ID, event)
		if err != nil {
			util.Warn("Failed to index audit event",
				util.String("event_type", string(event.Type)),
				util.ErrorField(err))
		} else if res != nil {
			res.Body.Close()
		}
	}
}
