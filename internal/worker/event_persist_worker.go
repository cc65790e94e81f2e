package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"bizfin-insight/internal/eventlog"
	"bizfin-insight/internal/model"
)

// EventStore is the persistence the worker writes to.
type EventStore interface {
	Create(ctx context.Context, record *model.EventRecord) error
}

// EventPersistWorker consumes mirrored events and stores them for the
// developer-console history view.
type EventPersistWorker struct {
	conn      *amqp.Connection
	store     EventStore
	queueName string
	log       *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewEventPersistWorker(conn *amqp.Connection, store EventStore, queueName string, log *zap.Logger) *EventPersistWorker {
	return &EventPersistWorker{
		conn:      conn,
		store:     store,
		queueName: queueName,
		log:       log,
	}
}

func (w *EventPersistWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	if _, err := ch.QueueDeclare(w.queueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}
	if err := ch.Qos(32, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(w.queueName, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				if err := w.handle(workerCtx, d.Body); err != nil {
					w.log.Warn("persist event failed", zap.Error(err))
					_ = d.Nack(false, false)
					continue
				}
				_ = d.Ack(false)
			}
		}
	}()

	return nil
}

func (w *EventPersistWorker) handle(ctx context.Context, body []byte) error {
	record, err := DecodeEvent(body)
	if err != nil {
		return err
	}
	return w.store.Create(ctx, record)
}

// DecodeEvent turns a queue payload into a row.
func DecodeEvent(body []byte) (*model.EventRecord, error) {
	var e eventlog.Entry
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, fmt.Errorf("decode event failed: %w", err)
	}
	if e.ID == "" {
		return nil, fmt.Errorf("decode event failed: missing id")
	}
	data, err := json.Marshal(e.Data)
	if err != nil {
		return nil, fmt.Errorf("encode event data failed: %w", err)
	}
	return &model.EventRecord{
		ID:        e.ID,
		Type:      string(e.Type),
		Category:  e.Category,
		Data:      string(data),
		UserID:    e.UserID,
		Timestamp: e.Timestamp,
	}, nil
}

func (w *EventPersistWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
