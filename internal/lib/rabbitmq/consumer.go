package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/media-relay/internal/lib/sl"
)

// Handler обрабатывает тело одного сообщения.
type Handler func(ctx context.Context, body []byte) error

// ConsumerConfig задаёт очередь и режим обработки.
type ConsumerConfig struct {
	Queue       string
	Concurrency int  // сколько сообщений обрабатывается одновременно
	Requeue     bool // возвращать ли сообщение в очередь при ошибке обработчика
}

// Consumer — часть *amqp.Channel, нужная потребителю.
type Consumer interface {
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

// Consume читает сообщения из очереди и обрабатывает их не более чем
// в cfg.Concurrency горутинах. Блокируется до отмены ctx или закрытия
// канала доставки и дожидается завершения запущенных обработчиков.
func Consume(ctx context.Context, ch Consumer, cfg ConsumerConfig, handler Handler, log *slog.Logger) error {
	const op = "rabbitmq.Consume"
	deliveries, err := ch.Consume(cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	log = log.With(sl.Op(op), slog.String("queue", cfg.Queue))

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				_ = d.Nack(false, true)
				return nil
			}
			wg.Add(1)
			go func(d amqp.Delivery) {
				defer wg.Done()
				defer func() { <-sem }()
				if err := handler(ctx, d.Body); err != nil {
					log.Error("failed to handle message", sl.Err(err))
					if nackErr := d.Nack(false, cfg.Requeue); nackErr != nil {
						log.Error("failed to nack message", sl.Err(nackErr))
					}
					return
				}
				if ackErr := d.Ack(false); ackErr != nil {
					log.Error("failed to ack message", sl.Err(ackErr))
				}
			}(d)
		}
	}
}
