package rabbitmq

import (
	"fmt"

	"github.com/streadway/amqp"
)

// Exchange — direct-обменник бота.
const Exchange = "relay"

// Имена очередей и ключи маршрутизации.
const (
	QueueUpdates       = "relay.updates"
	RouteUpdates       = "updates"
	QueueNotifications = "relay.notifications"
	RouteNotifications = "notifications"
)

// QueueConfig связывает очередь с ключом маршрутизации.
type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// RelayQueues возвращает все очереди бота.
func RelayQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: QueueUpdates, RoutingKey: RouteUpdates},
		{QueueName: QueueNotifications, RoutingKey: RouteNotifications},
	}
}

// SetupChannel открывает канал, задаёт prefetch и объявляет обменник и очереди.
func SetupChannel(conn *amqp.Connection, prefetch int, queues []QueueConfig) (*amqp.Channel, error) {
	const op = "rabbitmq.SetupChannel"

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("%s: set qos: %w", op, err)
	}
	if err := ch.ExchangeDeclare(Exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	for _, q := range queues {
		if _, err := ch.QueueDeclare(q.QueueName, true, false, false, false, nil); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("%s: declare queue %s: %w", op, q.QueueName, err)
		}
		if err := ch.QueueBind(q.QueueName, q.RoutingKey, Exchange, false, nil); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("%s: bind queue %s to %s: %w", op, q.QueueName, q.RoutingKey, err)
		}
	}
	return ch, nil
}
