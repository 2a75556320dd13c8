// Package broker wraps the AMQP connection to the message broker which
// carries queued project runs from the backend to the workers.
package broker

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/macworp/macworp/config"
)

// Declare declares the durable project queue on the given channel.
// Both publisher and consumer declare it, whichever connects first wins.
func Declare(ch *amqp.Channel, queue string) error {
	_, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declaring queue %q: %w", queue, err)
	}
	return nil
}

// Publisher publishes queued project messages. Each publish opens a
// short-lived connection: scheduling is rare compared to consumption and
// a fresh connection makes publish failures visible to the scheduling
// transaction instead of surfacing later on a shared channel.
type Publisher struct {
	conf config.Broker
}

// NewPublisher returns a Publisher for the configured broker.
func NewPublisher(conf config.Broker) *Publisher {
	return &Publisher{conf: conf}
}

// Publish sends one persistent JSON message to the project queue.
func (p *Publisher) Publish(ctx context.Context, body []byte) error {
	conn, err := amqp.Dial(p.conf.URL)
	if err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("opening broker channel: %w", err)
	}
	defer ch.Close()

	if err := Declare(ch, p.conf.Queue); err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx,
		"",           // default exchange
		p.conf.Queue, // routing key
		false,        // mandatory
		false,        // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publishing to queue %q: %w", p.conf.Queue, err)
	}
	return nil
}
