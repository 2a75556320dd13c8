// Package worker contains the workflow-executing worker: the broker
// consumer, the executors running engine processes, the backend API client
// and the weblog proxy sidecar.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/macworp/macworp/broker"
	"github.com/macworp/macworp/config"
	"github.com/macworp/macworp/logger"
)

// Worker consumes queued projects from the broker and runs them on a pool
// of executors.
type Worker struct {
	conf config.Config
	log  logger.Logger
}

// NewWorker returns a Worker for the given configuration.
func NewWorker(conf config.Config, log logger.Logger) *Worker {
	return &Worker{conf: conf, log: log}
}

// Run starts the weblog proxy and the executor pool, then consumes from
// the broker until the context is canceled, reconnecting on broker errors.
func (w *Worker) Run(ctx context.Context) error {
	client := NewClient(w.conf.Worker)

	proxy, err := NewWeblogProxy(client, w.log)
	if err != nil {
		return err
	}
	go func() {
		if err := proxy.Serve(ctx); err != nil {
			w.log.Error("Weblog proxy failed", "error", err)
		}
	}()
	w.log.Info("Weblog proxy listening", "url", proxy.URL())

	executors := w.conf.Worker.Executors
	// The deliveries buffer matches the prefetch count, so a relayed
	// delivery never blocks the consumer.
	deliveries := make(chan delivery, executors)
	acks := make(chan ackRequest, executors*2)

	var wg sync.WaitGroup
	for i := 0; i < executors; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			executor := NewExecutor(w.conf.Worker, client, proxy.URL(), w.log.WithFields("executor", n))
			executor.Run(ctx, deliveries, acks)
		}(i)
	}

	// Each broker connection gets its own generation number so stale ack
	// requests from runs outlasting a reconnect can be told apart.
	var gen uint64
	for ctx.Err() == nil {
		gen++
		err := w.consume(ctx, gen, deliveries, acks)
		if ctx.Err() != nil {
			break
		}
		w.log.Error("Broker connection failed, reconnecting",
			"error", err, "wait", w.conf.Broker.ReconnectWait)
		select {
		case <-ctx.Done():
		case <-time.After(w.conf.Broker.ReconnectWait):
		}
	}

	close(deliveries)
	wg.Wait()
	return nil
}

// consume runs one broker connection: declare the queue, set the prefetch
// to the executor count and relay deliveries. It returns when the
// connection dies or the context is canceled.
func (w *Worker) consume(ctx context.Context, gen uint64, deliveries chan<- delivery, acks <-chan ackRequest) error {
	conn, err := amqp.Dial(w.conf.Broker.URL)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := broker.Declare(ch, w.conf.Broker.Queue); err != nil {
		return err
	}
	if err := ch.Qos(w.conf.Worker.Executors, 0, false); err != nil {
		return err
	}

	msgs, err := ch.Consume(w.conf.Broker.Queue,
		"",    // consumer tag, server-assigned
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		return err
	}
	w.log.Info("Consuming project queue", "queue", w.conf.Broker.Queue)

	// The acknowledger serializes ack and nack calls on this channel.
	// Delivery tags die with the connection, so it lives and dies with
	// this consume call; tags acked after a reconnect would be invalid.
	stop := make(chan struct{})
	var ackWg sync.WaitGroup
	ackWg.Add(1)
	go func() {
		defer ackWg.Done()
		w.acknowledge(ch, gen, stop, acks)
	}()
	defer func() {
		close(stop)
		ackWg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("broker delivery channel closed")
			}
			select {
			case deliveries <- delivery{tag: msg.DeliveryTag, gen: gen, body: msg.Body}:
			default:
				// Prefetch bounds outstanding deliveries to the buffer
				// size, so this only triggers on a broker misbehaving.
				// Left unacked, the broker redelivers after reconnect.
				w.log.Warn("Delivery buffer full, leaving delivery unacked", "tag", msg.DeliveryTag)
			}
		}
	}
}

// settler covers the acknowledgement half of an AMQP channel.
type settler interface {
	Ack(tag uint64, multiple bool) error
	Nack(tag uint64, multiple bool, requeue bool) error
}

func (w *Worker) acknowledge(ch settler, gen uint64, stop <-chan struct{}, acks <-chan ackRequest) {
	for {
		select {
		case <-stop:
			return
		case req := <-acks:
			if req.gen != gen {
				// The tag belongs to a connection that is gone; the broker
				// has already requeued the delivery. Settling it here would
				// hit an unrelated delivery on the current channel.
				w.log.Warn("Dropping ack for a previous broker connection",
					"tag", req.tag, "generation", req.gen)
				continue
			}
			var err error
			if req.ack {
				err = ch.Ack(req.tag, false)
			} else {
				err = ch.Nack(req.tag, false, req.requeue)
			}
			if err != nil {
				w.log.Error("Acknowledging delivery failed", "error", err, "tag", req.tag, "ack", req.ack)
			}
		}
	}
}
