package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// WakeupExchange is the fanout exchange carrying enqueue wakeups to all
// station nodes.
const WakeupExchange = "segue.wakeups"

// AMQP broadcasts enqueue wakeups over RabbitMQ so that worker pools on
// other nodes claim new jobs without waiting out their poll interval.
// Each node publishes to a shared fanout exchange and consumes from its
// own exclusive queue.
type AMQP struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	local  *Local
	logger *slog.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewAMQP connects to RabbitMQ and declares the wakeup topology.
// Idempotent against an existing exchange.
func NewAMQP(url string, logger *slog.Logger) (*AMQP, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("notify: connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("notify: open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(WakeupExchange, "fanout", false, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("notify: declare exchange: %w", err)
	}

	return &AMQP{
		conn:   conn,
		ch:     ch,
		local:  NewLocal(),
		logger: logger,
		stopCh: make(chan struct{}),
	}, nil
}

// Subscribe registers a waker to be woken when a wakeup arrives from any
// node, this one included.
func (a *AMQP) Subscribe(w Waker) {
	a.local.Subscribe(w)
}

// Nudge broadcasts a wakeup for the given job type. Failures are logged
// and swallowed: a lost wakeup degrades to polling latency.
func (a *AMQP) Nudge(ctx context.Context, jobType string) {
	err := a.ch.PublishWithContext(ctx,
		WakeupExchange,
		"", // fanout ignores the routing key
		false,
		false,
		amqp.Publishing{
			ContentType: "text/plain",
			Body:        []byte(jobType),
		})
	if err != nil {
		a.logger.Warn("wakeup publish failed",
			slog.String("job_type", jobType),
			slog.String("error", err.Error()),
		)
	}
}

// Start begins consuming wakeups from an exclusive, auto-deleted queue
// bound to the fanout exchange.
func (a *AMQP) Start(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return nil
	}

	q, err := a.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("notify: declare wakeup queue: %w", err)
	}
	if err := a.ch.QueueBind(q.Name, "", WakeupExchange, false, nil); err != nil {
		return fmt.Errorf("notify: bind wakeup queue: %w", err)
	}

	deliveries, err := a.ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("notify: consume wakeups: %w", err)
	}

	a.running = true
	a.wg.Add(1)
	go a.consumeLoop(deliveries)
	return nil
}

func (a *AMQP) consumeLoop(deliveries <-chan amqp.Delivery) {
	defer a.wg.Done()

	for {
		select {
		case <-a.stopCh:
			return
		case d, ok := <-deliveries:
			if !ok {
				a.logger.Warn("wakeup channel closed, falling back to polling")
				return
			}
			a.local.Nudge(context.Background(), string(d.Body))
		}
	}
}

// Close stops the consume loop and tears down the connection.
func (a *AMQP) Close() error {
	a.mu.Lock()
	if a.running {
		a.running = false
		close(a.stopCh)
	}
	a.mu.Unlock()

	a.wg.Wait()
	a.ch.Close()
	return a.conn.Close()
}
