package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	dlxExchangeName  = "recovery.dlx"
	connectionName   = "recovery-engine"
	dialTimeout      = 15 * time.Second
	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second
)

// RabbitMQ owns one AMQP connection, redialing it on demand, and declares
// the signal topology on every channel it hands out.
type RabbitMQ struct {
	url string

	mu     sync.RWMutex
	dialMu sync.Mutex
	conn   *amqp.Connection
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}

	r := &RabbitMQ{url: url}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if _, err := r.connection(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Healthy reports whether the connection is currently open.
func (r *RabbitMQ) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conn != nil && !r.conn.IsClosed()
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	conn, err := r.connection(ctx)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		// The connection may have died between the check and the call.
		conn, err = r.redial(ctx, conn)
		if err != nil {
			return nil, err
		}
		if ch, err = conn.Channel(); err != nil {
			return nil, fmt.Errorf("failed to open rabbitmq channel after redial: %w", err)
		}
	}

	if err := declareTopology(ch); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return ch, nil
}

func (r *RabbitMQ) connection(ctx context.Context) (*amqp.Connection, error) {
	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()

	if conn != nil && !conn.IsClosed() {
		return conn, nil
	}
	return r.redial(ctx, conn)
}

// redial replaces stale with a fresh connection, retrying with capped
// exponential backoff until ctx ends. Concurrent callers share one dial.
func (r *RabbitMQ) redial(ctx context.Context, stale *amqp.Connection) (*amqp.Connection, error) {
	r.dialMu.Lock()
	defer r.dialMu.Unlock()

	r.mu.RLock()
	current := r.conn
	r.mu.RUnlock()
	if current != nil && current != stale && !current.IsClosed() {
		return current, nil
	}

	cfg := amqp.Config{
		Properties: amqp.Table{"connection_name": connectionName},
		Heartbeat:  10 * time.Second,
	}

	wait := reconnectBackoff
	for {
		conn, err := amqp.DialConfig(r.url, cfg)
		if err == nil {
			r.mu.Lock()
			old := r.conn
			r.conn = conn
			r.mu.Unlock()

			if old != nil && !old.IsClosed() {
				_ = old.Close()
			}
			return conn, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("rabbitmq dial canceled: %w (last error: %v)", ctx.Err(), err)
		case <-time.After(wait):
		}

		wait *= 2
		if wait > maxBackoff {
			wait = maxBackoff
		}
	}
}

func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(dlxExchangeName, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dlx exchange: %w", err)
	}

	for _, kind := range signalKinds {
		dlq := DLQName(kind)
		routingKey := string(kind)

		if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare dlq %q: %w", dlq, err)
		}
		if err := ch.QueueBind(dlq, routingKey, dlxExchangeName, false, nil); err != nil {
			return fmt.Errorf("failed to bind dlq %q: %w", dlq, err)
		}

		name := QueueName(kind)
		args := amqp.Table{
			"x-dead-letter-exchange":    dlxExchangeName,
			"x-dead-letter-routing-key": routingKey,
		}
		if _, err := ch.QueueDeclare(name, true, false, false, false, args); err != nil {
			return fmt.Errorf("failed to declare queue %q: %w", name, err)
		}
	}

	return nil
}
