package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const defaultHandshakeTimeout = 10 * time.Second

// AMQPMailer publishes messages to a durable queue that a separate delivery
// worker drains. A message counts as sent once the broker accepted it.
type AMQPMailer struct {
	url   string
	queue string
	now   func() time.Time
}

func NewAMQPMailer(url string, queue string) *AMQPMailer {
	if queue == "" {
		queue = "mail.outbox"
	}
	return &AMQPMailer{url: url, queue: queue, now: time.Now}
}

func (m *AMQPMailer) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode mail message: %w", err)
	}

	conn, err := amqp.DialConfig(m.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      dialWithin(ctx),
	})
	if err != nil {
		slog.Warn("mail broker dial failed", "queue", m.queue, "error", err)
		return fmt.Errorf("dial mail broker: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open mail channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(m.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare mail queue: %w", err)
	}

	err = ch.PublishWithContext(ctx, "", m.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    m.now().UTC(),
		Type:         msg.Template,
		Body:         body,
	})
	if err != nil {
		slog.Warn("mail publish failed", "queue", m.queue, "template", msg.Template, "error", err)
		return fmt.Errorf("publish mail message: %w", err)
	}

	return nil
}

// dialWithin bounds the TCP connect and the AMQP handshake by ctx. The
// library clears the deadline once the connection is open.
func dialWithin(ctx context.Context) func(network string, addr string) (net.Conn, error) {
	return func(network string, addr string) (net.Conn, error) {
		var dialer net.Dialer
		conn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		deadline, ok := ctx.Deadline()
		if !ok {
			deadline = time.Now().Add(defaultHandshakeTimeout)
		}
		if err := conn.SetDeadline(deadline); err != nil {
			_ = conn.Close()
			return nil, err
		}
		return conn, nil
	}
}
