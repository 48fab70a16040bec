package mq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bookloan/apiserver/config"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const (
	rabbitAppID = "bookloan-api"
	// attrType is the attribute carrying the event type. It is also set as
	// the AMQP type property so consumers can route without decoding.
	attrType = "type"
)

// RabbitMQClient publishes to queues on the default exchange; a channel
// name is a queue name. One AMQP channel is shared, so publishes are
// serialized.
type RabbitMQClient struct {
	conn            *amqp.Connection
	channel         *amqp.Channel
	queueDurable    bool
	queueAutoDelete bool

	mu       sync.Mutex
	declared map[string]struct{}
}

func NewRabbitMQClient(cfg config.RabbitMQConfig) (*RabbitMQClient, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("rabbitmq url is required")
	}

	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName(rabbitAppID)
	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{Properties: props})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if cfg.PrefetchCount > 0 {
		if err := ch.Qos(cfg.PrefetchCount, 0, false); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, err
		}
	}

	return &RabbitMQClient{
		conn:            conn,
		channel:         ch,
		queueDurable:    cfg.QueueDurable,
		queueAutoDelete: cfg.QueueAutoDelete,
		declared:        make(map[string]struct{}),
	}, nil
}

// Publish sends a JSON event to the named queue and returns its message id.
func (r *RabbitMQClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("rabbitmq channel is required")
	}

	msg := publishing(data, attrs, r.deliveryMode())

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.declareLocked(channel); err != nil {
		return "", err
	}
	if err := r.channel.PublishWithContext(ctx, "", channel, false, false, msg); err != nil {
		return "", err
	}
	return msg.MessageId, nil
}

// Subscribe consumes the named queue until ctx is done. A handler error
// requeues the delivery.
func (r *RabbitMQClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("rabbitmq channel is required")
	}

	r.mu.Lock()
	err := r.declareLocked(channel)
	r.mu.Unlock()
	if err != nil {
		return err
	}

	consumerTag := fmt.Sprintf("%s-%s", rabbitAppID, uuid.NewString())
	deliveries, err := r.channel.Consume(channel, consumerTag, false, false, false, false, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = r.channel.Cancel(consumerTag, false)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			message := deliveryMessage(delivery)
			if err := handler(ctx, message); err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Str("message_id", message.ID).Msg("handler failed, requeueing")
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					zerolog.Ctx(ctx).Error().Err(nackErr).Str("message_id", message.ID).Msg("nack failed")
				}
				continue
			}
			_ = delivery.Ack(false)
		}
	}
}

// Close closes the channel and then the connection.
func (r *RabbitMQClient) Close() error {
	if r.channel != nil {
		_ = r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

// declareLocked declares the queue once per client. r.mu must be held.
func (r *RabbitMQClient) declareLocked(name string) error {
	if _, ok := r.declared[name]; ok {
		return nil
	}
	_, err := r.channel.QueueDeclare(name, r.queueDurable, r.queueAutoDelete, false, false, nil)
	if err != nil {
		return err
	}
	r.declared[name] = struct{}{}
	return nil
}

func (r *RabbitMQClient) deliveryMode() uint8 {
	if r.queueDurable {
		return amqp.Persistent
	}
	return amqp.Transient
}

func publishing(data []byte, attrs map[string]string, mode uint8) amqp.Publishing {
	headers := amqp.Table{}
	for key, value := range attrs {
		headers[key] = value
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: mode,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Type:         attrs[attrType],
		AppId:        rabbitAppID,
		Headers:      headers,
		Body:         data,
	}
}

func deliveryMessage(d amqp.Delivery) Message {
	attrs := headersToAttributes(d.Headers)
	if d.Type != "" {
		if attrs == nil {
			attrs = make(map[string]string, 1)
		}
		if _, ok := attrs[attrType]; !ok {
			attrs[attrType] = d.Type
		}
	}
	return Message{ID: d.MessageId, Data: d.Body, Attributes: attrs}
}

func headersToAttributes(headers amqp.Table) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(headers))
	for key, value := range headers {
		switch typed := value.(type) {
		case string:
			attrs[key] = typed
		case []byte:
			attrs[key] = string(typed)
		default:
			attrs[key] = fmt.Sprint(value)
		}
	}
	return attrs
}
