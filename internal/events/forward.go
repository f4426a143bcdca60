package events

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"
	nats "github.com/nats-io/nats.go"

	"github.com/chis/fleetwatch/internal/logging"
)

// Publisher sends an encoded event to an external broker.
type Publisher interface {
	Send(ctx context.Context, event Event, body []byte) error
	Close() error
}

// Forward relays every bus event to publisher until ctx is done. Failed
// sends are logged and dropped. The returned channel closes once the
// forwarder has stopped.
func Forward(ctx context.Context, bus *Bus, publisher Publisher, log *logging.Logger) <-chan struct{} {
	if log == nil {
		log = logging.Default()
	}
	ch, unsubscribe := bus.Subscribe(Wildcard)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-ch:
				if !ok {
					return
				}
				body, err := MarshalEvent(event)
				if err != nil {
					log.WithError(err).Warn("Failed to encode %s event", event.Type)
					continue
				}
				if err := publisher.Send(ctx, event, body); err != nil {
					log.WithError(err).Warn("Failed to forward %s event", event.Type)
				}
			}
		}
	}()
	return done
}

// natsConn is the part of *nats.Conn used by NATSPublisher.
type natsConn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSPublisher publishes events on "<prefix>.<event type>".
type NATSPublisher struct {
	conn   natsConn
	prefix string
}

// NewNATSPublisher connects to the NATS server at url.
func NewNATSPublisher(url, prefix string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("fleetwatch"))
	if err != nil {
		return nil, fmt.Errorf("unable to connect to NATS at %s: %w", url, err)
	}
	return &NATSPublisher{conn: nc, prefix: prefix}, nil
}

// Subject returns the subject an event type is published on.
func (p *NATSPublisher) Subject(eventType string) string {
	if p.prefix == "" {
		return eventType
	}
	return p.prefix + "." + eventType
}

// Send implements Publisher.
func (p *NATSPublisher) Send(_ context.Context, event Event, body []byte) error {
	return p.conn.Publish(p.Subject(event.Type), body)
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

// sqsAPI is the part of the SQS client used by SQSPublisher.
type sqsAPI interface {
	SendMessageWithContext(ctx aws.Context, input *sqs.SendMessageInput, opts ...request.Option) (*sqs.SendMessageOutput, error)
}

// SQSPublisher sends events to an SQS queue with the event type as a
// message attribute.
type SQSPublisher struct {
	api      sqsAPI
	queueURL string
}

// NewSQSPublisher creates a publisher using the default AWS credential chain.
func NewSQSPublisher(queueURL, region string) (*SQSPublisher, error) {
	cfg := aws.NewConfig()
	if region != "" {
		cfg = cfg.WithRegion(region)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return &SQSPublisher{api: sqs.New(sess), queueURL: queueURL}, nil
}

// Send implements Publisher.
func (p *SQSPublisher) Send(ctx context.Context, event Event, body []byte) error {
	_, err := p.api.SendMessageWithContext(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]*sqs.MessageAttributeValue{
			"type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(event.Type),
			},
		},
	})
	return err
}

// Close implements Publisher.
func (p *SQSPublisher) Close() error { return nil }
