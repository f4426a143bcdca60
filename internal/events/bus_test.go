package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chis/fleetwatch/internal/logging"
	"github.com/chis/fleetwatch/internal/model"
)

func receive(t *testing.T, ch Subscriber) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
		return Event{}
	}
}

func TestSubscribeAndPublish(t *testing.T) {
	bus := NewBus()
	ch, unsubscribe := bus.Subscribe(EventContainerReport)
	defer unsubscribe()

	report := model.ContainerReport{Container: model.Container{ID: "c1"}, Changed: true}
	bus.Publish(ContainerReport("docker.nas", report))

	e := receive(t, ch)
	assert.Equal(t, EventContainerReport, e.Type)
	assert.Equal(t, "docker.nas", e.Watcher)
	assert.False(t, e.Timestamp.IsZero())
	assert.Equal(t, report, e.Payload)
}

func TestWildcardSubscriber(t *testing.T) {
	bus := NewBus()
	ch, unsubscribe := bus.Subscribe(Wildcard)
	defer unsubscribe()

	bus.Publish(WatcherLifecycle(EventWatcherStart, "w", "d1"))
	bus.Publish(ContainerStatus("w", model.Container{ID: "c1", Status: "exited"}))

	assert.Equal(t, EventWatcherStart, receive(t, ch).Type)
	assert.Equal(t, EventContainerStatus, receive(t, ch).Type)
}

func TestOtherTypesAreNotDelivered(t *testing.T) {
	bus := NewBus()
	ch, unsubscribe := bus.Subscribe(EventWatcherStop)
	defer unsubscribe()

	bus.Publish(ContainerReports("w", nil))
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %s", e.Type)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestUnsubscribeClosesChannelOnce(t *testing.T) {
	bus := NewBus()
	ch, unsubscribe := bus.Subscribe(EventContainerReport)
	unsubscribe()
	unsubscribe()

	_, ok := <-ch
	assert.False(t, ok)
	bus.Publish(Event{Type: EventContainerReport})
}

func TestPublishNeverBlocks(t *testing.T) {
	bus := NewBus()
	_, unsubscribe := bus.Subscribe(EventContainerReport)
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*3; i++ {
			bus.Publish(Event{Type: EventContainerReport})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	sent   []Event
	bodies [][]byte
	err    error
}

func (p *recordingPublisher) Send(_ context.Context, event Event, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, event)
	p.bodies = append(p.bodies, body)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func TestForward(t *testing.T) {
	bus := NewBus()
	publisher := &recordingPublisher{err: errors.New("broker down")}
	ctx, cancel := context.WithCancel(context.Background())

	done := Forward(ctx, bus, publisher, logging.Discard())
	bus.Publish(WatcherLifecycle(EventWatcherStart, "w", "d1"))
	bus.Publish(WatcherLifecycle(EventWatcherStop, "w", "d1"))

	require.Eventually(t, func() bool { return publisher.count() == 2 }, time.Second, 5*time.Millisecond)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(publisher.bodies[0], &decoded))
	assert.Equal(t, EventWatcherStart, decoded["type"])

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("forwarder did not stop")
	}
}

type fakeNATS struct {
	subjects []string
	drained  bool
}

func (f *fakeNATS) Publish(subject string, _ []byte) error {
	f.subjects = append(f.subjects, subject)
	return nil
}

func (f *fakeNATS) Drain() error {
	f.drained = true
	return nil
}

func TestNATSPublisherSubjects(t *testing.T) {
	conn := &fakeNATS{}
	p := &NATSPublisher{conn: conn, prefix: "fleetwatch"}

	require.NoError(t, p.Send(context.Background(), Event{Type: EventContainerReport}, []byte("{}")))
	require.NoError(t, p.Close())

	assert.Equal(t, []string{"fleetwatch.container.report"}, conn.subjects)
	assert.True(t, conn.drained)
	assert.Equal(t, "watcher.stop", (&NATSPublisher{}).Subject(EventWatcherStop))
}

type fakeSQS struct {
	input *sqs.SendMessageInput
}

func (f *fakeSQS) SendMessageWithContext(_ aws.Context, input *sqs.SendMessageInput, _ ...request.Option) (*sqs.SendMessageOutput, error) {
	f.input = input
	return &sqs.SendMessageOutput{MessageId: aws.String("m1")}, nil
}

func TestSQSPublisher(t *testing.T) {
	api := &fakeSQS{}
	p := &SQSPublisher{api: api, queueURL: "https://sqs.eu-west-1.amazonaws.com/1/fleet"}

	require.NoError(t, p.Send(context.Background(), Event{Type: EventContainerReports}, []byte(`{"a":1}`)))
	require.NotNil(t, api.input)
	assert.Equal(t, "https://sqs.eu-west-1.amazonaws.com/1/fleet", aws.StringValue(api.input.QueueUrl))
	assert.Equal(t, `{"a":1}`, aws.StringValue(api.input.MessageBody))
	assert.Equal(t, EventContainerReports, aws.StringValue(api.input.MessageAttributes["type"].StringValue))
}
