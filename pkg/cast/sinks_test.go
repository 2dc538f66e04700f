package cast

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/nainya/dicomstore/pkg/changefeed"
)

type fakeProducer struct {
	records []*kgo.Record
	err     error
	closed  bool
}

func (f *fakeProducer) ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	var out kgo.ProduceResults
	for _, r := range rs {
		f.records = append(f.records, r)
		out = append(out, kgo.ProduceResult{Record: r, Err: f.err})
	}
	return out
}

func (f *fakeProducer) Close() { f.closed = true }

type publishedMessage struct {
	exchange string
	key      string
	msg      amqp091.Publishing
}

type fakePublisher struct {
	published []publishedMessage
	err       error
	closed    bool
}

func (f *fakePublisher) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, publishedMessage{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakePublisher) Close() error {
	f.closed = true
	return nil
}

func sampleEntry() changefeed.Entry {
	return changefeed.Entry{
		Sequence:          12,
		Timestamp:         time.Date(2021, time.June, 1, 8, 0, 0, 0, time.UTC),
		Action:            changefeed.ActionCreate,
		StudyInstanceUID:  "1.2.3",
		SeriesInstanceUID: "1.2.3.4",
		SOPInstanceUID:    "1.2.3.4.5",
		State:             changefeed.StateCurrent,
	}
}

func TestKafkaPipelineProcess(t *testing.T) {
	prod := &fakeProducer{}
	p := &KafkaPipeline{topic: "dicom-changes", producer: prod}

	require.NoError(t, p.Process(context.Background(), sampleEntry()))
	require.Len(t, prod.records, 1)

	rec := prod.records[0]
	assert.Equal(t, "dicom-changes", rec.Topic)
	assert.Equal(t, []byte("1.2.3"), rec.Key)
	assert.Equal(t, []kgo.RecordHeader{
		{Key: "sequence", Value: []byte("12")},
		{Key: "action", Value: []byte("Create")},
	}, rec.Headers)

	var decoded changefeed.Entry
	require.NoError(t, json.Unmarshal(rec.Value, &decoded))
	assert.Equal(t, sampleEntry(), decoded)

	require.NoError(t, p.Close())
	assert.True(t, prod.closed)
}

func TestKafkaPipelineProduceError(t *testing.T) {
	brokerDown := errors.New("broker down")
	p := &KafkaPipeline{topic: "t", producer: &fakeProducer{err: brokerDown}}
	assert.ErrorIs(t, p.Process(context.Background(), sampleEntry()), brokerDown)
}

func TestNewKafkaPipelineRequiresTopic(t *testing.T) {
	_, err := NewKafkaPipeline(KafkaConfig{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)
}

func TestRabbitMQPipelineProcess(t *testing.T) {
	pub := &fakePublisher{}
	p := &RabbitMQPipeline{cfg: RabbitMQConfig{Exchange: "dicom"}, ch: pub}

	entry := sampleEntry()
	require.NoError(t, p.Process(context.Background(), entry))
	entry.Action = changefeed.ActionDelete
	entry.Sequence = 13
	require.NoError(t, p.Process(context.Background(), entry))

	require.Len(t, pub.published, 2)
	first := pub.published[0]
	assert.Equal(t, "dicom", first.exchange)
	assert.Equal(t, "changefeed.Create", first.key)
	assert.Equal(t, "12", first.msg.MessageId)
	assert.Equal(t, amqp091.Persistent, first.msg.DeliveryMode)
	assert.Equal(t, "application/json", first.msg.ContentType)
	assert.Equal(t, "changefeed.Delete", pub.published[1].key)

	require.NoError(t, p.Close())
	assert.True(t, pub.closed)
}

func TestRabbitMQPipelineFixedRoutingKey(t *testing.T) {
	pub := &fakePublisher{}
	p := &RabbitMQPipeline{cfg: RabbitMQConfig{RoutingKey: "dicom.sync"}, ch: pub}

	require.NoError(t, p.Process(context.Background(), sampleEntry()))
	assert.Equal(t, "dicom.sync", pub.published[0].key)
}

func TestRabbitMQPipelinePublishError(t *testing.T) {
	closed := errors.New("channel closed")
	p := &RabbitMQPipeline{ch: &fakePublisher{err: closed}}
	assert.ErrorIs(t, p.Process(context.Background(), sampleEntry()), closed)
}
