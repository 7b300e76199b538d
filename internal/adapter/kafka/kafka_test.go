package kafka

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/couchcryptid/hml-forecast-producer/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMessageWriter struct {
	msgs     []kafkago.Message
	err      error
	deadline bool
}

func (f *fakeMessageWriter) WriteMessages(ctx context.Context, msgs ...kafkago.Message) error {
	_, f.deadline = ctx.Deadline()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeMessageWriter) Close() error { return nil }

func testProduct() domain.ForecastProduct {
	return domain.ForecastProduct{
		URI:             "https://api.weather.gov/products/evt-1",
		ID:              "evt-1",
		WMOCollectiveID: "SRUS53",
		IssuingOffice:   "KDVN",
		IssuanceTime:    time.Date(2024, 4, 26, 15, 10, 0, 0, time.UTC),
		ProductCode:     "HML",
		ProductName:     "Hydrometeorological Markup Language",
	}
}

func testWriter(mw messageWriter) *Writer {
	return &Writer{
		writer:  mw,
		topic:   "flood-forecasts",
		timeout: time.Second,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestSerializeToMessage(t *testing.T) {
	msg, err := serializeToMessage(testProduct())
	require.NoError(t, err)

	assert.Equal(t, []byte("evt-1"), msg.Key)
	assert.Contains(t, string(msg.Value), `"issuingOffice":"KDVN"`)
	assert.Contains(t, string(msg.Value), `"issuanceTime":"2024-04-26T15:10:00Z"`)
	require.Len(t, msg.Headers, 3)
	assert.Equal(t, "content_type", msg.Headers[0].Key)
	assert.Equal(t, "product_code", msg.Headers[1].Key)
	assert.Equal(t, []byte("HML"), msg.Headers[1].Value)
	assert.Equal(t, "issuance_time", msg.Headers[2].Key)
	assert.Equal(t, []byte("2024-04-26T15:10:00Z"), msg.Headers[2].Value)
}

func TestWriter_Publish(t *testing.T) {
	mw := &fakeMessageWriter{}
	w := testWriter(mw)

	require.NoError(t, w.Publish(context.Background(), testProduct()))
	require.Len(t, mw.msgs, 1)
	assert.Equal(t, []byte("evt-1"), mw.msgs[0].Key)
	assert.True(t, mw.deadline, "publish is bounded by the publish timeout")
}

func TestWriter_Publish_ClassifiesErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unknown topic", kafkago.UnknownTopicOrPartition, domain.ErrUnroutable},
		{"unknown topic in batch", kafkago.WriteErrors{kafkago.UnknownTopicOrPartition}, domain.ErrUnroutable},
		{"invalid message", kafkago.InvalidMessage, domain.ErrRejected},
		{"broker down", errors.New("dial tcp 127.0.0.1:9092: connect: connection refused"), domain.ErrConnectionLost},
		{"timeout", context.DeadlineExceeded, domain.ErrConnectionLost},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := testWriter(&fakeMessageWriter{err: tt.err})
			err := w.Publish(context.Background(), testProduct())
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestWriter_Publish_LogsFailure(t *testing.T) {
	var logs bytes.Buffer
	w := testWriter(&fakeMessageWriter{err: kafkago.UnknownTopicOrPartition})
	w.logger = slog.New(slog.NewTextHandler(&logs, nil))

	err := w.Publish(context.Background(), testProduct())
	require.ErrorIs(t, err, domain.ErrUnroutable)
	assert.Contains(t, logs.String(), "kafka write failed")
	assert.Contains(t, logs.String(), "id=evt-1")
	assert.Contains(t, logs.String(), "topic=flood-forecasts")
}

func TestWriter_Check_Unreachable(t *testing.T) {
	w := testWriter(&fakeMessageWriter{})
	w.brokers = []string{"127.0.0.1:1"}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, w.Check(ctx), domain.ErrConnectionLost)
}

func TestWriter_Check_NoBrokers(t *testing.T) {
	w := testWriter(&fakeMessageWriter{})
	require.ErrorIs(t, w.Check(context.Background()), domain.ErrConnectionLost)
}

func TestFirstPartition(t *testing.T) {
	assert.Equal(t, 0, firstPartition(kafkago.Message{}, 0, 1, 2))
	assert.Equal(t, 3, firstPartition(kafkago.Message{}, 3, 4))
}
