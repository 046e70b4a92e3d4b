package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBarkNotifierSendsQuery(t *testing.T) {
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		got = r.URL.Query()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := NewBarkNotifier(srv.URL + "/device-key/")
	require.NoError(t, err)

	require.NoError(t, n.Send(context.Background(), Message{Title: "Pulse Heartbeat", Body: "OK in 12ms"}))
	assert.Equal(t, "Pulse Heartbeat", got.Get("title"))
	assert.Equal(t, "OK in 12ms", got.Get("body"))
	assert.Equal(t, defaultBarkGroup, got.Get("group"))

	require.NoError(t, n.Send(context.Background(), Message{Channel: "ops", Title: "t"}))
	assert.Equal(t, "ops", got.Get("group"))
}

func TestBarkNotifierErrors(t *testing.T) {
	_, err := NewBarkNotifier("   ")
	assert.Error(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	n, err := NewBarkNotifier(srv.URL)
	require.NoError(t, err)

	err = n.Send(context.Background(), Message{Title: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaNotifierPublishesEnvelope(t *testing.T) {
	w := &fakeWriter{}
	n := newKafkaNotifier(w, "mission.announcements")
	sent := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return sent }

	require.NoError(t, n.Send(context.Background(), Message{Title: "Audit", Body: "1 stale agent(s)"}))
	require.NoError(t, n.Send(context.Background(), Message{Channel: "ops", Title: "Job", Body: "OK"}))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "mission.announcements", w.msgs[0].Topic)
	assert.Equal(t, "Audit", string(w.msgs[0].Key))
	assert.Equal(t, "ops", w.msgs[1].Topic)

	var env kafkaEnvelope
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &env))
	assert.Equal(t, "1 stale agent(s)", env.Body)
	assert.True(t, env.SentAt.Equal(sent))

	require.NoError(t, n.Close())
	assert.True(t, w.closed)
}

func TestKafkaNotifierErrors(t *testing.T) {
	_, err := NewKafkaNotifier(nil, "topic")
	assert.Error(t, err)
	_, err = NewKafkaNotifier([]string{"localhost:9092"}, "")
	assert.Error(t, err)

	n := newKafkaNotifier(&fakeWriter{err: errors.New("leader not available")}, "topic")
	err = n.Send(context.Background(), Message{Title: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish to topic")
}

type countingNotifier struct {
	sent int
	err  error
}

func (c *countingNotifier) Send(context.Context, Message) error {
	c.sent++
	return c.err
}

func TestMultiNotifierDeliversToAll(t *testing.T) {
	failing := &countingNotifier{err: errors.New("down")}
	ok := &countingNotifier{}
	m := NewMultiNotifier(failing, ok, &NoOpNotifier{})

	err := m.Send(context.Background(), Message{Title: "t"})

	assert.ErrorContains(t, err, "down")
	assert.Equal(t, 1, failing.sent)
	assert.Equal(t, 1, ok.sent, "one failure does not stop the others")
	assert.Equal(t, 3, m.Len())
	assert.NoError(t, NewMultiNotifier().Send(context.Background(), Message{}))
}
