package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kidsafe-go/internal/config"
	"kidsafe-go/pkg/tasks"
)

type stubProcessor struct {
	err   error
	calls []tasks.InsightTask
}

func (p *stubProcessor) Process(ctx context.Context, task tasks.InsightTask) error {
	p.calls = append(p.calls, task)
	return p.err
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestHandleMessage_Success(t *testing.T) {
	mr, rdb := newRedis(t)
	p := &stubProcessor{}

	commit := handleMessage(t.Context(), []byte(`{"child_id":"c1","session_id":"s1"}`), p, rdb)

	assert.True(t, commit)
	require.Len(t, p.calls, 1)
	assert.Equal(t, tasks.InsightTask{ChildID: "c1", SessionID: "s1"}, p.calls[0])
	assert.False(t, mr.Exists("kafka:attempts:c1"))
}

func TestHandleMessage_MalformedIsCommitted(t *testing.T) {
	_, rdb := newRedis(t)
	p := &stubProcessor{}

	assert.True(t, handleMessage(t.Context(), []byte("not json"), p, rdb))
	assert.Empty(t, p.calls)
}

func TestHandleMessage_RetriesThenGivesUp(t *testing.T) {
	mr, rdb := newRedis(t)
	p := &stubProcessor{err: errors.New("db down")}
	value := []byte(`{"child_id":"c1"}`)

	assert.False(t, handleMessage(t.Context(), value, p, rdb))
	assert.False(t, handleMessage(t.Context(), value, p, rdb))
	got, err := mr.Get("kafka:attempts:c1")
	require.NoError(t, err)
	assert.Equal(t, "2", got)

	assert.True(t, handleMessage(t.Context(), value, p, rdb))
	assert.Len(t, p.calls, 3)
	assert.False(t, mr.Exists("kafka:attempts:c1"))
}

func TestHandleMessage_RedisDownKeepsOffset(t *testing.T) {
	mr, rdb := newRedis(t)
	mr.Close()
	p := &stubProcessor{err: errors.New("boom")}

	assert.False(t, handleMessage(t.Context(), []byte(`{"child_id":"c1"}`), p, rdb))
}

func TestProcessWithRetry_RedisDownStopsAfterLocalAttempts(t *testing.T) {
	retryDelay = 0
	t.Cleanup(func() { retryDelay = 2 * time.Second })
	mr, rdb := newRedis(t)
	mr.Close()
	p := &stubProcessor{err: errors.New("boom")}

	assert.True(t, processWithRetry(t.Context(), []byte(`{"child_id":"c1"}`), p, rdb))
	assert.Len(t, p.calls, maxAttempts)
}

func TestProcessWithRetry_SucceedsOnRetry(t *testing.T) {
	retryDelay = 0
	t.Cleanup(func() { retryDelay = 2 * time.Second })
	_, rdb := newRedis(t)
	p := &flakyProcessor{failures: 1}

	assert.True(t, processWithRetry(t.Context(), []byte(`{"child_id":"c1"}`), p, rdb))
	assert.Equal(t, 2, p.calls)
}

func TestProcessWithRetry_CanceledContext(t *testing.T) {
	_, rdb := newRedis(t)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	p := &stubProcessor{err: errors.New("boom")}

	assert.False(t, processWithRetry(ctx, []byte(`{"child_id":"c1"}`), p, rdb))
	assert.Len(t, p.calls, 1)
}

type flakyProcessor struct {
	failures int
	calls    int
}

func (p *flakyProcessor) Process(ctx context.Context, task tasks.InsightTask) error {
	p.calls++
	if p.calls <= p.failures {
		return errors.New("temporary")
	}
	return nil
}

func TestBrokers(t *testing.T) {
	got := brokers(config.KafkaConfig{Brokers: " a:9092, b:9092 ,,"})
	assert.Equal(t, []string{"a:9092", "b:9092"}, got)
}

func TestInsightTaskKey(t *testing.T) {
	assert.Equal(t, "all", tasks.InsightTask{}.Key())
	assert.Equal(t, "c1", tasks.InsightTask{ChildID: "c1"}.Key())
}

func TestWait(t *testing.T) {
	assert.True(t, wait(t.Context(), 0))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	assert.False(t, wait(ctx, time.Hour))
}
