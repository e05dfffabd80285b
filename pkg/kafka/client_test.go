package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"intranet-assistant-go/pkg/tasks"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReader 与消费组中的 kafka.Reader 一致：每条消息只被 FetchMessage 返回一次。
type fakeReader struct {
	messages  []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.messages) == 0 {
		return kafka.Message{}, context.Canceled
	}
	m := r.messages[0]
	r.messages = r.messages[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

type fakeProcessor struct {
	// failures 是每个 URL 在成功前失败的次数，负数表示一直失败。
	failures map[string]int
	seen     []string
	onFail   func()
}

func (p *fakeProcessor) Process(_ context.Context, task tasks.URLUpdateTask) error {
	p.seen = append(p.seen, task.URL)
	n := p.failures[task.URL]
	if n == 0 {
		return nil
	}
	if n > 0 {
		p.failures[task.URL] = n - 1
	}
	if p.onFail != nil {
		p.onFail()
	}
	return errors.New("upstream unavailable")
}

type memoryAttempts struct {
	counts map[string]int64
}

func (a *memoryAttempts) IncrAttempts(_ context.Context, key string) (int64, error) {
	a.counts[key]++
	return a.counts[key], nil
}

func (a *memoryAttempts) ResetAttempts(_ context.Context, key string) error {
	delete(a.counts, key)
	return nil
}

func taskMessage(t *testing.T, offset int64, url string) kafka.Message {
	b, err := json.Marshal(tasks.URLUpdateTask{URL: url, Trigger: "api"})
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: b}
}

func TestConsumerCommitsSuccessAndMalformed(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{
		taskMessage(t, 1, "https://intranet.example.se/a"),
		{Offset: 2, Value: []byte("not json")},
	}}
	processor := &fakeProcessor{}
	c := &Consumer{reader: reader, processor: processor, attempts: &memoryAttempts{counts: map[string]int64{}}}

	c.Run(context.Background())

	assert.Equal(t, []int64{1, 2}, reader.committed)
	assert.Equal(t, []string{"https://intranet.example.se/a"}, processor.seen)
	assert.True(t, reader.closed)
}

func TestConsumerRetriesFailedTaskBeforeCommitting(t *testing.T) {
	flaky := "https://intranet.example.se/flaky"
	next := "https://intranet.example.se/next"
	reader := &fakeReader{messages: []kafka.Message{
		taskMessage(t, 5, flaky),
		taskMessage(t, 6, next),
	}}
	attempts := &memoryAttempts{counts: map[string]int64{}}
	processor := &fakeProcessor{failures: map[string]int{flaky: 2}}
	c := &Consumer{reader: reader, processor: processor, attempts: attempts}

	c.Run(context.Background())

	assert.Equal(t, []string{flaky, flaky, flaky, next}, processor.seen)
	assert.Equal(t, []int64{5, 6}, reader.committed)
	assert.Empty(t, attempts.counts)
}

func TestConsumerGivesUpAfterMaxAttempts(t *testing.T) {
	broken := "https://intranet.example.se/trasig"
	next := "https://intranet.example.se/next"
	reader := &fakeReader{messages: []kafka.Message{
		taskMessage(t, 5, broken),
		taskMessage(t, 6, next),
	}}
	attempts := &memoryAttempts{counts: map[string]int64{}}
	processor := &fakeProcessor{failures: map[string]int{broken: -1}}
	c := &Consumer{reader: reader, processor: processor, attempts: attempts}

	c.Run(context.Background())

	assert.Equal(t, []string{broken, broken, broken, next}, processor.seen)
	assert.Equal(t, []int64{5, 6}, reader.committed)
	assert.Empty(t, attempts.counts)
}

func TestConsumerContinuesCountAfterRestart(t *testing.T) {
	url := "https://intranet.example.se/trasig"
	reader := &fakeReader{messages: []kafka.Message{taskMessage(t, 9, url)}}
	attempts := &memoryAttempts{counts: map[string]int64{"kafka:attempts:" + url: 2}}
	processor := &fakeProcessor{failures: map[string]int{url: -1}}
	c := &Consumer{reader: reader, processor: processor, attempts: attempts}

	c.Run(context.Background())

	assert.Equal(t, []string{url}, processor.seen)
	assert.Equal(t, []int64{9}, reader.committed)
}

func TestConsumerLeavesTaskUncommittedOnShutdown(t *testing.T) {
	url := "https://intranet.example.se/trasig"
	ctx, cancel := context.WithCancel(context.Background())
	reader := &fakeReader{messages: []kafka.Message{taskMessage(t, 3, url)}}
	attempts := &memoryAttempts{counts: map[string]int64{}}
	processor := &fakeProcessor{failures: map[string]int{url: -1}, onFail: cancel}
	c := &Consumer{reader: reader, processor: processor, attempts: attempts, retryDelay: time.Hour}

	c.Run(ctx)

	assert.Equal(t, []string{url}, processor.seen)
	assert.Empty(t, reader.committed)
	assert.Equal(t, int64(1), attempts.counts["kafka:attempts:"+url])
}
