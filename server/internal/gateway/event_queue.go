package gateway

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

var (
	ErrQueueClosed = errors.New("event queue closed")
	ErrQueueFull   = errors.New("event queue full")
)

// Handler 处理一条客户端事件
type Handler func(ctx context.Context, msg *ClientMessage) error

// EventQueue 为单个会话串行处理客户端事件。
// 保证 asr_final / use_suggestion / restart 等事件按到达顺序处理；
// 耗时的回复生成由处理器自行放到队列之外，忙碌门控才能拒绝重叠的提交。
type EventQueue struct {
	sessionID string
	handler   Handler
	eventChan chan *queuedEvent
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	logger    *log.Logger
	timeout   time.Duration

	mu    sync.Mutex
	stats QueueStats
	// 最近处理过的 EventID，客户端重发时跳过
	seen      map[string]struct{}
	seenOrder []string
}

// QueueStats 队列统计
type QueueStats struct {
	Total      int64 `json:"total_events"`
	Processed  int64 `json:"processed_events"`
	Dropped    int64 `json:"dropped_events"`
	Duplicates int64 `json:"duplicate_events"`
	Pending    int   `json:"pending_events"`
	Capacity   int   `json:"queue_capacity"`
}

type queuedEvent struct {
	msg       *ClientMessage
	timestamp time.Time
	resultCh  chan error
}

const (
	// 超过容量的事件被丢弃（背压）
	defaultQueueCapacity = 100
	defaultEventTimeout  = 10 * time.Second
	maxSeenEventIDs      = 256
)

// NewEventQueue 创建队列并启动处理协程
func NewEventQueue(sessionID string, handler Handler, logger *log.Logger) *EventQueue {
	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	eq := &EventQueue{
		sessionID: sessionID,
		handler:   handler,
		eventChan: make(chan *queuedEvent, defaultQueueCapacity),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
		timeout:   defaultEventTimeout,
		seen:      make(map[string]struct{}),
	}

	eq.wg.Add(1)
	go eq.processLoop()

	logger.Printf("[EventQueue] Created for session %s", sessionID)
	return eq
}

// Enqueue 异步入队，队列满时返回 ErrQueueFull
func (eq *EventQueue) Enqueue(msg *ClientMessage) error {
	if eq.ctx.Err() != nil {
		return ErrQueueClosed
	}

	event := &queuedEvent{msg: msg, timestamp: time.Now()}
	select {
	case eq.eventChan <- event:
		eq.mu.Lock()
		eq.stats.Total++
		eq.mu.Unlock()
		return nil
	default:
		eq.mu.Lock()
		eq.stats.Dropped++
		eq.mu.Unlock()
		eq.logger.Printf("[EventQueue] ⚠️  Queue full, dropping event: type=%s", msg.Type)
		return ErrQueueFull
	}
}

// EnqueueSync 入队并等待处理结果
func (eq *EventQueue) EnqueueSync(msg *ClientMessage, timeout time.Duration) error {
	if eq.ctx.Err() != nil {
		return ErrQueueClosed
	}
	if timeout == 0 {
		timeout = eq.timeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	event := &queuedEvent{msg: msg, timestamp: time.Now(), resultCh: make(chan error, 1)}
	select {
	case eq.eventChan <- event:
		eq.mu.Lock()
		eq.stats.Total++
		eq.mu.Unlock()
	case <-timer.C:
		return errors.New("timeout enqueuing event")
	case <-eq.ctx.Done():
		return ErrQueueClosed
	}

	select {
	case err := <-event.resultCh:
		return err
	case <-timer.C:
		return errors.New("timeout waiting for event processing")
	case <-eq.ctx.Done():
		return ErrQueueClosed
	}
}

func (eq *EventQueue) processLoop() {
	defer eq.wg.Done()
	for {
		select {
		case <-eq.ctx.Done():
			return
		case event := <-eq.eventChan:
			eq.processEvent(event)
		}
	}
}

func (eq *EventQueue) processEvent(event *queuedEvent) {
	if eq.duplicate(event.msg.EventID) {
		eq.logger.Printf("[EventQueue] skip duplicate event: type=%s event_id=%s", event.msg.Type, event.msg.EventID)
		if event.resultCh != nil {
			event.resultCh <- nil
		}
		return
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(eq.ctx, eq.timeout)
	err := eq.handler(ctx, event.msg)
	cancel()
	elapsed := time.Since(start)

	if err != nil {
		eq.logger.Printf("[EventQueue] ❌ Event failed: type=%s error=%v queue_latency=%v processing_time=%v",
			event.msg.Type, err, start.Sub(event.timestamp), elapsed)
	}
	if elapsed > 5*time.Second {
		eq.logger.Printf("[EventQueue] ⚠️  Slow event processing: type=%s processing_time=%v", event.msg.Type, elapsed)
	}

	eq.mu.Lock()
	eq.stats.Processed++
	eq.mu.Unlock()

	if event.resultCh != nil {
		event.resultCh <- err
	}
}

// duplicate 记录 EventID，已经处理过时返回 true。空 ID 不去重。
func (eq *EventQueue) duplicate(id string) bool {
	if id == "" {
		return false
	}
	eq.mu.Lock()
	defer eq.mu.Unlock()

	if _, ok := eq.seen[id]; ok {
		eq.stats.Duplicates++
		return true
	}
	eq.seen[id] = struct{}{}
	eq.seenOrder = append(eq.seenOrder, id)
	if len(eq.seenOrder) > maxSeenEventIDs {
		delete(eq.seen, eq.seenOrder[0])
		eq.seenOrder = eq.seenOrder[1:]
	}
	return false
}

// Close 停止处理协程；未处理的事件被丢弃。可重复调用。
func (eq *EventQueue) Close() error {
	eq.closeOnce.Do(func() {
		eq.cancel()
		eq.wg.Wait()
		s := eq.Stats()
		eq.logger.Printf("[EventQueue] Closed for session %s: total=%d processed=%d dropped=%d duplicates=%d pending=%d",
			eq.sessionID, s.Total, s.Processed, s.Dropped, s.Duplicates, s.Pending)
	})
	return nil
}

// Stats 统计快照
func (eq *EventQueue) Stats() QueueStats {
	eq.mu.Lock()
	defer eq.mu.Unlock()
	s := eq.stats
	s.Pending = len(eq.eventChan)
	s.Capacity = cap(eq.eventChan)
	return s
}
