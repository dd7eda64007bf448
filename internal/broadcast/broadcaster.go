// Package broadcast fans timer views out to everyone watching a task.
package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"task-timer/internal/domain"
)

// DefaultHeartbeat keeps idle streams alive through proxies that drop quiet
// connections.
const DefaultHeartbeat = 25 * time.Second

// EventTaskUpdated is the type of every pushed view.
const EventTaskUpdated = "task.updated"

// SendResult is the outcome of writing one frame to a channel.
type SendResult int

const (
	// Delivered means the frame was accepted for the viewer.
	Delivered SendResult = iota
	// Gone means the viewer can no longer receive frames and must be dropped.
	Gone
)

// FrameKind distinguishes payload frames from keep-alive comments.
type FrameKind int

const (
	DataFrame FrameKind = iota
	CommentFrame
)

// Frame is one unit written to a viewer's stream.
type Frame struct {
	Kind FrameKind
	Data []byte
}

// Comment returns a comment frame carrying text (no payload).
func Comment(text string) Frame { return Frame{Kind: CommentFrame, Data: []byte(text)} }

// Ping is the keep-alive frame.
var Ping = Comment("ping")

// Event is the JSON body of a data frame.
type Event struct {
	Type    string      `json:"type"`
	TaskID  string      `json:"taskId"`
	Payload domain.View `json:"payload"`
}

// Channel is one viewer connection. Send must not block on a slow viewer;
// it reports Gone instead. Implementations must be comparable (pointers).
type Channel interface {
	Send(Frame) SendResult
}

// Broadcaster keeps the per-task subscriber registry. Create one per process
// with New, run its heartbeat with Run and release it with Close.
type Broadcaster struct {
	log       *slog.Logger
	heartbeat time.Duration
	tasks     sync.Map // task id -> *bucket
	done      chan struct{}
	closeOnce sync.Once
}

// New returns a Broadcaster. A non-positive heartbeat uses DefaultHeartbeat.
func New(log *slog.Logger, heartbeat time.Duration) *Broadcaster {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &Broadcaster{log: log, heartbeat: heartbeat, done: make(chan struct{})}
}

// Subscribe registers ch for updates of taskID.
func (b *Broadcaster) Subscribe(taskID string, ch Channel) {
	for {
		v, _ := b.tasks.LoadOrStore(taskID, newBucket())
		bk := v.(*bucket)
		if bk.add(ch) {
			b.log.Debug("stream subscribed", slog.String("task_id", taskID))
			return
		}
		// The bucket emptied and retired between load and add.
		b.tasks.CompareAndDelete(taskID, bk)
	}
}

// Unsubscribe removes ch from taskID. Calling it again is harmless.
func (b *Broadcaster) Unsubscribe(taskID string, ch Channel) {
	v, ok := b.tasks.Load(taskID)
	if !ok {
		return
	}
	bk := v.(*bucket)
	removed, empty := bk.remove(ch)
	if empty {
		b.tasks.CompareAndDelete(taskID, bk)
	}
	if removed {
		b.log.Debug("stream unsubscribed", slog.String("task_id", taskID))
	}
}

// Publish pushes view to every channel watching taskID. Channels that report
// Gone are unsubscribed; nobody watching is not an error.
func (b *Broadcaster) Publish(taskID string, view domain.View) {
	v, ok := b.tasks.Load(taskID)
	if !ok {
		return
	}
	subs := v.(*bucket).snapshot()
	if len(subs) == 0 {
		return
	}
	data, err := json.Marshal(Event{Type: EventTaskUpdated, TaskID: taskID, Payload: view})
	if err != nil {
		b.log.Error("encode task event", slog.String("task_id", taskID), slog.String("error", err.Error()))
		return
	}
	frame := Frame{Kind: DataFrame, Data: data}
	for _, ch := range subs {
		if ch.Send(frame) == Gone {
			b.Unsubscribe(taskID, ch)
		}
	}
}

// Run writes a keep-alive frame to every channel on each heartbeat tick until
// ctx is done or the broadcaster is closed.
func (b *Broadcaster) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()
	b.log.Info("stream heartbeat started", slog.Duration("interval", b.heartbeat))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.done:
			return nil
		case <-ticker.C:
			b.Heartbeat()
		}
	}
}

// Heartbeat sends one keep-alive frame to every channel of every task.
func (b *Broadcaster) Heartbeat() {
	b.tasks.Range(func(key, value any) bool {
		taskID := key.(string)
		for _, ch := range value.(*bucket).snapshot() {
			if ch.Send(Ping) == Gone {
				b.Unsubscribe(taskID, ch)
			}
		}
		return true
	})
}

// Count returns the number of channels watching taskID.
func (b *Broadcaster) Count(taskID string) int {
	v, ok := b.tasks.Load(taskID)
	if !ok {
		return 0
	}
	return v.(*bucket).len()
}

// Done is closed once Close has been called. Stream handlers watch it to end
// their connections on shutdown.
func (b *Broadcaster) Done() <-chan struct{} { return b.done }

// Close drops every subscription and stops the heartbeat.
func (b *Broadcaster) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
		b.tasks.Range(func(key, value any) bool {
			value.(*bucket).retire()
			b.tasks.Delete(key)
			return true
		})
	})
}

// bucket is the set of channels for one task. A bucket that became empty is
// retired so a concurrent Subscribe cannot add to a set that is no longer
// reachable from the registry.
type bucket struct {
	mu      sync.Mutex
	subs    map[Channel]struct{}
	retired bool
}

func newBucket() *bucket { return &bucket{subs: make(map[Channel]struct{})} }

func (bk *bucket) add(ch Channel) bool {
	bk.mu.Lock()
	defer bk.mu.Unlock()
	if bk.retired {
		return false
	}
	bk.subs[ch] = struct{}{}
	return true
}

func (bk *bucket) remove(ch Channel) (removed, empty bool) {
	bk.mu.Lock()
	defer bk.mu.Unlock()
	_, removed = bk.subs[ch]
	delete(bk.subs, ch)
	if len(bk.subs) == 0 {
		bk.retired = true
		return removed, true
	}
	return removed, false
}

func (bk *bucket) retire() {
	bk.mu.Lock()
	bk.retired = true
	bk.subs = map[Channel]struct{}{}
	bk.mu.Unlock()
}

func (bk *bucket) snapshot() []Channel {
	bk.mu.Lock()
	defer bk.mu.Unlock()
	out := make([]Channel, 0, len(bk.subs))
	for ch := range bk.subs {
		out = append(out, ch)
	}
	return out
}

func (bk *bucket) len() int {
	bk.mu.Lock()
	defer bk.mu.Unlock()
	return len(bk.subs)
}
