// Package bus carries typed notifications between the dictation core and
// its collaborators (indicator, configuration watcher, panels).
package bus

import (
	"sync"
	"time"

	"github.com/rbright/voxpage/internal/fsm"
)

// Topic is a typed fan-out channel. Publishing never blocks: a subscriber
// whose buffer is full misses the message.
type Topic[T any] struct {
	mu   sync.RWMutex
	subs map[int]chan T
	next int
}

// Subscribe registers a receiver with the given buffer size. The returned
// cancel func closes the channel and is safe to call more than once.
func (t *Topic[T]) Subscribe(buffer int) (<-chan T, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan T, buffer)

	t.mu.Lock()
	if t.subs == nil {
		t.subs = make(map[int]chan T)
	}
	id := t.next
	t.next++
	t.subs[id] = ch
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers v to every subscriber with buffer space and reports how
// many received it.
func (t *Topic[T]) Publish(v T) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	delivered := 0
	for _, ch := range t.subs {
		select {
		case ch <- v:
			delivered++
		default:
		}
	}
	return delivered
}

// StateChange reports a session lifecycle transition.
type StateChange struct {
	SessionID string
	From      fsm.State
	To        fsm.State
	Event     fsm.Event
	At        time.Time
}

// NoticeKey identifies a user-facing notification; rendering is external.
type NoticeKey string

const (
	NoticeListening        NoticeKey = "listening"
	NoticeNoTarget         NoticeKey = "no-target"
	NoticeUndrivable       NoticeKey = "undrivable"
	NoticePanel            NoticeKey = "panel"
	NoticeNoSpeech         NoticeKey = "no-speech"
	NoticeEngineError      NoticeKey = "engine-error"
	NoticePermissionDenied NoticeKey = "permission-denied"
	NoticeDeliveryFailed   NoticeKey = "delivery-failed"
	NoticeCorrectionFailed NoticeKey = "correction-failed"
	NoticeSubmitFailed     NoticeKey = "submit-failed"
	NoticeSafetyTimeout    NoticeKey = "safety-timeout"
	NoticeLanguageChanged  NoticeKey = "language-changed"
	NoticeCommitted        NoticeKey = "committed"
	NoticeCancelled        NoticeKey = "cancelled"
)

// Notification is a (key, detail, persistent) tuple for the notification surface.
type Notification struct {
	Key        NoticeKey
	Detail     string
	Persistent bool
}

// TranscriptUpdate mirrors transcript progress, including panel-mode sessions.
type TranscriptUpdate struct {
	SessionID string
	Text      string
	Final     bool
}

// LanguageChange announces a new recognition language.
type LanguageChange struct {
	Language string
}

// Bus groups the topics shared by the dictation runtime.
type Bus struct {
	States        Topic[StateChange]
	Notifications Topic[Notification]
	Transcripts   Topic[TranscriptUpdate]
	Languages     Topic[LanguageChange]
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{}
}

// Notify publishes a transient notification.
func (b *Bus) Notify(key NoticeKey, detail string) {
	if b == nil {
		return
	}
	b.Notifications.Publish(Notification{Key: key, Detail: detail})
}

// NotifyPersistent publishes a notification that stays until dismissed.
func (b *Bus) NotifyPersistent(key NoticeKey, detail string) {
	if b == nil {
		return
	}
	b.Notifications.Publish(Notification{Key: key, Detail: detail, Persistent: true})
}
