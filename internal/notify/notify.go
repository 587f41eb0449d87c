// Package notify broadcasts change tags between running instances that share
// a channel, so each can refresh what it shows after another one writes.
package notify

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Change tags sent by the data service.
const (
	UserUpdated    = "USER_UPDATED"
	ProfileUpdated = "PROFILE_UPDATED"
	MediaUpdated   = "MEDIA_UPDATED"
)

// DefaultChannel is the channel name instances join unless configured otherwise.
const DefaultChannel = "socialboost_cloud_sync_v2"

// ErrClosed is returned by Notify after Close.
var ErrClosed = errors.New("notifier closed")

// message is the payload carried between instances.
type message struct {
	Type   string `json:"type"`
	Origin string `json:"origin,omitempty"`
}

// listeners is a set of callbacks, shared by every Notifier implementation.
type listeners struct {
	mu   sync.RWMutex
	next int
	fns  map[int]func(string)
	log  *zap.Logger
}

func (l *listeners) add(fn func(string)) (cancel func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(string))
	}
	id := l.next
	l.next++
	l.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.fns, id)
			l.mu.Unlock()
		})
	}
}

// dispatch runs every listener in turn. A panicking listener is logged and
// does not stop the others.
func (l *listeners) dispatch(changeType string) {
	l.mu.RLock()
	fns := make([]func(string), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.RUnlock()

	for _, fn := range fns {
		l.call(fn, changeType)
	}
}

func (l *listeners) call(fn func(string), changeType string) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("Panic in change listener", zap.String("type", changeType), zap.Any("panic", r))
		}
	}()
	fn(changeType)
}
