package lenslink

import (
	"sort"
	"sync"
)

// subscriptionTracker holds the set of stream types the app wants delivered.
// The set is always pushed to the peer as a full replacement list, never
// incrementally. A settings-driven mode can recompute the whole set from the
// current settings snapshot whenever a watched key changes.
type subscriptionTracker struct {
	lock   sync.Mutex
	active map[EventType]struct{}

	settingsDriven bool
	triggerKeys    []string
	computeFn      func(settings []Setting) []EventType
}

func newSubscriptionTracker() *subscriptionTracker {
	return &subscriptionTracker{active: make(map[EventType]struct{})}
}

// add marks a stream type active and reports whether it was newly added.
func (tracker *subscriptionTracker) add(eventType EventType) bool {
	tracker.lock.Lock()
	defer tracker.lock.Unlock()
	if _, exists := tracker.active[eventType]; exists {
		return false
	}
	tracker.active[eventType] = struct{}{}
	return true
}

func (tracker *subscriptionTracker) contains(eventType EventType) bool {
	tracker.lock.Lock()
	defer tracker.lock.Unlock()
	_, exists := tracker.active[eventType]
	return exists
}

// replaceAll swaps the tracked set wholesale.
func (tracker *subscriptionTracker) replaceAll(eventTypes []EventType) {
	tracker.lock.Lock()
	defer tracker.lock.Unlock()
	tracker.active = make(map[EventType]struct{}, len(eventTypes))
	for _, eventType := range eventTypes {
		tracker.active[eventType] = struct{}{}
	}
}

func (tracker *subscriptionTracker) clear() {
	tracker.lock.Lock()
	defer tracker.lock.Unlock()
	tracker.active = make(map[EventType]struct{})
}

// list returns the active stream types in a stable order.
func (tracker *subscriptionTracker) list() []EventType {
	tracker.lock.Lock()
	defer tracker.lock.Unlock()
	out := make([]EventType, 0, len(tracker.active))
	for eventType := range tracker.active {
		out = append(out, eventType)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (tracker *subscriptionTracker) enableSettingsDriven(keys []string, computeFn func([]Setting) []EventType) {
	tracker.lock.Lock()
	defer tracker.lock.Unlock()
	tracker.settingsDriven = computeFn != nil
	tracker.triggerKeys = append([]string(nil), keys...)
	tracker.computeFn = computeFn
}

func (tracker *subscriptionTracker) settingsDrivenEnabled() bool {
	tracker.lock.Lock()
	defer tracker.lock.Unlock()
	return tracker.settingsDriven
}

// triggersChanged reports whether any watched key's value differs between
// the two snapshots. A key appearing where it was previously absent counts
// as a change.
func (tracker *subscriptionTracker) triggersChanged(previous, current []Setting) bool {
	tracker.lock.Lock()
	keys := tracker.triggerKeys
	enabled := tracker.settingsDriven
	tracker.lock.Unlock()

	if !enabled {
		return false
	}
	for _, key := range keys {
		oldValue, hadOld := settingValue(previous, key)
		newValue, hasNew := settingValue(current, key)
		if hadOld != hasNew {
			return true
		}
		if hasNew && !settingValuesEqual(oldValue, newValue) {
			return true
		}
	}
	return false
}

// recompute replaces the tracked set with the result of the mapping
// function applied to the full settings snapshot.
func (tracker *subscriptionTracker) recompute(settings []Setting) {
	tracker.lock.Lock()
	computeFn := tracker.computeFn
	tracker.lock.Unlock()

	if computeFn == nil {
		return
	}
	tracker.replaceAll(computeFn(settings))
}
