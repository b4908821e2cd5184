package section

import (
	"context"
	"sync"
	"time"

	"github.com/magpielabs/magpie/pkg/fault"
)

// eventBuffer sizes subscriber channels. A run publishes at most six
// events, so the buffer absorbs a full run even if the reader lags.
const eventBuffer = 16

// Stream subscribes to a section's events. A job that already reached
// a terminal state yields that terminal event immediately and the
// channel closes. The stop function releases the subscription; the
// channel also closes after a live terminal event.
func (o *Orchestrator) Stream(ctx context.Context, sectionID, namespace string) (<-chan Event, func(), error) {
	st, found, err := o.loadState(ctx, sectionID)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, nil, fault.Newf(fault.KindValidation, "no processing request found for section %s", sectionID)
	}
	if st.Namespace != namespace {
		return nil, nil, fault.New(fault.KindAuth, "access denied")
	}

	ch := make(chan Event, eventBuffer)

	if done, ok := terminalEvent(st); ok {
		ch <- done
		close(ch)
		return ch, func() {}, nil
	}

	o.subsMu.Lock()
	o.subs[sectionID] = append(o.subs[sectionID], ch)
	o.subsMu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() { o.unsubscribe(sectionID, ch) })
	}
	return ch, stop, nil
}

// terminalEvent reconstructs the terminal event of a finished job from
// its stored record.
func terminalEvent(st *State) (Event, bool) {
	ev := Event{
		SectionID:   st.SectionID,
		SectionName: st.Request.SectionName,
		Timestamp:   time.Now(),
	}
	switch {
	case st.Result != nil:
		ev.Stage = StageComplete
		ev.Progress = 100
		ev.Message = "Done"
		ev.Result = st.Result
	case st.Error != "":
		ev.Stage = StageError
		ev.Progress = -1
		ev.Message = "Failed"
		ev.Error = st.Error
	case st.Cancelled:
		ev.Stage = StageCancelled
		ev.Progress = 0
		ev.Message = "Cancelled"
	default:
		return Event{}, false
	}
	return ev, true
}

// emit publishes one in-flight milestone.
func (o *Orchestrator) emit(st *State, stage string, progress int, message string) {
	o.publish(Event{
		SectionID:   st.SectionID,
		SectionName: st.Request.SectionName,
		Stage:       stage,
		Progress:    progress,
		Message:     message,
		Timestamp:   time.Now(),
	})
}

// publish fans an event out to the section's subscribers. Sends never
// block: a subscriber that stopped draining misses events rather than
// stalling the run. Terminal events close every subscription.
func (o *Orchestrator) publish(ev Event) {
	o.subsMu.RLock()
	subs := make([]chan Event, len(o.subs[ev.SectionID]))
	copy(subs, o.subs[ev.SectionID])
	o.subsMu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}

	if ev.Terminal() {
		o.closeSubscribers(ev.SectionID)
	}
}

func (o *Orchestrator) closeSubscribers(sectionID string) {
	o.subsMu.Lock()
	defer o.subsMu.Unlock()
	for _, ch := range o.subs[sectionID] {
		close(ch)
	}
	delete(o.subs, sectionID)
}

// unsubscribe removes one channel and closes it. Channels already
// closed by a terminal event are gone from the registry, so the double
// close cannot happen.
func (o *Orchestrator) unsubscribe(sectionID string, ch chan Event) {
	o.subsMu.Lock()
	defer o.subsMu.Unlock()
	subs := o.subs[sectionID]
	for i, sub := range subs {
		if sub == ch {
			o.subs[sectionID] = append(subs[:i], subs[i+1:]...)
			close(ch)
			break
		}
	}
	if len(o.subs[sectionID]) == 0 {
		delete(o.subs, sectionID)
	}
}
