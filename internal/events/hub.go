// Package events fans job state changes out to live subscribers.
package events

import (
	"sync"
	"time"

	"vclip/server/internal/model"

	"github.com/google/uuid"
)

// AllJobs subscribes to events of every job.
const AllJobs = "*"

type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[string]chan model.JobEvent
	seq  map[string]int64
}

func NewHub() *Hub {
	return &Hub{
		subs: map[string]map[string]chan model.JobEvent{},
		seq:  map[string]int64{},
	}
}

func (h *Hub) Subscribe(jobID string, buf int) (string, <-chan model.JobEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subID := uuid.NewString()
	if _, ok := h.subs[jobID]; !ok {
		h.subs[jobID] = map[string]chan model.JobEvent{}
	}
	ch := make(chan model.JobEvent, buf)
	h.subs[jobID][subID] = ch

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			jobSubs, ok := h.subs[jobID]
			if !ok {
				return
			}
			c, ok := jobSubs[subID]
			if !ok {
				return
			}
			delete(jobSubs, subID)
			close(c)
			if len(jobSubs) == 0 {
				delete(h.subs, jobID)
			}
		})
	}
	return subID, ch, unsubscribe
}

// Publish stamps evt with the next per-job sequence number and delivers it to
// the job's subscribers and to AllJobs subscribers. Slow subscribers miss events.
func (h *Hub) Publish(evt model.JobEvent) model.JobEvent {
	h.mu.Lock()
	h.seq[evt.JobID]++
	evt.Seq = h.seq[evt.JobID]
	if evt.TS.IsZero() {
		evt.TS = time.Now().UTC()
	}
	if evt.Type == model.EventJobCompleted || evt.Type == model.EventJobFailed {
		delete(h.seq, evt.JobID)
	}
	targets := make([]chan model.JobEvent, 0, len(h.subs[evt.JobID])+len(h.subs[AllJobs]))
	for _, ch := range h.subs[evt.JobID] {
		targets = append(targets, ch)
	}
	for _, ch := range h.subs[AllJobs] {
		targets = append(targets, ch)
	}
	// Sends happen under the lock so unsubscribe cannot close a channel mid-send.
	for _, ch := range targets {
		select {
		case ch <- evt:
		default:
		}
	}
	h.mu.Unlock()
	return evt
}

func (h *Hub) SubscriberCount(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[jobID])
}
