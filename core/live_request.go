package core

import (
	"context"
	"errors"
	"sync"
)

// LiveRequest is the envelope for client → model traffic during a live
// streaming session. Exactly one member is set per request: structured
// Content, a raw realtime Blob, one activity signal, or Close.
type LiveRequest struct {
	Content       *Content `json:"content,omitempty"`
	Blob          *Blob    `json:"blob,omitempty"`
	ActivityStart bool     `json:"activity_start,omitempty"`
	ActivityEnd   bool     `json:"activity_end,omitempty"`
	Close         bool     `json:"close,omitempty"`
}

// Validate enforces envelope exclusivity. Activity signals never travel with
// content or blob, at most one signal may be set, and exactly one member must
// be populated overall.
func (r LiveRequest) Validate() error {
	hasContent := r.Content != nil
	hasBlob := r.Blob != nil
	if (r.ActivityStart || r.ActivityEnd) && (hasContent || hasBlob) {
		return errors.New("activity signals (activity_start, activity_end) cannot be combined with content or blob in the same request")
	}
	signals := 0
	for _, set := range []bool{r.ActivityStart, r.ActivityEnd, r.Close} {
		if set {
			signals++
		}
	}
	if signals > 1 {
		return errors.New("only one signal type (activity_start, activity_end, close) can be set per request")
	}
	members := signals
	if hasContent {
		members++
	}
	if hasBlob {
		members++
	}
	if members > 1 {
		return errors.New("live request must set exactly one of content, blob, activity_start, activity_end or close")
	}
	if members == 0 {
		return errors.New("live request is empty: set content, blob, an activity signal or close")
	}
	return nil
}

// LiveRequestQueue is an unbounded FIFO carrying LiveRequests from any number
// of producer goroutines to the single consumer that pumps them into a model
// connection. Sends never block; Get is the only blocking operation.
type LiveRequestQueue struct {
	mu     sync.Mutex
	items  []LiveRequest
	notify chan struct{}
}

// NewLiveRequestQueue returns a queue that is ready for use immediately.
func NewLiveRequestQueue() *LiveRequestQueue {
	return &LiveRequestQueue{notify: make(chan struct{}, 1)}
}

// Send validates req and enqueues it. Invalid envelopes are rejected at the
// send site and never reach the queue. Send never blocks regardless of depth.
func (q *LiveRequestQueue) Send(req LiveRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	q.push(req)
	return nil
}

// SendContent enqueues structured conversation content.
func (q *LiveRequestQueue) SendContent(c Content) {
	q.push(LiveRequest{Content: &c})
}

// SendRealtime enqueues a raw realtime blob such as a microphone audio chunk.
func (q *LiveRequestQueue) SendRealtime(b Blob) {
	q.push(LiveRequest{Blob: &b})
}

// SendActivityStart signals the explicit start of user activity.
func (q *LiveRequestQueue) SendActivityStart() {
	q.push(LiveRequest{ActivityStart: true})
}

// SendActivityEnd signals the explicit end of user activity.
func (q *LiveRequestQueue) SendActivityEnd() {
	q.push(LiveRequest{ActivityEnd: true})
}

// Close enqueues a close envelope. Requests queued ahead of it are still
// delivered; the consumer terminates the stream when the envelope surfaces.
func (q *LiveRequestQueue) Close() {
	q.push(LiveRequest{Close: true})
}

func (q *LiveRequestQueue) push(req LiveRequest) {
	q.mu.Lock()
	q.items = append(q.items, req)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Get blocks until a request is available or ctx expires, dequeuing in FIFO
// order. It is intended for a single consumer goroutine; pumps typically call
// it under a short deadline so they can re-check liveness between polls.
func (q *LiveRequestQueue) Get(ctx context.Context) (LiveRequest, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			req := q.items[0]
			q.items = q.items[1:]
			if len(q.items) == 0 {
				q.items = nil
			}
			q.mu.Unlock()
			return req, nil
		}
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return LiveRequest{}, ctx.Err()
		case <-q.notify:
		}
	}
}

// Len returns the number of queued requests.
func (q *LiveRequestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
