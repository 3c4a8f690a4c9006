package authclient

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-client/failure"
)

// pendingRequest is a request waiting on a refresh. done has capacity one and
// receives exactly one Outcome, unless the entry is removed on cancellation,
// in which case it receives none.
type pendingRequest struct {
	id       string
	request  *http.Request
	failure  *failure.Failure
	done     chan Outcome
	queuedAt time.Time
}

func newPendingRequest(req *http.Request, f *failure.Failure) *pendingRequest {
	id := req.Header.Get(RequestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	return &pendingRequest{
		id:       id,
		request:  req,
		failure:  f,
		done:     make(chan Outcome, 1),
		queuedAt: time.Now(),
	}
}

// complete delivers o. The original failure's response is released unless o
// hands that failure back to the caller.
func (p *pendingRequest) complete(o Outcome) {
	if o.Err != error(p.failure) {
		p.failure.Discard()
	}
	p.done <- o
}

// pendingQueue is FIFO. Callers hold the coordinator lock.
type pendingQueue struct {
	items []*pendingRequest
}

func (q *pendingQueue) push(p *pendingRequest) {
	q.items = append(q.items, p)
}

func (q *pendingQueue) pop() *pendingRequest {
	if len(q.items) == 0 {
		return nil
	}
	p := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return p
}

// remove drops p and reports whether it was still queued.
func (q *pendingQueue) remove(p *pendingRequest) bool {
	for i, item := range q.items {
		if item == p {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

func (q *pendingQueue) takeAll() []*pendingRequest {
	items := q.items
	q.items = nil
	return items
}

func (q *pendingQueue) len() int {
	return len(q.items)
}
