// Package queue implements the bounded job queue behind review execution.
// Units of work are admitted in strict FIFO order with at most the
// configured number running concurrently. Completion order is not
// guaranteed.
package queue

import (
	"fmt"
	"sync"
)

// Job is a deferred unit of work. Its error (or panic) is recorded on the
// handle and never stops the queue or other jobs.
type Job func() error

// Handle tracks one enqueued job through completion.
type Handle struct {
	done chan struct{}
	err  error
}

// Done is closed once the job has finished, successfully or not.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the job's error. Only valid after Done is closed.
func (h *Handle) Err() error { return h.err }

// Wait blocks until the job has finished and returns its error.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

// Stats is a point-in-time observation of queue depth.
type Stats struct {
	Pending int `json:"pending"`
	Active  int `json:"active"`
}

type entry struct {
	job    Job
	handle *Handle
}

// Queue admits jobs up to a concurrency cap and holds the rest in
// submission order. Construct with New at startup; the cap can be adjusted
// later with SetConcurrency.
type Queue struct {
	mu          sync.Mutex
	concurrency int
	active      int
	waiting     []*entry
}

// DefaultConcurrency is used when New is given a non-positive cap.
const DefaultConcurrency = 3

// New creates a queue running at most n jobs concurrently.
func New(n int) *Queue {
	if n < 1 {
		n = DefaultConcurrency
	}
	return &Queue{concurrency: n}
}

// SetConcurrency changes the cap for future admissions. Raising it admits
// queued jobs immediately; lowering it never preempts running jobs.
func (q *Queue) SetConcurrency(n int) {
	if n < 1 {
		return
	}
	q.mu.Lock()
	q.concurrency = n
	q.admitLocked()
	q.mu.Unlock()
}

// Enqueue appends the job and admits it immediately if a slot is free.
func (q *Queue) Enqueue(job Job) *Handle {
	h := &Handle{done: make(chan struct{})}
	q.mu.Lock()
	q.waiting = append(q.waiting, &entry{job: job, handle: h})
	q.admitLocked()
	q.mu.Unlock()
	return h
}

// Stats reports current queue depth and running count.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{Pending: len(q.waiting), Active: q.active}
}

// admitLocked promotes head-of-queue entries while slots are free.
// Caller holds q.mu.
func (q *Queue) admitLocked() {
	for q.active < q.concurrency && len(q.waiting) > 0 {
		e := q.waiting[0]
		q.waiting = q.waiting[1:]
		q.active++
		go q.run(e)
	}
}

func (q *Queue) run(e *entry) {
	defer func() {
		if r := recover(); r != nil {
			e.handle.err = fmt.Errorf("job panicked: %v", r)
		}
		close(e.handle.done)
		q.mu.Lock()
		q.active--
		q.admitLocked()
		q.mu.Unlock()
	}()
	e.handle.err = e.job()
}
