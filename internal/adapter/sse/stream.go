// Package sse carries broadcast frames over Server-Sent Events.
package sse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"task-timer/internal/broadcast"
)

// DefaultBuffer is how many frames may wait for a slow viewer before the
// viewer is considered gone.
const DefaultBuffer = 16

// Stream is a broadcast.Channel bound to one text/event-stream response.
// Send only enqueues; Serve does the writing on the request goroutine.
type Stream struct {
	w      http.ResponseWriter
	rc     *http.ResponseController
	queue  chan broadcast.Frame
	closed chan struct{}
	once   sync.Once
}

// Open sets the stream headers and queues the ":connected" acknowledgment.
// Nothing reaches the client until Serve runs, so a caller that subscribes
// the stream between Open and Serve acknowledges only once subscribed.
func Open(w http.ResponseWriter, buffer int) *Stream {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	s := &Stream{
		w:      w,
		rc:     http.NewResponseController(w),
		queue:  make(chan broadcast.Frame, buffer+1), // +1 for the ack
		closed: make(chan struct{}),
	}
	s.queue <- broadcast.Comment("connected")
	return s
}

// Send queues f for the viewer. A closed stream or a full queue is Gone.
func (s *Stream) Send(f broadcast.Frame) broadcast.SendResult {
	select {
	case <-s.closed:
		return broadcast.Gone
	default:
	}
	select {
	case s.queue <- f:
		return broadcast.Delivered
	default:
		s.Close()
		return broadcast.Gone
	}
}

// Serve writes queued frames until the client disconnects, stop is closed or
// a write fails. A disconnect is not an error.
func (s *Stream) Serve(ctx context.Context, stop <-chan struct{}) error {
	defer s.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stop:
			return nil
		case <-s.closed:
			return nil
		case f := <-s.queue:
			if err := s.write(f); err != nil {
				return err
			}
		}
	}
}

// Close marks the stream gone. Safe to call more than once.
func (s *Stream) Close() {
	s.once.Do(func() { close(s.closed) })
}

func (s *Stream) write(f broadcast.Frame) error {
	if err := WriteFrame(s.w, f); err != nil {
		return err
	}
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// WriteFrame encodes f in event-stream syntax: "data: <json>" for payloads
// and ":<text>" for comments, each terminated by a blank line.
func WriteFrame(w io.Writer, f broadcast.Frame) error {
	var err error
	switch f.Kind {
	case broadcast.CommentFrame:
		_, err = fmt.Fprintf(w, ":%s\n\n", f.Data)
	default:
		_, err = fmt.Fprintf(w, "data: %s\n\n", f.Data)
	}
	return err
}
