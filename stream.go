package callmeter

import (
	"errors"
	"io"
	"sync"
)

// instrumentedStream wraps a ProviderStream and reports the call's
// terminal event on Close.
type instrumentedStream struct {
	inner  ProviderStream
	obs    *Observer
	report func(error)
	id     CallID

	// tracked is false when the observer rejected the request; Close
	// then reports nothing.
	tracked bool

	mu        sync.Mutex
	usage     *Usage
	respModel string
	streamErr error // first error encountered during streaming
	closeOnce sync.Once
}

// Next returns the next chunk from the stream.
func (s *instrumentedStream) Next() (StreamChunk, error) {
	chunk, err := s.inner.Next()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		if s.streamErr == nil {
			s.streamErr = err
		}
		return chunk, err
	}

	// Track usage from the final chunk.
	if chunk.Usage != nil {
		u := *chunk.Usage
		s.usage = &u
	}
	if chunk.Model != "" {
		s.respModel = chunk.Model
	}

	return chunk, nil
}

// Close releases the stream and reports its outcome exactly once.
func (s *instrumentedStream) Close() error {
	err := s.inner.Close()

	s.closeOnce.Do(func() {
		if !s.tracked {
			return
		}
		s.mu.Lock()
		streamErr, usage, model := s.streamErr, s.usage, s.respModel
		s.mu.Unlock()

		// io.EOF is the normal end of stream, not an error.
		if streamErr == nil || errors.Is(streamErr, io.EOF) {
			s.report(s.obs.OnResponse(s.id, Response{Model: model, Usage: usage}))
			return
		}
		s.report(s.obs.OnError(s.id, streamErr))
	})

	return err
}
