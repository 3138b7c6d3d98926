package llm

import (
	"context"
	"io"
	"sync"
)

// Stream yields response fragments until io.EOF.
type Stream interface {
	Recv() (*Response, error)
	Close() error
}

// producerFunc pushes fragments onto out until the backend is exhausted.
type producerFunc func(ctx context.Context, out chan<- *Response) error

// channelStream adapts a goroutine producer to the pull-based Stream.
type channelStream struct {
	cancel    context.CancelFunc
	out       chan *Response
	done      chan struct{}
	err       error
	closeOnce sync.Once
}

func newResponseStream(ctx context.Context, produce producerFunc) Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &channelStream{
		cancel: cancel,
		out:    make(chan *Response),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		defer close(s.out)
		s.err = produce(ctx, s.out)
	}()
	return s
}

func (s *channelStream) Recv() (*Response, error) {
	resp, ok := <-s.out
	if ok {
		return resp, nil
	}
	<-s.done
	if s.err != nil {
		return nil, s.err
	}
	return nil, io.EOF
}

func (s *channelStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		// drain so the producer can observe cancellation and exit
		for range s.out {
		}
	})
	return nil
}

// send delivers resp unless ctx is cancelled first.
func send(ctx context.Context, out chan<- *Response, resp *Response) error {
	select {
	case out <- resp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sliceStream replays a fixed list of fragments.
type sliceStream struct {
	items []*Response
	index int
}

// NewSliceStream returns a Stream over an already materialised response list.
func NewSliceStream(items ...*Response) Stream {
	return &sliceStream{items: items}
}

func (s *sliceStream) Recv() (*Response, error) {
	if s.index >= len(s.items) {
		return nil, io.EOF
	}
	item := s.items[s.index]
	s.index++
	return item, nil
}

func (s *sliceStream) Close() error {
	return nil
}

// CollectStream drains stream and merges its fragments into one response.
func CollectStream(stream Stream) (*Response, error) {
	defer stream.Close()
	merged := &Response{Content: Content{Role: RoleModel}}
	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			return merged, nil
		}
		if err != nil {
			return nil, err
		}
		merged.Content.Parts = append(merged.Content.Parts, resp.Content.Parts...)
		if resp.FinishReason != "" {
			merged.FinishReason = resp.FinishReason
		}
		if resp.Usage != nil {
			merged.Usage = resp.Usage
		}
	}
}
