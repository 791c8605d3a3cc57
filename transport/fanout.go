package transport

import (
	"context"
	"fmt"
	"sync"
)

// FanOut combines several transports into one. Inbound chunks from every
// member are merged in arrival order; outbound chunks are offered to every
// member. In closes once all members have closed theirs.
type FanOut struct {
	members []Transport
}

var _ Transport = (*FanOut)(nil)

// NewFanOut creates a transport that spawns all of members together.
func NewFanOut(members ...Transport) *FanOut {
	return &FanOut{members: members}
}

// Spawn spawns every member. If one fails, the members already spawned are
// stopped and the error is returned.
func (f *FanOut) Spawn(ctx context.Context) (Channels, error) {
	ctx, cancel := context.WithCancel(ctx)

	chans := make([]Channels, 0, len(f.members))
	for i, m := range f.members {
		c, err := m.Spawn(ctx)
		if err != nil {
			cancel()
			return Channels{}, fmt.Errorf("spawning member %d: %w", i, err)
		}
		chans = append(chans, c)
	}

	in := make(chan []byte, DefaultChannelSize)
	out := make(chan []byte, DefaultChannelSize)

	var wg sync.WaitGroup
	for _, c := range chans {
		wg.Add(1)
		go func(src <-chan []byte) {
			defer wg.Done()
			for b := range src {
				select {
				case in <- b:
				case <-ctx.Done():
					return
				}
			}
		}(c.In)
	}
	go func() {
		wg.Wait()
		cancel()
		close(in)
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case b := <-out:
				for _, c := range chans {
					TrySend(c.Out, b)
				}
			}
		}
	}()

	return Channels{In: in, Out: out}, nil
}
