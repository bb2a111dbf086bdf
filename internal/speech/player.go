package speech

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/sjawhar/voxflow/internal/replay"
)

// Player feeds synthesized segments to a playback device in order. The
// device is any writer; a real deployment hands it the speaker, tests hand
// it a buffer. Cancel drops everything queued but cannot recall the segment
// already being written, which mirrors how device buffers behave.
type Player struct {
	device io.Writer
	log    *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []replay.Segment
	writing bool
	closed  bool
}

func NewPlayer(device io.Writer, log *slog.Logger) *Player {
	if log == nil {
		log = slog.Default()
	}
	p := &Player{device: device, log: log}
	p.cond = sync.NewCond(&p.mu)
	go p.run()
	return p
}

func (p *Player) Play(ctx context.Context, seg replay.Segment) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("player closed")
	}
	p.queue = append(p.queue, seg)
	p.cond.Broadcast()
	return nil
}

func (p *Player) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.mu.Lock()
		for (len(p.queue) > 0 || p.writing) && !p.closed {
			p.cond.Wait()
		}
		p.mu.Unlock()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (p *Player) Cancel() {
	p.mu.Lock()
	p.queue = nil
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Close stops the playback loop. Queued segments are dropped.
func (p *Player) Close() {
	p.mu.Lock()
	p.closed = true
	p.queue = nil
	p.cond.Broadcast()
	p.mu.Unlock()
}

func (p *Player) run() {
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.closed {
			p.mu.Unlock()
			return
		}
		seg := p.queue[0]
		p.queue = p.queue[1:]
		p.writing = true
		p.mu.Unlock()

		if _, err := p.device.Write(seg.Audio); err != nil {
			p.log.Warn("playback write failed", "segment", seg.Index, "error", err)
		}

		p.mu.Lock()
		p.writing = false
		p.cond.Broadcast()
		p.mu.Unlock()
	}
}
