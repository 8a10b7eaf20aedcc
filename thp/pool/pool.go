// Package pool implements the device-side channel allocation table
// described by the protocol's channel allocation flow: a nonce-to-channel
// map that backs CHANNEL_ALLOCATION_RESPONSE, a scheduled sweep that
// reclaims channels that have gone quiet past an owner-configured timeout,
// and a rate limiter that paces how fast new channels may be handed out so
// a flood of CHANNEL_ALLOCATION_REQUESTs degrades into DeviceBusy responses
// instead of unbounded memory growth.
package pool

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/doismellburning/thp"
)

// ErrBusy is returned by Allocate when the allocation rate limiter has no
// tokens left; callers should reply with a TRANSPORT_ERROR carrying
// thp.TransportErrorDeviceBusy rather than allocating a channel.
var ErrBusy = fmt.Errorf("pool: allocation rate exceeded")

// ErrExhausted is returned by Allocate when every channel id up to
// thp.MaxChannelID is already in use.
var ErrExhausted = fmt.Errorf("pool: channel id space exhausted")

// entry tracks one allocated channel and when it was last touched, so the
// sweep can find channels that have gone quiet.
type entry struct {
	channel  *thp.Channel
	nonce    [thp.NonceLen]byte
	lastSeen time.Time
}

// Pool is the device-side table of allocated channels, keyed by channel id.
// All methods are safe for concurrent use.
type Pool struct {
	mu       sync.Mutex
	channels map[uint16]*entry
	next     uint16

	limiter *rate.Limiter
	timeout time.Duration

	cron      *cron.Cron
	cronEntry cron.EntryID

	onReclaim func(channelID uint16)
}

// Config controls a Pool's rate limiting and quiescence behavior.
type Config struct {
	// AllocationsPerSecond caps how many new channels may be allocated per
	// second, with Burst allowed immediately. A zero AllocationsPerSecond
	// disables the limiter (every allocation succeeds, resource exhaustion
	// aside).
	AllocationsPerSecond rate.Limit
	Burst                int

	// QuiescenceTimeout is how long a channel may go without activity
	// before the sweep reclaims it. Zero disables the sweep.
	QuiescenceTimeout time.Duration

	// SweepSchedule is not read by New or Start: the sweep runs on the cron
	// expression passed to Start ("@every 1m" when that is empty).
	SweepSchedule string
}

// New creates a Pool. Call Start to begin the reclaim sweep; Pool is usable
// for Allocate/Touch/Release before Start is called.
func New(cfg Config) *Pool {
	var limiter *rate.Limiter
	if cfg.AllocationsPerSecond > 0 {
		limiter = rate.NewLimiter(cfg.AllocationsPerSecond, cfg.Burst)
	}
	return &Pool{
		channels: make(map[uint16]*entry),
		limiter:  limiter,
		timeout:  cfg.QuiescenceTimeout,
		cron:     cron.New(),
	}
}

// OnReclaim registers a callback invoked (outside the Pool's lock) for every
// channel the sweep reclaims, so the owner can close the underlying
// transport connection for that channel.
func (p *Pool) OnReclaim(fn func(channelID uint16)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onReclaim = fn
}

// Start begins the scheduled quiescence sweep, if configured. It is a no-op
// if QuiescenceTimeout was zero.
func (p *Pool) Start(schedule string) error {
	if p.timeout <= 0 {
		return nil
	}
	if schedule == "" {
		schedule = "@every 1m"
	}
	id, err := p.cron.AddFunc(schedule, p.sweep)
	if err != nil {
		return fmt.Errorf("pool: scheduling sweep: %w", err)
	}
	p.cronEntry = id
	p.cron.Start()
	return nil
}

// Stop halts the scheduled sweep and waits for any sweep in progress to
// finish.
func (p *Pool) Stop() {
	<-p.cron.Stop().Done()
}

// Allocate reserves the next free channel id for nonce and creates a fresh
// device-role thp.Channel for it. It returns ErrBusy if the rate limiter
// has no tokens and ErrExhausted if the id space is full.
func (p *Pool) Allocate(nonce [thp.NonceLen]byte) (*thp.Channel, uint16, error) {
	if p.limiter != nil && !p.limiter.Allow() {
		return nil, 0, ErrBusy
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i <= 0xFFFF; i++ {
		id := p.next
		p.next++
		if _, taken := p.channels[id]; !taken && id <= thp.MaxChannelID {
			ch := thp.NewChannel(id, false)
			p.channels[id] = &entry{channel: ch, nonce: nonce, lastSeen: time.Now()}
			return ch, id, nil
		}
	}
	return nil, 0, ErrExhausted
}

// Lookup returns the channel previously allocated for channelID, if any.
func (p *Pool) Lookup(channelID uint16) (*thp.Channel, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.channels[channelID]
	if !ok {
		return nil, false
	}
	return e.channel, true
}

// Touch records activity on channelID so the sweep does not reclaim it.
// Callers should call this on every successful PacketIn/PacketOut.
func (p *Pool) Touch(channelID uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.channels[channelID]; ok {
		e.lastSeen = time.Now()
	}
}

// Release removes channelID from the table immediately, bypassing the
// quiescence timeout (used when the owner observes the underlying
// connection close).
func (p *Pool) Release(channelID uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.channels, channelID)
}

// Len reports how many channels are currently allocated.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.channels)
}

func (p *Pool) sweep() {
	cutoff := time.Now().Add(-p.timeout)

	var reclaimed []uint16
	p.mu.Lock()
	for id, e := range p.channels {
		if e.lastSeen.Before(cutoff) {
			reclaimed = append(reclaimed, id)
			delete(p.channels, id)
		}
	}
	cb := p.onReclaim
	p.mu.Unlock()

	if cb != nil {
		for _, id := range reclaimed {
			cb(id)
		}
	}
}
