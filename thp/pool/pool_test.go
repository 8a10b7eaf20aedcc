package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/doismellburning/thp"
)

func TestAllocateAssignsDistinctChannels(t *testing.T) {
	p := New(Config{})

	var n1, n2 [thp.NonceLen]byte
	n1[0], n2[0] = 1, 2

	_, id1, err := p.Allocate(n1)
	require.NoError(t, err)
	_, id2, err := p.Allocate(n2)
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
	assert.Equal(t, 2, p.Len())
}

func TestAllocateRespectsRateLimit(t *testing.T) {
	p := New(Config{AllocationsPerSecond: rate.Limit(1), Burst: 1})

	var nonce [thp.NonceLen]byte
	_, _, err := p.Allocate(nonce)
	require.NoError(t, err)

	_, _, err = p.Allocate(nonce)
	assert.ErrorIs(t, err, ErrBusy)
}

func TestLookupAndRelease(t *testing.T) {
	p := New(Config{})
	var nonce [thp.NonceLen]byte
	ch, id, err := p.Allocate(nonce)
	require.NoError(t, err)

	got, ok := p.Lookup(id)
	require.True(t, ok)
	assert.Same(t, ch, got)

	p.Release(id)
	_, ok = p.Lookup(id)
	assert.False(t, ok)
}

func TestSweepReclaimsQuiescentChannels(t *testing.T) {
	p := New(Config{QuiescenceTimeout: time.Millisecond})
	var nonce [thp.NonceLen]byte
	_, id, err := p.Allocate(nonce)
	require.NoError(t, err)

	var reclaimedID uint16
	reclaimed := make(chan struct{}, 1)
	p.OnReclaim(func(channelID uint16) {
		reclaimedID = channelID
		reclaimed <- struct{}{}
	})

	time.Sleep(5 * time.Millisecond)
	p.sweep()

	select {
	case <-reclaimed:
	default:
		t.Fatal("sweep did not reclaim the quiescent channel")
	}
	assert.Equal(t, id, reclaimedID)
	_, ok := p.Lookup(id)
	assert.False(t, ok)
}

func TestTouchPreventsReclaim(t *testing.T) {
	p := New(Config{QuiescenceTimeout: 10 * time.Millisecond})
	var nonce [thp.NonceLen]byte
	_, id, err := p.Allocate(nonce)
	require.NoError(t, err)

	time.Sleep(6 * time.Millisecond)
	p.Touch(id)
	time.Sleep(6 * time.Millisecond)
	p.sweep()

	_, ok := p.Lookup(id)
	assert.True(t, ok, "touched channel should survive a sweep within the timeout window")
}
