package network

import (
	"context"
	"encoding/gob"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tandem/internal/event"
	"github.com/roach88/tandem/internal/testutil"
	"github.com/roach88/tandem/internal/world"
)

func TestClient_RejectsNonAvatarHandshake(t *testing.T) {
	a, b := testutil.Pipe(t)
	go func() {
		_ = gob.NewEncoder(a).Encode(ObjectMessage(world.Object{GUID: 1, Kind: world.KindStaticPlatform}))
	}()

	n := newNode(t, event.NoPeer)
	_, err := Connect(context.Background(), b, n.bus, n.world)
	assert.ErrorIs(t, err, ErrHandshake)
}

func TestClient_HandshakeTimesOut(t *testing.T) {
	_, b := testutil.Pipe(t)
	n := newNode(t, event.NoPeer)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := Connect(ctx, b, n.bus, n.world)
	assert.ErrorIs(t, err, ErrHandshake)
}

func TestClient_AdoptsAssignedIdentity(t *testing.T) {
	_, _, addr := startServer(t, ModeCentralized)
	c, n := join(t, addr)

	assert.Equal(t, c.ID(), n.bus.Identity())
	avatar, ok := n.world.Get(c.Avatar())
	require.True(t, ok)
	assert.Equal(t, int(c.ID()), avatar.Owner)
}

func TestClient_SendObjectRequiresOwnership(t *testing.T) {
	_, _, addr := startServer(t, ModeCentralized)
	c, _ := join(t, addr)

	err := c.SendObject(world.Object{GUID: 999, Owner: int(c.ID()) + 1})
	assert.Error(t, err)
}

func TestClient_RegistrationFanOut(t *testing.T) {
	_, srv, addr := startServer(t, ModeCentralized)
	listener, ln := join(t, addr)
	raiser, rn := join(t, addr)

	heard := &recorder{}
	_, err := ln.bus.Register(event.Collision, heard, true)
	require.NoError(t, err)
	own := &recorder{}
	_, err = rn.bus.Register(event.Collision, own, true)
	require.NoError(t, err)
	onServer := &recorder{}
	_, err = srv.bus.Register(event.Collision, onServer, false)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return containsType(raiser.server.proxy.Attached(), event.Collision)
	}, waitFor, tick, "registration must reach the other client")

	_, err = rn.bus.Raise(event.Collision, event.KV("a", int64(1))...)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return heard.len() == 1 }, waitFor, tick)
	got := heard.all()[0]
	assert.Equal(t, raiser.ID(), got.Originator())
	assert.NotEqual(t, listener.ID(), got.Originator())
	assert.Equal(t, 1, onServer.len())

	// Nothing may come back to the raiser or go round again.
	assert.Never(t, func() bool { return own.len() > 1 || heard.len() > 1 }, 200*time.Millisecond, tick)
}

func TestClient_LateJoinerGetsStandingRegistrations(t *testing.T) {
	s, _, addr := startServer(t, ModeCentralized)
	_, early := join(t, addr)
	_, err := early.bus.Register(event.ScoreChange, &recorder{}, true)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s.regMu.Lock()
		defer s.regMu.Unlock()
		for _, ts := range s.registrations {
			if containsType(ts, event.ScoreChange) {
				return true
			}
		}
		return false
	}, waitFor, tick)
	late, _ := join(t, addr)

	assert.Eventually(t, func() bool {
		return containsType(late.server.proxy.Attached(), event.ScoreChange)
	}, waitFor, tick)
}

func TestClient_HoldsUpdatesUntilReleased(t *testing.T) {
	s, srv, addr := startServer(t, ModeCentralized)
	var holding atomic.Bool
	holding.Store(true)
	c, n := join(t, addr, WithHold(holding.Load))

	platform := srv.world.OfKind(world.KindMovingPlatform)[0]
	require.Eventually(t, func() bool { return c.Held() > 0 || n.world.Len() > 1 }, waitFor, tick)

	moved, _ := srv.world.Update(platform.GUID, func(o *world.Object) { o.Pos.X = 555 })
	s.Broadcast([]world.Object{moved}, event.NoPeer)

	require.Eventually(t, func() bool { return c.Held() > 0 }, waitFor, tick)
	_, applied := n.world.Get(platform.GUID)
	assert.False(t, applied, "held updates must not touch the world")
	assert.Zero(t, c.FlushHeld(), "nothing is flushed while holding")

	holding.Store(false)
	require.Eventually(t, func() bool {
		c.FlushHeld()
		got, ok := n.world.Get(platform.GUID)
		return ok && got.Pos.X == 555
	}, waitFor, tick)
	assert.Zero(t, c.Held())
}

func TestClient_ServerLossEndsGame(t *testing.T) {
	s, _, addr := startServer(t, ModeCentralized)
	c, n := join(t, addr)
	ended := &recorder{}
	_, err := n.bus.Register(event.GameEnd, ended, false)
	require.NoError(t, err)

	s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	assert.Error(t, c.Wait(ctx))
	require.Equal(t, 1, ended.len())
	assert.Equal(t, "disconnected", ended.all()[0].StringArg("reason"))
}

func TestClient_CloseIsQuiet(t *testing.T) {
	_, _, addr := startServer(t, ModeCentralized)
	c, n := join(t, addr)
	ended := &recorder{}
	_, err := n.bus.Register(event.GameEnd, ended, false)
	require.NoError(t, err)

	c.Close()
	c.Close()

	assert.NoError(t, c.Wait(context.Background()))
	assert.Zero(t, ended.len())
}
