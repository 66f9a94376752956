package resourceguard

import (
	"net"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestConnectionRateLimiterBoundsPerIPBurst(t *testing.T) {
	l := NewConnectionRateLimiter(ConnectionRateLimiterConfig{
		IPRate: 1, IPBurst: 3, GlobalRate: 1000, GlobalBurst: 1000,
	}, zerolog.Nop())
	defer l.Stop()

	addr := &net.TCPAddr{IP: net.ParseIP("10.0.0.5"), Port: 1234}
	for i := 0; i < 3; i++ {
		require.True(t, l.Allow(addr), "burst slot %d should be allowed", i)
	}
	require.False(t, l.Allow(addr))
}

func TestConnectionRateLimiterTracksIPsIndependently(t *testing.T) {
	l := NewConnectionRateLimiter(ConnectionRateLimiterConfig{
		IPRate: 1, IPBurst: 1, GlobalRate: 1000, GlobalBurst: 1000,
	}, zerolog.Nop())
	defer l.Stop()

	a := &net.TCPAddr{IP: net.ParseIP("10.0.0.1"), Port: 1}
	b := &net.TCPAddr{IP: net.ParseIP("10.0.0.2"), Port: 1}
	require.True(t, l.Allow(a))
	require.False(t, l.Allow(a))
	require.True(t, l.Allow(b))
}

func TestConnectionRateLimiterGlobalBucketGatesBeforePerIP(t *testing.T) {
	l := NewConnectionRateLimiter(ConnectionRateLimiterConfig{
		IPRate: 1000, IPBurst: 1000, GlobalRate: 1, GlobalBurst: 1,
	}, zerolog.Nop())
	defer l.Stop()

	addr := &net.TCPAddr{IP: net.ParseIP("10.0.0.1"), Port: 1}
	require.True(t, l.Allow(addr))
	require.False(t, l.Allow(addr))
}
