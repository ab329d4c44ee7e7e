package timing

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimerPhases(t *testing.T) {
	timer := NewTimer()

	timer.StartDNS()
	time.Sleep(2 * time.Millisecond)
	timer.EndDNS()

	timer.StartTCP()
	time.Sleep(2 * time.Millisecond)
	timer.EndTCP()

	timer.StartTLS()
	time.Sleep(2 * time.Millisecond)
	timer.EndTLS()

	m := timer.GetMetrics()
	require.Greater(t, m.DNSLookup, time.Duration(0))
	require.Greater(t, m.TCPConnect, time.Duration(0))
	require.Greater(t, m.TLSHandshake, time.Duration(0))
	require.GreaterOrEqual(t, m.TotalTime, m.DNSLookup+m.TCPConnect+m.TLSHandshake)
}

func TestTimerSkippedPhasesStayZero(t *testing.T) {
	timer := NewTimer()
	timer.StartTCP()
	time.Sleep(time.Millisecond)
	timer.EndTCP()

	m := timer.GetMetrics()
	require.Zero(t, m.DNSLookup)
	require.Zero(t, m.TLSHandshake)
	require.Greater(t, m.TCPConnect, time.Duration(0))
}

func TestGetConnectionTime(t *testing.T) {
	m := Metrics{
		DNSLookup:    10 * time.Millisecond,
		TCPConnect:   20 * time.Millisecond,
		TLSHandshake: 30 * time.Millisecond,
		TotalTime:    100 * time.Millisecond,
	}
	require.Equal(t, 60*time.Millisecond, m.GetConnectionTime())
}

func TestMetricsString(t *testing.T) {
	m := Metrics{DNSLookup: time.Millisecond}
	s := m.String()
	require.True(t, strings.Contains(s, "DNSLookup"))
	require.True(t, strings.Contains(s, "TotalTime"))
}

func TestContextRoundTrip(t *testing.T) {
	timer := NewTimer()
	ctx := WithContext(context.Background(), timer)
	require.Same(t, timer, FromContext(ctx))
}

func TestFromContextMissingYieldsNil(t *testing.T) {
	require.Nil(t, FromContext(context.Background()))
}

func TestNilTimerIsNoOp(t *testing.T) {
	var timer *Timer
	timer.StartDNS()
	timer.EndDNS()
	timer.StartTCP()
	timer.EndTCP()
	timer.StartTLS()
	timer.EndTLS()
	require.Equal(t, Metrics{}, timer.GetMetrics())
}
