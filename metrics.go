package etherlink

import (
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ehrlich-b/go-etherlink/internal/driver"
	"github.com/ehrlich-b/go-etherlink/internal/stream"
)

// SizeBuckets defines the transfer size histogram buckets in bytes.
var SizeBuckets = []uint64{
	8,
	64,
	256,
	1 << 10,
	4 << 10,
	16 << 10,
	64 << 10,
}

const numSizeBuckets = 7

// ChannelMetrics counts the traffic of one hardware channel.
type ChannelMetrics struct {
	Transfers atomic.Uint64 // Descriptors pushed or completed
	Bytes     atomic.Uint64 // Payload bytes moved

	// Polls that found the channel blocked: a full ring on push channels,
	// an empty queue on pull channels.
	Waits atomic.Uint64

	// Size histogram buckets (cumulative)
	// Each bucket[i] counts transfers of at most SizeBuckets[i] bytes
	SizeBuckets [numSizeBuckets]atomic.Uint64
}

func (c *ChannelMetrics) record(bytes uint64) {
	c.Transfers.Add(1)
	c.Bytes.Add(bytes)
	for i, bucket := range SizeBuckets {
		if bytes <= bucket {
			c.SizeBuckets[i].Add(1)
		}
	}
}

func (c *ChannelMetrics) reset() {
	c.Transfers.Store(0)
	c.Bytes.Store(0)
	c.Waits.Store(0)
	for i := range c.SizeBuckets {
		c.SizeBuckets[i].Store(0)
	}
}

// Metrics tracks the traffic and sessions of one server
type Metrics struct {
	H2T     ChannelMetrics
	T2H     ChannelMetrics
	Mgmt    ChannelMetrics
	MgmtRsp ChannelMetrics

	// Session counters
	Sessions      atomic.Uint64 // Client sessions accepted
	SessionErrors atomic.Uint64 // Sessions that ended with an error

	// Server lifecycle
	StartTime atomic.Int64 // Server start timestamp (UnixNano)
	StopTime  atomic.Int64 // Server stop timestamp (UnixNano)
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// Channel returns the counters for a channel name, or nil for an unknown
// name.
func (m *Metrics) Channel(name string) *ChannelMetrics {
	switch name {
	case driver.ChannelH2T:
		return &m.H2T
	case driver.ChannelT2H:
		return &m.T2H
	case driver.ChannelMgmt:
		return &m.Mgmt
	case driver.ChannelMgmtRsp:
		return &m.MgmtRsp
	}
	return nil
}

// RecordTransfer records one completed transfer on a channel
func (m *Metrics) RecordTransfer(channel string, bytes uint64) {
	if c := m.Channel(channel); c != nil {
		c.record(bytes)
	}
}

// RecordWait records a poll that found the channel blocked
func (m *Metrics) RecordWait(channel string) {
	if c := m.Channel(channel); c != nil {
		c.Waits.Add(1)
	}
}

// RecordSession records the end of a client session
func (m *Metrics) RecordSession(err error) {
	m.Sessions.Add(1)
	if err != nil {
		m.SessionErrors.Add(1)
	}
}

// Stop marks the server as stopped
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// ChannelSnapshot is a point-in-time copy of one channel's counters
type ChannelSnapshot struct {
	Transfers uint64
	Bytes     uint64
	Waits     uint64

	// Transfer size percentiles (in bytes)
	SizeP50 uint64
	SizeP99 uint64

	// Histogram bucket counts (cumulative)
	SizeHistogram [numSizeBuckets]uint64

	// Computed statistics
	AvgSize   uint64
	Bandwidth float64 // Bytes per second
}

// MetricsSnapshot is a point-in-time snapshot of metrics
type MetricsSnapshot struct {
	H2T     ChannelSnapshot
	T2H     ChannelSnapshot
	Mgmt    ChannelSnapshot
	MgmtRsp ChannelSnapshot

	Sessions      uint64
	SessionErrors uint64
	UptimeNs      uint64

	TotalTransfers uint64
	TotalBytes     uint64
}

// Snapshot creates a point-in-time snapshot of metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Sessions:      m.Sessions.Load(),
		SessionErrors: m.SessionErrors.Load(),
	}

	// Calculate uptime
	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	snap.H2T = m.H2T.snapshot(snap.UptimeNs)
	snap.T2H = m.T2H.snapshot(snap.UptimeNs)
	snap.Mgmt = m.Mgmt.snapshot(snap.UptimeNs)
	snap.MgmtRsp = m.MgmtRsp.snapshot(snap.UptimeNs)

	for _, c := range []ChannelSnapshot{snap.H2T, snap.T2H, snap.Mgmt, snap.MgmtRsp} {
		snap.TotalTransfers += c.Transfers
		snap.TotalBytes += c.Bytes
	}
	return snap
}

func (c *ChannelMetrics) snapshot(uptimeNs uint64) ChannelSnapshot {
	snap := ChannelSnapshot{
		Transfers: c.Transfers.Load(),
		Bytes:     c.Bytes.Load(),
		Waits:     c.Waits.Load(),
	}
	for i := 0; i < numSizeBuckets; i++ {
		snap.SizeHistogram[i] = c.SizeBuckets[i].Load()
	}
	if snap.Transfers > 0 {
		snap.AvgSize = snap.Bytes / snap.Transfers
		snap.SizeP50 = percentile(snap.SizeHistogram, snap.Transfers, 0.50)
		snap.SizeP99 = percentile(snap.SizeHistogram, snap.Transfers, 0.99)
	}
	if uptimeNs > 0 {
		snap.Bandwidth = float64(snap.Bytes) / (float64(uptimeNs) / 1e9)
	}
	return snap
}

// percentile estimates the transfer size at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
func percentile(hist [numSizeBuckets]uint64, total uint64, p float64) uint64 {
	targetCount := uint64(math.Ceil(float64(total) * p))

	prevBucket := uint64(0)
	for i, bucket := range SizeBuckets {
		bucketCount := hist[i]
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = hist[i-1]
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	// Larger than every bucket
	return SizeBuckets[numSizeBuckets-1]
}

// Summary renders the snapshot as one human-readable line per channel
func (s MetricsSnapshot) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "uptime %s, %d sessions (%d failed)\n",
		time.Duration(s.UptimeNs).Round(time.Millisecond), s.Sessions, s.SessionErrors)
	for _, c := range []struct {
		name string
		snap ChannelSnapshot
	}{
		{driver.ChannelH2T, s.H2T},
		{driver.ChannelT2H, s.T2H},
		{driver.ChannelMgmt, s.Mgmt},
		{driver.ChannelMgmtRsp, s.MgmtRsp},
	} {
		fmt.Fprintf(&b, "%-8s %s transfers, %s, %s/s, %s waits\n", c.name,
			humanize.Comma(int64(c.snap.Transfers)),
			humanize.IBytes(c.snap.Bytes),
			humanize.IBytes(uint64(c.snap.Bandwidth)),
			humanize.Comma(int64(c.snap.Waits)))
	}
	return b.String()
}

// Reset resets all metrics counters (useful for testing)
func (m *Metrics) Reset() {
	m.H2T.reset()
	m.T2H.reset()
	m.Mgmt.reset()
	m.MgmtRsp.reset()
	m.Sessions.Store(0)
	m.SessionErrors.Store(0)
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer receives per-transfer events from the session pumps
type Observer = stream.Observer

// NoOpObserver is a no-op implementation of Observer
type NoOpObserver = stream.NoopObserver

// MetricsObserver implements Observer using the built-in Metrics
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveUpstream(channel string, bytes int) {
	o.metrics.RecordTransfer(channel, uint64(bytes))
}

func (o *MetricsObserver) ObserveDownstream(channel string, bytes int) {
	o.metrics.RecordTransfer(channel, uint64(bytes))
}

func (o *MetricsObserver) ObserveStall(channel string) {
	o.metrics.RecordWait(channel)
}

func (o *MetricsObserver) ObserveEmptyPoll(channel string) {
	o.metrics.RecordWait(channel)
}

// Compile-time interface check
var _ Observer = (*MetricsObserver)(nil)
var _ Observer = NoOpObserver{}
