// SPDX-License-Identifier: Apache-2.0

// Package observe provides pool.Callbacks that report pool events to logrus
// and prometheus.
package observe

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/wundergraph/go-memkit/pool"
)

// Logging logs every pool event at debug level.
type Logging struct {
	logger logrus.FieldLogger
}

// NewLogging returns callbacks logging the events of the named pool.
func NewLogging(logger logrus.FieldLogger, poolName string) *Logging {
	return &Logging{logger: logger.WithField("pool", poolName)}
}

func (l *Logging) log(action string, v pool.Poolable) {
	l.logger.WithFields(logrus.Fields{
		"action":       action,
		"memory_usage": v.MemoryUsage(),
	}).Debug("pool event")
}

func (l *Logging) OnCreate(v pool.Poolable)   { l.log("pool_create", v) }
func (l *Logging) OnDestroy(v pool.Poolable)  { l.log("pool_destroy", v) }
func (l *Logging) OnCheckout(v pool.Poolable) { l.log("pool_checkout", v) }
func (l *Logging) OnCheckin(v pool.Poolable)  { l.log("pool_checkin", v) }

// Metrics holds the pool collectors. Use For to get callbacks for one pool.
type Metrics struct {
	Created     *prometheus.CounterVec
	Destroyed   *prometheus.CounterVec
	Checkouts   *prometheus.CounterVec
	Checkins    *prometheus.CounterVec
	MemoryUsage *prometheus.HistogramVec
}

// NewMetrics creates the pool collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	counter := func(name, help string) *prometheus.CounterVec {
		return promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "memkit",
			Subsystem: "pool",
			Name:      name,
			Help:      help,
		}, []string{"pool"})
	}
	return &Metrics{
		Created:   counter("created_total", "Number of values created by the pool factory"),
		Destroyed: counter("destroyed_total", "Number of values destroyed by the pool"),
		Checkouts: counter("checkouts_total", "Number of idle values handed out"),
		Checkins:  counter("checkins_total", "Number of values returned to the pool"),
		MemoryUsage: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "memkit",
			Subsystem: "pool",
			Name:      "checkin_memory_bytes",
			Help:      "Memory usage of values at checkin",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10), // 64B to 16MB
		}, []string{"pool"}),
	}
}

// For returns callbacks recording the events of the named pool.
func (m *Metrics) For(poolName string) pool.Callbacks {
	return &poolMetrics{
		created:   m.Created.WithLabelValues(poolName),
		destroyed: m.Destroyed.WithLabelValues(poolName),
		checkouts: m.Checkouts.WithLabelValues(poolName),
		checkins:  m.Checkins.WithLabelValues(poolName),
		usage:     m.MemoryUsage.WithLabelValues(poolName),
	}
}

type poolMetrics struct {
	created, destroyed, checkouts, checkins prometheus.Counter
	usage                                   prometheus.Observer
}

func (m *poolMetrics) OnCreate(pool.Poolable)   { m.created.Inc() }
func (m *poolMetrics) OnDestroy(pool.Poolable)  { m.destroyed.Inc() }
func (m *poolMetrics) OnCheckout(pool.Poolable) { m.checkouts.Inc() }

func (m *poolMetrics) OnCheckin(v pool.Poolable) {
	m.checkins.Inc()
	m.usage.Observe(float64(v.MemoryUsage()))
}

// Chain forwards every event to each of its callbacks in order.
type Chain []pool.Callbacks

func (c Chain) OnCreate(v pool.Poolable) {
	for _, cb := range c {
		cb.OnCreate(v)
	}
}

func (c Chain) OnDestroy(v pool.Poolable) {
	for _, cb := range c {
		cb.OnDestroy(v)
	}
}

func (c Chain) OnCheckout(v pool.Poolable) {
	for _, cb := range c {
		cb.OnCheckout(v)
	}
}

func (c Chain) OnCheckin(v pool.Poolable) {
	for _, cb := range c {
		cb.OnCheckin(v)
	}
}
