// Package metrics counts bus events and command outcomes with Prometheus.
// Nothing is exported over the network; callers own the registry.
package metrics

import (
	"AtmSP/internal/core/command"
	"AtmSP/internal/core/domain"
	"AtmSP/internal/core/ports"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "atmsp"

// Collector holds the counters. It is safe for concurrent use.
type Collector struct {
	events  *prometheus.CounterVec
	replies *prometheus.CounterVec
}

func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events published on the bus, by kind.",
		}, []string{"kind"}),
		replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_replies_total",
			Help:      "Resolved command replies, by provider, command and outcome.",
		}, []string{"sp", "command", "outcome"}),
	}
	for _, col := range []prometheus.Collector{c.events, c.replies} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("could not register metrics: %w", err)
		}
	}
	return c, nil
}

// Attach subscribes the collector to bus.
func (c *Collector) Attach(bus ports.EventBus) ports.SubscriptionID {
	return bus.Subscribe(c.Handle)
}

func (c *Collector) Handle(e domain.Event) {
	c.events.WithLabelValues(string(e.Kind())).Inc()
}

// ObserveReply counts the future's reply once it resolves and returns the
// same future so calls can be chained.
func (c *Collector) ObserveReply(sp, cmd string, f *command.Future) *command.Future {
	go func() {
		<-f.Done()
		reply, _ := f.Get()
		outcome := "ok"
		if !reply.OK() {
			outcome = reply.Error()
			if outcome == "" {
				outcome = "failed"
			}
		}
		c.replies.WithLabelValues(sp, cmd, outcome).Inc()
	}()
	return f
}

// EventCount returns the current counter for kind.
func (c *Collector) EventCount(kind domain.EventKind) float64 {
	return counterValue(c.events.WithLabelValues(string(kind)))
}

// ReplyCount returns the current counter for one provider/command/outcome.
func (c *Collector) ReplyCount(sp, cmd, outcome string) float64 {
	return counterValue(c.replies.WithLabelValues(sp, cmd, outcome))
}
