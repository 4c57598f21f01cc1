package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicketsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tickets_created_total",
		Help: "Tickets created through the api.",
	})
	TicketTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ticket_transitions_total",
		Help: "Status transitions applied through the api, by target status.",
	}, []string{"to"})
	ManualEscalationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "manual_escalations_total",
		Help: "Escalations raised by staff.",
	})
)

func init() {
	prometheus.MustRegister(TicketsCreatedTotal, TicketTransitionsTotal, ManualEscalationsTotal)
}

// Handler exposes the default registry, scheduler counters included.
func Handler() gin.HandlerFunc { return gin.WrapH(promhttp.Handler()) }
