package scheduler

import "github.com/prometheus/client_golang/prometheus"

var (
	escalationsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sla_escalations_created_total",
		Help: "SLA threshold escalations created by the scheduler.",
	})
	ticketsAutoClosed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tickets_auto_closed_total",
		Help: "Tickets closed by the auto-close scheduler.",
	}, []string{"reason"})
	schedulerRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sla_scheduler_runs_total",
		Help: "Completed scheduler runs by job and result.",
	}, []string{"job", "result"})
	schedulerSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sla_scheduler_skipped_total",
		Help: "Scheduler runs skipped because the previous run was still in flight.",
	}, []string{"job"})
)

func init() {
	prometheus.MustRegister(escalationsCreated, ticketsAutoClosed, schedulerRuns, schedulerSkipped)
}
