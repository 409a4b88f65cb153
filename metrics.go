package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	hookCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gitorious_recv_hooks_total",
		Help: "Webhook deliveries received, by endpoint strategy.",
	}, []string{"strategy"})
	responseCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gitorious_recv_responses_total",
		Help: "Webhook responses, by status code.",
	}, []string{"code"})
	matchCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gitorious_recv_project_matches_total",
		Help: "Projects matched by a push, by outcome (triggered, not_polling).",
	}, []string{"outcome"})
	scanFailureCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gitorious_recv_scan_failures_total",
		Help: "Projects that could not be inspected during a scan.",
	})
	pollCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gitorious_recv_polls_total",
		Help: "Project polls run, by result.",
	}, []string{"result"})
)
