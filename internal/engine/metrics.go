package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commandsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hackgrid",
		Subsystem: "engine",
		Name:      "commands_total",
		Help:      "Engine commands processed, by kind.",
	}, []string{"kind"})

	processesCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hackgrid",
		Subsystem: "engine",
		Name:      "processes_completed_total",
		Help:      "Terminal transitions, by result.",
	}, []string{"result"})

	runningProcesses = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "hackgrid",
		Subsystem: "engine",
		Name:      "running_processes",
		Help:      "Processes currently in RUNNING state.",
	})

	evictionPauses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hackgrid",
		Subsystem: "engine",
		Name:      "eviction_pauses_total",
		Help:      "Processes paused to admit a higher-priority start.",
	})

	detectionTriggers = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hackgrid",
		Subsystem: "engine",
		Name:      "detection_triggers_total",
		Help:      "Detection rolls that alerted the victim.",
	})

	unknownActions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hackgrid",
		Subsystem: "engine",
		Name:      "unknown_actions_total",
		Help:      "Commands naming an unregistered action variant.",
	})
)
