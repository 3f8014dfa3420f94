package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var BusEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guildkeeper_bus_events",
	Help: "Number of normalized events published on the bus",
}, []string{"kind"})

var BusHandlerPanics = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guildkeeper_bus_handler_panics",
	Help: "Number of subscriber panics recovered by the bus",
}, []string{"subscriber"})

var BusHandlerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guildkeeper_bus_handler_errors",
	Help: "Number of subscriber errors returned to the bus",
}, []string{"subscriber"})

var RegexEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guildkeeper_regex_evaluations",
	Help: "Number of regex evaluations by outcome",
}, []string{"outcome"})

var RegexDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "guildkeeper_regex_duration_sec",
	Help:    "Duration of pooled regex evaluations",
	Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
})

var TriggerFires = promauto.NewCounter(prometheus.CounterOpts{
	Name: "guildkeeper_trigger_fires",
	Help: "Number of triggers whose responses were executed",
})

var TriggerDisables = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guildkeeper_trigger_disables",
	Help: "Number of triggers disabled automatically",
}, []string{"reason"})

var ModlogEntries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guildkeeper_modlog_entries",
	Help: "Number of audit entries posted",
}, []string{"kind"})

var BulkArchives = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guildkeeper_bulk_archives",
	Help: "Number of bulk delete archive submissions by outcome",
}, []string{"outcome"})

var StarboardMirrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guildkeeper_starboard_mirrors",
	Help: "Number of starboard mirror operations",
}, []string{"op"})

var ReactionRoleChanges = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guildkeeper_reaction_role_changes",
	Help: "Number of reaction role grants and revokes",
}, []string{"op"})
