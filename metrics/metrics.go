// Package metrics exposes the prometheus counters and gauges for Sender,
// Pool and the message box: frame/message throughput, rpc results and
// errors, bad-message and resend counts, outstanding requests, migrations,
// and gap/difference-fetch activity.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gram"

// Registry is a dedicated registry rather than the global default, so a
// host application embedding this library doesn't collide with its own
// metric names.
var Registry = prometheus.NewRegistry()

var (
	framesSent = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "sender", Name: "frames_sent_total",
		Help: "Encrypted frames written to the transport.",
	}, []string{"dc"})

	msgsSent = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "sender", Name: "messages_sent_total",
		Help: "Content and service messages packed into outbound frames.",
	}, []string{"dc"})

	rpcResults = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "sender", Name: "rpc_results_total",
		Help: "rpc_result values matched to a pending request.",
	}, []string{"dc"})

	rpcErrors = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "sender", Name: "rpc_errors_total",
		Help: "rpc_result values whose inner body was an rpc_error.",
	}, []string{"dc"})

	badMessages = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "sender", Name: "bad_messages_total",
		Help: "bad_msg_notification/bad_server_salt events received.",
	}, []string{"dc"})

	resends = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "sender", Name: "resends_total",
		Help: "Requests resent after a retryable bad_msg_notification.",
	}, []string{"dc"})

	fatal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "sender", Name: "fatal_total",
		Help: "Fatal transport/session errors that tore down a Sender.",
	}, []string{"dc"})

	newSession = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "sender", Name: "new_session_created_total",
		Help: "new_session_created notifications received.",
	}, []string{"dc"})

	updatesForwarded = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "sender", Name: "updates_forwarded_total",
		Help: "Inbound values forwarded to the update stream per the dispatch fallthrough.",
	}, []string{"dc"})

	outstandingRequests = promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "pool", Name: "outstanding_requests",
		Help: "Requests awaiting a reply, per data center.",
	}, []string{"dc"})

	migrations = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "pool", Name: "migrations_total",
		Help: "Home-DC migrations driven by an RPC 303 redirect.",
	}, []string{"from_dc", "to_dc"})

	gapsDetected = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "box", Name: "gaps_detected_total",
		Help: "pts/qts/seq gaps observed by the message box, by entry kind.",
	}, []string{"entry"})

	differenceFetches = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "box", Name: "difference_fetches_total",
		Help: "getDifference/getChannelDifference round trips issued.",
	}, []string{"entry"})
)

// Sender is a per-DC bundle of already-curried Sender metrics, so call
// sites never repeat a "dc" label value by hand.
type Sender struct {
	FramesSent       prometheus.Counter
	MsgsSent         prometheus.Counter
	RPCResults       prometheus.Counter
	RPCErrors        prometheus.Counter
	BadMessages      prometheus.Counter
	Resends          prometheus.Counter
	Fatal            prometheus.Counter
	NewSession       prometheus.Counter
	UpdatesForwarded prometheus.Counter
}

// NewSender returns a Sender metrics bundle curried to dcID.
func NewSender(dcID int32) *Sender {
	dc := dcLabel(dcID)
	return &Sender{
		FramesSent:       framesSent.WithLabelValues(dc),
		MsgsSent:         msgsSent.WithLabelValues(dc),
		RPCResults:       rpcResults.WithLabelValues(dc),
		RPCErrors:        rpcErrors.WithLabelValues(dc),
		BadMessages:      badMessages.WithLabelValues(dc),
		Resends:          resends.WithLabelValues(dc),
		Fatal:            fatal.WithLabelValues(dc),
		NewSession:       newSession.WithLabelValues(dc),
		UpdatesForwarded: updatesForwarded.WithLabelValues(dc),
	}
}

// SetOutstandingRequests sets the pending-reply gauge for dcID. The Pool
// calls it only to reset the gauge to zero when it disconnects dcID.
func SetOutstandingRequests(dcID int32, n int) {
	outstandingRequests.WithLabelValues(dcLabel(dcID)).Set(float64(n))
}

// ObserveMigration records a home-DC migration.
func ObserveMigration(fromDC, toDC int32) {
	migrations.WithLabelValues(dcLabel(fromDC), dcLabel(toDC)).Inc()
}

// GapDetected records a possible-gap observation for the named entry kind
// ("common", "secondary", or "channel").
func GapDetected(entry string) { gapsDetected.WithLabelValues(entry).Inc() }

// DifferenceFetched records a (channel) difference round trip for the
// named entry kind.
func DifferenceFetched(entry string) { differenceFetches.WithLabelValues(entry).Inc() }

func dcLabel(dcID int32) string { return strconv.Itoa(int(dcID)) }

// Handler returns an http.Handler serving this package's Registry in the
// standard Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
