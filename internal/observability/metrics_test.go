package observability

import (
	"testing"
	"time"

	"github.com/danmuck/rpcmux/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog/log"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordFrame("client-a", true)
	RecordFrame("client-a", false)
	RecordDrop("client-a")
	SetInFlight("client-a", 3)
	RecordCall("client-a", "replied", 12*time.Millisecond)
	RecordUnmatchedReply("client-a")
	RecordRequestFailure("server-a", "write")
	RecordHTTPRequest("server-a", "GET", "/health", 200, 2*time.Millisecond)

	log.Info().Msg("observability/metrics: registration idempotent and recording paths executed")
}

func TestRecordDropIncrementsCounter(t *testing.T) {
	testlog.Start(t)
	before := testutil.ToFloat64(framesDropped.WithLabelValues("drop-test"))
	RecordDrop("drop-test")
	RecordDrop("drop-test")
	if got := testutil.ToFloat64(framesDropped.WithLabelValues("drop-test")); got != before+2 {
		t.Fatalf("dropped got=%v want=%v", got, before+2)
	}
	SetInFlight("drop-test", 4)
	if got := testutil.ToFloat64(callsInFlight.WithLabelValues("drop-test")); got != 4 {
		t.Fatalf("in flight got=%v want=4", got)
	}
}
