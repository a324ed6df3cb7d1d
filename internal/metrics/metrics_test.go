package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"keeprates/internal/rates"
)

func TestRecordersUpdateCounters(t *testing.T) {
	m := New()

	m.ObserveAttempt("ndb", &rates.FetchError{SourceID: "ndb", URL: "u", Err: errors.New("x")})
	m.ObserveAttempt("ndb", nil)
	m.RecordResult(rates.Success("ndb", rates.NewSample("ndb", ""), 2, time.Second))
	m.RecordBatch(rates.NewBatchResult("j", time.Now(), []rates.AttemptResult{
		rates.Success("ndb", rates.NewSample("ndb", ""), 2, time.Second),
	}, time.Second))
	m.RecordAdmission(AdmissionDenied)
	m.RecordPersistenceError("save_sample")

	if got := testutil.ToFloat64(m.attemptsTotal.WithLabelValues("ndb", "failure", rates.KindFetch)); got != 1 {
		t.Fatalf("失败尝试计数应为 1, 实际 %v", got)
	}
	if got := testutil.ToFloat64(m.resultsTotal.WithLabelValues("ndb", "success")); got != 1 {
		t.Fatalf("成功结果计数应为 1, 实际 %v", got)
	}
	if got := testutil.ToFloat64(m.batchesTotal.WithLabelValues(rates.StatusSuccess)); got != 1 {
		t.Fatalf("批次计数应为 1, 实际 %v", got)
	}
	if got := testutil.ToFloat64(m.admissionsTotal.WithLabelValues(AdmissionDenied)); got != 1 {
		t.Fatalf("拒绝计数应为 1, 实际 %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.RecordAdmission(AdmissionAllowed)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("期望 200, 实际 %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "keeprates_admission_decisions_total") {
		t.Fatal("输出应包含准入指标")
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveAttempt("x", nil)
	m.RecordResult(rates.AttemptResult{})
	m.RecordBatch(rates.BatchResult{})
	m.RecordAdmission(AdmissionAllowed)
	m.RecordPersistenceError("x")
	if m.Registry() != nil {
		t.Fatal("nil 指标的 Registry 应为 nil")
	}
}
