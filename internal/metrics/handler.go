package metrics

import (
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"time"

	dto "github.com/prometheus/client_model/go"
)

// Summary is the JSON response for the metrics summary endpoint.
type Summary struct {
	HTTP       httpSummary     `json:"http"`
	Cycles     cycleSummary    `json:"cycles"`
	Deliveries deliverySummary `json:"deliveries"`
	Dispatch   dispatchSummary `json:"dispatch"`
	Collection collectionInfo  `json:"collection"`
	RateLimit  rejectionInfo   `json:"rateLimit"`
	Auth       rejectionInfo   `json:"auth"`
	DB         dbInfo          `json:"db"`
	Server     serverInfo      `json:"server"`
}

type httpSummary struct {
	TotalRequests float64 `json:"totalRequests"`
	ErrorRate     float64 `json:"errorRate"`
	P50Latency    float64 `json:"p50Latency"`
	P95Latency    float64 `json:"p95Latency"`
	P99Latency    float64 `json:"p99Latency"`
}

type cycleSummary struct {
	Opened      float64 `json:"opened"`
	Closed      float64 `json:"closed"`
	Invitations float64 `json:"invitations"`
}

type deliverySummary struct {
	Sent   float64 `json:"sent"`
	Failed float64 `json:"failed"`
}

type dispatchSummary struct {
	Skips        map[string]float64 `json:"skips"`
	Errors       float64            `json:"errors"`
	P50Duration  float64            `json:"p50Duration"`
	LastPassUnix float64            `json:"lastPassUnix"`
}

type collectionInfo struct {
	Stored          float64 `json:"stored"`
	Invalid         float64 `json:"invalid"`
	TokenRejections float64 `json:"tokenRejections"`
}

type rejectionInfo struct {
	Rejections float64 `json:"rejections"`
}

type serverInfo struct {
	StartTime     float64 `json:"startTime"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

type dbInfo struct {
	TotalConns    float64 `json:"totalConns"`
	IdleConns     float64 `json:"idleConns"`
	AcquiredConns float64 `json:"acquiredConns"`
}

// Handler returns an http.HandlerFunc that serves a JSON summary of the
// registry.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := m.Summarize()
		if err != nil {
			http.Error(w, "failed to gather metrics", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store")
		_ = json.NewEncoder(w).Encode(summary)
	}
}

// Summarize gathers the registry into a Summary.
func (m *Metrics) Summarize() (*Summary, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}

	fam := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		fam[f.GetName()] = f
	}

	start := gaugeValue(fam["teambeat_server_start_time_seconds"])
	return &Summary{
		HTTP: httpSummary{
			TotalRequests: sumCounter(fam["teambeat_http_requests_total"]),
			ErrorRate:     computeErrorRate(fam["teambeat_http_requests_total"]),
			P50Latency:    histogramPercentile(fam["teambeat_http_request_duration_seconds"], 0.50),
			P95Latency:    histogramPercentile(fam["teambeat_http_request_duration_seconds"], 0.95),
			P99Latency:    histogramPercentile(fam["teambeat_http_request_duration_seconds"], 0.99),
		},
		Cycles: cycleSummary{
			Opened:      counterValue(fam["teambeat_cycles_opened_total"]),
			Closed:      counterValue(fam["teambeat_cycles_closed_total"]),
			Invitations: counterValue(fam["teambeat_invitations_issued_total"]),
		},
		Deliveries: deliverySummary{
			Sent:   sumCounterWithLabel(fam["teambeat_deliveries_total"], "status", "sent"),
			Failed: sumCounterWithLabel(fam["teambeat_deliveries_total"], "status", "failed"),
		},
		Dispatch: dispatchSummary{
			Skips:        counterByLabel(fam["teambeat_dispatch_skips_total"], "reason"),
			Errors:       sumCounter(fam["teambeat_dispatch_errors_total"]),
			P50Duration:  histogramPercentile(fam["teambeat_dispatch_pass_duration_seconds"], 0.50),
			LastPassUnix: gaugeValue(fam["teambeat_dispatch_last_pass_timestamp_seconds"]),
		},
		Collection: collectionInfo{
			Stored:          sumCounterWithLabel(fam["teambeat_submissions_total"], "outcome", "stored"),
			Invalid:         sumCounterWithLabel(fam["teambeat_submissions_total"], "outcome", "invalid"),
			TokenRejections: sumCounter(fam["teambeat_token_rejections_total"]),
		},
		RateLimit: rejectionInfo{Rejections: sumCounter(fam["teambeat_ratelimit_rejections_total"])},
		Auth:      rejectionInfo{Rejections: counterValue(fam["teambeat_auth_failures_total"])},
		DB: dbInfo{
			TotalConns:    gaugeValue(fam["teambeat_db_pool_total_conns"]),
			IdleConns:     gaugeValue(fam["teambeat_db_pool_idle_conns"]),
			AcquiredConns: gaugeValue(fam["teambeat_db_pool_acquired_conns"]),
		},
		Server: serverInfo{
			StartTime:     start,
			UptimeSeconds: float64(time.Now().Unix()) - start,
		},
	}, nil
}

// --- Prometheus metric helpers ---

func sumCounter(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() != nil {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func gaugeValue(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	ms := f.GetMetric()
	if len(ms) == 0 {
		return 0
	}
	if ms[0].GetGauge() != nil {
		return ms[0].GetGauge().GetValue()
	}
	return 0
}

func counterValue(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	ms := f.GetMetric()
	if len(ms) == 0 {
		return 0
	}
	if ms[0].GetCounter() != nil {
		return ms[0].GetCounter().GetValue()
	}
	return 0
}

func labelValue(m *dto.Metric, name string) (string, bool) {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue(), true
		}
	}
	return "", false
}

func sumCounterWithLabel(f *dto.MetricFamily, labelName, want string) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		if v, ok := labelValue(m, labelName); ok && v == want && m.GetCounter() != nil {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

// counterByLabel sums a counter family grouped by one label.
func counterByLabel(f *dto.MetricFamily, labelName string) map[string]float64 {
	out := map[string]float64{}
	if f == nil {
		return out
	}
	for _, m := range f.GetMetric() {
		v, ok := labelValue(m, labelName)
		if !ok || m.GetCounter() == nil {
			continue
		}
		out[v] += m.GetCounter().GetValue()
	}
	return out
}

func computeErrorRate(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total, errors float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() == nil {
			continue
		}
		v := m.GetCounter().GetValue()
		total += v
		if code, ok := labelValue(m, "status_code"); ok && len(code) > 0 && code[0] >= '4' {
			errors += v
		}
	}
	if total == 0 {
		return 0
	}
	return errors / total
}

// histogramPercentile computes a percentile from aggregated histogram buckets
// using linear interpolation.
func histogramPercentile(f *dto.MetricFamily, q float64) float64 {
	if f == nil {
		return 0
	}

	type bucket struct {
		upperBound      float64
		cumulativeCount uint64
	}
	var totalCount uint64
	bucketMap := make(map[float64]uint64)

	for _, m := range f.GetMetric() {
		h := m.GetHistogram()
		if h == nil {
			continue
		}
		totalCount += h.GetSampleCount()
		for _, b := range h.GetBucket() {
			bucketMap[b.GetUpperBound()] += b.GetCumulativeCount()
		}
	}

	if totalCount == 0 {
		return 0
	}

	buckets := make([]bucket, 0, len(bucketMap))
	for ub, count := range bucketMap {
		buckets = append(buckets, bucket{upperBound: ub, cumulativeCount: count})
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].upperBound < buckets[j].upperBound
	})

	rank := q * float64(totalCount)

	var prevBound float64
	var prevCount uint64
	for _, b := range buckets {
		if math.IsInf(b.upperBound, 1) {
			break
		}
		if float64(b.cumulativeCount) >= rank {
			bucketCount := b.cumulativeCount - prevCount
			if bucketCount == 0 {
				return b.upperBound
			}
			fraction := (rank - float64(prevCount)) / float64(bucketCount)
			return prevBound + fraction*(b.upperBound-prevBound)
		}
		prevBound = b.upperBound
		prevCount = b.cumulativeCount
	}

	for i := len(buckets) - 1; i >= 0; i-- {
		if !math.IsInf(buckets[i].upperBound, 1) {
			return buckets[i].upperBound
		}
	}
	return 0
}
