package deployments

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"testing"
)

func TestGrafanaDashboardJSONIsValid(t *testing.T) {
	root := repoRoot(t)
	path := filepath.Join(root, "deployments", "observability", "grafana", "querypilot_slo_dashboard.json")

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read dashboard file: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(content, &decoded); err != nil {
		t.Fatalf("dashboard JSON parse error: %v", err)
	}

	title, _ := decoded["title"].(string)
	if strings.TrimSpace(title) == "" {
		t.Fatal("dashboard title is required")
	}
	panels, ok := decoded["panels"].([]any)
	if !ok || len(panels) == 0 {
		t.Fatal("dashboard must include at least one panel")
	}
}

func TestPrometheusRulesContainExpectedAlerts(t *testing.T) {
	text := readAsset(t, "prometheus", "querypilot_rules.yaml")

	requiredAlerts := []string{
		"QueryPilotAgentRunLatencyP95High",
		"QueryPilotAgentFailureRatioHigh",
		"QueryPilotRefinerExhaustionSpike",
		"QueryPilotSanitizerRejectionsSpike",
		"QueryPilotLLMLatencyP95High",
		"QueryPilotHistoryWritesFailing",
		"QueryPilotHTTPErrorRateHigh",
	}
	for _, alertName := range requiredAlerts {
		if !strings.Contains(text, "alert: "+alertName) {
			t.Fatalf("rules missing alert %q", alertName)
		}
	}

	requiredMetrics := []string{
		"querypilot:slo_agent_run_latency_seconds_p95",
		"querypilot:slo_agent_failure_ratio_15m",
		"querypilot:slo_refiner_exhausted_15m",
		"querypilot:slo_sanitizer_rejections_15m",
		"querypilot:slo_llm_latency_seconds_p95",
		"querypilot:slo_history_write_failures_30m",
		"querypilot:slo_http_error_rate_5m",
	}
	for _, metricName := range requiredMetrics {
		matched, err := regexp.MatchString(regexp.QuoteMeta(metricName), text)
		if err != nil {
			t.Fatalf("regexp error for metric %q: %v", metricName, err)
		}
		if !matched {
			t.Fatalf("rules missing metric reference %q", metricName)
		}
	}
}

func TestPrometheusScrapeExampleContainsMetricsPathAndRules(t *testing.T) {
	text := readAsset(t, "prometheus", "prometheus-scrape.example.yaml")

	for _, token := range []string{
		"metrics_path: /v1/metrics",
		"querypilot_rules.yaml",
		"querypilot_recording_rules.yaml",
		"job_name: querypilot-api",
	} {
		if !strings.Contains(text, token) {
			t.Fatalf("scrape example missing %q", token)
		}
	}
}

func TestRecordingRulesOnlyReferenceExportedMetrics(t *testing.T) {
	text := readAsset(t, "prometheus", "querypilot_recording_rules.yaml")

	exported := map[string]bool{
		"querypilot_agent_runs_total":              true,
		"querypilot_agent_run_duration_seconds":    true,
		"querypilot_refiner_attempts":              true,
		"querypilot_sanitizer_rejections_total":    true,
		"querypilot_toolloop_iterations":           true,
		"querypilot_llm_request_duration_seconds":  true,
		"querypilot_history_write_failures_total":  true,
		"querypilot_http_requests_total":           true,
		"querypilot_http_request_duration_seconds": true,
		"querypilot_auth_failures_total":           true,
	}
	suffixes := regexp.MustCompile(`_(bucket|count|sum)$`)
	for _, name := range regexp.MustCompile(`\bquerypilot_[a-z_]+`).FindAllString(text, -1) {
		base := suffixes.ReplaceAllString(name, "")
		if !exported[name] && !exported[base] {
			t.Fatalf("recording rules reference unknown metric %q", name)
		}
	}
	if !strings.Contains(text, "record: querypilot:slo_http_error_rate_5m") {
		t.Fatal("recording rules missing http error rate")
	}
}

func readAsset(t *testing.T, parts ...string) string {
	t.Helper()
	path := filepath.Join(append([]string{repoRoot(t), "deployments", "observability"}, parts...)...)
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(content)
}

func repoRoot(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(filename), ".."))
}
