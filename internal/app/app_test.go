package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"keeprates/internal/config"
	"keeprates/internal/rates"
	"keeprates/internal/storage/sqlite"
)

// newTestApp loads config from a YAML body with a sqlite database in a temp dir.
func newTestApp(t *testing.T, extra string) (*App, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "keeprates.db")
	body := fmt.Sprintf("database:\n  driver: sqlite\n  sqlite_path: %s\n%s", dbPath, extra)

	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	return NewApp(cfg, zerolog.Nop()), dbPath
}

func seedSamples(t *testing.T, path string, samples ...rates.Sample) {
	t.Helper()
	store, err := sqlite.New(path)
	if err != nil {
		t.Fatalf("打开 sqlite 失败: %v", err)
	}
	defer store.Close()
	for _, s := range samples {
		if err := store.SaveSample(context.Background(), s); err != nil {
			t.Fatalf("写入样本失败: %v", err)
		}
	}
}

func sample(id string, at time.Time, buy, sell string, valid bool) rates.Sample {
	s := rates.NewSample(id, "https://"+id+".test")
	s.ObservedAt = at
	s.BuyingRate = rates.Rate(decimal.RequireFromString(buy))
	s.SellingRate = rates.Rate(decimal.RequireFromString(sell))
	s.IsValid = valid
	return s
}

func TestParseTime(t *testing.T) {
	got, err := ParseTime("2026-03-01")
	if err != nil || !got.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("日期解析错误: %v %v", got, err)
	}

	got, err = ParseTime("2026-03-01T10:30:00+05:30")
	if err != nil || !got.Equal(time.Date(2026, 3, 1, 5, 0, 0, 0, time.UTC)) {
		t.Fatalf("RFC3339 解析错误: %v %v", got, err)
	}

	if _, err := ParseTime("yesterday"); err == nil {
		t.Fatal("非法时间应返回错误")
	}
}

func TestNewRegistryFromConfig(t *testing.T) {
	a, _ := newTestApp(t, `sources:
  cbsl:
    enabled: true
  hnb:
    enabled: true
    kind: json
    url: https://rates.example.test/api
`)

	registry, err := a.newRegistry()
	if err != nil {
		t.Fatalf("构建 registry 失败: %v", err)
	}
	want := []string{"combank", "ndb", "sampath", "cbsl", "hnb"}
	got := registry.IDs()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("来源列表错误: got %v want %v", got, want)
	}
}

func TestShowSamplesAndLogs(t *testing.T) {
	a, dbPath := newTestApp(t, "")
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	seedSamples(t, dbPath,
		sample("combank", base, "296.5", "304.25", true),
		sample("ndb", base.Add(time.Minute), "297", "303.5", true),
		sample("sampath", base.Add(2*time.Minute), "1", "2", false),
	)

	var out bytes.Buffer
	if err := a.Show(context.Background(), ShowOptions{Limit: 10, Out: &out}); err != nil {
		t.Fatalf("show 失败: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "296.5000") || !strings.Contains(text, "ndb") {
		t.Fatalf("输出缺少样本: %s", text)
	}
	if strings.Contains(text, "sampath") {
		t.Fatalf("默认不应显示无效样本: %s", text)
	}

	out.Reset()
	if err := a.Show(context.Background(), ShowOptions{Limit: 10, SourceID: "sampath", IncludeInvalid: true, Out: &out}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "sampath") {
		t.Fatalf("应显示无效样本: %s", out.String())
	}

	out.Reset()
	if err := a.Show(context.Background(), ShowOptions{Limit: 10, Logs: true, Out: &out}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "no scrape logs found") {
		t.Fatalf("空日志提示错误: %s", out.String())
	}
}

func TestExportCSV(t *testing.T) {
	a, dbPath := newTestApp(t, "")
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	seedSamples(t, dbPath,
		sample("combank", base, "296.5", "304.25", true),
		sample("combank", base.Add(48*time.Hour), "298", "305", true),
	)

	from := base.Add(-time.Hour)
	to := base.Add(time.Hour)
	csvPath := filepath.Join(t.TempDir(), "nested", "rates.csv")
	if err := a.Export(context.Background(), ExportOptions{From: &from, To: &to, CSVPath: csvPath}); err != nil {
		t.Fatalf("导出失败: %v", err)
	}

	file, err := os.Open(csvPath)
	if err != nil {
		t.Fatalf("CSV 文件未生成: %v", err)
	}
	defer file.Close()
	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("期望表头加 1 行, 实际 %d 行", len(records))
	}
	if records[1][1] != "combank" || records[1][3] != "296.5" || records[1][7] != "true" {
		t.Fatalf("CSV 内容错误: %v", records[1])
	}
	if records[1][6] != "" {
		t.Fatalf("缺失的汇率应为空字段: %q", records[1][6])
	}
}

func TestExportValidatesArguments(t *testing.T) {
	a, _ := newTestApp(t, "")

	if err := a.Export(context.Background(), ExportOptions{}); err == nil {
		t.Fatal("缺少 --csv 应返回错误")
	}

	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	to := from.Add(-time.Hour)
	if err := a.Export(context.Background(), ExportOptions{From: &from, To: &to, CSVPath: "x.csv"}); err == nil {
		t.Fatal("from 晚于 to 应返回错误")
	}
}

func TestScrapePersistsJSONSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":[{"currencyCode":"EUR","buyingRate":"320"},{"currencyCode":"USD","buyingRate":"296.50","sellingRate":"304.25"}]}`)
	}))
	defer srv.Close()

	a, dbPath := newTestApp(t, fmt.Sprintf(`sources:
  combank:
    enabled: false
  ndb:
    enabled: false
  sampath:
    enabled: false
  hnb:
    enabled: true
    kind: json
    url: %s
`, srv.URL))

	var out bytes.Buffer
	if err := a.Scrape(context.Background(), ScrapeOptions{Out: &out}); err != nil {
		t.Fatalf("抓取失败: %v", err)
	}
	if !strings.Contains(out.String(), "hnb") || !strings.Contains(out.String(), "296.5000") {
		t.Fatalf("输出缺少结果: %s", out.String())
	}

	store, err := sqlite.New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	logs, err := store.ListRecentBatchLogs(context.Background(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 || logs[0].Status != rates.StatusSuccess || logs[0].RatesFound != 1 {
		t.Fatalf("批次日志错误: %+v", logs)
	}
}

func TestScrapeUnknownSource(t *testing.T) {
	a, _ := newTestApp(t, "")

	var out bytes.Buffer
	err := a.Scrape(context.Background(), ScrapeOptions{Sources: []string{"nope"}, Out: &out})
	if err == nil {
		t.Fatal("未知来源应返回错误")
	}
}

func TestSourcesListsConfigured(t *testing.T) {
	a, _ := newTestApp(t, "")

	var out bytes.Buffer
	if err := a.Sources(context.Background(), SourcesOptions{Out: &out}); err != nil {
		t.Fatal(err)
	}
	text := out.String()
	for _, id := range []string{"combank", "ndb", "sampath"} {
		if !strings.Contains(text, id) {
			t.Fatalf("缺少来源 %s: %s", id, text)
		}
	}
	if strings.Contains(text, "cbsl") {
		t.Fatalf("cbsl 默认禁用: %s", text)
	}
}

func TestRateLimitStatusWithoutRedis(t *testing.T) {
	a, _ := newTestApp(t, "")

	var out bytes.Buffer
	if err := a.RateLimitStatus(context.Background(), RateLimitOptions{Out: &out}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "scraping_trigger") || !strings.Contains(out.String(), "remaining:  1") {
		t.Fatalf("状态输出错误: %s", out.String())
	}

	if err := a.ResetRateLimit(context.Background(), RateLimitOptions{}); err == nil {
		t.Fatal("未配置 redis 时重置应返回错误")
	}
}
