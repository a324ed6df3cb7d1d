package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"keeprates/internal/rates"
)

func TestParseCBSLLabels(t *testing.T) {
	html := `<html><body>
<div class="rates"><p>TT Buy <span>298.1234</span></p><p>TT Sell <span>306.5000</span></p></div>
<p>Indicative Rate (USD) 302.45</p>
</body></html>`
	sample, err := parseCBSL(html, "u", rates.DefaultBounds)
	if err != nil {
		t.Fatalf("解析不应失败: %v", err)
	}
	mustDecimal(t, sample.BuyingRate, "298.1234")
	mustDecimal(t, sample.SellingRate, "306.5")
	mustDecimal(t, sample.TelegraphicBuyingRate, "298.1234")
	mustDecimal(t, sample.IndicativeRate, "302.45")
}

func TestParseCBSLFallbackOrdersPair(t *testing.T) {
	html := `<body><h3>Exchange Rate USD/LKR</h3><p>as at today</p><span>305.10</span> <span>297.40</span></body>`
	sample, err := parseCBSL(html, "u", rates.DefaultBounds)
	if err != nil {
		t.Fatalf("回退模式应可解析: %v", err)
	}
	mustDecimal(t, sample.BuyingRate, "297.40")
	mustDecimal(t, sample.SellingRate, "305.10")
	if sample.IndicativeRate.Valid {
		t.Fatal("没有参考汇率时不应填充")
	}
}

func TestParseCBSLNoAnchors(t *testing.T) {
	_, err := parseCBSL(`<body>Access denied</body>`, "u", rates.DefaultBounds)
	requireExtractionError(t, err)
}

func TestCBSLExtractHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("blocked"))
	}))
	defer srv.Close()

	client := NewPageClient(PageOptions{Timeout: time.Second}, noopLogger())
	ex := NewCBSL(SourceOptions{URL: srv.URL}, client, noopLogger())

	_, err := ex.Extract(context.Background())
	var fetchErr *rates.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("HTTP 403 应返回 FetchError, 实际 %v", err)
	}
	if fetchErr.StatusCode != http.StatusForbidden {
		t.Fatalf("应记录状态码 403, 实际 %d", fetchErr.StatusCode)
	}
}

func TestPageClientSendsUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	client := NewPageClient(PageOptions{UserAgent: "keeprates-test"}, noopLogger())
	body, err := client.Get(context.Background(), "x", srv.URL, "", 0)
	if err != nil {
		t.Fatalf("请求不应失败: %v", err)
	}
	if string(body) != "ok" || gotUA != "keeprates-test" {
		t.Fatalf("响应或 UA 不符: body=%s ua=%s", body, gotUA)
	}
}

func TestPageClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	client := NewPageClient(PageOptions{}, noopLogger())
	_, err := client.Get(context.Background(), "slow", srv.URL, "", 50*time.Millisecond)
	var fetchErr *rates.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("超时应返回 FetchError, 实际 %v", err)
	}
}

func TestJSONSourceFindsUSDRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("应请求 JSON")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[
			{"currencyCode":"EUR","buyingRate":"340.00","sellingRate":"352.00"},
			{"currencyCode":"usd","buyingRate":"296.10","sellingRate":304.9,"ttBuyingRate":"297.00","indicative":null}
		]}`))
	}))
	defer srv.Close()

	client := NewPageClient(PageOptions{}, noopLogger())
	ex, err := NewJSONSource(JSONOptions{
		SourceOptions: SourceOptions{URL: srv.URL},
		ID:            "hnb",
	}, client, noopLogger())
	if err != nil {
		t.Fatalf("构造不应失败: %v", err)
	}

	sample, err := ex.Extract(context.Background())
	if err != nil {
		t.Fatalf("提取不应失败: %v", err)
	}
	mustDecimal(t, sample.BuyingRate, "296.10")
	mustDecimal(t, sample.SellingRate, "304.9")
	mustDecimal(t, sample.TelegraphicBuyingRate, "297")
	if sample.SourceID != "hnb" || !sample.IsValid {
		t.Fatalf("样本来源或有效性错误: %+v", sample)
	}
}

func TestParseJSONTopLevelArrayAndCustomFields(t *testing.T) {
	opts := JSONOptions{
		SourceOptions: SourceOptions{Bounds: rates.DefaultBounds},
		ID:            "peoples",
		Currency:      "USD",
		Fields:        JSONFields{Code: "ccy", Buying: "buy", Selling: "sell", Indicative: "mid"},
	}
	sample, err := parseJSONRates([]byte(`[{"ccy":"USD","buy":"1,296.00","sell":"305.00","mid":"300.50"}]`), opts)
	var verr *rates.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("1296 超出范围应校验失败, 实际 %v", err)
	}
	if sample.IsValid {
		t.Fatal("无效样本不应有效")
	}

	sample, err = parseJSONRates([]byte(`[{"ccy":"USD","buy":"296.00","sell":"305.00","mid":"300.50"}]`), opts)
	if err != nil {
		t.Fatalf("解析不应失败: %v", err)
	}
	mustDecimal(t, sample.IndicativeRate, "300.50")
}

func TestParseJSONMissingCurrency(t *testing.T) {
	opts := JSONOptions{SourceOptions: SourceOptions{Bounds: rates.DefaultBounds}, ID: "x", Currency: "USD", Fields: DefaultJSONFields}
	_, err := parseJSONRates([]byte(`{"data":[{"currencyCode":"GBP","buyingRate":"390"}]}`), opts)
	requireExtractionError(t, err)

	_, err = parseJSONRates([]byte(`not json`), opts)
	requireExtractionError(t, err)
}

func TestNewJSONSourceRequiresURL(t *testing.T) {
	if _, err := NewJSONSource(JSONOptions{ID: "x"}, nil, noopLogger()); err == nil {
		t.Fatal("缺少 URL 应报错")
	}
}
