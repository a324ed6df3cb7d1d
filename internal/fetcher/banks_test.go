package fetcher

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"keeprates/internal/rates"
)

const combankFixture = `<html><body>
<table>
  <tr><th>Currency</th><th>Code</th><th>Buying</th><th>Selling</th><th>Cheque Buying</th><th>Cheque Selling</th><th>TT Buying</th><th>TT Selling</th></tr>
  <tr><td>Euro</td><td>EUR</td><td>340.10</td><td>352.80</td><td>339.00</td><td>353.00</td><td>341.00</td><td>351.90</td></tr>
  <tr><td>US Dollar</td><td>USD</td><td>295.50</td><td>304.00</td><td>294.10</td><td>305.20</td><td>296.25</td><td>303.75</td></tr>
</table>
</body></html>`

func TestParseCombankSixColumns(t *testing.T) {
	sample, err := parseCombank(combankFixture, "u", rates.DefaultBounds)
	if err != nil {
		t.Fatalf("解析不应失败: %v", err)
	}
	mustDecimal(t, sample.BuyingRate, "295.50")
	mustDecimal(t, sample.SellingRate, "304.00")
	mustDecimal(t, sample.TelegraphicBuyingRate, "296.25")
	if !sample.IsValid || sample.SourceID != CombankID {
		t.Fatalf("样本应有效且来源为 combank: %+v", sample)
	}
}

func TestParseCombankTwoColumns(t *testing.T) {
	html := `<table><tr><td>USD</td><td>1,295.00 note</td><td>296.00</td><td>305.00</td></tr></table>`
	sample, err := parseCombank(html, "u", rates.DefaultBounds)
	if err != nil {
		t.Fatalf("两列布局应可解析: %v", err)
	}
	mustDecimal(t, sample.BuyingRate, "296.00")
	mustDecimal(t, sample.SellingRate, "305.00")
	if sample.TelegraphicBuyingRate.Valid {
		t.Fatal("两列布局不应包含电汇买入价")
	}
}

func TestParseCombankMissingRow(t *testing.T) {
	_, err := parseCombank(`<table><tr><td>Euro</td><td>340.00</td><td>350.00</td></tr></table>`, "u", rates.DefaultBounds)
	requireExtractionError(t, err)
}

const ndbFixture = `<table>
<tr><td>Currency</td><td>Buying</td><td>Selling</td></tr>
<tr><td>US Dollar (USD)</td><td>296.00</td><td>304.50</td><td>295.10</td><td>305.00</td><td>297.25 *</td><td>303.90</td></tr>
</table>`

func TestParseNDB(t *testing.T) {
	sample, err := parseNDB(ndbFixture, "u", rates.DefaultBounds)
	if err != nil {
		t.Fatalf("解析不应失败: %v", err)
	}
	mustDecimal(t, sample.BuyingRate, "296.00")
	mustDecimal(t, sample.SellingRate, "304.50")
	mustDecimal(t, sample.TelegraphicBuyingRate, "297.25")
}

func TestParseNDBShortRowFails(t *testing.T) {
	html := `<table>
<tr><td>US Dollar</td><td>296.00</td><td>304.50</td></tr>
<tr><td>US Dollar</td><td>296.00</td><td>304.50</td><td>295.10</td><td>305.00</td><td>297.25</td><td>303.90</td></tr>
</table>`
	_, err := parseNDB(html, "u", rates.DefaultBounds)
	requireExtractionError(t, err)
}

const sampathFixture = `<table>
<tr><td>USD Avg.Bal Bonus</td><td>3.50</td><td>250</td><td>260</td></tr>
</table>
<table>
<tr><th>Currency</th><th>T/T Buying</th><th>O/D Buying</th><th>T/T Selling</th></tr>
<tr><td>U.S. Dollar</td><td>297.0000</td><td>296.5000</td><td>305.2500</td></tr>
</table>`

func TestParseSampathThreeColumns(t *testing.T) {
	sample, err := parseSampath(sampathFixture, "u", rates.DefaultBounds)
	if err != nil {
		t.Fatalf("解析不应失败: %v", err)
	}
	mustDecimal(t, sample.BuyingRate, "297")
	mustDecimal(t, sample.SellingRate, "305.25")
	mustDecimal(t, sample.TelegraphicBuyingRate, "297")
}

func TestParseSampathTwoColumnsAndWholeNumbers(t *testing.T) {
	html := `<table><tr><td>US Dollar</td><td>298</td><td>306.5</td></tr></table>`
	sample, err := parseSampath(html, "u", rates.DefaultBounds)
	if err != nil {
		t.Fatalf("解析不应失败: %v", err)
	}
	mustDecimal(t, sample.BuyingRate, "298")
	mustDecimal(t, sample.SellingRate, "306.5")
	mustDecimal(t, sample.TelegraphicBuyingRate, "298")
}

func TestParseSampathNoRow(t *testing.T) {
	_, err := parseSampath(`<table><tr><td>USD interest</td><td>300.00</td><td>305.00</td></tr></table>`, "u", rates.DefaultBounds)
	requireExtractionError(t, err)
}

func TestParseInvalidValuesYieldValidationError(t *testing.T) {
	html := `<table><tr><td>USD</td><td>290.00</td><td>330.00</td></tr></table>`
	sample, err := parseCombank(html, "u", rates.DefaultBounds)
	var verr *rates.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("价差过大应返回 ValidationError, 实际 %v", err)
	}
	if sample.IsValid {
		t.Fatal("无效样本不应标记为有效")
	}
}

func TestRenderedSourceWrapsRenderFailure(t *testing.T) {
	r := &fakeRenderer{err: errors.New("net::ERR_NAME_NOT_RESOLVED")}
	ex := NewNDB(SourceOptions{}, r, noopLogger())

	_, err := ex.Extract(context.Background())
	var fetchErr *rates.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("渲染失败应返回 FetchError, 实际 %v", err)
	}
	if fetchErr.URL != ndbDefaultURL {
		t.Fatalf("应使用默认 URL, 实际 %s", fetchErr.URL)
	}
}

func TestRenderedSourceRequestShape(t *testing.T) {
	r := &fakeRenderer{html: sampathFixture}
	ex := NewSampath(SourceOptions{URL: "http://sampath.test"}, r, noopLogger())

	sample, err := ex.Extract(context.Background())
	if err != nil {
		t.Fatalf("提取不应失败: %v", err)
	}
	if sample.SourceURL != "http://sampath.test" {
		t.Fatalf("样本应记录来源 URL, 实际 %s", sample.SourceURL)
	}
	if !r.last.Scroll || r.last.WaitSelector != "table" {
		t.Fatalf("sampath 需要滚动并等待表格: %+v", r.last)
	}
	if r.last.Timeout <= 0 {
		t.Fatal("应设置默认超时")
	}
}

func TestRenderedSourceWithoutRenderer(t *testing.T) {
	ex := NewCombank(SourceOptions{}, nil, noopLogger())
	_, err := ex.Extract(context.Background())
	var fetchErr *rates.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("缺少渲染器应返回 FetchError, 实际 %v", err)
	}
}

func TestFirstMatchTakesOnlyFirstToken(t *testing.T) {
	cases := []struct {
		name   string
		text   string
		want   string
		wantOK bool
	}{
		{"首个小数在范围内", "297.50 (was 296.00)", "297.50", true},
		{"首个小数越界不再找后续", "12.50 300.00", "", false},
		{"小数越界不回退整数", "12.5 304", "", false},
		{"无小数时回退整数", "Rs. 304", "304", true},
		{"整数越界", "150", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, ok := firstMatch(tc.text, sampathWindow, sampathDecimal, sampathWhole)
			if ok != tc.wantOK {
				t.Fatalf("%q: 期望 ok=%v, 实际 %v (%s)", tc.text, tc.wantOK, ok, v)
			}
			if ok && !v.Equal(decimal.RequireFromString(tc.want)) {
				t.Fatalf("%q: 期望 %s, 实际 %s", tc.text, tc.want, v)
			}
		})
	}
}

func TestParseNDBSkipsCellWithOutOfRangeFirstToken(t *testing.T) {
	html := `<table>
<tr><td>US Dollar</td><td>296.00</td><td>304.50</td><td>12.50 300.00</td><td>295.10</td><td>305.00</td><td>297.25</td><td>303.90</td></tr>
</table>`
	sample, err := parseNDB(html, "u", rates.DefaultBounds)
	if err != nil {
		t.Fatalf("解析不应失败: %v", err)
	}
	// 混合单元格不产生数值, 第 5 个数值应为 297.25
	mustDecimal(t, sample.TelegraphicBuyingRate, "297.25")
}
