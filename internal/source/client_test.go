package source

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestFetchEntriesSuccess(t *testing.T) {
	var gotQuery map[string][]string
	var gotSecret string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != entriesPath {
			t.Fatalf("路径应为 %s, 实际 %s", entriesPath, r.URL.Path)
		}
		gotQuery = r.URL.Query()
		gotSecret = r.Header.Get("API-SECRET")
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"sgv": 120, "date": 1748772000000, "direction": "Flat", "device": "dexcom"},
			{"sgv": "118", "dateString": "2025-06-01T10:05:00.000Z"},
		})
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{BaseURL: srv.URL, APISecret: "secret", Timeout: time.Second}, zerolog.Nop())

	from := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	entries, err := c.FetchEntries(context.Background(), from, from.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("抓取不应报错: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("应返回 2 条记录, 实际 %d", len(entries))
	}
	if entries[0].SGV.Float64() != 120 {
		t.Fatalf("数值字段解析不正确: %v", entries[0].SGV)
	}
	if entries[1].SGV.Float64() != 118 {
		t.Fatalf("字符串数值也应解析: %v", entries[1].SGV)
	}

	if got := gotQuery["find[dateString][$gte]"]; len(got) != 1 || got[0] != "2025-06-01T00:00:00.000Z" {
		t.Fatalf("窗口下界参数不正确: %v", gotQuery)
	}
	if gotSecret == "" || gotSecret == "secret" {
		t.Fatalf("API-SECRET 应为摘要而非明文: %q", gotSecret)
	}
}

func TestFetchTreatmentsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != treatmentsPath {
			t.Fatalf("路径应为 %s, 实际 %s", treatmentsPath, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"eventType": "Meal Bolus", "created_at": "2025-06-01T12:00:00Z", "carbs": 45},
		})
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{BaseURL: srv.URL, APIToken: "tok", Timeout: time.Second}, zerolog.Nop())

	treatments, err := c.FetchTreatments(context.Background(), time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("抓取不应报错: %v", err)
	}
	if len(treatments) != 1 || treatments[0].EventType != "Meal Bolus" {
		t.Fatalf("响应解析不正确: %+v", treatments)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("应使用 Bearer 认证, 实际 %q", gotAuth)
	}
}

func TestFetchEntriesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{BaseURL: srv.URL, Timeout: time.Second}, zerolog.Nop())

	if _, err := c.FetchEntries(context.Background(), time.Now().Add(-time.Hour), time.Now()); !errors.Is(err, ErrUnreachable) {
		t.Fatalf("HTTP 401 应归类为 ErrUnreachable, 实际 %v", err)
	}
}

func TestFetchEntriesUnreachable(t *testing.T) {
	c := NewClient(ClientOptions{BaseURL: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond}, zerolog.Nop())

	if _, err := c.FetchEntries(context.Background(), time.Now().Add(-time.Hour), time.Now()); !errors.Is(err, ErrUnreachable) {
		t.Fatalf("连接拒绝应归类为 ErrUnreachable, 实际 %v", err)
	}
}

func TestFetchEntriesMissingBaseURL(t *testing.T) {
	c := NewClient(ClientOptions{}, zerolog.Nop())

	if _, err := c.FetchEntries(context.Background(), time.Now().Add(-time.Hour), time.Now()); !errors.Is(err, ErrUnreachable) {
		t.Fatalf("未配置地址应归类为 ErrUnreachable, 实际 %v", err)
	}
}

func TestLooseFloatVariants(t *testing.T) {
	var payload struct {
		V LooseFloat `json:"v"`
	}

	cases := map[string]float64{
		`{"v": 5.5}`:   5.5,
		`{"v": "5.5"}`: 5.5,
		`{"v": null}`:  0,
		`{"v": ""}`:    0,
	}
	for raw, want := range cases {
		payload.V = 0
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			t.Fatalf("解析 %s 失败: %v", raw, err)
		}
		if payload.V.Float64() != want {
			t.Fatalf("%s 期望 %v, 实际 %v", raw, want, payload.V.Float64())
		}
	}

	if err := json.Unmarshal([]byte(`{"v": "abc"}`), &payload); err == nil {
		t.Fatal("非数值字符串应报错")
	}
}
