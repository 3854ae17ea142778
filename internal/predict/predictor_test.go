package predict

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"cgm-trend-alerts/internal/records"
)

func seriesFrom(start int, stepMgdl int, n int) []records.GlucoseReading {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	readings := make([]records.GlucoseReading, 0, n)
	for i := 0; i < n; i++ {
		readings = append(readings, records.GlucoseReading{
			Time:  base.Add(time.Duration(i) * 5 * time.Minute),
			Value: start + i*stepMgdl,
		})
	}
	return readings
}

func TestPredictRisingTrend(t *testing.T) {
	p := New(Options{}, zerolog.Nop())

	// 100 → 145, +5 mg/dL 每 5 分钟。
	result, err := p.Predict(seriesFrom(100, 5, 10))
	if err != nil {
		t.Fatalf("足量数据不应报错: %v", err)
	}

	if result.Trend != records.TrendRisingSlow {
		t.Fatalf("期望 rising-slow, 实际 %s", result.Trend)
	}
	if result.BaseValue != 145 {
		t.Fatalf("预测应锚定最近观测值 145, 实际 %d", result.BaseValue)
	}
	if len(result.Points) != 6 {
		t.Fatalf("30 分钟/5 分钟步长应产生 6 个点, 实际 %d", len(result.Points))
	}
	if got := result.Points[0].Value; got != 150 {
		t.Fatalf("5 分钟后期望 150, 实际 %d", got)
	}
	if got := result.Points[len(result.Points)-1].Value; got != 175 {
		t.Fatalf("30 分钟后期望 175, 实际 %d", got)
	}
	if result.Confidence <= 0.5 {
		t.Fatalf("单调序列置信度应高于 0.5, 实际 %.2f", result.Confidence)
	}
}

func TestPredictFallingFast(t *testing.T) {
	p := New(Options{}, zerolog.Nop())

	result, err := p.Predict(seriesFrom(200, -12, 10))
	if err != nil {
		t.Fatalf("不应报错: %v", err)
	}
	if result.Trend != records.TrendFallingFast {
		t.Fatalf("-2.4 mg/dL/min 应判为 falling-fast, 实际 %s", result.Trend)
	}
	if result.MinProjected() >= result.BaseValue {
		t.Fatal("下降趋势的最低预测值应低于当前值")
	}
}

func TestPredictInsufficientData(t *testing.T) {
	p := New(Options{}, zerolog.Nop())

	if _, err := p.Predict(seriesFrom(100, 1, 9)); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("9 个点应返回 ErrInsufficientData, 实际 %v", err)
	}

	// 无效读数不计入有效点数。
	readings := seriesFrom(100, 1, 12)
	for i := range readings[:4] {
		readings[i].Value = 0
	}
	if _, err := p.Predict(readings); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("有效点不足时应返回 ErrInsufficientData, 实际 %v", err)
	}
}

func TestPredictClampBounds(t *testing.T) {
	p := New(Options{}, zerolog.Nop())

	result, err := p.Predict(seriesFrom(300, -20, 10))
	if err != nil {
		t.Fatalf("不应报错: %v", err)
	}
	for _, point := range result.Points {
		if point.Value < 20 || point.Value > 600 {
			t.Fatalf("预测值应钳制在 [20, 600]: offset=%d value=%d", point.OffsetMinutes, point.Value)
		}
	}
	if result.MinProjected() != 20 {
		t.Fatalf("急速下降应触及下限 20, 实际 %d", result.MinProjected())
	}
}

func TestPredictFlatSeries(t *testing.T) {
	p := New(Options{}, zerolog.Nop())

	result, err := p.Predict(seriesFrom(110, 0, 10))
	if err != nil {
		t.Fatalf("不应报错: %v", err)
	}
	if result.Trend != records.TrendFlat {
		t.Fatalf("零斜率应判为 flat, 实际 %s", result.Trend)
	}
	for _, point := range result.Points {
		if point.Value != 110 {
			t.Fatalf("平稳序列的预测值应保持 110, 实际 %d", point.Value)
		}
	}
}

func TestPredictConfidenceRange(t *testing.T) {
	p := New(Options{}, zerolog.Nop())

	// 来回震荡的序列, 置信度应落在 [0, 1] 且低于单调序列。
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	noisy := make([]records.GlucoseReading, 0, 10)
	values := []int{100, 110, 95, 112, 98, 115, 97, 118, 96, 120}
	for i, v := range values {
		noisy = append(noisy, records.GlucoseReading{Time: base.Add(time.Duration(i) * 5 * time.Minute), Value: v})
	}

	noisyResult, err := p.Predict(noisy)
	if err != nil {
		t.Fatalf("不应报错: %v", err)
	}
	if noisyResult.Confidence < 0 || noisyResult.Confidence > 1 {
		t.Fatalf("置信度应在 [0, 1]: %.2f", noisyResult.Confidence)
	}

	steadyResult, err := p.Predict(seriesFrom(100, 5, 10))
	if err != nil {
		t.Fatalf("不应报错: %v", err)
	}
	if noisyResult.Confidence >= steadyResult.Confidence {
		t.Fatalf("震荡序列置信度应低于单调序列: %.2f >= %.2f", noisyResult.Confidence, steadyResult.Confidence)
	}
}
