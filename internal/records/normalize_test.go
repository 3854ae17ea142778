package records

import (
	"errors"
	"testing"
	"time"

	"cgm-trend-alerts/internal/source"
)

func TestNormalizeEntryMgdl(t *testing.T) {
	n := NewNormalizer(NormalizerOptions{})
	reading, err := n.NormalizeEntry(source.Entry{
		SGV:       source.LooseFloat(123),
		Date:      time.Date(2025, 6, 1, 8, 0, 17, 0, time.UTC).UnixMilli(),
		Direction: "Flat",
		Device:    "dexcom",
	})
	if err != nil {
		t.Fatalf("合法样本不应报错: %v", err)
	}
	if reading.Value != 123 {
		t.Fatalf("期望 123 mg/dL, 实际 %d", reading.Value)
	}
	if reading.Trend != TrendFlat {
		t.Fatalf("趋势应为 flat, 实际 %s", reading.Trend)
	}
	if reading.Time.Second() != 0 {
		t.Fatalf("时间戳应按采样粒度取整: %s", reading.Time)
	}
}

func TestNormalizeEntryMmolConversion(t *testing.T) {
	n := NewNormalizer(NormalizerOptions{DefaultUnits: "mmol/l"})
	reading, err := n.NormalizeEntry(source.Entry{
		SGV:  source.LooseFloat(5.5),
		Date: time.Now().UnixMilli(),
	})
	if err != nil {
		t.Fatalf("mmol 样本不应报错: %v", err)
	}
	if reading.Value != 99 {
		t.Fatalf("5.5 mmol/L 应换算为 99 mg/dL, 实际 %d", reading.Value)
	}
}

func TestNormalizeEntryMalformed(t *testing.T) {
	n := NewNormalizer(NormalizerOptions{})

	cases := []source.Entry{
		{SGV: source.LooseFloat(0), Date: time.Now().UnixMilli()},
		{SGV: source.LooseFloat(-10), Date: time.Now().UnixMilli()},
		{SGV: source.LooseFloat(1500), Date: time.Now().UnixMilli()},
		{SGV: source.LooseFloat(100)},
	}
	for i, entry := range cases {
		if _, err := n.NormalizeEntry(entry); !errors.Is(err, ErrMalformed) {
			t.Fatalf("用例 %d 应返回 ErrMalformed, 实际 %v", i, err)
		}
	}
}

func TestNormalizeEntryZoneLessTimestamp(t *testing.T) {
	n := NewNormalizer(NormalizerOptions{UTCOffset: 8 * time.Hour})
	reading, err := n.NormalizeEntry(source.Entry{
		SGV:        source.LooseFloat(100),
		DateString: "2025-06-01T20:00:00",
	})
	if err != nil {
		t.Fatalf("无时区时间戳应按配置偏移解析: %v", err)
	}
	want := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if !reading.Time.Equal(want) {
		t.Fatalf("期望 %s, 实际 %s", want, reading.Time)
	}
}

func TestNormalizeTreatmentKinds(t *testing.T) {
	n := NewNormalizer(NormalizerOptions{})

	meal, err := n.NormalizeTreatment(source.Treatment{
		EventType: "Meal Bolus",
		CreatedAt: "2025-06-01T12:00:00Z",
		Carbs:     source.LooseFloat(45),
		Insulin:   source.LooseFloat(5),
	})
	if err != nil {
		t.Fatalf("meal 不应报错: %v", err)
	}
	if meal.Kind != KindMeal {
		t.Fatalf("期望 meal, 实际 %s", meal.Kind)
	}

	if _, err := n.NormalizeTreatment(source.Treatment{
		EventType: "Meal Bolus",
		CreatedAt: "2025-06-01T12:00:00Z",
	}); !errors.Is(err, ErrMalformed) {
		t.Fatalf("无碳水的 meal 应判为 malformed, 实际 %v", err)
	}

	if _, err := n.NormalizeTreatment(source.Treatment{
		EventType: "Correction Bolus",
		CreatedAt: "2025-06-01T12:00:00Z",
	}); !errors.Is(err, ErrMalformed) {
		t.Fatalf("无剂量的 bolus 应判为 malformed, 实际 %v", err)
	}

	if _, err := n.NormalizeTreatment(source.Treatment{
		EventType: "Pump Battery Change",
		CreatedAt: "2025-06-01T12:00:00Z",
	}); !errors.Is(err, ErrMalformed) {
		t.Fatalf("未知事件类型应判为 malformed, 实际 %v", err)
	}
}

func TestNormalizeTreatmentFingerStickMmol(t *testing.T) {
	n := NewNormalizer(NormalizerOptions{})
	rec, err := n.NormalizeTreatment(source.Treatment{
		EventType: "BG Check",
		CreatedAt: "2025-06-01T12:00:00Z",
		Glucose:   source.LooseFloat(6.0),
		Units:     "mmol/L",
	})
	if err != nil {
		t.Fatalf("finger-stick 不应报错: %v", err)
	}
	if rec.FingerStick != 108 {
		t.Fatalf("6.0 mmol/L 应换算为 108 mg/dL, 实际 %d", rec.FingerStick)
	}
}

func TestTreatmentIdentityKeyComposite(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a := TreatmentRecord{Time: ts, Kind: KindMeal, Carbs: 45, Insulin: 5}
	b := TreatmentRecord{Time: ts, Kind: KindMeal, Carbs: 45, Insulin: 5}
	c := TreatmentRecord{Time: ts, Kind: KindMeal, Carbs: 46, Insulin: 5}

	if a.IdentityKey() != b.IdentityKey() {
		t.Fatal("相同字段的事件应共享身份键")
	}
	if a.IdentityKey() == c.IdentityKey() {
		t.Fatal("任一字段不同即应视为不同事件")
	}
}

func TestGlucoseIdentityKeyIsTimestamp(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a := GlucoseReading{Time: ts, Value: 100}
	b := GlucoseReading{Time: ts, Value: 250}
	if !a.IdentityKey().Equal(b.IdentityKey()) {
		t.Fatal("同一时刻的样本应共享身份键, 不论数值")
	}
}

func TestUnitConversionRoundTripStable(t *testing.T) {
	// 多次往返换算不应漂移。
	mgdl := 99
	for i := 0; i < 5; i++ {
		mmol := MmolFromMgdl(mgdl)
		back := MgdlFromMmol(mmol.InexactFloat64())
		if back != mgdl {
			t.Fatalf("第 %d 次往返后数值漂移: %d -> %d", i+1, mgdl, back)
		}
	}
}
