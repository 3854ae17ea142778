package alerts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"cgm-trend-alerts/internal/storage"
)

type memAlertStore struct {
	events []storage.AlertEvent
}

func (m *memAlertStore) InsertAlert(ctx context.Context, event storage.AlertEvent) (storage.AlertEvent, error) {
	event.ID = int64(len(m.events) + 1)
	event.CreatedAt = time.Now().UTC()
	m.events = append(m.events, event)
	return event, nil
}

func (m *memAlertStore) ListAlerts(ctx context.Context, filter storage.AlertFilter) ([]storage.AlertEvent, error) {
	out := make([]storage.AlertEvent, 0, len(m.events))
	for _, e := range m.events {
		if filter.Level != "" && e.Level != filter.Level {
			continue
		}
		if filter.Acknowledged != nil && e.Acknowledged != *filter.Acknowledged {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *memAlertStore) AcknowledgeAlert(ctx context.Context, id int64) error {
	for i := range m.events {
		if m.events[i].ID == id {
			if !m.events[i].Acknowledged {
				now := time.Now().UTC()
				m.events[i].Acknowledged = true
				m.events[i].AcknowledgedAt = &now
			}
			return nil
		}
	}
	return storage.ErrNotFound
}

func TestManagerRecordAssignsID(t *testing.T) {
	m := NewManager(&memAlertStore{}, zerolog.Nop())

	stored, err := m.Record(context.Background(), storage.AlertEvent{Level: "high", CurrentMgdl: 65})
	if err != nil {
		t.Fatalf("记录告警不应报错: %v", err)
	}
	if stored.ID == 0 {
		t.Fatal("入库后应返回事件 id")
	}
}

func TestManagerAcknowledgeIdempotent(t *testing.T) {
	store := &memAlertStore{}
	m := NewManager(store, zerolog.Nop())
	ctx := context.Background()

	stored, err := m.Record(ctx, storage.AlertEvent{Level: "medium", CurrentMgdl: 75})
	if err != nil {
		t.Fatalf("记录告警不应报错: %v", err)
	}

	if err := m.Acknowledge(ctx, stored.ID); err != nil {
		t.Fatalf("首次确认不应报错: %v", err)
	}
	first := store.events[0].AcknowledgedAt
	if first == nil {
		t.Fatal("确认后应记录确认时间")
	}

	// 重复确认应为无操作成功, 且保留首次确认时间。
	if err := m.Acknowledge(ctx, stored.ID); err != nil {
		t.Fatalf("重复确认不应报错: %v", err)
	}
	if store.events[0].AcknowledgedAt != first {
		t.Fatal("重复确认不应覆盖首次确认时间")
	}
}

func TestManagerAcknowledgeUnknownID(t *testing.T) {
	m := NewManager(&memAlertStore{}, zerolog.Nop())

	if err := m.Acknowledge(context.Background(), 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("未知 id 应返回 ErrNotFound, 实际 %v", err)
	}
}

func TestManagerListFilters(t *testing.T) {
	store := &memAlertStore{}
	m := NewManager(store, zerolog.Nop())
	ctx := context.Background()

	if _, err := m.Record(ctx, storage.AlertEvent{Level: "high"}); err != nil {
		t.Fatalf("记录告警不应报错: %v", err)
	}
	if _, err := m.Record(ctx, storage.AlertEvent{Level: "medium"}); err != nil {
		t.Fatalf("记录告警不应报错: %v", err)
	}

	highOnly, err := m.List(ctx, storage.AlertFilter{Level: "high"})
	if err != nil {
		t.Fatalf("查询不应报错: %v", err)
	}
	if len(highOnly) != 1 || highOnly[0].Level != "high" {
		t.Fatalf("level 过滤结果不正确: %+v", highOnly)
	}
}
