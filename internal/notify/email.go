package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aoi-nmz/backend-club/internal/common"
	"github.com/aoi-nmz/backend-club/internal/events"
)

// EmailNotifier sends transactional emails for selected topics, most notably
// the closing receipt summary when a table session is settled.
type EmailNotifier struct {
	Mail         common.EmailSender
	Enabled      bool
	From         string
	TopicToggles map[string]bool
}

// Notify implements the events.Notifier interface.
func (n EmailNotifier) Notify(_ context.Context, event events.Event) error {
	if !n.Enabled || n.Mail == nil {
		return nil
	}
	if n.TopicToggles != nil {
		if enabled, ok := n.TopicToggles[event.Topic]; ok && !enabled {
			return nil
		}
	}
	payload := map[string]any{}
	if len(event.Payload) > 0 {
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return fmt.Errorf("email notify: decode payload: %w", err)
		}
	}
	to := extractRecipient(payload)
	if to == "" {
		return nil
	}
	return n.Mail.Send(to, subjectFor(event.Topic), bodyFor(event.Topic, payload, event.OccurredAt))
}

func extractRecipient(payload map[string]any) string {
	keys := []string{"email", "recipient", "adminEmail", "managerEmail"}
	for _, key := range keys {
		if val, ok := payload[key]; ok {
			if s, ok := val.(string); ok {
				s = strings.TrimSpace(s)
				if s != "" {
					return s
				}
			}
		}
	}
	return ""
}

func subjectFor(topic string) string {
	switch topic {
	case events.TopicSessionOpened:
		return "卓が開きました"
	case events.TopicSessionClosed:
		return "会計が確定しました"
	case events.TopicOrderCreated:
		return "注文が入りました"
	case events.TopicCastClockedIn:
		return "キャストが出勤しました"
	case events.TopicCastClockedOut:
		return "キャストが退勤しました"
	default:
		return fmt.Sprintf("通知 %s", topic)
	}
}

func bodyFor(topic string, payload map[string]any, occurred time.Time) string {
	summary := fmt.Sprintf("イベント %s が %s に発生しました。", topic, occurred.Format(time.RFC3339))
	if sessionID, ok := payload["sessionId"].(string); ok && sessionID != "" {
		summary += fmt.Sprintf("\nセッションID: %s", sessionID)
	}
	if table, ok := payload["tableNumber"].(string); ok && table != "" {
		summary += fmt.Sprintf("\n卓番: %s", table)
	}
	if total, ok := payload["total"].(float64); ok && total > 0 {
		summary += fmt.Sprintf("\n合計金額: %.0f円", total)
	}
	if note, ok := payload["message"].(string); ok && note != "" {
		summary += "\n" + note
	}
	return summary
}
