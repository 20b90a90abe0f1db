package webhook

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/certsentry/certsentry/internal/alert"
)

// renderBody produces the JSON body for the given endpoint type.
func renderBody(epType string, p *alert.Payload) ([]byte, error) {
	switch epType {
	case "teams":
		return json.Marshal(teamsCard(p))
	case "http", "":
		return json.Marshal(map[string]any{"alert": p})
	default:
		return nil, fmt.Errorf("unknown webhook type %q", epType)
	}
}

// teamsCard builds a Microsoft Teams MessageCard for p, with the urgency
// theme colors the receiving flows key on.
func teamsCard(p *alert.Payload) map[string]any {
	facts := []map[string]string{
		{"name": p.Name, "value": p.Origin},
	}
	if p.Kind == alert.KindError {
		facts = append(facts,
			map[string]string{"name": "Error", "value": p.Reason},
		)
	} else {
		facts = append(facts,
			map[string]string{"name": "Expiry Date", "value": p.NotAfter.UTC().Format(time.RFC3339)},
			map[string]string{"name": "Days Remaining", "value": fmt.Sprintf("%d", p.DaysRemaining)},
			map[string]string{"name": "Issuer", "value": p.Issuer},
		)
	}

	return map[string]any{
		"@type":      "MessageCard",
		"@context":   "https://schema.org/extensions",
		"themeColor": themeColor(p.Severity),
		"summary":    cardTitle(p),
		"title":      cardTitle(p),
		"text":       p.Message,
		"sections":   []map[string]any{{"facts": facts}},
	}
}

func cardTitle(p *alert.Payload) string {
	if p.Kind == alert.KindError {
		if p.Locale == "ko" {
			return "🚨 SSL 인증서 오류 발생"
		}
		return "🚨 SSL Certificate Error"
	}

	var urgency string
	switch p.Severity {
	case alert.SeverityCritical:
		urgency = "🚨"
	case alert.SeverityWarning:
		urgency = "⚠️"
	default:
		urgency = "📢"
	}
	if p.Locale == "ko" {
		return urgency + " SSL 인증서 만료 알림"
	}
	return urgency + " SSL Certificate Expiry Alert"
}

func themeColor(s alert.Severity) string {
	switch s {
	case alert.SeverityCritical:
		return "FF0000"
	case alert.SeverityWarning:
		return "FFA500"
	default:
		return "0078D7"
	}
}
