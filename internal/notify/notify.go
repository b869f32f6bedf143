// Package notify delivers the hourly topic digest over Telegram.
package notify

import (
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/abelbrown/heatline/internal/logging"
	"github.com/abelbrown/heatline/internal/marketdata"
	"github.com/abelbrown/heatline/internal/topics"
)

var sentimentMarks = map[string]string{
	"bullish": "🟢",
	"bearish": "🔴",
	"mixed":   "🟡",
	"neutral": "⚪",
}

// Notifier posts digests to one Telegram chat.
type Notifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// New creates a Notifier. An empty token or zero chat ID yields a disabled
// notifier rather than an error so the pipeline runs without delivery
// configured.
func New(token string, chatID int64) (*Notifier, error) {
	if token == "" || chatID == 0 {
		return &Notifier{}, nil
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("notify: create bot: %w", err)
	}
	return &Notifier{api: api, chatID: chatID}, nil
}

// Available reports whether the notifier can deliver.
func (n *Notifier) Available() bool {
	return n != nil && n.api != nil && n.chatID != 0
}

// SendDigest formats and posts one run's digest.
func (n *Notifier) SendDigest(windowEnd time.Time, tops []topics.Topic, market map[string]*marketdata.Metrics, watchlist []string) error {
	if !n.Available() {
		return nil
	}
	text := FormatDigest(windowEnd, tops, market, watchlist)
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.DisableWebPagePreview = true

	if _, err := n.api.Send(msg); err != nil {
		return fmt.Errorf("notify: send digest: %w", err)
	}
	logging.Info("digest sent", "chat", n.chatID, "topics", len(tops))
	return nil
}

// FormatDigest renders the digest text. Pure function so formatting is
// testable without a bot token.
func FormatDigest(windowEnd time.Time, tops []topics.Topic, market map[string]*marketdata.Metrics, watchlist []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "heatline %s\n", windowEnd.UTC().Format("Jan 2 15:04 MST"))

	if len(tops) == 0 {
		b.WriteString("\nNo actionable topics this hour.\n")
	}
	for i, t := range tops {
		mark := sentimentMarks[t.Sentiment]
		if mark == "" {
			mark = sentimentMarks["neutral"]
		}
		fmt.Fprintf(&b, "\n%d. %s %s (heat %d)\n", i+1, mark, t.Asset, t.Heat)
		fmt.Fprintf(&b, "   %s\n", t.OneLiner)
		if t.Trigger != "" {
			fmt.Fprintf(&b, "   trigger: %s\n", t.Trigger)
		}
		if t.Risk != "" {
			fmt.Fprintf(&b, "   risk: %s\n", t.Risk)
		}
		if m := market[strings.ToUpper(t.Asset)]; m != nil {
			fmt.Fprintf(&b, "   %s\n", formatMetrics(m))
		}
		if len(t.Related) > 0 {
			fmt.Fprintf(&b, "   related: %s\n", strings.Join(t.Related, ", "))
		}
	}

	if len(watchlist) > 0 {
		fmt.Fprintf(&b, "\nwatchlist: %s\n", strings.Join(watchlist, ", "))
	}
	return b.String()
}

// formatMetrics renders one market snapshot line.
func formatMetrics(m *marketdata.Metrics) string {
	parts := make([]string, 0, 4)
	if m.Price != 0 {
		parts = append(parts, fmt.Sprintf("$%s", trimFloat(m.Price)))
	}
	if m.Change1h != 0 {
		parts = append(parts, fmt.Sprintf("1h %+.1f%%", m.Change1h))
	}
	if m.Change24h != 0 {
		parts = append(parts, fmt.Sprintf("24h %+.1f%%", m.Change24h))
	}
	if m.Liquidity != 0 {
		parts = append(parts, "liq "+compactUSD(m.Liquidity))
	}
	if len(parts) == 0 {
		return "no market data"
	}
	return strings.Join(parts, " | ")
}

// trimFloat renders a price without trailing zero noise.
func trimFloat(v float64) string {
	s := fmt.Sprintf("%.6f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// compactUSD renders dollar amounts as 1.2k / 3.4M.
func compactUSD(v float64) string {
	switch {
	case v >= 1_000_000:
		return fmt.Sprintf("$%.1fM", v/1_000_000)
	case v >= 1_000:
		return fmt.Sprintf("$%.1fk", v/1_000)
	default:
		return fmt.Sprintf("$%.0f", v)
	}
}
