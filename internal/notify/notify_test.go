package notify

import (
	"strings"
	"testing"
	"time"

	"github.com/abelbrown/heatline/internal/marketdata"
	"github.com/abelbrown/heatline/internal/topics"
)

func TestNewDisabledWithoutToken(t *testing.T) {
	n, err := New("", 0)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if n.Available() {
		t.Error("notifier without token should be disabled")
	}
	// Sending through a disabled notifier is a no-op, not an error.
	if err := n.SendDigest(time.Now(), nil, nil, nil); err != nil {
		t.Errorf("SendDigest on disabled notifier: %v", err)
	}
}

func TestFormatDigest(t *testing.T) {
	end := time.Date(2026, 8, 29, 15, 0, 0, 0, time.UTC)
	tops := []topics.Topic{
		{
			Asset:     "WIF",
			OneLiner:  "WIF breaking range on listing chatter",
			Sentiment: "bullish",
			Trigger:   "exchange listing rumor",
			Risk:      "unconfirmed source",
			Related:   []string{"BONK"},
			Heat:      7,
		},
		{
			Asset:     "TURBO",
			OneLiner:  "TURBO unlock fear building",
			Sentiment: "bearish",
			Heat:      3,
		},
	}
	market := map[string]*marketdata.Metrics{
		"WIF": {Price: 1.8, Change1h: 4.2, Change24h: -2.5, Liquidity: 5_400_000},
	}

	got := FormatDigest(end, tops, market, []string{"WIF", "TURBO"})

	for _, want := range []string{
		"heatline Aug 29 15:00 UTC",
		"1. 🟢 WIF (heat 7)",
		"WIF breaking range on listing chatter",
		"trigger: exchange listing rumor",
		"risk: unconfirmed source",
		"$1.8 | 1h +4.2% | 24h -2.5% | liq $5.4M",
		"related: BONK",
		"2. 🔴 TURBO (heat 3)",
		"watchlist: WIF, TURBO",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("digest missing %q\n%s", want, got)
		}
	}
}

func TestFormatDigestEmpty(t *testing.T) {
	got := FormatDigest(time.Now(), nil, nil, nil)
	if !strings.Contains(got, "No actionable topics this hour.") {
		t.Errorf("digest = %q", got)
	}
	if strings.Contains(got, "watchlist") {
		t.Error("empty watchlist should not render")
	}
}

func TestFormatDigestUnknownSentiment(t *testing.T) {
	got := FormatDigest(time.Now(), []topics.Topic{
		{Asset: "ABC", OneLiner: "x", Sentiment: "unset", Heat: 1},
	}, nil, nil)
	if !strings.Contains(got, "⚪ ABC") {
		t.Errorf("unknown sentiment did not fall back to neutral mark:\n%s", got)
	}
}

func TestCompactUSD(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{500, "$500"},
		{1_500, "$1.5k"},
		{2_300_000, "$2.3M"},
	}
	for _, c := range cases {
		if got := compactUSD(c.in); got != c.want {
			t.Errorf("compactUSD(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}
