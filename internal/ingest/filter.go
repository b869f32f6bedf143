package ingest

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	urlRegex    = regexp.MustCompile(`https?://\S+`)
	inviteRegex = regexp.MustCompile(`(?i)\bt\.me/|discord\.gg/|\bjoin (our|the) (group|channel|server)\b`)
)

// Sender name fragments that mark automated accounts.
var botSenderHints = []string{"bot", "alert", "signal", "announce", "admin"}

// Phrases that mark promotional or automated chatter rather than discussion.
var botTextHints = []string{
	"giveaway",
	"airdrop live",
	"claim your",
	"dm me",
	"dm for",
	"whitelist spots",
	"presale is live",
	"100x gem",
	"pinned message",
	"joined the group",
	"left the group",
}

// IsBotish reports whether a message looks automated or promotional.
// It checks the sender name, spam phrases, invite links, link-dominated
// bodies, and emoji-heavy bodies.
func IsBotish(sender, text string) bool {
	low := strings.ToLower(sender)
	for _, hint := range botSenderHints {
		if strings.Contains(low, hint) {
			return true
		}
	}

	lowText := strings.ToLower(text)
	for _, hint := range botTextHints {
		if strings.Contains(lowText, hint) {
			return true
		}
	}
	if inviteRegex.MatchString(text) {
		return true
	}

	stripped := strings.TrimSpace(urlRegex.ReplaceAllString(text, ""))
	if stripped == "" {
		// Nothing but links.
		return len(text) > 0
	}

	var total, symbolic int
	for _, r := range stripped {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if r > unicode.MaxASCII && !unicode.IsLetter(r) && !unicode.IsNumber(r) {
			symbolic++
		}
	}
	if total > 0 && symbolic*2 > total {
		return true
	}
	return false
}

// FilterHuman drops automated and empty messages, keeping order.
func FilterHuman(messages []Message) []Message {
	kept := make([]Message, 0, len(messages))
	for _, m := range messages {
		if strings.TrimSpace(m.Text) == "" {
			continue
		}
		if IsBotish(m.SenderID, m.Text) {
			continue
		}
		kept = append(kept, m)
	}
	return kept
}
