package emails

import (
	"time"

	"mailrank/internal/models"
)

// LinkReplies returns the timestamps of the user replies to inbound. A candidate counts
// when it belongs to the inbound message's thread and either answers it directly through
// In-Reply-To or is dated after it. Direct answers are kept even when their clock is
// behind, so skew surfaces as a data-quality error instead of a dropped reply.
func LinkReplies(inbound *models.Email, candidates []models.ThreadReply) []time.Time {
	if inbound == nil {
		return nil
	}

	threadID := GenerateThreadID(inbound)
	if inbound.ThreadID != nil && *inbound.ThreadID != "" {
		threadID = *inbound.ThreadID
	}

	var stamps []time.Time
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		if c.ThreadID != threadID || c.MessageID == inbound.MessageID {
			continue
		}
		if _, dup := seen[c.MessageID]; dup {
			continue
		}

		direct := c.InReplyTo != nil && CleanMessageID(*c.InReplyTo) == inbound.MessageID
		later := !inbound.ReceivedAt.IsZero() && c.SentAt.After(inbound.ReceivedAt)
		if !direct && !later {
			continue
		}

		seen[c.MessageID] = struct{}{}
		stamps = append(stamps, c.SentAt)
	}

	return stamps
}
