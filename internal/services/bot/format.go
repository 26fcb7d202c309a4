package bot

import (
	"fmt"
	"strings"

	"github.com/magabrotheeeer/media-relay/internal/models"
)

// FormatSnapshot готовит ответ на /stats.
func FormatSnapshot(s models.UserSnapshot) string {
	var b strings.Builder
	b.WriteString("Your statistics:\n\n")
	fmt.Fprintf(&b, "Status: %s\n", formatTier(s))
	fmt.Fprintf(&b, "Today's downloads: %d\n", s.DailyDownloads)
	if s.DownloadsRemaining < 0 {
		b.WriteString("Remaining today: unlimited\n")
	} else {
		fmt.Fprintf(&b, "Remaining today: %d/%d\n", s.DownloadsRemaining, s.FreeLimit)
	}
	fmt.Fprintf(&b, "Total downloads: %d", s.TotalDownloads)
	return b.String()
}

func formatTier(s models.UserSnapshot) string {
	switch {
	case !s.IsPaid:
		return "Free"
	case s.Lifetime || s.SubscriptionEnd == nil:
		return "Paid (lifetime)"
	default:
		return "Paid until " + s.SubscriptionEnd.Format("2006-01-02 15:04")
	}
}
