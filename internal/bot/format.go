package bot

import (
	"fmt"
	"strings"

	"github.com/forumbridge/chatbridge/internal/domain"
)

const allCategories = "all categories"

// FormatStatus renders the room's rule list as a quoted chat message: a
// header line followed by one numbered line per rule in stored order.
// categoryName resolves a category id to its display name; unresolvable
// ids fall back to the all-categories sentinel.
func FormatStatus(rules []domain.Rule, categoryName func(id int64) (string, bool)) string {
	var b strings.Builder
	b.WriteString("Notification rules for this room:\n")

	for i, rule := range rules {
		category := allCategories
		if rule.CategoryID != nil {
			if name, ok := categoryName(*rule.CategoryID); ok {
				category = name
			}
		}

		fmt.Fprintf(&b, "%d. %s %s", i+1, rule.Filter, category)
		if len(rule.Tags) > 0 {
			fmt.Fprintf(&b, " with tags: %s", strings.Join(rule.Tags, ", "))
		}
		b.WriteString("\n")
	}

	return "> " + strings.TrimRight(b.String(), "\n")
}
