package projection

import (
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"time"

	"gitlab.com/voxline/api/voxline-call-directory/internal/model"
	"gitlab.com/voxline/api/voxline-call-directory/pkg/phone"
)

// UnknownCallerName is the final fallback when neither the contacts cache nor
// the entry itself provides a caller name.
const UnknownCallerName = "Unknown"

// unknownGroupLabel buckets entries whose timestamp is missing.
const unknownGroupLabel = "Unknown"

// avatarPalette is the fixed ordered set of avatar colors. The hash of a
// resolved name indexes into it, so a given name always maps to the same
// color across runs.
var avatarPalette = []string{
	"#E57373", // red
	"#64B5F6", // blue
	"#81C784", // green
	"#FFB74D", // orange
	"#BA68C8", // purple
	"#4DB6AC", // teal
	"#F06292", // pink
	"#A1887F", // brown
}

// CallHistoryItem is the render-ready projection of a single call entry.
// It is recomputed on every snapshot and never persisted.
type CallHistoryItem struct {
	Entry        model.CallHistoryEntry
	DisplayName  string
	DisplayPhone string
	DisplayTime  string
	AvatarLetter string
	AvatarColor  string
}

// DayGroup is a set of items sharing one calendar day label.
type DayGroup struct {
	Label string
	Items []CallHistoryItem
}

// ContactIndex maps normalized phone numbers to contacts for name resolution.
type ContactIndex map[string]model.Contact

// BuildContactIndex keys the given contacts by their normalized phone number.
// Numbers are expected to be stored normalized already; normalizing again is
// a no-op for them and repairs any legacy rows that slipped through.
func BuildContactIndex(contacts []model.Contact) ContactIndex {
	index := make(ContactIndex, len(contacts))
	for _, c := range contacts {
		index[phone.Normalize(c.PhoneNumber)] = c
	}
	return index
}

// ResolveName determines the display name for a call entry. A matching
// contact's name wins over the entry's stored caller name; the literal
// "Unknown" is the final fallback.
func ResolveName(entry model.CallHistoryEntry, contacts ContactIndex) string {
	if contact, ok := contacts[phone.Normalize(entry.PhoneNumber)]; ok && contact.Name != "" {
		return contact.Name
	}
	if entry.CallerName != "" {
		return entry.CallerName
	}
	return UnknownCallerName
}

// AvatarLetter returns the uppercased first letter of the resolved name.
func AvatarLetter(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return strings.ToUpper(UnknownCallerName[:1])
	}
	return strings.ToUpper(string([]rune(trimmed)[0]))
}

// AvatarColor deterministically assigns a palette color to a display name.
func AvatarColor(name string) string {
	h := fnv.New32a()
	h.Write([]byte(name))
	return avatarPalette[h.Sum32()%uint32(len(avatarPalette))]
}

// MatchesQuery reports whether a resolved name or raw phone number matches
// the free-text search query. Matching is a case-insensitive substring test;
// an empty query matches everything.
func MatchesQuery(name, phoneNumber, query string) bool {
	if query == "" {
		return true
	}
	q := strings.ToLower(query)
	return strings.Contains(strings.ToLower(name), q) ||
		strings.Contains(strings.ToLower(phoneNumber), q)
}

// FilterContacts returns the contacts whose name or phone number matches the
// query, preserving input order.
func FilterContacts(contacts []model.Contact, query string) []model.Contact {
	if query == "" {
		return contacts
	}
	filtered := make([]model.Contact, 0, len(contacts))
	for _, c := range contacts {
		if MatchesQuery(c.Name, c.PhoneNumber, query) {
			filtered = append(filtered, c)
		}
	}
	return filtered
}

// FormatTimestamp renders an entry timestamp for display. Missing timestamps
// render as "Unknown" rather than failing.
func FormatTimestamp(ts *time.Time, now time.Time) string {
	if ts == nil {
		return unknownGroupLabel
	}
	if sameDay(*ts, now) {
		return ts.Format("3:04 PM")
	}
	if sameDay(*ts, now.AddDate(0, 0, -1)) {
		return "Yesterday"
	}
	return ts.Format("Jan 2, 2006")
}

// DayLabel maps an entry timestamp to its group label.
func DayLabel(ts *time.Time, now time.Time) string {
	if ts == nil {
		return unknownGroupLabel
	}
	if sameDay(*ts, now) {
		return "Today"
	}
	if sameDay(*ts, now.AddDate(0, 0, -1)) {
		return "Yesterday"
	}
	return ts.Format("Jan 2, 2006")
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// BuildItem projects a single entry against the contacts index.
func BuildItem(entry model.CallHistoryEntry, contacts ContactIndex, now time.Time) CallHistoryItem {
	name := ResolveName(entry, contacts)
	return CallHistoryItem{
		Entry:        entry,
		DisplayName:  name,
		DisplayPhone: phone.FormatDisplay(entry.PhoneNumber),
		DisplayTime:  FormatTimestamp(entry.Timestamp, now),
		AvatarLetter: AvatarLetter(name),
		AvatarColor:  AvatarColor(name),
	}
}

// BuildView produces the filtered, grouped, render-ready view of the call
// history. Group order is Today first, then Yesterday, then older days
// newest first, with timestamp-less entries grouped last under "Unknown".
// The function is pure: same inputs always yield the same output.
func BuildView(entries []model.CallHistoryEntry, contacts []model.Contact, query string, now time.Time) []DayGroup {
	index := BuildContactIndex(contacts)

	grouped := make(map[string][]CallHistoryItem)
	groupDay := make(map[string]time.Time)
	for _, entry := range entries {
		item := BuildItem(entry, index, now)
		if !MatchesQuery(item.DisplayName, entry.PhoneNumber, query) {
			continue
		}
		label := DayLabel(entry.Timestamp, now)
		grouped[label] = append(grouped[label], item)
		if entry.Timestamp != nil {
			groupDay[label] = *entry.Timestamp
		}
	}

	labels := make([]string, 0, len(grouped))
	for label := range grouped {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		return groupRank(labels[i], groupDay) > groupRank(labels[j], groupDay)
	})

	groups := make([]DayGroup, 0, len(labels))
	for _, label := range labels {
		groups = append(groups, DayGroup{Label: label, Items: grouped[label]})
	}
	return groups
}

// groupRank orders labels: Today, Yesterday, then dates descending, Unknown
// last. Higher rank sorts first.
func groupRank(label string, groupDay map[string]time.Time) int64 {
	switch label {
	case "Today":
		return 1<<62 + 1
	case "Yesterday":
		return 1 << 62
	case unknownGroupLabel:
		return math.MinInt64
	}
	if day, ok := groupDay[label]; ok {
		return day.Unix()
	}
	return 0
}
