package syncer

import (
	"strings"

	"teamcal/internal/models"
)

// Reasons reported by Decide.
const (
	reasonKeywordNotInSummary = "keyword not in summary"
	reasonOwnEvent            = "organized by owner"
	reasonNoAttendees         = "invited without attendee list"
	reasonNoSelfAttendee      = "owner not on attendee list"
	reasonNotAccepted         = "invitation not accepted"
	reasonAccepted            = "invitation accepted"
)

// ShouldInclude reports whether event genuinely represents identity's
// commitment for keyword.
func ShouldInclude(identity, keyword string, event *models.Event) bool {
	ok, _ := Decide(identity, keyword, event)
	return ok
}

// Decide is ShouldInclude with the reason for the decision, for logging.
//
// The search API also matches description and location, so only a keyword
// in the summary counts. Events the owner organized are always trusted;
// invitations need an explicit "accepted" from the owner.
func Decide(identity, keyword string, event *models.Event) (bool, string) {
	if !strings.Contains(strings.ToLower(event.Summary), strings.ToLower(keyword)) {
		return false, reasonKeywordNotInSummary
	}
	if org := event.Organizer; org == nil || org.Self || strings.EqualFold(org.Email, identity) {
		return true, reasonOwnEvent
	}
	if len(event.Attendees) == 0 {
		return false, reasonNoAttendees
	}
	self, ok := event.SelfAttendee()
	if !ok {
		return false, reasonNoSelfAttendee
	}
	if self.ResponseStatus != models.Accepted {
		return false, reasonNotAccepted
	}
	return true, reasonAccepted
}
