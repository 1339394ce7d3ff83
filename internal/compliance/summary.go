package compliance

import (
	"github.com/samber/lo"

	"github.com/dj-oyu/ppe-monitor/pkg/types"
)

// FallNotificationID is the id of the single critical notification.
const FallNotificationID = "fall"

// Summarize counts violations and compliant detections and derives the
// notification set: one critical entry when any fall is present, followed by
// one warning per distinct violation type in first-seen order.
func Summarize(detections []types.Detection) (types.Stats, []types.Notification) {
	var (
		stats          types.Stats
		critical       bool
		violationTypes []string
	)

	for _, det := range detections {
		switch GroupOf(det.Class) {
		case Violation:
			stats.Violations++
			kind, _ := ViolationType(det.Class)
			violationTypes = append(violationTypes, kind)
		case Compliant:
			stats.Compliant++
		case Critical:
			critical = true
		}
	}

	violationTypes = lo.Uniq(violationTypes)

	notifications := make([]types.Notification, 0, len(violationTypes)+1)
	if critical {
		notifications = append(notifications, types.Notification{
			ID:       FallNotificationID,
			Severity: types.SeverityCritical,
			Message:  "Fall detected",
		})
	}
	for _, kind := range violationTypes {
		notifications = append(notifications, types.Notification{
			ID:       kind,
			Severity: types.SeverityWarning,
			Message:  "Missing " + kind,
		})
	}

	return stats, notifications
}
