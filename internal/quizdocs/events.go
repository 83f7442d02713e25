package quizdocs

// ChangeType labels why the cached document set changed.
type ChangeType string

// Change types carried by ChangeEvent.
const (
	ChangeUpdated ChangeType = "updated"
	ChangeCleared ChangeType = "cleared"
	ChangeCleanup ChangeType = "cleanup"
	ChangeSynced  ChangeType = "synced"
)

// ChangeEvent notifies observers that the document set changed underneath
// them, so a history view can refresh. Events preserve emission order per
// subscriber; nothing more is guaranteed.
type ChangeEvent struct {
	Type          ChangeType `json:"changeType"`
	DocumentCount int        `json:"documentCount"`
}
