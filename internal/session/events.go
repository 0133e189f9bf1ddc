package session

import "github.com/CivicSim/CS-Gateway/internal/civic"

// Event types pushed to session subscribers (the websocket feed).
const (
	EventItemPlaced    = "item_placed"
	EventItemRemoved   = "item_removed"
	EventJobStarted    = "job_started"
	EventJobProgress   = "job_progress"
	EventPartialMerge  = "partial_merge"
	EventJobComplete   = "job_complete"
	EventJobFailed     = "job_failed"
	EventJobCancelled  = "job_cancelled"
	EventFeedUpdated   = "feed_updated"
	EventPolicyAdopted = "policy_adopted"
	EventAdoptionError = "adoption_error"
)

// Event is one state-change notification. Exactly the payload fields
// relevant to Type are set.
type Event struct {
	Type      string                `json:"type"`
	Job       *JobState             `json:"job,omitempty"`
	Item      *civic.PlacedItem     `json:"item,omitempty"`
	ItemID    string                `json:"item_id,omitempty"`
	Reactions []civic.AgentReaction `json:"reactions,omitempty"`
	Zones     []civic.ZoneSentiment `json:"zones,omitempty"`
	FeedItem  *civic.FeedItem       `json:"feed_item,omitempty"`
	Adopted   *civic.AdoptedEvent   `json:"adopted,omitempty"`
	Message   string                `json:"message,omitempty"`
}
