package domain

import "time"

// Award records that an achievement rule was satisfied for a family member.
// Its ID is derived from the rule and user so it is unique per pair.
type Award struct {
	Meta
	RuleID    string    `json:"rule_id"`
	UserID    string    `json:"user_id"`
	RewardID  string    `json:"reward_id"`
	AwardedAt time.Time `json:"awarded_at"`
}

// AwardID returns the identifier of the award for ruleID and userID.
func AwardID(ruleID, userID string) string {
	return ruleID + ":" + userID
}
