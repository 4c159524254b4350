package types

import (
	"time"

	"gorm.io/datatypes"
)

// Image is a generated picture as it is cached: the prompt it was generated from, the transport reference that
// can be used to send it again and the id the scoring service assigned to it.
type Image struct {
	Prompt    string         `json:"prompt" gorm:"primaryKey"`
	Ref       string         `json:"ref" gorm:"index"`
	ImageId   string         `json:"image_id"`
	Params    datatypes.JSON `json:"params"` // generation parameters
	CreatedAt time.Time      `json:"created_at"`
}

// TopEntry is one row of the scoring service's leaderboard.
type TopEntry struct {
	Score int64  `json:"score"`
	Url   string `json:"url"`
}
