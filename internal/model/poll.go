package model

import "time"

// PollState is the compilation progress of one goal as seen by the view.
type PollState struct {
	GoalID        int        `json:"goal_id"`
	IsCompiling   bool       `json:"is_compiling"`
	Message       *string    `json:"message"`
	RetryCount    int        `json:"retry_count"`
	LastRetryTime *time.Time `json:"last_retry_time"`
}

// IdlePollState is the state of a goal with nothing compiling.
func IdlePollState(goalID int) PollState {
	return PollState{GoalID: goalID}
}
