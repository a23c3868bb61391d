package domain

import "encoding/json"

// Action names a request on the message channel.
type Action string

const (
	ActionGetProfiles          Action = "GetProfiles"
	ActionAddProfile           Action = "AddProfile"
	ActionUpdateProfile        Action = "UpdateProfile"
	ActionRemoveProfile        Action = "RemoveProfile"
	ActionUpdateProfileName    Action = "UpdateProfileName"
	ActionUpdateScheduleEvents Action = "UpdateScheduleEvents"
	ActionGetActiveProfiles    Action = "GetActiveProfiles"
	ActionUpdateProfileOrder   Action = "UpdateProfileOrder"
	ActionCheckURL             Action = "CheckUrl"
	ActionTabUpdated           Action = "TabUpdated"

	// Sent by the daemon, never handled by it.
	ActionNotifyProfilesUpdated Action = "NotifyProfilesUpdated"
)

// Request is one inbound message. Body is decoded per action.
type Request struct {
	Action Action          `json:"action"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// MessageError is the error payload of a failed response.
type MessageError struct {
	Message string `json:"message"`
}

// Response answers exactly one Request.
// Either Error is set or Body is, never both.
type Response struct {
	Error *MessageError `json:"error,omitempty"`
	Body  any           `json:"body,omitempty"`
}

// ErrorResponse builds a failed response from err.
func ErrorResponse(err error) Response {
	return Response{Error: &MessageError{Message: err.Error()}}
}

// UpdateProfileBody is the body of UpdateProfile.
type UpdateProfileBody struct {
	ProfileName string   `json:"profileName"`
	Profile     *Profile `json:"profile"`
	DoNotNotify bool     `json:"doNotNotify,omitempty"`
}

// UpdateProfileNameBody is the body of UpdateProfileName.
type UpdateProfileNameBody struct {
	PrevName string `json:"prevName"`
	NewName  string `json:"newName"`
}

// UpdateScheduleEventsBody is the body of UpdateScheduleEvents.
type UpdateScheduleEventsBody struct {
	ProfileName string       `json:"profileName"`
	Events      []SchedEvent `json:"events"`
}

// TabUpdatedBody is the body of TabUpdated.
type TabUpdatedBody struct {
	TabID int    `json:"tabId"`
	URL   string `json:"url"`
}

// TabUpdatedResult is the response body of TabUpdated.
type TabUpdatedResult struct {
	Redirected bool `json:"redirected"`
}

// ActiveProfiles is the response body of GetActiveProfiles.
type ActiveProfiles struct {
	Mode     BlockMode  `json:"mode"`
	Profiles []*Profile `json:"profiles"`
	Selected string     `json:"selected,omitempty"` // most recently activated
}

// Decision is the outcome of matching a URL against the active profiles.
type Decision struct {
	Blocked bool   `json:"blocked"`
	Matched bool   `json:"matched"`
	Profile string `json:"profile,omitempty"` // profile of the first matching site
	Pattern string `json:"pattern,omitempty"` // first matching site pattern
}
