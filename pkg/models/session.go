package models

import "time"

// SessionKey identifies one serialized conversation lane: an (organization, user) pair.
type SessionKey struct {
	Org  string `json:"org"`
	User string `json:"user"`
}

// String renders the key in the form used for locking and log correlation.
func (k SessionKey) String() string {
	return k.Org + "/" + k.User
}

// Exchange is one completed turn retained in a session's bounded history tail.
type Exchange struct {
	UserMessage      string    `json:"user_message"`
	AssistantText    string    `json:"assistant_text"`
	Timestamp        time.Time `json:"timestamp"`
}

// Preferences holds per-session settings that outlive any single request.
type Preferences struct {
	ResponseLanguage string `json:"response_language"`
	FirstInteraction bool   `json:"first_interaction"`
}

// DefaultPreferences returns the preferences assigned to a brand-new session.
func DefaultPreferences() Preferences {
	return Preferences{ResponseLanguage: "en", FirstInteraction: true}
}

// RateWindow is a fixed-window counter used to rate-limit admin operations.
type RateWindow struct {
	WindowStartMs int64 `json:"window_start_ms"`
	Count         int   `json:"count"`
}

// SessionState is the full persisted record owned by one SessionKey.
type SessionState struct {
	Key         SessionKey  `json:"key"`
	History     []Exchange  `json:"history"`
	Preferences Preferences `json:"preferences"`
	AdminRate   RateWindow  `json:"admin_rate"`
}

// NewSessionState returns the state assigned to a session on first contact.
func NewSessionState(key SessionKey) *SessionState {
	return &SessionState{
		Key:         key,
		History:     nil,
		Preferences: DefaultPreferences(),
	}
}

// AppendExchange appends e and trims the history to at most capacity entries,
// keeping the most recent ones.
func (s *SessionState) AppendExchange(e Exchange, capacity int) {
	s.History = append(s.History, e)
	if capacity <= 0 {
		capacity = 1
	}
	if len(s.History) > capacity {
		s.History = s.History[len(s.History)-capacity:]
	}
}
