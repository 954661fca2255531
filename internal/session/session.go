// Package session is the client-side session cache: where a logged-in
// client keeps its token and profile, and how the rest of the client learns
// that they changed.
//
// A Cache is an explicit, injected store with a lifecycle (Open … Close).
// It is initialized from storage when opened and changes only through Save
// and Clear. Every change is announced on two channels:
//
//   - In-process: Save and Clear synchronously deliver an Event to every
//     subscriber before returning (Source == SourceLocal).
//   - Cross-process: when the persistent storage is a FileStorage, writes
//     made by other processes are picked up by an fsnotify watch and
//     delivered as SourceRemote events. Echoes of this process's own writes
//     reload a record the cache already holds and are dropped.
//
// Subscribers never poll; a View holds the last record it was told about.
package session

import "strings"

// Storage keys.
const (
	TokenKey = "auth.token"
	UserKey  = "auth.user"
)

// ChangeEvent is the name carried by every Event.
const ChangeEvent = "auth-changed"

// Profile is the cached user profile. Only Email is expected; ID and Name
// may be missing in records written by older clients.
type Profile struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Record is the client's view of who is logged in. Token is non-empty iff
// the client is authenticated. User may be nil even when Token is set.
type Record struct {
	Token string
	User  *Profile
}

// Authenticated reports whether the record holds a token.
func (r Record) Authenticated() bool {
	return r.Token != ""
}

func (r Record) equal(o Record) bool {
	if r.Token != o.Token {
		return false
	}
	if r.User == nil || o.User == nil {
		return r.User == nil && o.User == nil
	}
	return *r.User == *o.User
}

// DisplayLabel picks the text that names the current user: the profile
// name, else the profile email, else fallbackEmail (typically what was typed
// into the login form).
func DisplayLabel(r Record, fallbackEmail string) string {
	if r.User != nil {
		if name := strings.TrimSpace(r.User.Name); name != "" {
			return name
		}
		if r.User.Email != "" {
			return r.User.Email
		}
	}
	return strings.TrimSpace(fallbackEmail)
}

// Source says where a change originated.
type Source int

const (
	SourceLocal Source = iota
	SourceRemote
)

func (s Source) String() string {
	switch s {
	case SourceLocal:
		return "local"
	case SourceRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// Event announces a change to the cached record.
type Event struct {
	Name   string // always ChangeEvent
	Source Source
	Record Record
	// Version increases with every change of one Cache. Events of racing
	// changes can reach a subscriber out of order; the highest Version seen
	// is the current record.
	Version uint64
}
