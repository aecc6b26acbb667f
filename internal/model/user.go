package model

import "time"

// UserID is the external identity assigned by the chat transport.
type UserID int64

// Role is the workflow role of a user.
type Role string

const (
	RoleEmployee Role = "employee"
	RoleManager  Role = "manager"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleEmployee || r == RoleManager || r == RoleAdmin
}

// Elevated roles require a shared secret at registration.
func (r Role) Elevated() bool {
	return r == RoleManager || r == RoleAdmin
}

// Participation is how the user wants to take part in events.
type Participation string

const (
	ParticipationListener   Participation = "listener"
	ParticipationSpeaker    Participation = "speaker"
	ParticipationNetworking Participation = "networking"
)

// Participations lists the options in display order.
var Participations = []Participation{ParticipationListener, ParticipationSpeaker, ParticipationNetworking}

// Preferences drive ranking and the hard filter.
type Preferences struct {
	LocationTag       Locality      `json:"location_tag"`
	AudienceBand      AudienceBand  `json:"audience_band"`
	ParticipationRole Participation `json:"participation_role"`
	Interests         []Theme       `json:"interests"`
}

// DefaultPreferences accept any event.
func DefaultPreferences() Preferences {
	return Preferences{
		LocationTag:       LocalityAny,
		AudienceBand:      BandAny,
		ParticipationRole: ParticipationListener,
	}
}

// InterestedIn reports whether t is one of the user's interests.
func (p Preferences) InterestedIn(t Theme) bool {
	for _, v := range p.Interests {
		if v == t {
			return true
		}
	}
	return false
}

// UserProfile is the directory view of a user. ManagerID and Employees are
// derived from the directory indices on read.
type UserProfile struct {
	UserID         UserID      `json:"user_id"`
	DisplayName    string      `json:"display_name"`
	Position       string      `json:"position"`
	Role           Role        `json:"role"`
	Preferences    Preferences `json:"preferences"`
	SetupCompleted bool        `json:"setup_completed"`
	RegisteredAt   time.Time   `json:"registered_at"`

	ManagerID *UserID  `json:"-"`
	Employees []UserID `json:"-"`
}
