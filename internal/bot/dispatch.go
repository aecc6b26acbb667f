package bot

import (
	"context"
	"strings"

	"itevents/internal/model"
	"itevents/internal/rank"
)

// State is the dialog state of one user.
type State string

const (
	StateUnauthenticated State = ""
	StateAuthMenu        State = "auth_menu"
	StateRegistering     State = "registering"
	StateSetup           State = "setup"
	StateMain            State = "main"
	StateSearching       State = "searching"
	StateAdminMenu       State = "admin_menu"
)

// Steps inside the multi-step states.
const (
	StepFIO      = "fio"
	StepPosition = "position"
	StepRole     = "role"
	StepSecret   = "secret"

	StepLocation      = "location"
	StepAudience      = "audience"
	StepParticipation = "participation"
	StepInterests     = "interests"
	StepType          = "type"
	StepTheme         = "theme"

	StepAssign   = "assign"
	StepUnassign = "unassign"
)

// Session is the per-user dialog state plus scratch data.
type Session struct {
	State State
	Step  string

	// Registration draft.
	Name     string
	Position string
	Role     model.Role

	// Setup draft; Editing marks a settings pass over a finished profile.
	Prefs   model.Preferences
	Editing bool

	// Search draft.
	Criteria rank.Criteria

	// Results is the last list shown; event_<idx> style payloads index it.
	Results []model.Event
}

func (s Session) to(state State, step string) Session {
	s.State, s.Step = state, step
	return s
}

// Request is the handler view of one input.
type Request struct {
	UserID  model.UserID
	Profile *model.UserProfile
	Input   Input
}

func (r Request) role() model.Role {
	if r.Profile == nil {
		return ""
	}
	return r.Profile.Role
}

type handler func(ctx context.Context, rt *Runtime, req Request, s Session) (Transition, error)

// access restricts a route.
type access int

const (
	accessRegistered access = iota
	accessPublic
	accessEmployee
	accessElevated // manager or admin
	accessManager
	accessAdmin
)

type callbackRoute struct {
	payload string
	prefix  bool
	access  access
	// states limits the route to these states; empty means any.
	states []State
	h      handler
}

var commands map[string]handler

var callbacks []callbackRoute

var textByState map[State]handler

func init() {
	commands = map[string]handler{
		"start":     cmdStart,
		"help":      cmdHelp,
		"events":    showAllEvents,
		"find":      beginSearch,
		"favorites": showFavorites,
		"settings":  beginSettings,
		"profile":   showProfile,
		"stats":     showStats,
		"calendar":  showCalendar,
		"admin":     openAdmin,
	}

	callbacks = []callbackRoute{
		{payload: "register", access: accessPublic, states: []State{StateUnauthenticated, StateAuthMenu}, h: beginRegistration},
		{payload: "reg_role_", prefix: true, access: accessPublic, states: []State{StateRegistering}, h: onRegistrationRole},

		{payload: "setup_role_ok", states: []State{StateSetup}, h: onSetupRole},
		{payload: "setup_loc_", prefix: true, states: []State{StateSetup}, h: onSetupLocation},
		{payload: "setup_aud_", prefix: true, states: []State{StateSetup}, h: onSetupAudience},
		{payload: "setup_part_", prefix: true, states: []State{StateSetup}, h: onSetupParticipation},
		{payload: "setup_int_", prefix: true, states: []State{StateSetup}, h: onSetupInterest},

		{payload: "main_menu", h: mainMenu},
		{payload: "new_search", h: beginSearch},
		{payload: "find_loc_", prefix: true, states: []State{StateSearching}, h: onFindLocation},
		{payload: "find_aud_", prefix: true, states: []State{StateSearching}, h: onFindAudience},
		{payload: "find_type_", prefix: true, states: []State{StateSearching}, h: onFindType},
		{payload: "find_theme_", prefix: true, states: []State{StateSearching}, h: onFindTheme},
		{payload: "show_all_events", h: showAllEvents},
		{payload: "favorites", h: showFavorites},
		{payload: "stats", h: showStats},

		{payload: "event_", prefix: true, h: showEvent},
		{payload: "add_calendar_", prefix: true, access: accessElevated, h: addToCalendar},
		{payload: "request_approval_", prefix: true, access: accessEmployee, h: requestApproval},
		{payload: "add_favorite_", prefix: true, h: addFavorite},

		{payload: "approve_event_", prefix: true, access: accessManager, h: decideApproval},
		{payload: "reject_event_", prefix: true, access: accessManager, h: decideApproval},
		{payload: "info_approval", access: accessEmployee, h: myApprovals},
		{payload: "refresh_approvals", access: accessManager, h: pendingApprovals},

		{payload: "refresh_calendar", h: showCalendar},
		{payload: "clear_calendar", h: clearCalendar},
		{payload: "export_calendar", h: exportCalendar},

		{payload: "admin_users_", prefix: true, access: accessAdmin, h: adminListUsers},
		{payload: "admin_assign", access: accessAdmin, h: adminBeginAssign},
		{payload: "admin_unassign", access: accessAdmin, h: adminBeginUnassign},
		{payload: "admin_acquire", access: accessAdmin, h: adminAcquire},
		{payload: "admin_queue", access: accessAdmin, h: adminQueue},
	}

	textByState = map[State]handler{
		StateRegistering: onRegistrationText,
		StateAdminMenu:   onAdminText,
	}
}

// route picks the handler for req given the current state.
func route(req Request, s Session) handler {
	in := req.Input
	registered := req.Profile != nil

	if !registered {
		// Drop any session left over from a deleted profile.
		if s.State != StateAuthMenu && s.State != StateRegistering && s.State != StateUnauthenticated {
			s = Session{}
		}
		switch in.Kind {
		case InputCommand:
			if in.Command == "help" {
				return cmdHelp
			}
			return cmdStart
		case InputCallback:
			if r, ok := findCallback(in.Payload); ok && r.access == accessPublic && inStates(s.State, r.states) {
				return r.h
			}
			return cmdStart
		default:
			if s.State == StateRegistering {
				return onRegistrationText
			}
			return cmdStart
		}
	}

	if !req.Profile.SetupCompleted && (s.State != StateSetup || in.Kind == InputCommand) {
		if in.Kind == InputCommand && in.Command == "help" {
			return cmdHelp
		}
		return beginSetup
	}

	switch in.Kind {
	case InputCommand:
		if h, ok := commands[in.Command]; ok {
			return h
		}
		return unknownCommand
	case InputCallback:
		r, ok := findCallback(in.Payload)
		if !ok {
			return unknownCallback
		}
		if !inStates(s.State, r.states) {
			return staleButton
		}
		if !allowed(req.role(), r.access) {
			return forbidden
		}
		return r.h
	default:
		if h, ok := textByState[s.State]; ok {
			return h
		}
		return freeText
	}
}

func findCallback(payload string) (callbackRoute, bool) {
	for _, r := range callbacks {
		if r.prefix && strings.HasPrefix(payload, r.payload) {
			return r, true
		}
		if !r.prefix && payload == r.payload {
			return r, true
		}
	}
	return callbackRoute{}, false
}

func inStates(st State, states []State) bool {
	if len(states) == 0 {
		return true
	}
	for _, s := range states {
		if s == st {
			return true
		}
	}
	return false
}

func allowed(role model.Role, a access) bool {
	switch a {
	case accessEmployee:
		return role == model.RoleEmployee
	case accessElevated:
		return role.Elevated()
	case accessManager:
		return role == model.RoleManager
	case accessAdmin:
		return role == model.RoleAdmin
	default:
		return true
	}
}

func unknownCommand(_ context.Context, _ *Runtime, req Request, s Session) (Transition, error) {
	return stay(s, Reply{Text: "Unknown command.\n\n" + helpText, Keyboard: mainKeyboard(req.Profile)}), nil
}

func unknownCallback(_ context.Context, _ *Runtime, req Request, s Session) (Transition, error) {
	return stay(s, Reply{Text: "This button is no longer supported.", Keyboard: mainKeyboard(req.Profile)}), nil
}

func staleButton(_ context.Context, _ *Runtime, req Request, s Session) (Transition, error) {
	return stay(s, Reply{Text: "This button belongs to a finished dialog.", Keyboard: mainKeyboard(req.Profile)}), nil
}

func forbidden(_ context.Context, _ *Runtime, _ Request, s Session) (Transition, error) {
	return stay(s), errForbidden
}

func freeText(_ context.Context, _ *Runtime, req Request, s Session) (Transition, error) {
	return stay(s.to(StateMain, ""), Reply{Text: "Please use the menu buttons or /help.", Keyboard: mainKeyboard(req.Profile)}), nil
}
