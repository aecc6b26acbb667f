package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"itevents/internal/directory"
	"itevents/internal/model"
)

const maxFieldLen = 120

func cmdStart(ctx context.Context, rt *Runtime, req Request, s Session) (Transition, error) {
	if req.Profile == nil {
		return Transition{
			Next: Session{State: StateAuthMenu},
			Effects: []Effect{Reply{
				Text:     "Welcome! I collect IT events, rank them for you and handle approvals to attend them.\n\nYou are not registered yet.",
				Keyboard: mainKeyboard(nil),
			}},
		}, nil
	}
	if !req.Profile.SetupCompleted {
		return beginSetup(ctx, rt, req, s)
	}
	return mainMenu(ctx, rt, req, s)
}

func cmdHelp(_ context.Context, _ *Runtime, req Request, s Session) (Transition, error) {
	return stay(s, Reply{Text: helpText, Keyboard: mainKeyboard(req.Profile)}), nil
}

func mainMenu(_ context.Context, _ *Runtime, req Request, s Session) (Transition, error) {
	// The last result list survives so its buttons keep working.
	next := Session{State: StateMain, Results: s.Results}
	return stay(next, Reply{Text: fmt.Sprintf("Main menu, %s.", req.Profile.DisplayName), Keyboard: mainKeyboard(req.Profile)}), nil
}

func beginRegistration(_ context.Context, _ *Runtime, _ Request, _ Session) (Transition, error) {
	return stay(Session{State: StateRegistering, Step: StepFIO}, Reply{Text: "Enter your full name."}), nil
}

var roleKeyboard = model.Keyboard{
	{button("Employee", "reg_role_employee")},
	{button("Manager", "reg_role_manager")},
	{button("Administrator", "reg_role_admin")},
}

func cleanField(s string) (string, bool) {
	s = strings.Join(strings.Fields(s), " ")
	return s, s != "" && utf8.RuneCountInString(s) <= maxFieldLen
}

func onRegistrationText(ctx context.Context, rt *Runtime, req Request, s Session) (Transition, error) {
	text := req.Input.Text
	switch s.Step {
	case StepFIO:
		name, ok := cleanField(text)
		if !ok {
			return stay(s, Reply{Text: "Please enter your full name (up to 120 characters)."}), nil
		}
		s.Name = name
		return stay(s.to(StateRegistering, StepPosition), Reply{Text: "Enter your position."}), nil
	case StepPosition:
		pos, ok := cleanField(text)
		if !ok {
			return stay(s, Reply{Text: "Please enter your position (up to 120 characters)."}), nil
		}
		s.Position = pos
		return stay(s.to(StateRegistering, StepRole), Reply{Text: "Choose your role.", Keyboard: roleKeyboard}), nil
	case StepRole:
		return stay(s, Reply{Text: "Choose your role with the buttons.", Keyboard: roleKeyboard}), nil
	case StepSecret:
		return register(ctx, rt, req, s, strings.TrimSpace(text))
	}
	return beginRegistration(ctx, rt, req, s)
}

func onRegistrationRole(ctx context.Context, rt *Runtime, req Request, s Session) (Transition, error) {
	if s.Step != StepRole {
		return stay(s, Reply{Text: "Finish the current step first."}), nil
	}
	role := model.Role(strings.TrimPrefix(req.Input.Payload, "reg_role_"))
	if !role.Valid() {
		return stay(s), errBadInput
	}
	s.Role = role
	if role.Elevated() {
		return stay(s.to(StateRegistering, StepSecret), Reply{Text: fmt.Sprintf("Enter the %s registration secret.", role)}), nil
	}
	return register(ctx, rt, req, s, "")
}

func register(ctx context.Context, rt *Runtime, req Request, s Session, secret string) (Transition, error) {
	p, err := rt.Users.Create(ctx, directory.Registration{
		UserID:      req.UserID,
		DisplayName: s.Name,
		Position:    s.Position,
		Role:        s.Role,
	}, secret)
	switch {
	case errors.Is(err, directory.ErrAuthDenied):
		return Transition{
			Next:    Session{State: StateAuthMenu},
			Effects: []Effect{Reply{Text: "Wrong secret. Registration cancelled.", Keyboard: mainKeyboard(nil)}},
		}, nil
	case errors.Is(err, directory.ErrAlreadyRegistered):
		existing, gerr := rt.Users.Get(req.UserID)
		if gerr != nil {
			return stay(s), gerr
		}
		req.Profile = &existing
		return cmdStart(ctx, rt, req, Session{})
	case err != nil:
		return stay(s), err
	}
	req.Profile = &p
	tr, err := beginSetup(ctx, rt, req, Session{})
	if err != nil {
		return tr, err
	}
	tr.Effects = append([]Effect{Reply{Text: fmt.Sprintf("Registered as %s.", p.Role)}}, tr.Effects...)
	return tr, nil
}

func beginSetup(_ context.Context, _ *Runtime, req Request, _ Session) (Transition, error) {
	next := Session{State: StateSetup, Step: StepRole, Prefs: req.Profile.Preferences}
	text := fmt.Sprintf("Let's set up your preferences. Your role is %s.", req.Profile.Role)
	return stay(next, Reply{Text: text, Keyboard: model.Keyboard{{button("Continue", "setup_role_ok")}}}), nil
}

func beginSettings(_ context.Context, _ *Runtime, req Request, _ Session) (Transition, error) {
	next := Session{State: StateSetup, Step: StepLocation, Prefs: req.Profile.Preferences, Editing: true}
	return stay(next, locationPrompt("setup_loc_", "Preferred location?")), nil
}

func locationPrompt(prefix, text string) Reply {
	return Reply{Text: text, Keyboard: model.Keyboard{
		{button("Saint Petersburg", prefix+string(model.LocalitySPb)), button("Moscow", prefix+string(model.LocalityMoscow))},
		{button("Online", prefix+string(model.LocalityOnline)), button("Other cities", prefix+string(model.LocalityOther))},
		{button("Any", prefix+string(model.LocalityAny))},
	}}
}

func audiencePrompt(prefix, text string) Reply {
	return Reply{Text: text, Keyboard: model.Keyboard{
		{button("Small (<100)", prefix+string(model.BandSmall)), button("Medium (100-499)", prefix+string(model.BandMedium))},
		{button("Large (500+)", prefix+string(model.BandLarge)), button("Any", prefix+string(model.BandAny))},
	}}
}

func parseLocality(v string) (model.Locality, bool) {
	switch l := model.Locality(v); l {
	case model.LocalitySPb, model.LocalityMoscow, model.LocalityOnline, model.LocalityOther, model.LocalityAny:
		return l, true
	}
	return "", false
}

func parseBand(v string) (model.AudienceBand, bool) {
	for _, b := range model.AudienceBands {
		if string(b) == v {
			return b, true
		}
	}
	return "", false
}

func wrongStep(s Session) (Transition, error) {
	return stay(s, Reply{Text: "That button belongs to another step."}), nil
}

func onSetupRole(_ context.Context, _ *Runtime, _ Request, s Session) (Transition, error) {
	if s.Step != StepRole {
		return wrongStep(s)
	}
	return stay(s.to(StateSetup, StepLocation), locationPrompt("setup_loc_", "Preferred location?")), nil
}

func onSetupLocation(_ context.Context, _ *Runtime, req Request, s Session) (Transition, error) {
	if s.Step != StepLocation {
		return wrongStep(s)
	}
	loc, ok := parseLocality(strings.TrimPrefix(req.Input.Payload, "setup_loc_"))
	if !ok {
		return stay(s), errBadInput
	}
	s.Prefs.LocationTag = loc
	return stay(s.to(StateSetup, StepAudience), audiencePrompt("setup_aud_", "Preferred audience size?")), nil
}

func onSetupAudience(_ context.Context, _ *Runtime, req Request, s Session) (Transition, error) {
	if s.Step != StepAudience {
		return wrongStep(s)
	}
	band, ok := parseBand(strings.TrimPrefix(req.Input.Payload, "setup_aud_"))
	if !ok {
		return stay(s), errBadInput
	}
	s.Prefs.AudienceBand = band
	kb := model.Keyboard{}
	for _, p := range model.Participations {
		kb = append(kb, []model.Button{button(string(p), "setup_part_"+string(p))})
	}
	return stay(s.to(StateSetup, StepParticipation), Reply{Text: "How do you want to take part?", Keyboard: kb}), nil
}

func onSetupParticipation(_ context.Context, _ *Runtime, req Request, s Session) (Transition, error) {
	if s.Step != StepParticipation {
		return wrongStep(s)
	}
	v := model.Participation(strings.TrimPrefix(req.Input.Payload, "setup_part_"))
	valid := false
	for _, p := range model.Participations {
		valid = valid || p == v
	}
	if !valid {
		return stay(s), errBadInput
	}
	s.Prefs.ParticipationRole = v
	return stay(s.to(StateSetup, StepInterests), interestsPrompt(s.Prefs)), nil
}

// interestThemes are the themes offered as interests.
func interestThemes() []model.Theme {
	return model.Themes[:len(model.Themes)-1]
}

func interestsPrompt(p model.Preferences) Reply {
	var kb model.Keyboard
	var row []model.Button
	for i, t := range interestThemes() {
		label := string(t)
		if p.InterestedIn(t) {
			label = "[x] " + label
		}
		row = append(row, button(label, "setup_int_"+strconv.Itoa(i)))
		if len(row) == 2 {
			kb = append(kb, row)
			row = nil
		}
	}
	if len(row) > 0 {
		kb = append(kb, row)
	}
	kb = append(kb, []model.Button{button("Done", "setup_int_done")})
	return Reply{Text: "Pick your interests, then press Done.", Keyboard: kb}
}

func onSetupInterest(ctx context.Context, rt *Runtime, req Request, s Session) (Transition, error) {
	if s.Step != StepInterests {
		return wrongStep(s)
	}
	arg := strings.TrimPrefix(req.Input.Payload, "setup_int_")
	if arg == "done" {
		prefs := s.Prefs
		p, err := rt.Users.UpdateProfile(ctx, req.UserID, func(p *model.UserProfile) {
			p.Preferences = prefs
			p.SetupCompleted = true
		})
		if err != nil {
			return stay(s), err
		}
		req.Profile = &p
		text := "Preferences saved."
		if !s.Editing {
			text = "Setup complete. Use /events to see events ranked for you."
		}
		return stay(Session{State: StateMain}, Reply{Text: text, Keyboard: mainKeyboard(&p)}), nil
	}

	i, err := strconv.Atoi(arg)
	themes := interestThemes()
	if err != nil || i < 0 || i >= len(themes) {
		return stay(s), errBadInput
	}
	t := themes[i]
	var next []model.Theme
	found := false
	for _, have := range s.Prefs.Interests {
		if have == t {
			found = true
			continue
		}
		next = append(next, have)
	}
	if !found {
		next = append(next, t)
	}
	s.Prefs.Interests = next
	return stay(s, interestsPrompt(s.Prefs)), nil
}

func showProfile(_ context.Context, rt *Runtime, req Request, s Session) (Transition, error) {
	p := req.Profile
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\nPosition: %s\nRole: %s\n", p.DisplayName, p.Position, p.Role)
	fmt.Fprintf(&b, "Location: %s\nAudience: %s\nParticipation: %s\n",
		p.Preferences.LocationTag, p.Preferences.AudienceBand, p.Preferences.ParticipationRole)
	if len(p.Preferences.Interests) > 0 {
		names := make([]string, len(p.Preferences.Interests))
		for i, t := range p.Preferences.Interests {
			names[i] = string(t)
		}
		fmt.Fprintf(&b, "Interests: %s\n", strings.Join(names, ", "))
	}
	switch p.Role {
	case model.RoleEmployee:
		if p.ManagerID == nil {
			b.WriteString("Manager: not assigned\n")
		} else if m, err := rt.Users.Get(*p.ManagerID); err == nil {
			fmt.Fprintf(&b, "Manager: %s\n", m.DisplayName)
		}
	case model.RoleManager:
		fmt.Fprintf(&b, "Employees: %d\n", len(p.Employees))
	}
	fmt.Fprintf(&b, "Registered: %s", p.RegisteredAt.Format("2006-01-02"))
	return stay(s, Reply{Text: b.String() + "\n\nUse /settings to change preferences.", Keyboard: model.Keyboard{backRow()}}), nil
}
