package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"itevents/internal/acquire"
	"itevents/internal/model"
	"itevents/internal/rank"
)

func (rt *Runtime) criteriaFor(p *model.UserProfile) rank.Criteria {
	return rank.CriteriaFor(p, rt.MaxFutureDays, rt.MinAudience)
}

func (rt *Runtime) search(c rank.Criteria, p *model.UserProfile) []model.Event {
	return rt.Filter.Apply(rt.Events.Corpus().Events, c, p).Events
}

func showAllEvents(_ context.Context, rt *Runtime, req Request, s Session) (Transition, error) {
	results := rt.search(rt.criteriaFor(req.Profile), req.Profile)
	next := Session{State: StateMain, Results: results}
	return stay(next, listReply("Events for you", results, []model.Button{button("New search", "new_search")})), nil
}

func beginSearch(_ context.Context, rt *Runtime, req Request, s Session) (Transition, error) {
	next := Session{State: StateSearching, Step: StepLocation, Criteria: rt.criteriaFor(req.Profile), Results: s.Results}
	return stay(next, locationPrompt("find_loc_", "Search: which location?")), nil
}

func onFindLocation(_ context.Context, _ *Runtime, req Request, s Session) (Transition, error) {
	if s.Step != StepLocation {
		return wrongStep(s)
	}
	loc, ok := parseLocality(strings.TrimPrefix(req.Input.Payload, "find_loc_"))
	if !ok {
		return stay(s), errBadInput
	}
	s.Criteria.Location = loc
	return stay(s.to(StateSearching, StepAudience), audiencePrompt("find_aud_", "Search: which audience size?")), nil
}

func onFindAudience(_ context.Context, _ *Runtime, req Request, s Session) (Transition, error) {
	if s.Step != StepAudience {
		return wrongStep(s)
	}
	band, ok := parseBand(strings.TrimPrefix(req.Input.Payload, "find_aud_"))
	if !ok {
		return stay(s), errBadInput
	}
	s.Criteria.Band = band
	var kb model.Keyboard
	var row []model.Button
	for _, t := range model.EventTypes {
		row = append(row, button(string(t), "find_type_"+string(t)))
		if len(row) == 3 {
			kb = append(kb, row)
			row = nil
		}
	}
	if len(row) > 0 {
		kb = append(kb, row)
	}
	kb = append(kb, []model.Button{button("Any type", "find_type_all")})
	return stay(s.to(StateSearching, StepType), Reply{Text: "Search: which format?", Keyboard: kb}), nil
}

func onFindType(_ context.Context, _ *Runtime, req Request, s Session) (Transition, error) {
	if s.Step != StepType {
		return wrongStep(s)
	}
	arg := strings.TrimPrefix(req.Input.Payload, "find_type_")
	s.Criteria.Types = nil
	if arg != "all" {
		t := model.EventType(arg)
		if !t.Valid() {
			return stay(s), errBadInput
		}
		s.Criteria.Types = []model.EventType{t}
	}
	var kb model.Keyboard
	var row []model.Button
	for i, t := range model.Themes {
		row = append(row, button(string(t), "find_theme_"+strconv.Itoa(i)))
		if len(row) == 2 {
			kb = append(kb, row)
			row = nil
		}
	}
	if len(row) > 0 {
		kb = append(kb, row)
	}
	kb = append(kb, []model.Button{button("Any theme", "find_theme_all")})
	return stay(s.to(StateSearching, StepTheme), Reply{Text: "Search: which theme?", Keyboard: kb}), nil
}

func onFindTheme(_ context.Context, rt *Runtime, req Request, s Session) (Transition, error) {
	if s.Step != StepTheme {
		return wrongStep(s)
	}
	arg := strings.TrimPrefix(req.Input.Payload, "find_theme_")
	s.Criteria.Themes = nil
	if arg != "all" {
		i, err := strconv.Atoi(arg)
		if err != nil || i < 0 || i >= len(model.Themes) {
			return stay(s), errBadInput
		}
		s.Criteria.Themes = []model.Theme{model.Themes[i]}
	}
	results := rt.search(s.Criteria, req.Profile)
	next := Session{State: StateMain, Results: results}
	return stay(next, listReply("Search results", results, []model.Button{button("New search", "new_search")})), nil
}

// pick resolves a <prefix><idx> payload against the last shown list.
func pick(payload, prefix string, s Session) (int, model.Event, error) {
	i, err := strconv.Atoi(strings.TrimPrefix(payload, prefix))
	if err != nil {
		return 0, model.Event{}, errBadInput
	}
	if i < 0 || i >= len(s.Results) {
		return 0, model.Event{}, errStale
	}
	return i, s.Results[i], nil
}

func showEvent(_ context.Context, _ *Runtime, req Request, s Session) (Transition, error) {
	i, e, err := pick(req.Input.Payload, "event_", s)
	if err != nil {
		return stay(s), err
	}
	return stay(s, Reply{Text: eventCard(e), Keyboard: eventKeyboard(i, e, req.role())}), nil
}

func addFavorite(ctx context.Context, rt *Runtime, req Request, s Session) (Transition, error) {
	_, e, err := pick(req.Input.Payload, "add_favorite_", s)
	if err != nil {
		return stay(s), err
	}
	added, err := rt.Users.AddFavorite(ctx, req.UserID, e)
	if err != nil {
		return stay(s), err
	}
	text := "Added to favorites."
	if !added {
		text = "Already in favorites."
	}
	return stay(s, Reply{Text: text}), nil
}

func showFavorites(_ context.Context, rt *Runtime, req Request, s Session) (Transition, error) {
	favs := rt.Users.Favorites(req.UserID)
	next := Session{State: StateMain, Results: favs}
	return stay(next, listReply("Favorites", favs)), nil
}

func showStats(_ context.Context, rt *Runtime, req Request, s Session) (Transition, error) {
	c := rt.Events.Corpus()
	var b strings.Builder
	fmt.Fprintf(&b, "Events in corpus: %d\n", len(c.Events))
	if !c.Metadata.UpdatedAt.IsZero() {
		at := c.Metadata.UpdatedAt
		if rt.Location != nil {
			at = at.In(rt.Location)
		}
		fmt.Fprintf(&b, "Updated: %s\n", at.Format("2006-01-02 15:04"))
	}
	writeCounts(&b, "By source", acquire.SourceCounts(c.Events))
	writeCounts(&b, "By type", acquire.TypeCounts(c.Events))
	fmt.Fprintf(&b, "\nYour calendar: %d\nYour favorites: %d",
		len(rt.Users.CalendarEntries(req.UserID)), len(rt.Users.Favorites(req.UserID)))
	return stay(s, Reply{Text: b.String(), Keyboard: model.Keyboard{backRow()}}), nil
}

func writeCounts(b *strings.Builder, title string, counts []acquire.Count) {
	if len(counts) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, c := range counts {
		fmt.Fprintf(b, "  %s: %d\n", c.Key, c.N)
	}
}
