package bot

import (
	"fmt"
	"strconv"
	"strings"

	"itevents/internal/model"
)

// maxListed bounds how many results are shown in one message.
const maxListed = 10

const helpText = `Commands:
/start - main menu
/events - events ranked for your profile
/find - search by location, audience, type and theme
/favorites - saved events
/calendar - your calendar and .ics export
/settings - change preferences
/profile - your profile
/stats - corpus statistics
/admin - administration (admins only)
/help - this message`

func button(text, payload string) model.Button {
	return model.Button{Text: text, Payload: payload}
}

func mainKeyboard(p *model.UserProfile) model.Keyboard {
	if p == nil {
		return model.Keyboard{{button("Register", "register")}}
	}
	kb := model.Keyboard{
		{button("Events", "show_all_events"), button("Find", "new_search")},
		{button("Favorites", "favorites"), button("Calendar", "refresh_calendar")},
	}
	switch p.Role {
	case model.RoleEmployee:
		kb = append(kb, []model.Button{button("My requests", "info_approval")})
	case model.RoleManager:
		kb = append(kb, []model.Button{button("Pending approvals", "refresh_approvals")})
	}
	return append(kb, []model.Button{button("Stats", "stats")})
}

func backRow() []model.Button {
	return []model.Button{button("Main menu", "main_menu")}
}

// eventLine is the one-line summary used in lists.
func eventLine(i int, e model.Event) string {
	parts := []string{e.Date.String(), string(e.Locality)}
	if e.Online && e.Locality != model.LocalityOnline {
		parts = append(parts, "online")
	}
	parts = append(parts, string(e.Type))
	line := fmt.Sprintf("%d. %s\n   %s", i+1, e.Title, strings.Join(parts, " · "))
	if e.PriorityScore > 0 {
		line += fmt.Sprintf(" · %.1f", e.PriorityScore)
	}
	return line
}

// eventCard is the detailed view of one event.
func eventCard(e model.Event) string {
	var b strings.Builder
	b.WriteString(e.Title + "\n\n")
	fmt.Fprintf(&b, "Date: %s\n", e.Date)
	if e.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", e.Location)
	} else {
		fmt.Fprintf(&b, "Location: %s\n", e.Locality)
	}
	if e.Online {
		b.WriteString("Online: yes\n")
	}
	fmt.Fprintf(&b, "Type: %s\n", e.Type)
	if len(e.Themes) > 0 {
		names := make([]string, len(e.Themes))
		for i, t := range e.Themes {
			names[i] = string(t)
		}
		fmt.Fprintf(&b, "Themes: %s\n", strings.Join(names, ", "))
	}
	if e.Audience != nil {
		fmt.Fprintf(&b, "Audience: ~%d\n", *e.Audience)
	}
	if len(e.Speakers) > 0 {
		fmt.Fprintf(&b, "Speakers: %s\n", strings.Join(e.Speakers, ", "))
	}
	if e.Description != "" {
		b.WriteString("\n" + e.Description + "\n")
	}
	if e.RegistrationInfo != "" {
		fmt.Fprintf(&b, "\nRegistration: %s\n", e.RegistrationInfo)
	}
	if e.PriorityScore > 0 {
		fmt.Fprintf(&b, "\nPriority: %.1f/10\n", e.PriorityScore)
	}
	fmt.Fprintf(&b, "Source: %s", e.Source)
	return b.String()
}

// listReply renders up to maxListed events with numbered buttons.
func listReply(header string, events []model.Event, footer ...[]model.Button) Reply {
	if len(events) == 0 {
		kb := model.Keyboard{{button("New search", "new_search")}, backRow()}
		return Reply{Text: header + "\n\nNothing found.", Keyboard: kb}
	}
	var b strings.Builder
	b.WriteString(header)
	n := len(events)
	if n > maxListed {
		n = maxListed
	}
	fmt.Fprintf(&b, " (%d of %d)\n", n, len(events))

	var kb model.Keyboard
	var row []model.Button
	for i := 0; i < n; i++ {
		b.WriteString("\n" + eventLine(i, events[i]))
		row = append(row, button(strconv.Itoa(i+1), "event_"+strconv.Itoa(i)))
		if len(row) == 5 {
			kb = append(kb, row)
			row = nil
		}
	}
	if len(row) > 0 {
		kb = append(kb, row)
	}
	kb = append(kb, footer...)
	kb = append(kb, backRow())
	return Reply{Text: b.String(), Keyboard: kb}
}

func eventKeyboard(idx int, e model.Event, role model.Role) model.Keyboard {
	i := strconv.Itoa(idx)
	kb := model.Keyboard{{button("Add to favorites", "add_favorite_"+i)}}
	switch {
	case role == model.RoleEmployee:
		kb = append(kb, []model.Button{button("Request approval", "request_approval_"+i)})
	case role.Elevated():
		kb = append(kb, []model.Button{button("Add to calendar", "add_calendar_"+i)})
	}
	if e.URL != "" {
		kb = append(kb, []model.Button{{Text: "Open event page", URL: e.URL}})
	}
	return append(kb, backRow())
}

func requestLine(r model.ApprovalRequest) string {
	return fmt.Sprintf("#%d %s (%s) - %s", r.Seq, r.Event.Title, r.Event.Date, r.Status)
}
