package bot

import (
	"context"
	"fmt"
	"strings"

	"itevents/internal/approval"
	"itevents/internal/ics"
	"itevents/internal/model"
)

func requestApproval(ctx context.Context, rt *Runtime, req Request, s Session) (Transition, error) {
	_, e, err := pick(req.Input.Payload, "request_approval_", s)
	if err != nil {
		return stay(s), err
	}
	sub, err := rt.Approvals.Submit(ctx, req.UserID, e)
	if err != nil {
		return stay(s), err
	}
	text := fmt.Sprintf("Request #%d sent to your manager.", sub.Request.Seq)
	if sub.Queued {
		if sub.DeliverAt.IsZero() {
			text += " Your manager will be notified during working hours."
		} else {
			at := sub.DeliverAt
			if rt.Location != nil {
				at = at.In(rt.Location)
			}
			text += " Your manager will be notified at " + at.Format("Mon 02 Jan 15:04") + "."
		}
	}
	return stay(s, Reply{Text: text, Keyboard: model.Keyboard{{button("My requests", "info_approval")}, backRow()}}), nil
}

func decideApproval(ctx context.Context, rt *Runtime, req Request, s Session) (Transition, error) {
	approve, employee, seq, ok := approval.ParseDecision(req.Input.Payload)
	if !ok {
		return stay(s), errBadInput
	}
	var (
		r   model.ApprovalRequest
		err error
	)
	if approve {
		r, err = rt.Approvals.Approve(ctx, req.UserID, employee, seq)
	} else {
		r, err = rt.Approvals.Reject(ctx, req.UserID, employee, seq)
	}
	if err != nil {
		return stay(s), err
	}
	who := fmt.Sprintf("user %d", employee)
	if p, err := rt.Users.Get(employee); err == nil {
		who = p.DisplayName
	}
	verb := "Approved"
	if r.Status == model.StatusRejected {
		verb = "Rejected"
	}
	text := fmt.Sprintf("%s: %s (%s) for %s.", verb, r.Event.Title, r.Event.Date, who)
	return stay(s, Reply{Text: text, Keyboard: model.Keyboard{{button("Pending approvals", "refresh_approvals")}, backRow()}}), nil
}

func myApprovals(_ context.Context, rt *Runtime, req Request, s Session) (Transition, error) {
	reqs := rt.Approvals.ForEmployee(req.UserID)
	var b strings.Builder
	b.WriteString("Your approval requests:")
	if len(reqs) == 0 {
		b.WriteString("\n\nNone yet. Open an event and press Request approval.")
	}
	for _, r := range reqs {
		b.WriteString("\n" + requestLine(r))
	}
	if req.Profile.ManagerID == nil {
		b.WriteString("\n\nYou have no manager assigned yet.")
	}
	kb := model.Keyboard{{button("Refresh", "info_approval")}, backRow()}
	return stay(s, Reply{Text: b.String(), Keyboard: kb}), nil
}

func pendingApprovals(_ context.Context, rt *Runtime, req Request, s Session) (Transition, error) {
	pending := rt.Approvals.Pending(req.UserID)
	var b strings.Builder
	b.WriteString("Pending approvals:")
	var kb model.Keyboard
	for _, r := range pending {
		who := fmt.Sprintf("user %d", r.EmployeeID)
		if p, err := rt.Users.Get(r.EmployeeID); err == nil {
			who = p.DisplayName
		}
		fmt.Fprintf(&b, "\n%s: %s", who, requestLine(r))
		n := approval.RequestNotification(r, who)
		kb = append(kb, n.Keyboard...)
	}
	if len(pending) == 0 {
		b.WriteString("\n\nNothing is waiting for you.")
	}
	kb = append(kb, []model.Button{button("Refresh", "refresh_approvals")}, backRow())
	return stay(s, Reply{Text: b.String(), Keyboard: kb}), nil
}

func addToCalendar(ctx context.Context, rt *Runtime, req Request, s Session) (Transition, error) {
	_, e, err := pick(req.Input.Payload, "add_calendar_", s)
	if err != nil {
		return stay(s), err
	}
	added, err := rt.Users.AddCalendarEntry(ctx, req.UserID, e)
	if err != nil {
		return stay(s), err
	}
	text := "Added to your calendar."
	if !added {
		text = "Already in your calendar."
	}
	doc := Document{Name: "event.ics", Data: ics.Export([]model.Event{e}, rt.Calendar), Caption: e.Title}
	return stay(s, Reply{Text: text}, doc), nil
}

func showCalendar(_ context.Context, rt *Runtime, req Request, s Session) (Transition, error) {
	entries := rt.Users.CalendarEntries(req.UserID)
	next := Session{State: StateMain, Results: entries}
	footer := []model.Button{
		button("Export .ics", "export_calendar"),
		button("Refresh", "refresh_calendar"),
		button("Clear", "clear_calendar"),
	}
	return stay(next, listReply("Your calendar", entries, footer)), nil
}

func clearCalendar(ctx context.Context, rt *Runtime, req Request, s Session) (Transition, error) {
	if err := rt.Users.ClearCalendar(ctx, req.UserID); err != nil {
		return stay(s), err
	}
	next := Session{State: StateMain}
	return stay(next, Reply{Text: "Calendar cleared.", Keyboard: mainKeyboard(req.Profile)}), nil
}

func exportCalendar(_ context.Context, rt *Runtime, req Request, s Session) (Transition, error) {
	entries := rt.Users.CalendarEntries(req.UserID)
	if len(entries) == 0 {
		return stay(s, Reply{Text: "Your calendar is empty.", Keyboard: mainKeyboard(req.Profile)}), nil
	}
	doc := Document{
		Name:    "calendar.ics",
		Data:    ics.Export(entries, rt.Calendar),
		Caption: fmt.Sprintf("%d events", len(entries)),
	}
	return stay(s, doc), nil
}
