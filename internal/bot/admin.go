package bot

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"itevents/internal/model"
)

var adminKeyboard = model.Keyboard{
	{button("Employees", "admin_users_employee"), button("Managers", "admin_users_manager"), button("Admins", "admin_users_admin")},
	{button("Assign manager", "admin_assign"), button("Clear assignment", "admin_unassign")},
	{button("Run acquisition", "admin_acquire"), button("Notification queues", "admin_queue")},
	{button("Main menu", "main_menu")},
}

func openAdmin(_ context.Context, _ *Runtime, req Request, s Session) (Transition, error) {
	if req.role() != model.RoleAdmin {
		return stay(s), errForbidden
	}
	return stay(Session{State: StateAdminMenu, Results: s.Results}, Reply{Text: "Administration.", Keyboard: adminKeyboard}), nil
}

func adminListUsers(_ context.Context, rt *Runtime, req Request, s Session) (Transition, error) {
	role := model.Role(strings.TrimPrefix(req.Input.Payload, "admin_users_"))
	if !role.Valid() {
		return stay(s), errBadInput
	}
	users := rt.Users.ListByRole(role)
	var b strings.Builder
	fmt.Fprintf(&b, "Users with role %s: %d", role, len(users))
	for _, u := range users {
		fmt.Fprintf(&b, "\n%d · %s · %s", u.UserID, u.DisplayName, u.Position)
		switch {
		case role == model.RoleEmployee && u.ManagerID != nil:
			fmt.Fprintf(&b, " · manager %d", *u.ManagerID)
		case role == model.RoleEmployee:
			b.WriteString(" · no manager")
		case role == model.RoleManager:
			fmt.Fprintf(&b, " · %d employees", len(u.Employees))
		}
	}
	return stay(s.to(StateAdminMenu, ""), Reply{Text: b.String(), Keyboard: adminKeyboard}), nil
}

func adminBeginAssign(_ context.Context, _ *Runtime, _ Request, s Session) (Transition, error) {
	return stay(s.to(StateAdminMenu, StepAssign), Reply{Text: "Send: <employee id> <manager id>"}), nil
}

func adminBeginUnassign(_ context.Context, _ *Runtime, _ Request, s Session) (Transition, error) {
	return stay(s.to(StateAdminMenu, StepUnassign), Reply{Text: "Send: <employee id>"}), nil
}

func parseIDs(text string, n int) ([]model.UserID, error) {
	fields := strings.Fields(text)
	if len(fields) != n {
		return nil, errBadInput
	}
	out := make([]model.UserID, n)
	for i, f := range fields {
		v, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, errBadInput
		}
		out[i] = model.UserID(v)
	}
	return out, nil
}

func onAdminText(ctx context.Context, rt *Runtime, req Request, s Session) (Transition, error) {
	if req.role() != model.RoleAdmin {
		return stay(Session{State: StateMain}), errForbidden
	}
	switch s.Step {
	case StepAssign:
		ids, err := parseIDs(req.Input.Text, 2)
		if err != nil {
			return stay(s), err
		}
		if err := rt.Users.Assign(ctx, ids[0], &ids[1]); err != nil {
			return stay(s), err
		}
		text := fmt.Sprintf("Employee %d now reports to manager %d.", ids[0], ids[1])
		return stay(s.to(StateAdminMenu, ""), Reply{Text: text, Keyboard: adminKeyboard}), nil
	case StepUnassign:
		ids, err := parseIDs(req.Input.Text, 1)
		if err != nil {
			return stay(s), err
		}
		if err := rt.Users.Assign(ctx, ids[0], nil); err != nil {
			return stay(s), err
		}
		text := fmt.Sprintf("Employee %d has no manager now.", ids[0])
		return stay(s.to(StateAdminMenu, ""), Reply{Text: text, Keyboard: adminKeyboard}), nil
	}
	return stay(s, Reply{Text: "Use the admin menu buttons.", Keyboard: adminKeyboard}), nil
}

func adminAcquire(ctx context.Context, rt *Runtime, _ Request, s Session) (Transition, error) {
	rep, err := rt.Events.Run(ctx)
	if err != nil {
		return stay(s), err
	}
	if rep.Skipped {
		return stay(s, Reply{Text: "An acquisition is already running.", Keyboard: adminKeyboard}), nil
	}
	rejected := 0
	for _, n := range rep.Rejected {
		rejected += n
	}
	text := fmt.Sprintf("Acquisition finished: %d events (accepted %d, rejected %d, duplicates %d, noise %d).",
		rep.Count, rep.Accepted, rejected, rep.Duplicates, rep.Noise)
	return stay(s.to(StateAdminMenu, ""), Reply{Text: text, Keyboard: adminKeyboard}), nil
}

func adminQueue(_ context.Context, rt *Runtime, _ Request, s Session) (Transition, error) {
	sizes := rt.Approvals.QueueSizes()
	managers := make([]model.UserID, 0, len(sizes))
	for m := range sizes {
		managers = append(managers, m)
	}
	sort.Slice(managers, func(i, j int) bool { return managers[i] < managers[j] })

	var b strings.Builder
	b.WriteString("Queued manager notifications:")
	if len(managers) == 0 {
		b.WriteString(" none")
	}
	for _, m := range managers {
		fmt.Fprintf(&b, "\nmanager %d: %d", m, sizes[m])
	}
	return stay(s.to(StateAdminMenu, ""), Reply{Text: b.String(), Keyboard: adminKeyboard}), nil
}
