// Package approval runs the employee -> manager approval workflow and the
// durable queue of manager notifications held back outside work hours.
package approval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"

	appLog "itevents/internal/log"
	"itevents/internal/model"
	"itevents/internal/store"
)

var (
	ErrNoAssignedManager = errors.New("no assigned manager")
	ErrNotOwner          = errors.New("request belongs to another manager")
	ErrAlreadyDecided    = errors.New("request already decided")
	ErrDuplicatePending  = errors.New("request already pending")
	ErrNotFound          = errors.New("approval request not found")
)

// Callback payload prefixes understood by the chat controller.
const (
	PayloadApprove = "approve_event_"
	PayloadReject  = "reject_event_"
)

// Directory is the subset of the user directory the workflow needs.
type Directory interface {
	Get(uid model.UserID) (model.UserProfile, error)
	ManagerOf(uid model.UserID) (model.UserID, bool)
	AddCalendarEntry(ctx context.Context, uid model.UserID, e model.Event) (bool, error)
}

// Notifier delivers a message to a user.
type Notifier interface {
	Notify(ctx context.Context, to model.UserID, n model.Notification) error
}

// Submission is the outcome of Submit. Queued means the manager will be told
// at DeliverAt instead of now.
type Submission struct {
	Request   model.ApprovalRequest
	Queued    bool
	DeliverAt time.Time
}

// approvalsDoc is the persisted request log.
type approvalsDoc struct {
	Requests []*model.ApprovalRequest `json:"requests"`
	Seq      map[model.UserID]int     `json:"seq"`
}

// Service is safe for concurrent use.
type Service struct {
	dir    Directory
	notify Notifier
	docs   store.Documents
	window WorkWindow
	now    func() time.Time

	// sendMu serializes queue draining so a manager never gets an item twice
	// or out of order.
	sendMu sync.Mutex

	mu       sync.Mutex
	requests []*model.ApprovalRequest
	seq      map[model.UserID]int
	queue    map[model.UserID][]model.PendingNotification
}

func NewService(dir Directory, notify Notifier, docs store.Documents, window WorkWindow, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		dir:    dir,
		notify: notify,
		docs:   docs,
		window: window,
		now:    now,
		seq:    make(map[model.UserID]int),
		queue:  make(map[model.UserID][]model.PendingNotification),
	}
}

// Load restores requests and the notification queue.
func (s *Service) Load(ctx context.Context) error {
	var doc approvalsDoc
	if _, err := s.docs.Load(ctx, store.DocApprovals, &doc); err != nil {
		return pkgerrors.Wrap(err, "load approvals")
	}
	queue := make(map[model.UserID][]model.PendingNotification)
	if _, err := s.docs.Load(ctx, store.DocNotifications, &queue); err != nil {
		return pkgerrors.Wrap(err, "load pending notifications")
	}
	if doc.Seq == nil {
		doc.Seq = make(map[model.UserID]int)
	}
	if queue == nil {
		queue = make(map[model.UserID][]model.PendingNotification)
	}

	s.mu.Lock()
	s.requests = doc.Requests
	s.seq = doc.Seq
	s.queue = queue
	s.mu.Unlock()
	appLog.Info("approvals loaded", "requests", len(doc.Requests), "queued", countQueued(queue))
	return nil
}

func countQueued(q map[model.UserID][]model.PendingNotification) int {
	n := 0
	for _, items := range q {
		n += len(items)
	}
	return n
}

func (s *Service) saveRequests(ctx context.Context) error {
	doc := approvalsDoc{Requests: s.requests, Seq: s.seq}
	if doc.Requests == nil {
		doc.Requests = []*model.ApprovalRequest{}
	}
	if err := s.docs.Save(ctx, store.DocApprovals, doc); err != nil {
		appLog.Error("approvals save failed", err)
		return pkgerrors.Wrap(err, "save approvals")
	}
	return nil
}

func (s *Service) saveQueue(ctx context.Context) error {
	if err := s.docs.Save(ctx, store.DocNotifications, s.queue); err != nil {
		appLog.Error("pending notifications save failed", err)
		return pkgerrors.Wrap(err, "save pending notifications")
	}
	return nil
}

// Submit opens a pending request for the employee's manager and notifies
// the manager, or queues the notification outside work hours.
func (s *Service) Submit(ctx context.Context, employee model.UserID, e model.Event) (Submission, error) {
	manager, ok := s.dir.ManagerOf(employee)
	if !ok {
		return Submission{}, ErrNoAssignedManager
	}
	name := strconv.FormatInt(int64(employee), 10)
	if p, err := s.dir.Get(employee); err == nil && p.DisplayName != "" {
		name = p.DisplayName
	}

	s.mu.Lock()
	key := e.Key()
	for _, r := range s.requests {
		if r.EmployeeID == employee && r.Status == model.StatusPending && r.Event.Key() == key {
			s.mu.Unlock()
			return Submission{}, ErrDuplicatePending
		}
	}

	now := s.now()
	req := &model.ApprovalRequest{
		ID:         uuid.NewString(),
		EmployeeID: employee,
		ManagerID:  manager,
		Seq:        s.seq[employee],
		Event:      e,
		Status:     model.StatusPending,
		CreatedAt:  now.UTC(),
	}
	s.requests = append(s.requests, req)
	s.seq[employee]++
	if err := s.saveRequests(ctx); err != nil {
		s.requests = s.requests[:len(s.requests)-1]
		s.seq[employee]--
		s.mu.Unlock()
		return Submission{}, err
	}

	item := model.PendingNotification{
		ID:           req.ID,
		Notification: RequestNotification(*req, name),
		CreatedAt:    now.UTC(),
	}
	s.queue[manager] = append(s.queue[manager], item)
	if err := s.saveQueue(ctx); err != nil {
		// The request stands; the manager still sees it under pending approvals.
		appLog.Error("manager notification not queued", err, "request_id", req.ID)
	}
	out := *req
	s.mu.Unlock()

	appLog.Info("approval requested", "request_id", out.ID, "employee_id", employee, "manager_id", manager, "seq", out.Seq)

	sub := Submission{Request: out}
	if s.window.Contains(now) {
		s.flush(ctx, manager)
	}
	if s.queued(manager, item.ID) {
		sub.Queued = true
		sub.DeliverAt, _ = s.window.NextOpen(now)
		appLog.Info("manager notification queued", "manager_id", manager, "deliver_at", sub.DeliverAt)
	}
	return sub, nil
}

func (s *Service) queued(manager model.UserID, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.queue[manager] {
		if it.ID == id {
			return true
		}
	}
	return false
}

// Approve moves a pending request to approved and adds the event to the
// employee's calendar.
func (s *Service) Approve(ctx context.Context, manager, employee model.UserID, seq int) (model.ApprovalRequest, error) {
	return s.decide(ctx, manager, employee, seq, model.StatusApproved)
}

// Reject moves a pending request to rejected.
func (s *Service) Reject(ctx context.Context, manager, employee model.UserID, seq int) (model.ApprovalRequest, error) {
	return s.decide(ctx, manager, employee, seq, model.StatusRejected)
}

func (s *Service) decide(ctx context.Context, manager, employee model.UserID, seq int, to model.ApprovalStatus) (model.ApprovalRequest, error) {
	out, err := s.transition(ctx, manager, employee, seq, to)
	if err != nil {
		return out, err
	}
	appLog.Info("approval decided", "request_id", out.ID, "status", out.Status, "manager_id", manager)
	if err := s.notify.Notify(ctx, employee, DecisionNotification(out)); err != nil {
		appLog.Error("decision notification failed", err, "employee_id", employee, "request_id", out.ID)
	}
	return out, nil
}

func (s *Service) transition(ctx context.Context, manager, employee model.UserID, seq int, to model.ApprovalStatus) (model.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req := s.find(employee, seq)
	if req == nil {
		return model.ApprovalRequest{}, ErrNotFound
	}
	if req.ManagerID != manager {
		return model.ApprovalRequest{}, ErrNotOwner
	}
	if req.Status.Terminal() {
		return *req, ErrAlreadyDecided
	}

	at := s.now().UTC()
	by := manager
	req.Status, req.DecidedAt, req.DecidedBy = to, &at, &by
	if err := s.saveRequests(ctx); err != nil {
		req.Status, req.DecidedAt, req.DecidedBy = model.StatusPending, nil, nil
		return model.ApprovalRequest{}, err
	}

	// The calendar only changes once the decision is stored; if it cannot,
	// the request goes back to pending.
	if to == model.StatusApproved {
		if _, err := s.dir.AddCalendarEntry(ctx, employee, req.Event); err != nil {
			req.Status, req.DecidedAt, req.DecidedBy = model.StatusPending, nil, nil
			if rerr := s.saveRequests(ctx); rerr != nil {
				appLog.Error("approval rollback not persisted", rerr, "request_id", req.ID)
			}
			return model.ApprovalRequest{}, fmt.Errorf("add to calendar: %w", err)
		}
	}
	return *req, nil
}

func (s *Service) find(employee model.UserID, seq int) *model.ApprovalRequest {
	for _, r := range s.requests {
		if r.EmployeeID == employee && r.Seq == seq {
			return r
		}
	}
	return nil
}

// Get returns one request by its callback address.
func (s *Service) Get(employee model.UserID, seq int) (model.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.find(employee, seq); r != nil {
		return *r, nil
	}
	return model.ApprovalRequest{}, ErrNotFound
}

// Pending lists requests awaiting the manager, oldest first.
func (s *Service) Pending(manager model.UserID) []model.ApprovalRequest {
	return s.filter(func(r *model.ApprovalRequest) bool {
		return r.ManagerID == manager && r.Status == model.StatusPending
	})
}

// ForEmployee lists every request the employee made, oldest first.
func (s *Service) ForEmployee(employee model.UserID) []model.ApprovalRequest {
	return s.filter(func(r *model.ApprovalRequest) bool { return r.EmployeeID == employee })
}

func (s *Service) filter(keep func(*model.ApprovalRequest) bool) []model.ApprovalRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ApprovalRequest
	for _, r := range s.requests {
		if keep(r) {
			out = append(out, *r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// QueueSizes reports the number of held notifications per manager.
func (s *Service) QueueSizes() map[model.UserID]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[model.UserID]int, len(s.queue))
	for m, items := range s.queue {
		if len(items) > 0 {
			out[m] = len(items)
		}
	}
	return out
}

// Sweep delivers queued notifications while the work window is open. It
// returns how many were delivered.
func (s *Service) Sweep(ctx context.Context) int {
	if !s.window.Contains(s.now()) {
		return 0
	}
	s.mu.Lock()
	managers := make([]model.UserID, 0, len(s.queue))
	for m, items := range s.queue {
		if len(items) > 0 {
			managers = append(managers, m)
		}
	}
	s.mu.Unlock()
	sort.Slice(managers, func(i, j int) bool { return managers[i] < managers[j] })

	total := 0
	for _, m := range managers {
		if ctx.Err() != nil {
			break
		}
		total += s.flush(ctx, m)
	}
	if total > 0 {
		appLog.Info("pending notifications delivered", "count", total, "managers", len(managers))
	}
	return total
}

// flush sends the manager's queue in order and stops at the first failure.
func (s *Service) flush(ctx context.Context, manager model.UserID) int {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	items := append([]model.PendingNotification(nil), s.queue[manager]...)
	s.mu.Unlock()

	sent := 0
	for _, it := range items {
		if err := s.notify.Notify(ctx, manager, it.Notification); err != nil {
			appLog.Error("manager notification failed", err, "manager_id", manager, "remaining", len(items)-sent)
			break
		}
		sent++
	}
	if sent == 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Only flush removes items and it runs under sendMu, so the first sent
	// entries are still the ones we delivered.
	rest := s.queue[manager][sent:]
	if len(rest) == 0 {
		delete(s.queue, manager)
	} else {
		s.queue[manager] = append([]model.PendingNotification(nil), rest...)
	}
	if err := s.saveQueue(ctx); err != nil {
		appLog.Error("delivered notifications not removed from store", err, "manager_id", manager, "sent", sent)
	}
	return sent
}

// RequestNotification is the message a manager receives for a new request.
func RequestNotification(r model.ApprovalRequest, employeeName string) model.Notification {
	var b strings.Builder
	fmt.Fprintf(&b, "Approval request from %s\n\n", employeeName)
	writeEvent(&b, r.Event)
	return model.Notification{
		Text: b.String(),
		Keyboard: model.Keyboard{{
			{Text: "Approve", Payload: fmt.Sprintf("%s%d_%d", PayloadApprove, r.EmployeeID, r.Seq)},
			{Text: "Reject", Payload: fmt.Sprintf("%s%d_%d", PayloadReject, r.EmployeeID, r.Seq)},
		}},
	}
}

// DecisionNotification tells the employee how the manager decided.
func DecisionNotification(r model.ApprovalRequest) model.Notification {
	var b strings.Builder
	switch r.Status {
	case model.StatusApproved:
		b.WriteString("Your request was approved. The event is in your calendar.\n\n")
	default:
		b.WriteString("Your request was rejected.\n\n")
	}
	writeEvent(&b, r.Event)
	n := model.Notification{Text: b.String()}
	if r.Status == model.StatusApproved {
		n.Keyboard = model.Keyboard{{{Text: "My calendar", Payload: "refresh_calendar"}}}
	}
	return n
}

func writeEvent(b *strings.Builder, e model.Event) {
	fmt.Fprintf(b, "%s\nDate: %s\n", e.Title, e.Date)
	if e.Location != "" {
		fmt.Fprintf(b, "Location: %s\n", e.Location)
	}
	if e.URL != "" {
		fmt.Fprintf(b, "%s\n", e.URL)
	}
}

// ParseDecision splits an approve/reject payload into its parts.
func ParseDecision(payload string) (approve bool, employee model.UserID, seq int, ok bool) {
	var rest string
	switch {
	case strings.HasPrefix(payload, PayloadApprove):
		approve, rest = true, strings.TrimPrefix(payload, PayloadApprove)
	case strings.HasPrefix(payload, PayloadReject):
		rest = strings.TrimPrefix(payload, PayloadReject)
	default:
		return false, 0, 0, false
	}
	emp, n, found := strings.Cut(rest, "_")
	if !found {
		return false, 0, 0, false
	}
	id, err := strconv.ParseInt(emp, 10, 64)
	if err != nil {
		return false, 0, 0, false
	}
	seq, err = strconv.Atoi(n)
	if err != nil || seq < 0 {
		return false, 0, 0, false
	}
	return approve, model.UserID(id), seq, true
}
