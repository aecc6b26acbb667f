// Package directory owns user profiles, the employee/manager indices and the
// per-user calendar and favorites lists.
package directory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"

	appLog "itevents/internal/log"
	"itevents/internal/model"
	"itevents/internal/store"
)

var (
	ErrAuthDenied        = errors.New("auth denied")
	ErrNotFound          = errors.New("user not found")
	ErrAlreadyRegistered = errors.New("user already registered")
	ErrInvalidRole       = errors.New("invalid role")
	ErrNotEmployee       = errors.New("user is not an employee")
	ErrNotManager        = errors.New("user is not a manager")
)

// Secrets gate elevated roles. Each value is plain text or an argon2id PHC
// string; an empty value disables that role.
type Secrets struct {
	Manager string
	Admin   string
}

func (s Secrets) forRole(r model.Role) string {
	switch r {
	case model.RoleManager:
		return s.Manager
	case model.RoleAdmin:
		return s.Admin
	}
	return ""
}

// AuthRecord is the registration trail of a user.
type AuthRecord struct {
	Status       string     `json:"status"`
	Role         model.Role `json:"role"`
	RegisteredAt time.Time  `json:"registered_at"`
}

// ManagerRecord is kept for every user holding the manager role.
type ManagerRecord struct {
	DisplayName string    `json:"display_name"`
	Since       time.Time `json:"since"`
}

const statusRegistered = "registered"

// document is the user_store layout.
type document struct {
	Profiles         map[model.UserID]*model.UserProfile `json:"profiles"`
	Auth             map[model.UserID]AuthRecord         `json:"auth"`
	Managers         map[model.UserID]ManagerRecord      `json:"managers"`
	UserManagers     map[model.UserID]model.UserID       `json:"user_managers"`
	ManagerEmployees map[model.UserID][]model.UserID     `json:"manager_employees"`
	Calendars        map[model.UserID][]model.Event      `json:"calendars"`
	Favorites        map[model.UserID][]model.Event      `json:"favorites"`
}

func newDocument() document {
	return document{
		Profiles:         make(map[model.UserID]*model.UserProfile),
		Auth:             make(map[model.UserID]AuthRecord),
		Managers:         make(map[model.UserID]ManagerRecord),
		UserManagers:     make(map[model.UserID]model.UserID),
		ManagerEmployees: make(map[model.UserID][]model.UserID),
		Calendars:        make(map[model.UserID][]model.Event),
		Favorites:        make(map[model.UserID][]model.Event),
	}
}

func (d *document) fill() {
	n := newDocument()
	if d.Profiles == nil {
		d.Profiles = n.Profiles
	}
	if d.Auth == nil {
		d.Auth = n.Auth
	}
	if d.Managers == nil {
		d.Managers = n.Managers
	}
	if d.UserManagers == nil {
		d.UserManagers = n.UserManagers
	}
	if d.ManagerEmployees == nil {
		d.ManagerEmployees = n.ManagerEmployees
	}
	if d.Calendars == nil {
		d.Calendars = n.Calendars
	}
	if d.Favorites == nil {
		d.Favorites = n.Favorites
	}
}

// clone copies every map and list so a failed save can restore the
// previous state.
func (d document) clone() document {
	c := newDocument()
	for k, v := range d.Profiles {
		p := *v
		p.Preferences.Interests = append([]model.Theme(nil), v.Preferences.Interests...)
		c.Profiles[k] = &p
	}
	for k, v := range d.Auth {
		c.Auth[k] = v
	}
	for k, v := range d.Managers {
		c.Managers[k] = v
	}
	for k, v := range d.UserManagers {
		c.UserManagers[k] = v
	}
	for k, v := range d.ManagerEmployees {
		c.ManagerEmployees[k] = append([]model.UserID(nil), v...)
	}
	for k, v := range d.Calendars {
		c.Calendars[k] = append([]model.Event(nil), v...)
	}
	for k, v := range d.Favorites {
		c.Favorites[k] = append([]model.Event(nil), v...)
	}
	return c
}

// Directory is safe for concurrent use. Every mutation rewrites the whole
// user_store document.
type Directory struct {
	docs    store.Documents
	secrets Secrets
	now     func() time.Time

	mu  sync.RWMutex
	doc document
}

func New(docs store.Documents, secrets Secrets, now func() time.Time) *Directory {
	if now == nil {
		now = time.Now
	}
	return &Directory{docs: docs, secrets: secrets, now: now, doc: newDocument()}
}

// Load replaces the in-memory state with the persisted document. A missing
// or quarantined document leaves the directory empty.
func (d *Directory) Load(ctx context.Context) error {
	var doc document
	found, err := d.docs.Load(ctx, store.DocUsers, &doc)
	if err != nil {
		return pkgerrors.Wrap(err, "load user directory")
	}
	doc.fill()
	d.mu.Lock()
	if found {
		d.doc = doc
	} else {
		d.doc = newDocument()
	}
	d.mu.Unlock()
	appLog.Info("user directory loaded", "profiles", len(doc.Profiles), "found", found)
	return nil
}

// commit saves the current document. When the save fails the in-memory
// state goes back to prev. Callers hold mu.
func (d *Directory) commit(ctx context.Context, prev document) error {
	if err := d.docs.Save(ctx, store.DocUsers, d.doc); err != nil {
		d.doc = prev
		appLog.Error("user directory save failed", err)
		return pkgerrors.Wrap(err, "save user directory")
	}
	return nil
}

// Registration describes a new user.
type Registration struct {
	UserID      model.UserID
	DisplayName string
	Position    string
	Role        model.Role
}

// Create registers a user. Elevated roles require the matching secret; a
// wrong secret returns ErrAuthDenied and leaves no trace.
func (d *Directory) Create(ctx context.Context, reg Registration, secret string) (model.UserProfile, error) {
	if !reg.Role.Valid() {
		return model.UserProfile{}, ErrInvalidRole
	}
	if reg.Role.Elevated() && !VerifySecret(d.secrets.forRole(reg.Role), secret) {
		appLog.Info("elevated registration denied", "user_id", reg.UserID, "role", reg.Role)
		return model.UserProfile{}, ErrAuthDenied
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.doc.Profiles[reg.UserID]; ok {
		return model.UserProfile{}, ErrAlreadyRegistered
	}

	prev := d.doc.clone()
	now := d.now().UTC()
	p := &model.UserProfile{
		UserID:       reg.UserID,
		DisplayName:  strings.TrimSpace(reg.DisplayName),
		Position:     strings.TrimSpace(reg.Position),
		Role:         reg.Role,
		Preferences:  model.DefaultPreferences(),
		RegisteredAt: now,
	}
	d.doc.Profiles[reg.UserID] = p
	d.doc.Auth[reg.UserID] = AuthRecord{Status: statusRegistered, Role: reg.Role, RegisteredAt: now}
	if reg.Role == model.RoleManager {
		d.doc.Managers[reg.UserID] = ManagerRecord{DisplayName: p.DisplayName, Since: now}
	}
	if err := d.commit(ctx, prev); err != nil {
		return model.UserProfile{}, err
	}
	appLog.Info("user registered", "user_id", reg.UserID, "role", reg.Role)
	return d.view(p), nil
}

// Get returns the profile with its manager and employee indices attached.
func (d *Directory) Get(uid model.UserID) (model.UserProfile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.doc.Profiles[uid]
	if !ok {
		return model.UserProfile{}, ErrNotFound
	}
	return d.view(p), nil
}

func (d *Directory) Exists(uid model.UserID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.doc.Profiles[uid]
	return ok
}

// view copies p and derives the index fields. Callers hold mu.
func (d *Directory) view(p *model.UserProfile) model.UserProfile {
	out := *p
	out.Preferences.Interests = append([]model.Theme(nil), p.Preferences.Interests...)
	out.ManagerID = nil
	out.Employees = nil
	if m, ok := d.doc.UserManagers[p.UserID]; ok {
		m := m
		out.ManagerID = &m
	}
	if emps := d.doc.ManagerEmployees[p.UserID]; len(emps) > 0 {
		out.Employees = append([]model.UserID(nil), emps...)
	}
	return out
}

// ManagerOf returns the employee's assigned manager.
func (d *Directory) ManagerOf(uid model.UserID) (model.UserID, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.doc.UserManagers[uid]
	return m, ok
}

// Assign links an employee to a manager, or clears the link when manager is
// nil. Both indices change together.
func (d *Directory) Assign(ctx context.Context, employee model.UserID, manager *model.UserID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.doc.Profiles[employee]
	if !ok {
		return ErrNotFound
	}
	if e.Role != model.RoleEmployee {
		return ErrNotEmployee
	}
	if manager != nil {
		m, ok := d.doc.Profiles[*manager]
		if !ok {
			return ErrNotFound
		}
		if m.Role != model.RoleManager {
			return ErrNotManager
		}
	}

	prev := d.doc.clone()
	d.unlinkEmployee(employee)
	if manager != nil {
		d.doc.UserManagers[employee] = *manager
		d.doc.ManagerEmployees[*manager] = insertSorted(d.doc.ManagerEmployees[*manager], employee)
	}
	if err := d.commit(ctx, prev); err != nil {
		return err
	}
	if manager != nil {
		appLog.Info("employee assigned", "employee_id", employee, "manager_id", *manager)
	} else {
		appLog.Info("employee assignment cleared", "employee_id", employee)
	}
	return nil
}

func (d *Directory) unlinkEmployee(employee model.UserID) {
	old, ok := d.doc.UserManagers[employee]
	if !ok {
		return
	}
	delete(d.doc.UserManagers, employee)
	list := removeID(d.doc.ManagerEmployees[old], employee)
	if len(list) == 0 {
		delete(d.doc.ManagerEmployees, old)
	} else {
		d.doc.ManagerEmployees[old] = list
	}
}

func (d *Directory) unlinkManager(manager model.UserID) {
	for _, e := range d.doc.ManagerEmployees[manager] {
		delete(d.doc.UserManagers, e)
	}
	delete(d.doc.ManagerEmployees, manager)
	delete(d.doc.Managers, manager)
}

// SetRole changes a user's role. Leaving the employee or manager role drops
// the corresponding index entries in the same write.
func (d *Directory) SetRole(ctx context.Context, uid model.UserID, role model.Role) error {
	if !role.Valid() {
		return ErrInvalidRole
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.doc.Profiles[uid]
	if !ok {
		return ErrNotFound
	}
	if p.Role == role {
		return nil
	}
	prev := d.doc.clone()
	switch p.Role {
	case model.RoleEmployee:
		d.unlinkEmployee(uid)
	case model.RoleManager:
		d.unlinkManager(uid)
	}
	from := p.Role
	p.Role = role
	if role == model.RoleManager {
		d.doc.Managers[uid] = ManagerRecord{DisplayName: p.DisplayName, Since: d.now().UTC()}
	}
	auth := d.doc.Auth[uid]
	auth.Role = role
	d.doc.Auth[uid] = auth
	if err := d.commit(ctx, prev); err != nil {
		return err
	}
	appLog.Info("role changed", "user_id", uid, "from", from, "to", role)
	return nil
}

// UpdateProfile applies fn to a copy of the stored profile and saves it.
// Role and identity fields are restored after fn runs.
func (d *Directory) UpdateProfile(ctx context.Context, uid model.UserID, fn func(*model.UserProfile)) (model.UserProfile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.doc.Profiles[uid]
	if !ok {
		return model.UserProfile{}, ErrNotFound
	}
	prev := d.doc.clone()
	next := d.view(p)
	fn(&next)
	next.UserID, next.Role, next.RegisteredAt = p.UserID, p.Role, p.RegisteredAt
	next.ManagerID, next.Employees = nil, nil
	*p = next
	if err := d.commit(ctx, prev); err != nil {
		return model.UserProfile{}, err
	}
	return d.view(p), nil
}

// Delete removes a user and every index entry that mentions them.
func (d *Directory) Delete(ctx context.Context, uid model.UserID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.doc.Profiles[uid]; !ok {
		return ErrNotFound
	}
	prev := d.doc.clone()
	d.unlinkEmployee(uid)
	d.unlinkManager(uid)
	delete(d.doc.Profiles, uid)
	delete(d.doc.Auth, uid)
	delete(d.doc.Calendars, uid)
	delete(d.doc.Favorites, uid)
	if err := d.commit(ctx, prev); err != nil {
		return err
	}
	appLog.Info("user deleted", "user_id", uid)
	return nil
}

// ListByRole returns profiles holding role, ordered by user id.
func (d *Directory) ListByRole(role model.Role) []model.UserProfile {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []model.UserProfile
	for _, p := range d.doc.Profiles {
		if p.Role == role {
			out = append(out, d.view(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// HasAdmin reports whether any profile holds the admin role.
func (d *Directory) HasAdmin() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, p := range d.doc.Profiles {
		if p.Role == model.RoleAdmin {
			return true
		}
	}
	return false
}

// Count returns the number of registered users.
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.doc.Profiles)
}

// AddCalendarEntry appends an event snapshot to the user's calendar. It
// reports false when an entry with the same key is already there.
func (d *Directory) AddCalendarEntry(ctx context.Context, uid model.UserID, e model.Event) (bool, error) {
	return d.addEntry(ctx, uid, e, func(doc *document) map[model.UserID][]model.Event { return doc.Calendars })
}

func (d *Directory) CalendarEntries(uid model.UserID) []model.Event {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]model.Event(nil), d.doc.Calendars[uid]...)
}

// ClearCalendar drops all calendar entries of the user.
func (d *Directory) ClearCalendar(ctx context.Context, uid model.UserID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.doc.Profiles[uid]; !ok {
		return ErrNotFound
	}
	prev := d.doc.clone()
	delete(d.doc.Calendars, uid)
	return d.commit(ctx, prev)
}

// AddFavorite is AddCalendarEntry for the favorites list.
func (d *Directory) AddFavorite(ctx context.Context, uid model.UserID, e model.Event) (bool, error) {
	return d.addEntry(ctx, uid, e, func(doc *document) map[model.UserID][]model.Event { return doc.Favorites })
}

func (d *Directory) Favorites(uid model.UserID) []model.Event {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]model.Event(nil), d.doc.Favorites[uid]...)
}

func (d *Directory) addEntry(ctx context.Context, uid model.UserID, e model.Event, pick func(*document) map[model.UserID][]model.Event) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	lists := pick(&d.doc)
	if _, ok := d.doc.Profiles[uid]; !ok {
		return false, ErrNotFound
	}
	key := e.Key()
	for _, have := range lists[uid] {
		if have.Key() == key {
			return false, nil
		}
	}
	prev := d.doc.clone()
	lists[uid] = append(lists[uid], e)
	if err := d.commit(ctx, prev); err != nil {
		return false, err
	}
	return true, nil
}

func insertSorted(ids []model.UserID, id model.UserID) []model.UserID {
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	if i < len(ids) && ids[i] == id {
		return ids
	}
	ids = append(ids, 0)
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return ids
}

func removeID(ids []model.UserID, id model.UserID) []model.UserID {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
