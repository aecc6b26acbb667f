// Package bot is the chat session controller. It routes chat input through a
// state-keyed dispatch table to the directory, ranking and approval services
// and renders their results; it holds no business rules of its own.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"itevents/internal/acquire"
	"itevents/internal/approval"
	"itevents/internal/directory"
	"itevents/internal/ics"
	appLog "itevents/internal/log"
	"itevents/internal/model"
	"itevents/internal/rank"
)

// Transport is the outbound side of the chat surface.
type Transport interface {
	Send(ctx context.Context, to model.UserID, n model.Notification) error
	SendDocument(ctx context.Context, to model.UserID, filename string, data []byte, caption string) error
}

// Events gives access to the event corpus.
type Events interface {
	Corpus() model.Corpus
	Run(ctx context.Context) (acquire.Report, error)
}

// Runtime carries every handle a handler may use.
type Runtime struct {
	Transport Transport
	Users     *directory.Directory
	Approvals *approval.Service
	Events    Events
	Filter    rank.Filter
	Calendar  ics.ExportOptions

	MaxFutureDays int
	MinAudience   int
	// Location renders delivery times for queued notifications.
	Location *time.Location
}

// Notifier adapts a Transport to approval.Notifier.
type Notifier struct {
	Transport Transport
}

func (n Notifier) Notify(ctx context.Context, to model.UserID, msg model.Notification) error {
	return n.Transport.Send(ctx, to, msg)
}

// InputKind tells commands, free text and button presses apart.
type InputKind int

const (
	InputText InputKind = iota
	InputCommand
	InputCallback
)

// Input is one chat event.
type Input struct {
	Kind    InputKind
	Command string // lowercased, without the slash or bot suffix
	Args    string
	Text    string
	Payload string
}

// ParseMessage classifies a text message.
func ParseMessage(text string) Input {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return Input{Kind: InputText, Text: text}
	}
	cmd, args, _ := strings.Cut(text[1:], " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return Input{Kind: InputCommand, Command: strings.ToLower(cmd), Args: strings.TrimSpace(args)}
}

// Effect is an outbound action produced by a handler.
type Effect interface {
	isEffect()
}

// Reply sends a message to the current user.
type Reply struct {
	Text     string
	Keyboard model.Keyboard
}

// Document sends a file to the current user.
type Document struct {
	Name    string
	Data    []byte
	Caption string
}

func (Reply) isEffect()    {}
func (Document) isEffect() {}

// Transition is the outcome of one handler: the next session and what to
// send.
type Transition struct {
	Next    Session
	Effects []Effect
}

func stay(s Session, effects ...Effect) Transition {
	return Transition{Next: s, Effects: effects}
}

// Controller processes input one user at a time.
type Controller struct {
	rt *Runtime

	mu       sync.Mutex
	sessions map[model.UserID]Session
	locks    map[model.UserID]*sync.Mutex
}

func New(rt *Runtime) *Controller {
	return &Controller{
		rt:       rt,
		sessions: make(map[model.UserID]Session),
		locks:    make(map[model.UserID]*sync.Mutex),
	}
}

// HandleMessage processes a text message or command.
func (c *Controller) HandleMessage(ctx context.Context, uid model.UserID, text string) {
	c.handle(ctx, uid, ParseMessage(text))
}

// HandleCallback processes an inline keyboard press.
func (c *Controller) HandleCallback(ctx context.Context, uid model.UserID, payload string) {
	c.handle(ctx, uid, Input{Kind: InputCallback, Payload: strings.TrimSpace(payload)})
}

// Session returns a copy of the user's dialog state.
func (c *Controller) Session(uid model.UserID) Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[uid]
}

func (c *Controller) userLock(uid model.UserID) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[uid]
	if !ok {
		l = &sync.Mutex{}
		c.locks[uid] = l
	}
	return l
}

func (c *Controller) handle(ctx context.Context, uid model.UserID, in Input) {
	l := c.userLock(uid)
	l.Lock()
	defer l.Unlock()

	c.mu.Lock()
	s := c.sessions[uid]
	c.mu.Unlock()

	tr, err := c.dispatch(ctx, uid, s, in)
	if err != nil {
		tr = stay(s, Reply{Text: userMessage(err, uid, in)})
	}

	c.mu.Lock()
	c.sessions[uid] = tr.Next
	c.mu.Unlock()
	c.apply(ctx, uid, tr.Effects)
}

// dispatch never lets a handler panic escape to the transport.
func (c *Controller) dispatch(ctx context.Context, uid model.UserID, s Session, in Input) (tr Transition, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	req := Request{UserID: uid, Input: in}
	if p, err := c.rt.Users.Get(uid); err == nil {
		req.Profile = &p
	}
	h := route(req, s)
	return h(ctx, c.rt, req, s)
}

func (c *Controller) apply(ctx context.Context, uid model.UserID, effects []Effect) {
	for _, eff := range effects {
		var err error
		switch e := eff.(type) {
		case Reply:
			err = c.rt.Transport.Send(ctx, uid, model.Notification{Text: e.Text, Keyboard: e.Keyboard})
		case Document:
			err = c.rt.Transport.SendDocument(ctx, uid, e.Name, e.Data, e.Caption)
		}
		if err != nil {
			appLog.Error("chat send failed", err, "user_id", uid)
		}
	}
}

var (
	errStale     = errors.New("stale result index")
	errForbidden = errors.New("action not allowed for role")
	errBadInput  = errors.New("malformed input")
)

// userMessage is the only place errors become chat text.
func userMessage(err error, uid model.UserID, in Input) string {
	switch {
	case errors.Is(err, approval.ErrNoAssignedManager):
		return "You have no manager assigned yet. Ask an administrator to assign one."
	case errors.Is(err, approval.ErrDuplicatePending):
		return "You already have a pending request for this event."
	case errors.Is(err, approval.ErrNotOwner):
		return "This request is addressed to another manager."
	case errors.Is(err, approval.ErrAlreadyDecided):
		return "This request has already been decided."
	case errors.Is(err, approval.ErrNotFound):
		return "Request not found."
	case errors.Is(err, directory.ErrAuthDenied):
		return "Wrong secret."
	case errors.Is(err, directory.ErrNotFound):
		return "User not found."
	case errors.Is(err, directory.ErrNotEmployee):
		return "That user is not an employee."
	case errors.Is(err, directory.ErrNotManager):
		return "That user is not a manager."
	case errors.Is(err, errStale):
		return "That list is out of date. Please run the search again."
	case errors.Is(err, errForbidden):
		return "This action is not available for your role."
	case errors.Is(err, errBadInput):
		return "I did not understand that. Please check the format and try again."
	}
	appLog.Error("handler failed", err, "user_id", uid, "command", in.Command, "payload", in.Payload)
	return "That did not work, try again."
}
