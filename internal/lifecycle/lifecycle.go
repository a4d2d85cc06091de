// Package lifecycle holds the envelope state machine. Every transition takes an
// envelope snapshot and returns a new snapshot plus the side effects the caller
// must carry out; nothing here touches storage or the network.
package lifecycle

import (
	"time"

	"signline/internal/domain"
	"signline/internal/routing"
)

type EffectKind int

const (
	EffectNotify EffectKind = iota + 1
	EffectEmit
)

// Effect is a side-effect request produced by a transition.
type Effect struct {
	Kind        EffectKind
	SignerIndex int
	Message     domain.MessageKind
	Event       domain.EventType
	SignerEmail string
}

type Result struct {
	Envelope domain.Envelope
	Effects  []Effect
	Changed  bool
}

// Notifications returns the notify effects in production order.
func (r Result) Notifications() []Effect { return r.filter(EffectNotify) }

// Events returns the emit effects in production order.
func (r Result) Events() []Effect { return r.filter(EffectEmit) }

func (r Result) filter(kind EffectKind) []Effect {
	var out []Effect
	for _, eff := range r.Effects {
		if eff.Kind == kind {
			out = append(out, eff)
		}
	}
	return out
}

// Capture is what an Execute transition records for the signer.
type Capture struct {
	SignedTemplates []string
	SignedPDF       string
	SignedURL       string
	LocationJSON    string
	IPAddress       string
}

// Project derives the envelope status from its signers. Avoided is sticky.
func Project(env domain.Envelope) domain.Status {
	if env.DocumentStatus == domain.StatusAvoided {
		return domain.StatusAvoided
	}
	required := true
	allSeen := true
	dispatched := false
	for _, s := range env.Signers {
		if s.Status == domain.StatusAvoided {
			return domain.StatusAvoided
		}
		if s.Action != domain.ActionCopy && s.Status != domain.StatusCompleted {
			required = false
		}
		if s.Status != domain.StatusDelivered && s.Status != domain.StatusCompleted {
			allSeen = false
		}
		if s.Status != domain.StatusPending {
			dispatched = true
		}
	}
	switch {
	case required:
		return domain.StatusCompleted
	case allSeen:
		return domain.StatusDelivered
	case dispatched:
		return domain.StatusSent
	default:
		return domain.StatusPending
	}
}

// Dispatch runs the first routing batch, or the cascade when nobody has to sign.
func Dispatch(env domain.Envelope, now time.Time) (Result, error) {
	if env.DocumentStatus == domain.StatusAvoided {
		return Result{}, domain.ConflictError{Reason: "envelope has been cancelled"}
	}
	st := begin(env, now)
	st.advance()
	return st.finish(), nil
}

// Open applies the first-open transition for the signer at idx.
func Open(env domain.Envelope, idx int, now time.Time) (Result, error) {
	if idx < 0 || idx >= len(env.Signers) {
		return Result{}, domain.NotFoundError{Kind: "signer"}
	}
	st := begin(env, now)
	if st.env.DocumentStatus == domain.StatusAvoided {
		return st.finish(), nil
	}
	s := &st.env.Signers[idx]
	switch {
	case s.Action == domain.ActionSign && s.Status == domain.StatusSent:
		s.Status = domain.StatusDelivered
		s.DeliveredAt = st.stamp()
		st.emit(domain.EventDelivered, s.Email)
	case s.Action != domain.ActionSign && s.Status != domain.StatusCompleted:
		if s.DeliveredAt == nil {
			s.DeliveredAt = st.stamp()
		}
		s.Status = domain.StatusCompleted
		s.CompletedAt = st.stamp()
		st.emit(domain.EventDelivered, s.Email)
		st.advance()
	default:
		return st.finish(), nil
	}
	st.changed = true
	return st.finish(), nil
}

// Execute completes the signer at idx with artifacts that are already stored.
func Execute(env domain.Envelope, idx int, c Capture, now time.Time) (Result, error) {
	if err := CanExecute(env, idx); err != nil {
		return Result{}, err
	}
	st := begin(env, now)
	for i, name := range c.SignedTemplates {
		if i >= len(st.env.Files) || name == "" {
			continue
		}
		v := name
		st.env.Files[i].SignedTemplatePDF = &v
	}
	if c.SignedPDF != "" {
		st.env.SignedPDF = c.SignedPDF
	}
	s := &st.env.Signers[idx]
	s.Status = domain.StatusCompleted
	s.CompletedAt = st.stamp()
	if s.DeliveredAt == nil {
		s.DeliveredAt = st.stamp()
	}
	s.SignedURL = c.SignedURL
	s.LocationJSON = c.LocationJSON
	s.IPAddress = c.IPAddress
	st.changed = true
	st.notify(idx, domain.MessageSignerCompleted)
	st.advance()
	return st.finish(), nil
}

// CanExecute checks the Execute preconditions without building a transition.
func CanExecute(env domain.Envelope, idx int) error {
	if idx < 0 || idx >= len(env.Signers) {
		return domain.NotFoundError{Kind: "signer"}
	}
	if env.DocumentStatus == domain.StatusAvoided {
		return domain.ConflictError{Reason: "envelope has been cancelled"}
	}
	s := env.Signers[idx]
	if s.Action != domain.ActionSign {
		return domain.ValidationError{Field: "signer", Reason: "recipient is not required to sign"}
	}
	switch s.Status {
	case domain.StatusCompleted:
		return domain.ConflictError{Reason: "signer has already completed"}
	case domain.StatusPending:
		return domain.ConflictError{Reason: "signer has not been dispatched yet"}
	}
	return nil
}

// Cancel moves every signer and the envelope to avoided. Cancelling twice is a no-op.
func Cancel(env domain.Envelope, now time.Time) Result {
	st := begin(env, now)
	if st.env.DocumentStatus == domain.StatusAvoided {
		return st.finish()
	}
	for i := range st.env.Signers {
		st.env.Signers[i].Status = domain.StatusAvoided
	}
	st.env.DocumentStatus = domain.StatusAvoided
	st.changed = true
	st.emit(domain.EventAvoided, "")
	return st.finish()
}

// Resend notifies every signer that has not completed, ignoring routing order.
// Statuses only move forward: pending signers become sent, the rest keep theirs.
func Resend(env domain.Envelope, now time.Time) (Result, error) {
	if env.DocumentStatus == domain.StatusAvoided {
		return Result{}, domain.ConflictError{Reason: "envelope has been cancelled"}
	}
	st := begin(env, now)
	for i, s := range st.env.Signers {
		if s.Status == domain.StatusCompleted {
			continue
		}
		msg := domain.MessageSignRequest
		if s.Action != domain.ActionSign {
			msg = domain.MessageDocumentReady
		}
		st.dispatch(i, msg)
	}
	return st.finish(), nil
}

type step struct {
	env        domain.Envelope
	before     domain.Status
	now        time.Time
	effects    []Effect
	dispatched bool
	changed    bool
}

func begin(env domain.Envelope, now time.Time) *step {
	return &step{env: env.Clone(), before: env.DocumentStatus, now: now}
}

func (st *step) stamp() *string {
	v := st.now.UTC().Format(time.RFC3339)
	return &v
}

func (st *step) notify(idx int, msg domain.MessageKind) {
	st.effects = append(st.effects, Effect{
		Kind:        EffectNotify,
		SignerIndex: idx,
		Message:     msg,
		SignerEmail: st.env.Signers[idx].Email,
	})
}

func (st *step) emit(evt domain.EventType, email string) {
	st.effects = append(st.effects, Effect{Kind: EffectEmit, Event: evt, SignerEmail: email, SignerIndex: -1})
}

func (st *step) dispatch(idx int, msg domain.MessageKind) {
	s := &st.env.Signers[idx]
	if s.Status == domain.StatusPending {
		s.Status = domain.StatusSent
	}
	s.SentAt = st.stamp()
	st.dispatched = true
	st.changed = true
	st.notify(idx, msg)
}

// advance runs routing continuation, or the cascade once every signer has signed.
func (st *step) advance() {
	if st.env.DocumentStatus == domain.StatusAvoided {
		return
	}
	if routing.SignersComplete(st.env.Signers) {
		for _, i := range routing.PendingFollowers(st.env.Signers) {
			st.dispatch(i, domain.MessageDocumentReady)
		}
		return
	}
	for _, i := range routing.NextEligible(st.env.Signers, st.env.IsRoutingOrder) {
		st.dispatch(i, domain.MessageSignRequest)
	}
}

func (st *step) finish() Result {
	after := Project(st.env)
	if after != st.env.DocumentStatus {
		st.env.DocumentStatus = after
		st.changed = true
	}
	if st.dispatched && st.before == domain.StatusPending {
		st.effects = append([]Effect{{Kind: EffectEmit, Event: domain.EventSent, SignerIndex: -1}}, st.effects...)
	}
	if after == domain.StatusCompleted && st.before != domain.StatusCompleted {
		st.env.CompletedAt = st.stamp()
		st.emit(domain.EventCompleted, "")
	}
	if st.changed {
		st.env.UpdatedAt = st.now.UTC().Format(time.RFC3339)
	}
	return Result{Envelope: st.env, Effects: st.effects, Changed: st.changed}
}
