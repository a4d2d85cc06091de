package domain

import "strings"

// Status is shared by signers and by the envelope projection.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusCompleted Status = "completed"
	StatusAvoided   Status = "avoided"
)

// rank orders the forward path; avoided sits outside it.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusCompleted:
		return 3
	case StatusAvoided:
		return 4
	default:
		return -1
	}
}

// Advances reports whether moving from s to next never goes backward.
func (s Status) Advances(next Status) bool {
	if next == StatusAvoided {
		return true
	}
	if s == StatusAvoided {
		return false
	}
	return next.rank() >= s.rank()
}

func (s Status) Valid() bool { return s.rank() >= 0 }

// Action is what a recipient has to do with the envelope.
type Action string

const (
	ActionSign Action = "needs_to_sign"
	ActionView Action = "need_to_view"
	ActionCopy Action = "receive_copy"
)

func (a Action) Valid() bool {
	switch a {
	case ActionSign, ActionView, ActionCopy:
		return true
	}
	return false
}

// ParseAction accepts the canonical values plus a few common spellings.
func ParseAction(raw string) (Action, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(ActionSign), "need_to_sign", "sign":
		return ActionSign, true
	case string(ActionView), "needs_to_view", "view":
		return ActionView, true
	case string(ActionCopy), "receive_copy", "copy", "cc":
		return ActionCopy, true
	}
	return "", false
}

// EventType names a webhook-visible envelope transition.
type EventType string

const (
	EventSent      EventType = "envelope.sent"
	EventDelivered EventType = "envelope.delivered"
	EventCompleted EventType = "envelope.completed"
	EventAvoided   EventType = "envelope.avoided"
)

var EventTypes = []EventType{EventSent, EventDelivered, EventCompleted, EventAvoided}

// MessageKind selects the notification template.
type MessageKind string

const (
	MessageSignRequest     MessageKind = "sign_request"
	MessageDocumentReady   MessageKind = "document_ready"
	MessageSignerCompleted MessageKind = "signer_completed"
)

// ArtifactPrefix is the object store folder for an artifact stage.
type ArtifactPrefix string

const (
	PrefixOriginals ArtifactPrefix = "originals"
	PrefixUnsigned  ArtifactPrefix = "pdf"
	PrefixSigned    ArtifactPrefix = "signed"
	PrefixAssets    ArtifactPrefix = "assets"
)

type Envelope struct {
	ID             string         `json:"id"`
	DocumentStatus Status         `json:"document_status" enum:"pending,sent,delivered,completed,avoided"`
	IsRoutingOrder bool           `json:"is_routing_order"`
	Files          []DocumentSlot `json:"files"`
	Signers        []Signer       `json:"signers"`
	PDF            string         `json:"pdf,omitempty"`
	SignedPDF      string         `json:"signed_pdf,omitempty"`
	Version        int64          `json:"version"`
	CreatedAt      string         `json:"created_at" format:"date-time"`
	UpdatedAt      string         `json:"updated_at" format:"date-time"`
	CompletedAt    *string        `json:"completed_at,omitempty" format:"date-time"`
}

// Clone returns a deep copy so transitions never alias the caller's slices.
func (e Envelope) Clone() Envelope {
	out := e
	out.Files = make([]DocumentSlot, len(e.Files))
	for i, f := range e.Files {
		out.Files[i] = f
		out.Files[i].SignedTemplatePDF = cloneString(f.SignedTemplatePDF)
	}
	out.Signers = make([]Signer, len(e.Signers))
	for i, s := range e.Signers {
		out.Signers[i] = s
		out.Signers[i].SentAt = cloneString(s.SentAt)
		out.Signers[i].DeliveredAt = cloneString(s.DeliveredAt)
		out.Signers[i].CompletedAt = cloneString(s.CompletedAt)
	}
	out.CompletedAt = cloneString(e.CompletedAt)
	return out
}

// DocumentName is the display name of the first document.
func (e Envelope) DocumentName() string {
	if len(e.Files) == 0 {
		return ""
	}
	return e.Files[0].Filename
}

// SignerByEmail returns the index of the signer with the given email or -1.
func (e Envelope) SignerByEmail(email string) int {
	email = strings.ToLower(strings.TrimSpace(email))
	for i, s := range e.Signers {
		if s.Email == email {
			return i
		}
	}
	return -1
}

type DocumentSlot struct {
	Filename          string  `json:"filename"`
	StoredName        string  `json:"stored_name"`
	TemplatePDF       string  `json:"template_pdf"`
	SignedTemplatePDF *string `json:"signed_template_pdf,omitempty"`
	Mimetype          string  `json:"mimetype"`
	FileID            string  `json:"file_id,omitempty"`
}

type Signer struct {
	Email        string  `json:"email"`
	Name         string  `json:"name"`
	Action       Action  `json:"is_action" enum:"needs_to_sign,need_to_view,receive_copy"`
	RoutingOrder int     `json:"routing_order"`
	Status       Status  `json:"status" enum:"pending,sent,delivered,completed,avoided"`
	SentAt       *string `json:"sent_at,omitempty" format:"date-time"`
	DeliveredAt  *string `json:"delivered_at,omitempty" format:"date-time"`
	CompletedAt  *string `json:"completed_at,omitempty" format:"date-time"`
	LocationJSON string  `json:"location_json,omitempty"`
	TabsJSON     string  `json:"tabs_json,omitempty"`
	IPAddress    string  `json:"ip_address,omitempty"`
	TokenURL     string  `json:"token_url,omitempty"`
	SignedURL    string  `json:"signed_url,omitempty"`
}

type Signature struct {
	Email     string `json:"email"`
	Signature string `json:"signature"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID           int64   `json:"id"`
	TS           string  `json:"ts" format:"date-time"`
	Type         string  `json:"type"`
	EnvelopeID   string  `json:"envelope_id"`
	SignerEmail  string  `json:"signer_email,omitempty"`
	Payload      string  `json:"payload_json"`
	DispatchedAt *string `json:"dispatched_at,omitempty" format:"date-time"`
}

type WebhookSubscription struct {
	ID        string   `json:"id"`
	URL       string   `json:"url"`
	Events    []string `json:"events"`
	Secret    string   `json:"-"`
	Active    bool     `json:"active"`
	CreatedAt string   `json:"created_at" format:"date-time"`
	// AfterEventID is the last event that existed at registration; older events are never delivered.
	AfterEventID int64 `json:"-"`
}

// Accepts reports whether the subscription wants the event type. No filter means all.
func (s WebhookSubscription) Accepts(evtType string) bool {
	if len(s.Events) == 0 {
		return true
	}
	for _, e := range s.Events {
		if strings.TrimSpace(e) == evtType {
			return true
		}
	}
	return false
}

const (
	DeliveryPending   = "pending"
	DeliveryCompleted = "completed"
	DeliveryFailed    = "failed"
)

type WebhookDelivery struct {
	SubscriptionID string `json:"subscription_id"`
	EventID        int64  `json:"event_id"`
	Status         string `json:"status"`
	Error          string `json:"error,omitempty"`
	AttemptedAt    string `json:"attempted_at" format:"date-time"`
}

const (
	TaskPending   = "pending"
	TaskSending   = "sending"
	TaskSent      = "sent"
	TaskFailed    = "failed"
	TaskCancelled = "cancelled"
)

// NotificationTask is a queued message intent for one recipient.
type NotificationTask struct {
	ID           int64       `json:"id"`
	EnvelopeID   string      `json:"envelope_id"`
	SignerIndex  int         `json:"signer_index"`
	Email        string      `json:"email"`
	Name         string      `json:"name"`
	Kind         MessageKind `json:"kind"`
	Link         string      `json:"link"`
	DocumentName string      `json:"document_name"`
	Status       string      `json:"status"`
	Error        string      `json:"error,omitempty"`
	CreatedAt    string      `json:"created_at" format:"date-time"`
	SentAt       *string     `json:"sent_at,omitempty" format:"date-time"`
}

// RecipientClaims are the verified fields of a capability token.
type RecipientClaims struct {
	EnvelopeID  string
	Email       string
	SignerIndex int
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
