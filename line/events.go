package line

// EventType is the chat platform's webhook event kind.
type EventType string

const (
	EventTypeMessage      EventType = "message"
	EventTypePostback     EventType = "postback"
	EventTypeFollow       EventType = "follow"
	EventTypeUnfollow     EventType = "unfollow"
	EventTypeJoin         EventType = "join"
	EventTypeLeave        EventType = "leave"
	EventTypeMemberJoined EventType = "memberJoined"
	EventTypeMemberLeft   EventType = "memberLeft"
)

// SourceType identifies the kind of conversation an event came from.
type SourceType string

const (
	SourceTypeUser  SourceType = "user"
	SourceTypeGroup SourceType = "group"
	SourceTypeRoom  SourceType = "room"
)

// Source identifies who or where an event originated.
type Source struct {
	Type    SourceType `json:"type"`
	UserID  string     `json:"userId,omitempty"`
	GroupID string     `json:"groupId,omitempty"`
	RoomID  string     `json:"roomId,omitempty"`
}

// ConversationID returns the identifier push messages should target.
func (s Source) ConversationID() string {
	switch s.Type {
	case SourceTypeGroup:
		return s.GroupID
	case SourceTypeRoom:
		return s.RoomID
	default:
		return s.UserID
	}
}

// Message is the message payload of a message event.
type Message struct {
	ID   string `json:"id,omitempty"`
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Postback is the payload of a postback event.
type Postback struct {
	Data string `json:"data"`
}

// Members lists the accounts involved in a membership event.
type Members struct {
	Members []Source `json:"members"`
}

// Event is one inbound webhook notification. The reply token is single-use
// and valid only while the delivering webhook call is being processed; it
// must never be persisted or reused.
type Event struct {
	Type       EventType `json:"type"`
	Source     Source    `json:"source"`
	ReplyToken string    `json:"replyToken,omitempty"`
	Timestamp  int64     `json:"timestamp,omitempty"`
	Message    *Message  `json:"message,omitempty"`
	Postback   *Postback `json:"postback,omitempty"`
	Joined     *Members  `json:"joined,omitempty"`
	Left       *Members  `json:"left,omitempty"`
}

// WebhookRequest is the body of an inbound webhook call. An empty events
// slice with a valid signature is the platform's verification ping.
type WebhookRequest struct {
	Destination string  `json:"destination,omitempty"`
	Events      []Event `json:"events"`
}
