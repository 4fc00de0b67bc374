package whatsapp

import "strings"

const ObjectBusinessAccount = "whatsapp_business_account"

// Payload is the body Meta posts to the webhook.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

type Value struct {
	MessagingProduct string    `json:"messaging_product"`
	Metadata         Metadata  `json:"metadata"`
	Contacts         []Contact `json:"contacts,omitempty"`
	Messages         []Message `json:"messages,omitempty"`
	Statuses         []Status  `json:"statuses,omitempty"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type Status struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	RecipientID string `json:"recipient_id"`
}

type Message struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *Text  `json:"text,omitempty"`
	Audio     *Media `json:"audio,omitempty"`
	Voice     *Media `json:"voice,omitempty"`
	Image     *Media `json:"image,omitempty"`
}

type Text struct {
	Body string `json:"body"`
}

type Media struct {
	ID       string `json:"id"`
	MIMEType string `json:"mime_type"`
	SHA256   string `json:"sha256,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Voice    bool   `json:"voice,omitempty"`
}

// Summary counts what a payload carries.
type Summary struct {
	Messages int
	Statuses int
}

// Messages flattens every message of a business-account payload. Other objects
// yield nothing.
func (p Payload) Messages() []Message {
	if p.Object != ObjectBusinessAccount {
		return nil
	}
	var out []Message
	for _, e := range p.Entry {
		for _, c := range e.Changes {
			out = append(out, c.Value.Messages...)
		}
	}
	return out
}

func (p Payload) Summary() Summary {
	var s Summary
	for _, e := range p.Entry {
		for _, c := range e.Changes {
			s.Messages += len(c.Value.Messages)
			s.Statuses += len(c.Value.Statuses)
		}
	}
	return s
}

// AudioMedia returns the audio or voice attachment, whichever is present.
func (m Message) AudioMedia() *Media {
	if m.Audio != nil {
		return m.Audio
	}
	return m.Voice
}

var testNumbers = map[string]struct{}{
	"16315551181": {},
	"1234567890":  {},
}

// IsTestMessage reports messages sent from Meta's sample numbers or carrying a
// test id, as the dashboard "send test" button does.
func IsTestMessage(m Message) bool {
	if _, ok := testNumbers[m.From]; ok {
		return true
	}
	return strings.Contains(strings.ToLower(m.ID), "test")
}

// FromMeta guesses whether a request came from Meta by its user agent.
func FromMeta(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	return strings.Contains(ua, "facebook") || strings.Contains(ua, "meta")
}
