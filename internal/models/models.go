package models

import (
	"time"
)

// Account represents one linked mailbox. The access token is an opaque
// secret handed to the remote provider; NextDeltaToken is the only sync
// state persisted between runs.
type Account struct {
	ID             string    `db:"id" json:"id"`
	UserID         string    `db:"user_id" json:"userId"`
	AccessToken    string    `db:"access_token" json:"-"`
	EmailAddress   string    `db:"email_address" json:"emailAddress"`
	Name           string    `db:"name" json:"name"`
	NextDeltaToken *string   `db:"next_delta_token" json:"-"`
	SearchIndex    []byte    `db:"search_index" json:"-"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}

// EmailAddress is a (account, address) unique pair. Name and raw header
// text are best-effort display metadata, overwritten on re-upsert.
type EmailAddress struct {
	ID        string `db:"id" json:"id"`
	AccountID string `db:"account_id" json:"accountId"`
	Address   string `db:"address" json:"address"`
	Name      string `db:"name" json:"name"`
	Raw       string `db:"raw" json:"raw"`
}

// Display formats the address for index documents and reply headers.
func (a EmailAddress) Display() string {
	return a.Name + " <" + a.Address + ">"
}

// ThreadStatus is the set of mailbox-view membership flags on a thread.
type ThreadStatus struct {
	Inbox bool `db:"inbox_status" json:"inbox"`
	Draft bool `db:"draft_status" json:"draft"`
	Sent  bool `db:"sent_status" json:"sent"`
	Trash bool `db:"trash_status" json:"trash"`
	Junk  bool `db:"junk_status" json:"junk"`
}

// StatusFromLabel returns the flag set a single email's label implies.
func StatusFromLabel(label EmailLabel) ThreadStatus {
	return ThreadStatus{
		Inbox: label == LabelInbox,
		Draft: label == LabelDraft,
		Sent:  label == LabelSent,
		Trash: label == LabelTrash,
		Junk:  label == LabelJunk,
	}
}

// Thread groups emails sharing a remote conversation id within an account.
type Thread struct {
	ID              string    `db:"id" json:"id"`
	AccountID       string    `db:"account_id" json:"accountId"`
	Subject         string    `db:"subject" json:"subject"`
	LastMessageDate time.Time `db:"last_message_date" json:"lastMessageDate"`
	Done            bool      `db:"done" json:"done"`
	ThreadStatus
	ParticipantIDs []string `db:"-" json:"participantIds"`

	Emails []Email `db:"-" json:"emails,omitempty"`
}

// EmailLabel is the single mailbox classification assigned to an email.
type EmailLabel string

const (
	LabelInbox EmailLabel = "inbox"
	LabelTrash EmailLabel = "trash"
	LabelJunk  EmailLabel = "junk"
	LabelSent  EmailLabel = "sent"
	LabelDraft EmailLabel = "draft"
)

// ClassifyLabel maps a provider tag set to exactly one label.
// Precedence: inbox/important, trash, junk, sent, draft, default inbox.
func ClassifyLabel(sysLabels []string) EmailLabel {
	has := func(want string) bool {
		for _, l := range sysLabels {
			if l == want {
				return true
			}
		}
		return false
	}

	switch {
	case has("inbox") || has("important"):
		return LabelInbox
	case has("trash"):
		return LabelTrash
	case has("junk"):
		return LabelJunk
	case has("sent"):
		return LabelSent
	case has("draft"):
		return LabelDraft
	default:
		return LabelInbox
	}
}

// Email is one remote message, keyed by the provider's message id.
// Every sync that mentions the id fully overwrites the row.
type Email struct {
	ID                   string     `db:"id" json:"id"`
	ThreadID             string     `db:"thread_id" json:"threadId"`
	CreatedTime          time.Time  `db:"created_time" json:"createdTime"`
	LastModifiedTime     time.Time  `db:"last_modified_time" json:"lastModifiedTime"`
	SentAt               time.Time  `db:"sent_at" json:"sentAt"`
	ReceivedAt           time.Time  `db:"received_at" json:"receivedAt"`
	InternetMessageID    string     `db:"internet_message_id" json:"internetMessageId"`
	Subject              string     `db:"subject" json:"subject"`
	SysLabels            []string   `db:"-" json:"sysLabels"`
	Keywords             []string   `db:"-" json:"keywords"`
	SysClassifications   []string   `db:"-" json:"sysClassifications"`
	Sensitivity          string     `db:"sensitivity" json:"sensitivity"`
	MeetingMessageMethod string     `db:"meeting_message_method" json:"meetingMessageMethod"`
	FromID               string     `db:"from_id" json:"fromId"`
	ToIDs                []string   `db:"-" json:"toIds"`
	CcIDs                []string   `db:"-" json:"ccIds"`
	BccIDs               []string   `db:"-" json:"bccIds"`
	ReplyToIDs           []string   `db:"-" json:"replyToIds"`
	HasAttachments       bool       `db:"has_attachments" json:"hasAttachments"`
	Body                 *string    `db:"body" json:"body,omitempty"`
	BodySnippet          string     `db:"body_snippet" json:"bodySnippet"`
	InReplyTo            string     `db:"in_reply_to" json:"inReplyTo"`
	References           string     `db:"refs" json:"references"`
	ThreadIndex          string     `db:"thread_index" json:"threadIndex"`
	NativeProperties     []byte     `db:"native_properties" json:"-"`
	FolderID             string     `db:"folder_id" json:"folderId"`
	Omitted              []string   `db:"-" json:"omitted"`
	EmailLabel           EmailLabel `db:"email_label" json:"emailLabel"`
}

// EmailAttachment is a child of Email, upserted by its own provider id.
type EmailAttachment struct {
	ID              string `db:"id" json:"id"`
	EmailID         string `db:"email_id" json:"emailId"`
	Name            string `db:"name" json:"name"`
	MimeType        string `db:"mime_type" json:"mimeType"`
	Size            int64  `db:"size" json:"size"`
	Inline          bool   `db:"inline" json:"inline"`
	ContentID       string `db:"content_id" json:"contentId"`
	Content         string `db:"content" json:"content"`
	ContentLocation string `db:"content_location" json:"contentLocation"`
}

// ThreadCounts is the per-flag aggregate used by the mailbox sidebar.
type ThreadCounts struct {
	Inbox int `db:"inbox_count" json:"inbox"`
	Draft int `db:"draft_count" json:"draft"`
	Sent  int `db:"sent_count" json:"sent"`
	Trash int `db:"trash_count" json:"trash"`
	Junk  int `db:"junk_count" json:"junk"`
}
