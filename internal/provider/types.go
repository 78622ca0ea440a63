package provider

import (
	"encoding/json"
	"time"
)

// Address is a wire-format mail address as the provider reports it.
type Address struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Raw     string `json:"raw,omitempty"`
}

// Attachment is a wire-format attachment with inline content.
type Attachment struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	MimeType        string `json:"mimeType"`
	Size            int64  `json:"size"`
	Inline          bool   `json:"inline"`
	ContentID       string `json:"contentId,omitempty"`
	Content         string `json:"content,omitempty"`
	ContentLocation string `json:"contentLocation,omitempty"`
}

// EmailHeader is one raw internet message header.
type EmailHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// EmailMessage is one changed message from the provider's delta feed.
type EmailMessage struct {
	ID                   string          `json:"id"`
	ThreadID             string          `json:"threadId"`
	CreatedTime          time.Time       `json:"createdTime"`
	LastModifiedTime     time.Time       `json:"lastModifiedTime"`
	SentAt               time.Time       `json:"sentAt"`
	ReceivedAt           time.Time       `json:"receivedAt"`
	InternetMessageID    string          `json:"internetMessageId"`
	Subject              string          `json:"subject"`
	SysLabels            []string        `json:"sysLabels"`
	Keywords             []string        `json:"keywords"`
	SysClassifications   []string        `json:"sysClassifications"`
	Sensitivity          string          `json:"sensitivity"`
	MeetingMessageMethod string          `json:"meetingMessageMethod,omitempty"`
	From                 Address         `json:"from"`
	To                   []Address       `json:"to"`
	Cc                   []Address       `json:"cc"`
	Bcc                  []Address       `json:"bcc"`
	ReplyTo              []Address       `json:"replyTo"`
	HasAttachments       bool            `json:"hasAttachments"`
	Body                 *string         `json:"body,omitempty"`
	BodySnippet          string          `json:"bodySnippet"`
	Attachments          []Attachment    `json:"attachments"`
	InReplyTo            string          `json:"inReplyTo,omitempty"`
	References           string          `json:"references,omitempty"`
	ThreadIndex          string          `json:"threadIndex,omitempty"`
	InternetHeaders      []EmailHeader   `json:"internetHeaders,omitempty"`
	NativeProperties     json.RawMessage `json:"nativeProperties,omitempty"`
	FolderID             string          `json:"folderId,omitempty"`
	Omitted              []string        `json:"omitted,omitempty"`
}

// SyncResponse is the provider's answer to a sync start request.
type SyncResponse struct {
	Ready            bool   `json:"ready"`
	SyncUpdatedToken string `json:"syncUpdatedToken"`
}

// SyncUpdatedResponse is one page of the provider's change feed.
type SyncUpdatedResponse struct {
	NextDeltaToken string         `json:"nextDeltaToken"`
	NextPageToken  string         `json:"nextPageToken,omitempty"`
	Records        []EmailMessage `json:"records"`
}

// SendMessageRequest is the payload for the provider's send endpoint.
type SendMessageRequest struct {
	From       Address   `json:"from"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	InReplyTo  string    `json:"inReplyTo,omitempty"`
	References string    `json:"references,omitempty"`
	ThreadID   string    `json:"threadId,omitempty"`
	To         []Address `json:"to"`
	Cc         []Address `json:"cc,omitempty"`
	Bcc        []Address `json:"bcc,omitempty"`
	ReplyTo    []Address `json:"replyTo,omitempty"`
}

// SendMessageResponse identifies the message the provider accepted.
type SendMessageResponse struct {
	ID               string `json:"id"`
	ThreadID         string `json:"threadId"`
	Status           string `json:"status"`
	ProcessingStatus string `json:"processingStatus"`
}
