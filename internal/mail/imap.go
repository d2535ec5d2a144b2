package mail

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
)

// IMAPService implements Service against an IMAP inbox and an SMTP
// submission endpoint. Each operation opens a fresh connection; the
// coordination loop polls on a multi-minute interval, so connection reuse
// buys nothing and reconnect-per-call keeps failure handling simple.
type IMAPService struct {
	imapHost string
	imapPort string
	smtp     SMTPConfig
	username string
	tls      bool
}

// SMTPConfig holds the SMTP submission settings for outbound messages.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	TLS      bool
}

// NewIMAPService builds a mail service over the given IMAP/SMTP endpoints.
func NewIMAPService(imapHost, imapPort, smtpHost, smtpPort, username, password string, useTLS bool) *IMAPService {
	return &IMAPService{
		imapHost: imapHost,
		imapPort: imapPort,
		smtp: SMTPConfig{
			Host:     smtpHost,
			Port:     smtpPort,
			Username: username,
			Password: password,
			TLS:      useTLS,
		},
		username: username,
		tls:      useTLS,
	}
}

// connect establishes an authenticated IMAP session. The caller is
// responsible for calling Logout on the returned client.
func (s *IMAPService) connect(_ context.Context) (*imapclient.Client, error) {
	addr := s.imapHost + ":" + s.imapPort

	var client *imapclient.Client
	var err error

	if s.tls {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := client.Login(s.username, s.smtp.Password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf("authentication failed for %s: %w", s.username, err)
	}

	return client, nil
}

// Send composes an RFC 5322 plain-text message with the given threading
// headers and submits it over SMTP. The Message-ID set on the wire is
// returned as the transport identifier; when no header is supplied one is
// generated.
func (s *IMAPService) Send(_ context.Context, to, subject, body string, headers *ThreadingHeaders, threadHandle string) (SendResult, error) {
	messageID := ""
	if headers != nil {
		messageID = headers.MessageID
	}
	if messageID == "" {
		messageID = GenerateMessageID(s.smtp.Host)
	}

	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", s.username))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", to))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	msg.WriteString(fmt.Sprintf("Message-ID: %s\r\n", messageID))
	if headers != nil {
		if headers.InReplyTo != "" {
			msg.WriteString(fmt.Sprintf("In-Reply-To: %s\r\n", headers.InReplyTo))
		}
		if headers.References != "" {
			msg.WriteString(fmt.Sprintf("References: %s\r\n", headers.References))
		}
	}
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	if err := sendSMTP(s.smtp, s.username, to, msg.String()); err != nil {
		return SendResult{}, fmt.Errorf("sending to %s: %w", to, err)
	}

	handle := threadHandle
	if handle == "" {
		handle = canonicalSubject(subject)
	}
	return SendResult{
		TransportMessageID: messageID,
		ThreadHandle:       handle,
	}, nil
}

// List searches INBOX for messages whose subject contains q.SubjectContains
// and that arrived on or after q.Since, and returns them with decoded
// text bodies, oldest first.
func (s *IMAPService) List(ctx context.Context, q Query, limit int) ([]RawMessage, error) {
	client, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		return nil, fmt.Errorf("selecting INBOX: %w", err)
	}

	criteria := &imap.SearchCriteria{Since: q.Since}
	if q.SubjectContains != "" {
		criteria.Header = []imap.SearchCriteriaHeaderField{
			{Key: "Subject", Value: q.SubjectContains},
		}
	}

	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	if limit > 0 && len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}

	uidSet := imap.UIDSetNum(uids...)

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		Envelope:    true,
		Flags:       true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := client.Fetch(uidSet, fetchOpts)

	var messages []RawMessage
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			continue
		}

		raw := rawFromBuffer(buf)
		if body := buf.FindBodySection(bodySection); body != nil {
			raw.Body = extractTextBody(body)
		}
		messages = append(messages, raw)
	}

	if err := fetchCmd.Close(); err != nil {
		return messages, fmt.Errorf("fetching messages: %w", err)
	}

	return messages, nil
}

// MarkRead adds the \Seen flag to the message.
func (s *IMAPService) MarkRead(ctx context.Context, msg RawMessage) error {
	return s.storeFlags(ctx, msg.UID, []imap.Flag{imap.FlagSeen})
}

// ArchiveThread moves every message of the thread out of INBOX. The thread
// handle is the canonical subject line; all protocol messages of one
// conversation reuse it, so a subject search finds the whole thread.
func (s *IMAPService) ArchiveThread(ctx context.Context, threadHandle string) error {
	if threadHandle == "" {
		return fmt.Errorf("empty thread handle")
	}

	client, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		return fmt.Errorf("selecting INBOX: %w", err)
	}

	criteria := &imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{
			{Key: "Subject", Value: threadHandle},
		},
	}
	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return fmt.Errorf("searching thread %q: %w", threadHandle, err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil
	}
	uidSet := imap.UIDSetNum(uids...)

	// Try common archive folder names.
	archiveFolders := []string{
		"Archive", "[Gmail]/All Mail", "Archives", "INBOX.Archive",
	}
	for _, folder := range archiveFolders {
		moveCmd := client.Move(uidSet, folder)
		if _, err := moveCmd.Wait(); err == nil {
			return nil
		}
	}

	// Fallback: mark as deleted.
	storeCmd := client.Store(uidSet, &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagDeleted},
	}, nil)
	return storeCmd.Close()
}

// storeFlags adds flags to a single message by UID.
func (s *IMAPService) storeFlags(ctx context.Context, uid uint32, flags []imap.Flag) error {
	client, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		return fmt.Errorf("selecting INBOX: %w", err)
	}

	storeCmd := client.Store(imap.UIDSetNum(imap.UID(uid)), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  flags,
	}, nil)
	return storeCmd.Close()
}

// GenerateMessageID returns a fresh RFC 5322 Message-ID scoped to host.
func GenerateMessageID(host string) string {
	if host == "" {
		host = "cosched.local"
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), host)
}

// canonicalSubject strips reply prefixes so every message of a thread maps
// to the same handle.
func canonicalSubject(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		lower := strings.ToLower(s)
		if strings.HasPrefix(lower, "re:") {
			s = strings.TrimSpace(s[3:])
			continue
		}
		if strings.HasPrefix(lower, "fwd:") {
			s = strings.TrimSpace(s[4:])
			continue
		}
		return s
	}
}

// rawFromBuffer extracts a RawMessage from a fetched message buffer.
func rawFromBuffer(buf *imapclient.FetchMessageBuffer) RawMessage {
	raw := RawMessage{UID: uint32(buf.UID)}

	if buf.Envelope != nil {
		raw.TransportID = buf.Envelope.MessageID
		raw.Subject = buf.Envelope.Subject
		raw.ThreadHandle = canonicalSubject(buf.Envelope.Subject)
		raw.Date = buf.Envelope.Date

		if len(buf.Envelope.From) > 0 {
			raw.From = strings.ToLower(buf.Envelope.From[0].Addr())
		}
		for _, to := range buf.Envelope.To {
			raw.To = append(raw.To, strings.ToLower(to.Addr()))
		}
	}

	if raw.TransportID == "" {
		raw.TransportID = fmt.Sprintf("uid:%d", raw.UID)
	}
	return raw
}

// extractTextBody parses a raw RFC 2822 body with go-message and returns the
// text/plain part, falling back to the whole payload as plain text.
func extractTextBody(raw []byte) string {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return string(raw)
	}
	defer mr.Close()

	var htmlBody string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		body, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			continue
		}
		switch {
		case strings.HasPrefix(contentType, "text/plain"):
			return string(body)
		case strings.HasPrefix(contentType, "text/html"):
			htmlBody = string(body)
		}
	}
	return htmlBody
}
