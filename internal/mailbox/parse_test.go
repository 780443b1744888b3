package mailbox

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
)

const plainMessage = "Message-ID: <abc@example.com>\r\n" +
	"From: Alice <alice@example.com>\r\n" +
	"To: bob@example.com\r\n" +
	"Subject: urgent\r\n" +
	"Date: Fri, 01 Mar 2024 09:00:00 +0000\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"please reply\r\n"

const multipartMessage = "From: alice@example.com\r\n" +
	"Subject: newsletter\r\n" +
	"Content-Type: multipart/alternative; boundary=XYZ\r\n" +
	"\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>Hello <b>world</b></p><script>track()</script>\r\n" +
	"--XYZ--\r\n"

// imapMessage 模拟服务端响应：请求用 BODY.PEEK[]，响应里的键是 BODY[]
// body 为空时不带正文
func imapMessage(uid uint32, env *imap.Envelope, body string) (*imap.Message, *imap.BodySectionName) {
	msg := imap.NewMessage(uid, nil)
	msg.Uid = uid
	msg.Envelope = env
	if body != "" {
		msg.Body = map[*imap.BodySectionName]imap.Literal{
			{}: bytes.NewBufferString(body),
		}
	}
	return msg, &imap.BodySectionName{Peek: true}
}

func TestParsePlainMessage(t *testing.T) {
	env := &imap.Envelope{
		MessageId: "<abc@example.com>",
		Subject:   "urgent",
		Date:      time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		From:      []*imap.Address{{PersonalName: "Alice", MailboxName: "alice", HostName: "example.com"}},
		To:        []*imap.Address{{MailboxName: "bob", HostName: "example.com"}},
	}
	msg, section := imapMessage(123, env, plainMessage)

	raw, err := parseMessage(msg, section)
	if err != nil {
		t.Fatalf("parseMessage: %v", err)
	}
	if raw.UID != 123 || raw.MessageID != "<abc@example.com>" {
		t.Errorf("raw = %+v", raw)
	}
	if raw.From != "Alice <alice@example.com>" || raw.To != "bob@example.com" {
		t.Errorf("addresses = %q / %q", raw.From, raw.To)
	}
	if strings.TrimSpace(raw.Body) != "please reply" {
		t.Errorf("body = %q", raw.Body)
	}
}

func TestParseFallsBackToHeadersAndHTML(t *testing.T) {
	msg, section := imapMessage(7, nil, multipartMessage)

	raw, err := parseMessage(msg, section)
	if err != nil {
		t.Fatalf("parseMessage: %v", err)
	}
	if raw.MessageID != "" {
		t.Errorf("message id = %q, want empty", raw.MessageID)
	}
	if raw.Body != "Hello world" {
		t.Errorf("body = %q", raw.Body)
	}
}

func TestParseMissingBody(t *testing.T) {
	msg := imap.NewMessage(1, nil)
	msg.Uid = 9
	msg.Envelope = &imap.Envelope{MessageId: "<x@y>"}

	raw, err := parseMessage(msg, &imap.BodySectionName{Peek: true})
	if err == nil {
		t.Fatal("expected error for missing body")
	}
	if raw.UID != 9 || raw.MessageID != "<x@y>" {
		t.Errorf("envelope fields lost: %+v", raw)
	}
}

func TestHTMLToText(t *testing.T) {
	got := htmlToText("<div>Line one<br>Line   two</div><style>p{}</style>")
	if got != "Line one\nLine two" {
		t.Errorf("htmlToText = %q", got)
	}
}
