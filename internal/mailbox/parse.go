package mailbox

import (
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"mailpipeline/internal/model"
)

var (
	tagPattern   = regexp.MustCompile(`(?s)<(script|style)[^>]*>.*?</(script|style)>|<[^>]+>`)
	spacePattern = regexp.MustCompile(`[ \t]+`)
	blankLines   = regexp.MustCompile(`\n{3,}`)
)

func init() {
	imap.CharsetReader = charset.Reader
}

// parseMessage 从信封和正文构造 RawMessage
// 正文解析失败时仍返回信封字段，错误交给调用方记录
func parseMessage(msg *imap.Message, section *imap.BodySectionName) (model.RawMessage, error) {
	raw := model.RawMessage{
		UID:    msg.Uid,
		SeqNum: msg.SeqNum,
	}
	if env := msg.Envelope; env != nil {
		raw.MessageID = env.MessageId
		raw.From = formatAddresses(env.From)
		raw.To = formatAddresses(env.To)
		raw.Subject = env.Subject
		raw.Date = env.Date
	}

	literal := msg.GetBody(section)
	if literal == nil {
		return raw, fmt.Errorf("message body not found")
	}

	mr, err := mail.CreateReader(literal)
	if err != nil {
		return raw, fmt.Errorf("create message reader: %w", err)
	}
	defer mr.Close()

	if raw.Date.IsZero() {
		if d, err := mr.Header.Date(); err == nil {
			raw.Date = d
		}
	}
	if raw.MessageID == "" {
		if id, err := mr.Header.MessageID(); err == nil && id != "" {
			raw.MessageID = "<" + id + ">"
		}
	}

	var plain, htmlBody string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return raw, fmt.Errorf("read part: %w", err)
		}

		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		b, err := io.ReadAll(p.Body)
		if err != nil {
			return raw, fmt.Errorf("read body: %w", err)
		}
		switch {
		case contentType == "text/plain" && plain == "":
			plain = string(b)
		case contentType == "text/html" && htmlBody == "":
			htmlBody = string(b)
		}
	}

	if plain != "" {
		raw.Body = plain
	} else {
		raw.Body = htmlToText(htmlBody)
	}
	return raw, nil
}

func formatAddresses(addrs []*imap.Address) string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a == nil {
			continue
		}
		addr := a.Address()
		if a.PersonalName != "" {
			addr = fmt.Sprintf("%s <%s>", a.PersonalName, addr)
		}
		out = append(out, addr)
	}
	return strings.Join(out, ", ")
}

// htmlToText 去标签，只用于没有 text/plain 的邮件
func htmlToText(s string) string {
	if s == "" {
		return ""
	}
	s = strings.NewReplacer("<br>", "\n", "<br/>", "\n", "<br />", "\n", "</p>", "\n").Replace(s)
	s = tagPattern.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = spacePattern.ReplaceAllString(s, " ")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
