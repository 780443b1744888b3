package mailbox

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"go.uber.org/zap"

	"mailpipeline/internal/model"
	"mailpipeline/pkg/config"
)

const commandTimeout = 60 * time.Second

// ErrNotConnected 在 Connect 之前调用
var ErrNotConnected = errors.New("imap: not connected")

// imapClient *client.Client 用到的方法子集
type imapClient interface {
	Login(username, password string) error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error
	Logout() error
}

type dialFunc func(addr string, tlsConfig *tls.Config) (imapClient, error)

// IMAPMailbox 一次 run 使用一个连接：Connect -> FetchUnseen -> MarkSeen -> End
type IMAPMailbox struct {
	cfg    config.IMAPConfig
	logger *zap.Logger
	dial   dialFunc
	c      imapClient
}

// NewIMAPMailbox 创建 IMAP 邮箱
func NewIMAPMailbox(cfg config.IMAPConfig, logger *zap.Logger) *IMAPMailbox {
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	return &IMAPMailbox{
		cfg:    cfg,
		logger: logger,
		dial:   dialIMAP,
	}
}

func dialIMAP(addr string, tlsConfig *tls.Config) (imapClient, error) {
	var (
		c   *client.Client
		err error
	)
	if tlsConfig != nil {
		c, err = client.DialTLS(addr, tlsConfig)
	} else {
		c, err = client.Dial(addr)
	}
	if err != nil {
		return nil, err
	}
	c.Timeout = commandTimeout
	return c, nil
}

// Name 邮箱文件夹名，作为 imap_mailbox 入库
func (m *IMAPMailbox) Name() string {
	return m.cfg.Mailbox
}

// Connect 建立连接、登录并以读写模式选中邮箱
func (m *IMAPMailbox) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	var tlsConfig *tls.Config
	if m.cfg.TLS {
		tlsConfig = &tls.Config{ServerName: m.cfg.Host}
	}

	c, err := m.dial(addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("imap dial %s: %w", addr, err)
	}
	if err := c.Login(m.cfg.User, m.cfg.Password); err != nil {
		_ = c.Logout()
		return fmt.Errorf("imap login: %w", err)
	}
	if _, err := c.Select(m.cfg.Mailbox, false); err != nil {
		_ = c.Logout()
		return fmt.Errorf("imap select %s: %w", m.cfg.Mailbox, err)
	}

	m.c = c
	m.logger.Info("IMAP connected",
		zap.String("host", m.cfg.Host),
		zap.Int("port", m.cfg.Port),
		zap.String("mailbox", m.cfg.Mailbox),
	)
	return nil
}

// FetchUnseen 拉取所有未读邮件，使用 BODY.PEEK[] 不设置 \Seen
func (m *IMAPMailbox) FetchUnseen(ctx context.Context) ([]model.RawMessage, error) {
	if m.c == nil {
		return nil, ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := m.c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- m.c.UidFetch(seqset, items, messages)
	}()

	out := m.collect(messages, section, len(uids))

	if err := <-done; err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}
	return out, nil
}

// collect 读完 fetch 结果；正文解析失败的邮件不返回，保持未读等下一轮重新拉取
func (m *IMAPMailbox) collect(messages <-chan *imap.Message, section *imap.BodySectionName, size int) []model.RawMessage {
	out := make([]model.RawMessage, 0, size)
	for msg := range messages {
		raw, err := parseMessage(msg, section)
		if err != nil {
			m.logger.Warn("Failed to parse message body, leaving unseen",
				zap.Uint32("uid", msg.Uid),
				zap.String("message_id", raw.MessageID),
				zap.Error(err),
			)
			continue
		}
		out = append(out, raw)
	}
	return out
}

// MarkSeen 设置 \Seen，重复设置无副作用
func (m *IMAPMailbox) MarkSeen(ctx context.Context, uids ...uint32) error {
	if m.c == nil {
		return ErrNotConnected
	}
	if len(uids) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := m.c.UidStore(seqset, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		return fmt.Errorf("imap store \\Seen: %w", err)
	}
	return nil
}

// End 登出并释放连接
func (m *IMAPMailbox) End(ctx context.Context) error {
	if m.c == nil {
		return nil
	}
	c := m.c
	m.c = nil

	if err := c.Logout(); err != nil && !errors.Is(err, client.ErrAlreadyLoggedOut) {
		return fmt.Errorf("imap logout: %w", err)
	}
	return nil
}
