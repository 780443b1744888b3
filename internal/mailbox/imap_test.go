package mailbox

import (
	"context"
	"crypto/tls"
	"errors"
	"testing"

	"github.com/emersion/go-imap"
	"go.uber.org/zap"

	"mailpipeline/pkg/config"
)

type fakeClient struct {
	loginErr  error
	uids      []uint32
	messages  []string
	stored    []uint32
	storeItem imap.StoreItem
	loggedOut bool
}

func (f *fakeClient) Login(username, password string) error { return f.loginErr }

func (f *fakeClient) Select(name string, readOnly bool) (*imap.MailboxStatus, error) {
	return &imap.MailboxStatus{Name: name}, nil
}

func (f *fakeClient) UidSearch(criteria *imap.SearchCriteria) ([]uint32, error) {
	if len(criteria.WithoutFlags) != 1 || criteria.WithoutFlags[0] != imap.SeenFlag {
		return nil, errors.New("unexpected criteria")
	}
	return f.uids, nil
}

func (f *fakeClient) UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error {
	defer close(ch)
	for i, uid := range f.uids {
		msg, _ := imapMessage(uid, &imap.Envelope{MessageId: "<m@x>"}, f.messages[i])
		ch <- msg
	}
	return nil
}

func (f *fakeClient) UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error {
	f.storeItem = item
	for _, uid := range f.uids {
		if seqset.Contains(uid) {
			f.stored = append(f.stored, uid)
		}
	}
	return nil
}

func (f *fakeClient) Logout() error {
	f.loggedOut = true
	return nil
}

func newTestMailbox(fc *fakeClient) *IMAPMailbox {
	m := NewIMAPMailbox(config.IMAPConfig{Host: "imap.test", Port: 993}, zap.NewNop())
	m.dial = func(addr string, tlsConfig *tls.Config) (imapClient, error) {
		return fc, nil
	}
	return m
}

func TestMailboxLifecycle(t *testing.T) {
	fc := &fakeClient{uids: []uint32{123, 124}, messages: []string{plainMessage, plainMessage}}
	m := newTestMailbox(fc)
	ctx := context.Background()

	if m.Name() != "INBOX" {
		t.Errorf("default mailbox = %s", m.Name())
	}
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	msgs, err := m.FetchUnseen(ctx)
	if err != nil {
		t.Fatalf("FetchUnseen: %v", err)
	}
	if len(msgs) != 2 || msgs[0].UID != 123 {
		t.Fatalf("messages = %+v", msgs)
	}

	if err := m.MarkSeen(ctx, 123); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	if len(fc.stored) != 1 || fc.stored[0] != 123 {
		t.Errorf("stored = %v", fc.stored)
	}
	if fc.storeItem != imap.FormatFlagsOp(imap.AddFlags, true) {
		t.Errorf("store item = %s", fc.storeItem)
	}

	if err := m.End(ctx); err != nil {
		t.Fatalf("End: %v", err)
	}
	if !fc.loggedOut {
		t.Error("expected logout")
	}
	if err := m.MarkSeen(ctx, 123); !errors.Is(err, ErrNotConnected) {
		t.Errorf("MarkSeen after End = %v", err)
	}
}

func TestConnectLoginFailure(t *testing.T) {
	fc := &fakeClient{loginErr: errors.New("auth failed")}
	m := newTestMailbox(fc)

	if err := m.Connect(context.Background()); err == nil {
		t.Fatal("expected login error")
	}
	if !fc.loggedOut {
		t.Error("connection should be closed after login failure")
	}
	if _, err := m.FetchUnseen(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("FetchUnseen = %v", err)
	}
}

func TestFetchUnseenEmptyMailbox(t *testing.T) {
	m := newTestMailbox(&fakeClient{})
	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	msgs, err := m.FetchUnseen(context.Background())
	if err != nil || len(msgs) != 0 {
		t.Errorf("FetchUnseen = (%v, %v)", msgs, err)
	}
}

func TestFetchUnseenDropsUnparsableMessages(t *testing.T) {
	fc := &fakeClient{uids: []uint32{41, 42}, messages: []string{"", plainMessage}}
	m := newTestMailbox(fc)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	msgs, err := m.FetchUnseen(context.Background())
	if err != nil {
		t.Fatalf("FetchUnseen: %v", err)
	}
	if len(msgs) != 1 || msgs[0].UID != 42 {
		t.Errorf("messages = %+v, want only uid 42", msgs)
	}
	if len(fc.stored) != 0 {
		t.Errorf("stored = %v, fetch must not touch flags", fc.stored)
	}
}
