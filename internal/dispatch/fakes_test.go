package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/P-KIALA/E-Results-20-sub000/internal/events"
	"github.com/P-KIALA/E-Results-20-sub000/internal/provider"
	"github.com/P-KIALA/E-Results-20-sub000/internal/sendlogs"
)

type fakeSendLogs struct {
	mu        sync.Mutex
	entries   map[string]*sendlogs.Entry
	order     []string
	insertErr error
	markErr   error
	seq       int
}

func newFakeSendLogs() *fakeSendLogs {
	return &fakeSendLogs{entries: make(map[string]*sendlogs.Entry)}
}

func (f *fakeSendLogs) Insert(_ context.Context, in sendlogs.NewEntry) (*sendlogs.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	f.seq++
	e := &sendlogs.Entry{
		ID:            fmt.Sprintf("log-%d", f.seq),
		DoctorID:      in.DoctorID,
		Status:        sendlogs.StatusPending,
		CustomMessage: in.CustomMessage,
		PatientName:   in.PatientName,
		PatientSite:   in.PatientSite,
		SenderID:      in.SenderID,
		CreatedAt:     time.Now().UTC(),
	}
	f.entries[e.ID] = e
	f.order = append(f.order, e.ID)
	copied := *e
	return &copied, nil
}

func (f *fakeSendLogs) MarkSent(_ context.Context, id, messageID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	e := f.entries[id]
	e.Status = sendlogs.StatusSent
	e.ProviderMessageID = messageID
	e.SentAt = &at
	return nil
}

func (f *fakeSendLogs) MarkFailed(_ context.Context, id, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	e := f.entries[id]
	e.Status = sendlogs.StatusFailed
	e.ErrorMessage = message
	return nil
}

func (f *fakeSendLogs) GetByID(_ context.Context, id string) (*sendlogs.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok {
		return nil, sendlogs.ErrNotFound
	}
	copied := *e
	return &copied, nil
}

func (f *fakeSendLogs) get(id string) sendlogs.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.entries[id]
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []provider.Message
	fail  map[string]error
	calls int
}

func (f *fakeSender) Send(_ context.Context, msg provider.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.fail[msg.To]; err != nil {
		return "", err
	}
	f.sent = append(f.sent, msg)
	return "SM" + msg.To, nil
}

type fakeAttachments struct {
	mu         sync.Mutex
	urls       []string
	err        error
	urlCalls   int
	associated map[string][]string
	bySendLog  map[string][]string
}

func (f *fakeAttachments) URLs(_ context.Context, ids []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urlCalls++
	return f.urls, f.err
}

func (f *fakeAttachments) Associate(_ context.Context, ids []string, sendLogID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.associated == nil {
		f.associated = make(map[string][]string)
	}
	f.associated[sendLogID] = ids
	return nil
}

func (f *fakeAttachments) ForSendLog(_ context.Context, sendLogID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bySendLog[sendLogID], nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.StatusChanged
}

func (p *recordingPublisher) Publish(_ context.Context, e events.StatusChanged) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return errors.New("broker down")
}
