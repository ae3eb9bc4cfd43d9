// Package alert implements the broadcast channels operators use to notify
// riders. Each channel is a message collection keyed by campus name.
package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/campus-shuttle/internal/domain"
	"github.com/iliyamo/campus-shuttle/internal/logger"
	"github.com/iliyamo/campus-shuttle/internal/model"
	"github.com/iliyamo/campus-shuttle/internal/store"
)

// Service posts and reads alert messages.
type Service struct {
	store    store.Store
	channels []string
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService returns a service over the given channel names.
func NewService(s store.Store, channels []string, opts ...Option) *Service {
	svc := &Service{store: s, now: time.Now}
	for _, c := range channels {
		if c = strings.TrimSpace(c); c != "" {
			svc.channels = append(svc.channels, c)
		}
	}
	for _, o := range opts {
		o(svc)
	}
	return svc
}

// Channels returns the configured channel names.
func (s *Service) Channels() []string {
	out := make([]string, len(s.channels))
	copy(out, s.channels)
	return out
}

// Resolve returns the configured spelling of name, matched
// case-insensitively.
func (s *Service) Resolve(name string) (string, error) {
	name = strings.TrimSpace(name)
	for _, c := range s.channels {
		if strings.EqualFold(c, name) {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", domain.ErrUnknownChannel, name)
}

// ChannelFor picks the channel actor may read. Riders read the channel of
// their campus; requesting another one is denied. Operators may read any
// channel but must name it.
func (s *Service) ChannelFor(actor domain.Actor, prof model.Profile, requested string) (string, error) {
	if !actor.Resolved() {
		return "", domain.ErrUnauthenticated
	}
	if actor.Role == domain.RoleOperator {
		return s.Resolve(requested)
	}
	own, err := s.Resolve(prof.Campus)
	if err != nil {
		return "", err
	}
	if requested != "" && !strings.EqualFold(strings.TrimSpace(requested), own) {
		return "", fmt.Errorf("%w: riders read their campus channel only", domain.ErrPermissionDenied)
	}
	return own, nil
}

// Post publishes text on channel as actor.
func (s *Service) Post(ctx context.Context, actor domain.Actor, channel, text string) (model.AlertMessage, error) {
	if !actor.Resolved() {
		return model.AlertMessage{}, domain.ErrUnauthenticated
	}
	if actor.Role != domain.RoleOperator {
		return model.AlertMessage{}, domain.ErrPermissionDenied
	}
	channel, err := s.Resolve(channel)
	if err != nil {
		return model.AlertMessage{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return model.AlertMessage{}, domain.ErrEmptyMessage
	}
	msg := model.AlertMessage{
		Text:       text,
		AuthorID:   actor.ID,
		AuthorName: actor.Name,
		CreatedAt:  s.now().UTC(),
	}
	id, err := s.store.Add(ctx, model.MessagesCollection(channel), msg.Fields())
	if err != nil {
		return model.AlertMessage{}, storageErr(err)
	}
	msg.ID = id
	logger.Info(ctx, "alert posted", logger.Collection(model.MessagesCollection(channel)), logger.Rider(actor.ID))
	return msg, nil
}

func query(channel string) store.Query {
	return store.Query{Collection: model.MessagesCollection(channel), OrderBy: "created_at", Desc: true}
}

// List returns up to limit messages of channel, newest first. A limit of
// zero or less returns every message.
func (s *Service) List(ctx context.Context, channel string, limit int) ([]model.AlertMessage, error) {
	channel, err := s.Resolve(channel)
	if err != nil {
		return nil, err
	}
	snap, err := s.store.Query(ctx, query(channel))
	if err != nil {
		return nil, storageErr(err)
	}
	return decode(snap, limit), nil
}

// Watch calls onChange with the full message list of channel, newest
// first, on every change until ctx ends.
func (s *Service) Watch(ctx context.Context, channel string, limit int, onChange func([]model.AlertMessage)) error {
	channel, err := s.Resolve(channel)
	if err != nil {
		return err
	}
	sub, err := s.store.Subscribe(ctx, query(channel))
	if err != nil {
		return storageErr(err)
	}
	defer sub.Close()
	for {
		snap, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return storageErr(err)
		}
		onChange(decode(snap, limit))
	}
}

func decode(snap store.Snapshot, limit int) []model.AlertMessage {
	docs := snap.Docs
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	out := make([]model.AlertMessage, 0, len(docs))
	for _, d := range docs {
		out = append(out, model.AlertFromDocument(d))
	}
	return out
}

func storageErr(err error) error {
	if errors.Is(err, store.ErrPermissionDenied) {
		return domain.ErrPermissionDenied
	}
	return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
}
