package waitingroom

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/antoinedelia/waiting-room/pkg/flagstore"
	"github.com/antoinedelia/waiting-room/pkg/messaging"
	"github.com/antoinedelia/waiting-room/pkg/pass"
	"github.com/antoinedelia/waiting-room/pkg/statestore"
	"github.com/antoinedelia/waiting-room/pkg/wrlog"
)

const (
	watchStatusInterval  = 500 * time.Millisecond
	defaultEntryTTL      = 240 * time.Minute
	defaultSequenceGroup = "main"
	defaultFlagName      = "waiting-room-enabled"
)

var (
	// ErrTokenNotFound maps to a not-found response: the token is absent,
	// expired, or never existed. It is not a failure.
	ErrTokenNotFound = errors.New("token not found or expired")
	ErrInvalidToken  = errors.New("token is required")
)

type FrontendOption interface {
	apply(options *frontendOptions)
}

type FrontendOptionFunc func(options *frontendOptions)

func (f FrontendOptionFunc) apply(options *frontendOptions) {
	f(options)
}

type frontendOptions struct {
	entryTTL      time.Duration
	sequenceGroup string
	flagName      string
}

func defaultFrontendOptions() *frontendOptions {
	return &frontendOptions{
		entryTTL:      defaultEntryTTL,
		sequenceGroup: defaultSequenceGroup,
		flagName:      defaultFlagName,
	}
}

// WithEntryTTL sets the expiration horizon of new queue entries.
func WithEntryTTL(ttl time.Duration) FrontendOption {
	return FrontendOptionFunc(func(options *frontendOptions) {
		options.entryTTL = ttl
	})
}

// WithSequenceGroup tags published notifications so an order-preserving
// channel delivers them in ticket order within the group. Ordering is
// best-effort; the admission processor never relies on it.
func WithSequenceGroup(group string) FrontendOption {
	return FrontendOptionFunc(func(options *frontendOptions) {
		options.sequenceGroup = group
	})
}

// WithFlagName sets the remote flag consulted on every join.
func WithFlagName(name string) FrontendOption {
	return FrontendOptionFunc(func(options *frontendOptions) {
		options.flagName = name
	})
}

// FrontendService is the client-facing side of the waiting room: joining
// the queue and polling a token's status.
type FrontendService struct {
	store   statestore.Store
	channel messaging.Channel
	flags   flagstore.FlagStore
	signer  *pass.Signer
	options *frontendOptions
}

func NewFrontendService(store statestore.Store, channel messaging.Channel, flags flagstore.FlagStore, signer *pass.Signer, opts ...FrontendOption) *FrontendService {
	options := defaultFrontendOptions()
	for _, opt := range opts {
		opt.apply(options)
	}
	return &FrontendService{
		store:   store,
		channel: channel,
		flags:   flags,
		signer:  signer,
		options: options,
	}
}

type JoinResult struct {
	// Token is the opaque queue identifier; empty when DirectAccess is set.
	Token        string
	TicketNumber uint64
	// DirectAccess reports that the waiting room is currently disabled and
	// no queue entry was created.
	DirectAccess bool
}

// JoinQueue admits a new client into the queue. The enable flag is
// re-evaluated from the remote store on every call, unlike the
// gatekeeper's cached check; a flag fetch failure fails open to direct
// access rather than blocking the join.
func (s *FrontendService) JoinQueue(ctx context.Context) (*JoinResult, error) {
	raw, err := s.flags.GetFlag(ctx, s.options.flagName)
	if err != nil {
		wrlog.Warnf("failed to fetch flag %s, granting direct access: %+v", s.options.flagName, err)
		return &JoinResult{DirectAccess: true}, nil
	}
	if !strings.EqualFold(raw, "true") {
		return &JoinResult{DirectAccess: true}, nil
	}

	// A store failure after this point wastes the ticket number. Gaps in
	// the sequence are tolerated; duplicate or missing entries are not.
	ticket, err := s.store.NextTicket(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to issue ticket: %w", err)
	}
	now := time.Now()
	entry := &statestore.QueueEntry{
		Token:        uuid.NewString(),
		Status:       statestore.StatusWaiting,
		TicketNumber: ticket,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.options.entryTTL),
	}
	if err := s.store.CreateEntry(ctx, entry, s.options.entryTTL); err != nil {
		return nil, fmt.Errorf("failed to create entry: %w", err)
	}
	if err := s.channel.Publish(ctx, s.options.sequenceGroup, messaging.Notification{
		Token:        entry.Token,
		TicketNumber: ticket,
	}); err != nil {
		return nil, fmt.Errorf("failed to publish notification: %w", err)
	}
	return &JoinResult{Token: entry.Token, TicketNumber: ticket}, nil
}

type StatusResult struct {
	Status statestore.Status
	// Position is the best-effort queue position, only meaningful while
	// WAITING. It may transiently read a stale watermark but is never
	// negative.
	Position uint64
	// Pass is a freshly signed credential, set when the status is ALLOWED.
	Pass string
}

func (s *FrontendService) CheckStatus(ctx context.Context, token string) (*StatusResult, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	entry, err := s.store.GetEntry(ctx, token)
	if err != nil {
		if errors.Is(err, statestore.ErrEntryNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	switch entry.Status {
	case statestore.StatusAllowed:
		signed, err := s.signer.Issue(token)
		if err != nil {
			return nil, fmt.Errorf("failed to issue pass: %w", err)
		}
		return &StatusResult{Status: statestore.StatusAllowed, Pass: signed}, nil
	case statestore.StatusWaiting:
		nowServing, err := s.store.NowServing(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read watermark: %w", err)
		}
		var position uint64
		if entry.TicketNumber > nowServing {
			position = entry.TicketNumber - nowServing
		}
		return &StatusResult{Status: statestore.StatusWaiting, Position: position}, nil
	default:
		// unknown statuses pass through verbatim for forward compatibility
		return &StatusResult{Status: entry.Status}, nil
	}
}

// WatchStatus polls the status of a token, invoking onChange for every
// observed status or position change, until the token is ALLOWED or the
// context ends. A vanished token is terminal and returned as
// ErrTokenNotFound.
func (s *FrontendService) WatchStatus(ctx context.Context, token string, onChange func(*StatusResult) error) error {
	var prev *StatusResult
	backoff := retry.NewConstant(watchStatusInterval)
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		result, err := s.CheckStatus(ctx, token)
		if err != nil {
			if errors.Is(err, ErrTokenNotFound) || errors.Is(err, ErrInvalidToken) {
				return err
			}
			return retry.RetryableError(err)
		}
		if prev == nil || result.Status != prev.Status || result.Position != prev.Position {
			prev = result
			if err := onChange(result); err != nil {
				return err
			}
		}
		if result.Status == statestore.StatusAllowed {
			return nil
		}
		return retry.RetryableError(errors.New("still waiting"))
	})
}
