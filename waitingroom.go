package waitingroom

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/antoinedelia/waiting-room/pkg/flagstore"
	"github.com/antoinedelia/waiting-room/pkg/messaging"
	"github.com/antoinedelia/waiting-room/pkg/pass"
	"github.com/antoinedelia/waiting-room/pkg/statestore"
	"github.com/antoinedelia/waiting-room/pkg/wrlog"
)

type WaitingRoomOption interface {
	apply(options *waitingRoomOptions)
}

type WaitingRoomOptionFunc func(options *waitingRoomOptions)

func (f WaitingRoomOptionFunc) apply(options *waitingRoomOptions) {
	f(options)
}

type waitingRoomOptions struct {
	frontendOptions  []FrontendOption
	processorOptions []ProcessorOption
}

func WithFrontendOptions(opts ...FrontendOption) WaitingRoomOption {
	return WaitingRoomOptionFunc(func(options *waitingRoomOptions) {
		options.frontendOptions = append(options.frontendOptions, opts...)
	})
}

func WithProcessorOptions(opts ...ProcessorOption) WaitingRoomOption {
	return WaitingRoomOptionFunc(func(options *waitingRoomOptions) {
		options.processorOptions = append(options.processorOptions, opts...)
	})
}

// WaitingRoom bundles the frontend service and the admission processor
// over one ticket store and delivery channel.
type WaitingRoom struct {
	store     statestore.Store
	channel   messaging.Channel
	frontend  *FrontendService
	processor *Processor
}

func NewWaitingRoom(store statestore.Store, channel messaging.Channel, flags flagstore.FlagStore, signer *pass.Signer, opts ...WaitingRoomOption) (*WaitingRoom, error) {
	options := &waitingRoomOptions{}
	for _, o := range opts {
		o.apply(options)
	}
	processor, err := NewProcessor(store, channel, options.processorOptions...)
	if err != nil {
		return nil, err
	}
	return &WaitingRoom{
		store:     store,
		channel:   channel,
		frontend:  NewFrontendService(store, channel, flags, signer, options.frontendOptions...),
		processor: processor,
	}, nil
}

// NewWaitingRoomWithRedis runs the waiting room against an embedded Redis
// with the enable flag switched on. Useful for local development and
// examples; production wiring lives in cmd/server.
func NewWaitingRoomWithRedis(signerSecret []byte, opts ...WaitingRoomOption) (*WaitingRoom, error) {
	mr := miniredis.NewMiniRedis()
	if err := mr.Start(); err != nil {
		return nil, fmt.Errorf("failed to start miniredis: %w", err)
	}
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	if err := rc.Set(context.Background(), defaultFlagName, "true", 0).Err(); err != nil {
		return nil, fmt.Errorf("failed to enable waiting room flag: %w", err)
	}
	store := statestore.NewRedisStore(rc)
	channel := messaging.NewRedisChannel(rc)
	flags := flagstore.NewRedisFlagStore(rc)
	return NewWaitingRoom(store, channel, flags, pass.NewSigner(signerSecret), opts...)
}

func (wr *WaitingRoom) FrontendService() *FrontendService {
	return wr.frontend
}

// Start runs the HTTP frontend and the admission processor until the
// context ends or either of them fails.
func (wr *WaitingRoom) Start(ctx context.Context, addr string, period time.Duration) error {
	eg, ctx := errgroup.WithContext(ctx)
	srv := &http.Server{Addr: addr, Handler: NewServer(wr.frontend).Handler()}
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	eg.Go(func() error {
		wrlog.Infof("waiting room frontend listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		if err := wr.processor.Run(ctx, period); err != nil && !errors.Is(err, context.Canceled) {
			wrlog.Errorf("error occured in admission processor: %+v", err)
			return err
		}
		return nil
	})
	return eg.Wait()
}

// TickProcessor triggers one admission cycle immediately. This is useful
// for sleep-independent testing.
func (wr *WaitingRoom) TickProcessor(ctx context.Context) error {
	return wr.processor.Tick(ctx)
}
