package bootstrap

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"

	"framerecorder/internal/backend"
	"framerecorder/internal/channel"
	"framerecorder/internal/config"
	"framerecorder/internal/delivery"
	"framerecorder/internal/frame"
	"framerecorder/internal/history"
	"framerecorder/internal/metrics"
	"framerecorder/internal/notify"
	"framerecorder/internal/ports"
	"framerecorder/internal/recorder"
	"framerecorder/internal/scene"
	"framerecorder/internal/transcode"
	"framerecorder/internal/usecase"
)

// Options tune optional parts of the runtime graph.
type Options struct {
	// Metrics wraps the event sink with Prometheus collectors registered here when set.
	Metrics prometheus.Registerer
	Clock   clock.Clock
}

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.SessionController
	Config     config.Config
	Renderer   *frame.Renderer
	Store      *delivery.Store
	Handler    *delivery.Handler
	Engine     *transcode.Engine
	Backend    *backend.Client
	Scenes     *scene.Loader

	closers []func() error
}

// Build wires all backend dependencies for the current runtime.
func Build(ctx context.Context, eventSink ports.EventSink, opts Options) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}
	return BuildWithConfig(ctx, cfg, eventSink, opts)
}

// BuildWithConfig wires the runtime graph from an already resolved configuration.
func BuildWithConfig(ctx context.Context, cfg config.Config, eventSink ports.EventSink, opts Options) (Services, error) {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}

	container, codec, err := recorder.ParseMIMEType(cfg.Recorder.MIMEType)
	if err != nil {
		return Services{}, err
	}

	backendClient, err := backend.NewClient(backend.Config{
		BaseURL:      cfg.Backend.BaseURL,
		PollInterval: cfg.Backend.PollInterval,
		Clock:        clk,
	})
	if err != nil {
		return Services{}, err
	}

	engine := transcode.NewEngine(transcode.Config{Command: cfg.Transcode.Command, WorkDir: cfg.Transcode.WorkDir})
	if err := engine.Load(ctx); err != nil {
		return Services{}, fmt.Errorf("load transcoder: %w", err)
	}

	s := Services{
		Config:  cfg,
		Engine:  engine,
		Backend: backendClient,
		Scenes:  scene.NewLoader(),
		Store:   delivery.NewStore(clk),
	}
	s.closers = append(s.closers, engine.Close)
	s.Renderer = frame.NewRenderer(frame.NewDecoder().WithMaxPixels(cfg.Canvas.MaxFramePixels), frame.NewCanvas(cfg.Canvas.Width, cfg.Canvas.Height))
	s.Handler = delivery.NewHandler(s.Store, s.Renderer.Canvas())

	deps := usecase.Deps{
		Channel: channel.NewClient(channel.Config{ReadLimit: cfg.Channel.ReadLimit}),
		Surface: s.Renderer,
		Encoder: recorder.NewFFMPEGEncoder(cfg.Recorder.Command, clk),
		Codec:   engine,
		Store:   s.Store,
		Events:  eventSink,
		Clock:   clk,
	}
	if opts.Metrics != nil {
		deps.Events = metrics.NewSink(opts.Metrics, eventSink)
	}

	if cfg.History.PostgresDSN != "" {
		repo, err := history.Open(ctx, cfg.History.PostgresDSN)
		if err != nil {
			logger.Warnf(ctx, "recording history disabled: %v", err)
		} else {
			deps.History = repo
			s.closers = append(s.closers, repo.Close)
		}
	}
	if cfg.Notify.AMQPURL != "" {
		publisher, err := notify.Dial(ctx, cfg.Notify.AMQPURL, cfg.Notify.Exchange)
		if err != nil {
			logger.Warnf(ctx, "recording notifications disabled: %v", err)
		} else {
			deps.Notifier = publisher
			s.closers = append(s.closers, publisher.Close)
		}
	}

	s.Controller = usecase.NewSessionController(deps, usecase.Config{
		ChannelURL: cfg.Channel.URL,
		Encoder: ports.EncoderConfig{
			Width:         cfg.Canvas.Width,
			Height:        cfg.Canvas.Height,
			FrameRate:     cfg.Recorder.FrameRate,
			Container:     container,
			Codec:         codec,
			ChunkInterval: cfg.Recorder.ChunkInterval,
		},
	})
	return s, nil
}

// Close shuts the controller down, revokes all results and releases optional sinks.
func (s Services) Close(ctx context.Context) error {
	if s.Controller != nil {
		s.Controller.Shutdown(ctx)
	}
	if s.Store != nil {
		s.Store.RevokeAll()
	}

	var result *multierror.Error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
