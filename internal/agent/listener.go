package agent

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"go.vereda.tec.br/escriba/internal/config"
	"go.vereda.tec.br/escriba/internal/mdp"
)

// Listener runs one worker loop: connect to the broker under a single
// service name, and for every request received, fork the configured
// helper program with the request's frames as argv and reply with its
// captured result.
type Listener struct {
	service string
	program string
	broker  string
	runner  *Runner
	logger  *zap.Logger
}

// NewListener constructs a Listener for one service/program pair.
func NewListener(broker, service, program string, timeout time.Duration, logger *zap.Logger) *Listener {
	return &Listener{
		service: service,
		program: program,
		broker:  broker,
		runner:  NewRunner(timeout),
		logger:  logger.Named("agent-listener").With(zap.String("service", service)),
	}
}

// Run connects a Worker and serves requests until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	worker := mdp.NewWorker(l.logger, l.broker, l.service, 0)
	if err := worker.Connect(ctx); err != nil {
		return err
	}
	defer worker.Close()

	var reply [][]byte
	for {
		request, err := worker.Recv(ctx, reply)
		if err != nil {
			return err
		}
		if request == nil {
			// Recv returns no request only once ctx is cancelled (a broker
			// DISCONNECT makes the worker reconnect instead), so there is
			// nothing left to reply to.
			return ctx.Err()
		}

		args := make([]string, len(request))
		for i, frame := range request {
			args[i] = string(frame)
		}

		result, runErr := l.runner.Run(ctx, l.program, args)
		if runErr != nil {
			l.logger.Debug("helper program did not succeed", zap.Error(runErr))
		}

		resultJSON, err := result.JSON()
		if err != nil {
			resultJSON = []byte(`{"rc":-1,"help":"failed to encode result"}`)
		}
		reply = [][]byte{resultJSON, result.Stdout, result.Stderr}
	}
}

// RunServices starts Concurrency listeners per ServiceSpec and blocks
// until ctx is cancelled or any listener returns a non-context error.
func RunServices(ctx context.Context, broker string, specs []config.ServiceSpec, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, 1)

	for _, spec := range specs {
		logger.Info("starting listeners", zap.String("service", spec.Name), zap.Int("concurrency", spec.Concurrency), zap.String("program", spec.Program))
		for i := 0; i < spec.Concurrency; i++ {
			l := NewListener(broker, spec.Name, spec.Program, 0, logger)
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := l.Run(ctx); err != nil && ctx.Err() == nil {
					select {
					case errs <- err:
					default:
					}
					cancel()
				}
			}()
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		<-done
	case <-done:
	}

	select {
	case err := <-errs:
		return err
	default:
		return ctx.Err()
	}
}
