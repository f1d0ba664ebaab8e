package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"go.vereda.tec.br/escriba/internal/mdp"
	"go.vereda.tec.br/escriba/internal/store"
	"go.vereda.tec.br/escriba/internal/strategy"
)

// dispatchResult is what one in-flight snapshot dispatch reports back on
// completion. err is set only when no reply was ever received (transport
// failure or timeout); a reply that carries a non-zero rc is still a
// completed dispatch, reported through state, not err.
type dispatchResult struct {
	snapshotID uuid.UUID
	state      store.JobState
	result     string
	stdout     string
	stderr     string
	err        error
}

// helperResult is the subset of the helper program's JSON reply this loop
// inspects: rc == 0 is the sole determinant of SUCCEEDED vs FAILED.
type helperResult struct {
	RC int `json:"rc"`
}

// SnapshotLoop claims PENDING snapshots, dispatches each as a request to
// the matching strategy service over the message bus, and persists
// whatever comes back. Multiple snapshots are kept in flight
// concurrently: unlike the other loops, a single snapshot dispatch can
// take as long as its strategy's timeout (up to an hour for yt-dlp), so
// claiming serially would starve every other pending snapshot.
type SnapshotLoop struct {
	snapshots      store.SnapshotRepository
	webpages       store.WebpageRepository
	brokerEndpoint string
	interval       time.Duration
	logger         *zap.Logger

	maxInFlight int
}

// NewSnapshotLoop constructs a SnapshotLoop polling every interval and
// dispatching against brokerEndpoint. maxInFlight caps the number of
// concurrent dispatches; pass 0 for no cap.
func NewSnapshotLoop(
	snapshots store.SnapshotRepository,
	webpages store.WebpageRepository,
	brokerEndpoint string,
	interval time.Duration,
	maxInFlight int,
	logger *zap.Logger,
) *SnapshotLoop {
	return &SnapshotLoop{
		snapshots:      snapshots,
		webpages:       webpages,
		brokerEndpoint: brokerEndpoint,
		interval:       interval,
		maxInFlight:    maxInFlight,
		logger:         logger.Named("snapshot_loop"),
	}
}

// Recover sweeps orphaned EXECUTING rows to FAILED. Call once at process
// startup before Run.
func (l *SnapshotLoop) Recover(ctx context.Context) error {
	n, err := l.snapshots.BulkTransition(ctx, store.StateExecuting, store.StateFailed)
	if err != nil {
		return fmt.Errorf("snapshot_loop: recover: %w", err)
	}
	if n > 0 {
		l.logger.Warn("recovered orphaned executing snapshots", zap.Int64("count", n))
	}
	return nil
}

// Run blocks until ctx is cancelled, claiming pending snapshots,
// dispatching them concurrently, and persisting completions as they
// arrive.
func (l *SnapshotLoop) Run(ctx context.Context) error {
	results := make(chan dispatchResult)
	inFlight := 0

	for {
		if l.maxInFlight == 0 || inFlight < l.maxInFlight {
			claimed, err := l.claimAndDispatch(ctx, results)
			if err != nil {
				l.logger.Error("claim failed", zap.Error(err))
			} else if claimed {
				inFlight++
				continue
			}
		}

		if inFlight == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(l.interval):
				continue
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case res := <-results:
			inFlight--
			l.persist(ctx, res)
			// Drain any other completions that are already ready, mirroring
			// asyncio.wait's FIRST_COMPLETED returning every task that is
			// done by the time it wakes, not just one.
			l.drainReady(ctx, results, &inFlight)
		case <-time.After(l.interval):
		}
	}
}

func (l *SnapshotLoop) drainReady(ctx context.Context, results <-chan dispatchResult, inFlight *int) {
	for {
		select {
		case res := <-results:
			*inFlight--
			l.persist(ctx, res)
		default:
			return
		}
	}
}

func (l *SnapshotLoop) claimAndDispatch(ctx context.Context, results chan<- dispatchResult) (bool, error) {
	snap, err := l.snapshots.ClaimPending(ctx)
	if err != nil {
		if err == store.ErrNotFound {
			return false, nil
		}
		return false, fmt.Errorf("snapshot_loop: claim pending: %w", err)
	}

	webpage, err := l.webpages.GetByID(ctx, snap.WebpageID)
	if err != nil {
		l.logger.Error("failed to load webpage for snapshot", zap.Stringer("snapshot_id", snap.ID), zap.Error(err))
		if serr := l.snapshots.SetFailed(ctx, snap.ID); serr != nil {
			l.logger.Error("failed to mark snapshot failed", zap.Error(serr))
		}
		// Nothing was dispatched, so this must not count as in flight.
		return false, nil
	}

	go l.dispatch(ctx, *snap, webpage.URL, results)
	return true, nil
}

func (l *SnapshotLoop) dispatch(ctx context.Context, snap store.Snapshot, webpageURL string, results chan<- dispatchResult) {
	strat := strategy.Strategy(snap.Strategy)

	client, err := mdp.NewClient(ctx, l.logger, l.brokerEndpoint, strat.Timeout())
	if err != nil {
		results <- dispatchResult{snapshotID: snap.ID, err: fmt.Errorf("connect: %w", err)}
		return
	}
	defer client.Close()

	if err := client.Send(strat.String(), [][]byte{[]byte(strat.String()), []byte(webpageURL)}); err != nil {
		results <- dispatchResult{snapshotID: snap.ID, err: fmt.Errorf("send: %w", err)}
		return
	}

	reply, err := client.Recv(ctx)
	if err != nil {
		results <- dispatchResult{snapshotID: snap.ID, err: fmt.Errorf("recv: %w", err)}
		return
	}
	if reply == nil {
		results <- dispatchResult{snapshotID: snap.ID, err: fmt.Errorf("no reply received before timeout")}
		return
	}

	result, stdout, stderr := "", "", ""
	if len(reply) > 0 {
		result = string(reply[0])
	}
	if len(reply) > 1 {
		stdout = string(reply[1])
	}
	if len(reply) > 2 {
		stderr = string(reply[2])
	}

	state := store.StateFailed
	var helper helperResult
	if err := json.Unmarshal([]byte(result), &helper); err == nil && helper.RC == 0 {
		state = store.StateSucceeded
	}

	results <- dispatchResult{
		snapshotID: snap.ID,
		state:      state,
		result:     result,
		stdout:     stdout,
		stderr:     stderr,
	}
}

// persist writes back a completed dispatch. A reply was received either
// way here; err is only set when no reply arrived at all (timeout or
// transport failure), which is the one case with no result to record.
func (l *SnapshotLoop) persist(ctx context.Context, res dispatchResult) {
	if res.err != nil {
		l.logger.Warn("snapshot dispatch failed", zap.Stringer("snapshot_id", res.snapshotID), zap.Error(res.err))
		if err := l.snapshots.SetFailed(ctx, res.snapshotID); err != nil {
			l.logger.Error("failed to mark snapshot failed", zap.Error(err))
		}
		return
	}

	if res.state == store.StateFailed {
		l.logger.Warn("snapshot helper reported failure", zap.Stringer("snapshot_id", res.snapshotID))
	}
	if err := l.snapshots.SetResult(ctx, res.snapshotID, res.state, res.result, res.stdout, res.stderr); err != nil {
		l.logger.Error("failed to persist snapshot result", zap.Stringer("snapshot_id", res.snapshotID), zap.Error(err))
	}
}
