/*
engine.go - Operation execution engine

PURPOSE:
  Runs one "spend credits, perform operation" transaction:

    1. Parse kind             -> ValidationError, nothing charged
    2. Look up cost
    3. Read stats from store  (cache bypassed, per-user lock held)
    4. Validate               -> OperationError, nothing charged
       a. balance < cost
       b. DIVISION by zero
       c. SQUARE_ROOT of a negative value
    5. Invoke executor        (never fails; provider faults become ProviderFailure)
    6. Append operation + record atomically
    7. Invalidate the user's cache entries
    8. Return payload and new balance

CHARGING POLICY:
  A provider failure at step 5 does NOT abort step 6. The user is charged and
  the failure marker is recorded as the result.

CONCURRENCY:
  Steps 3-7 run under a per-user lock, so concurrent executions for one user
  cannot both spend the same credits. The append additionally carries the ID
  of the record the balance came from (compare-and-swap) for deployments with
  several processes on one database.

CANCELLATION:
  If the caller goes away before the executor answers, the execution aborts
  with no record. Once the executor has answered, the write runs on a context
  detached from the caller (bounded by WriteTimeout) so it either completes
  fully or fails as a store error. There is no partial state.

SEE ALSO:
  - ledger.go: Stats fold
  - ports.go:  Executor, Cache, Publisher
*/
package credit

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultWriteTimeout bounds the detached write of steps 6-7.
const DefaultWriteTimeout = 10 * time.Second

const shapeStats = "stats"

// Engine orchestrates executions, deletions and cached reads.
type Engine struct {
	store    TxStore
	ledger   *Ledger
	executor Executor
	cache    Cache
	events   Publisher
	log      zerolog.Logger
	locks    *lockTable

	writeTimeout time.Duration
	now          func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

func WithCache(c Cache) EngineOption         { return func(e *Engine) { e.cache = c } }
func WithPublisher(p Publisher) EngineOption { return func(e *Engine) { e.events = p } }
func WithLogger(l zerolog.Logger) EngineOption {
	return func(e *Engine) { e.log = l.With().Str("component", "engine").Logger() }
}
func WithWriteTimeout(d time.Duration) EngineOption { return func(e *Engine) { e.writeTimeout = d } }
func WithClock(now func() time.Time) EngineOption   { return func(e *Engine) { e.now = now } }

func NewEngine(store TxStore, executor Executor, opts ...EngineOption) *Engine {
	e := &Engine{
		store:        store,
		ledger:       NewLedger(store),
		executor:     executor,
		cache:        NopCache{},
		events:       NopPublisher{},
		log:          zerolog.Nop(),
		locks:        newLockTable(),
		writeTimeout: DefaultWriteTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// =============================================================================
// WRITES
// =============================================================================

// Execute charges the user for one operation and records its result.
func (e *Engine) Execute(ctx context.Context, userID UserID, req Request) (Result, error) {
	kind, err := parseRequest(req)
	if err != nil {
		return Result{}, err
	}
	cost := kind.Cost()
	log := e.log.With().Str("user_id", string(userID)).Str("kind", kind.String()).Int("cost", cost).Logger()

	release, err := e.locks.acquire(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	defer release()

	stats, latestID, err := e.ledger.snapshot(ctx, e.store, userID)
	if err != nil {
		return Result{}, NewStoreError("load records", err)
	}

	if err := validate(kind, cost, stats.Balance, req); err != nil {
		log.Info().Int("balance", stats.Balance).Str("reason", err.Error()).Msg("operation rejected")
		return Result{}, err
	}

	log.Debug().Msg("invoking executor")
	payload := e.executor.Invoke(ctx, kind, req.Operand1, req.Operand2)
	if err := ctx.Err(); err != nil {
		log.Warn().Err(err).Msg("caller cancelled before write, nothing recorded")
		return Result{}, err
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.writeTimeout)
	defer cancel()

	rec := Record{
		UserID:       userID,
		Operation:    Operation{Kind: kind, Cost: cost},
		Result:       payload,
		BalanceAfter: stats.Balance - cost,
		CreatedAt:    e.now().UTC(),
		Active:       true,
	}
	var saved Record
	err = e.store.WithTx(wctx, func(tx RecordStore) error {
		var err error
		saved, err = tx.AppendRecord(wctx, rec, latestID)
		return err
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to persist record")
		return Result{}, NewStoreError("append record", err)
	}

	e.invalidate(wctx, userID)
	e.publish(wctx, Event{
		Type:         EventRecordCreated,
		UserID:       userID,
		RecordID:     saved.ID,
		Kind:         kind,
		Cost:         cost,
		BalanceAfter: saved.BalanceAfter,
		At:           saved.CreatedAt,
	})

	log.Info().Int64("record_id", saved.ID).Int("balance", saved.BalanceAfter).Msg("operation recorded")
	return Result{Payload: saved.Result, BalanceAfter: saved.BalanceAfter, RecordID: saved.ID}, nil
}

// Delete soft-deletes one of the user's records.
func (e *Engine) Delete(ctx context.Context, userID UserID, recordID int64) error {
	release, err := e.locks.acquire(ctx, userID)
	if err != nil {
		return err
	}
	defer release()

	rec, err := e.store.ActiveRecord(ctx, recordID)
	if err != nil {
		return NewStoreError("load record", err)
	}
	if rec == nil {
		return ErrRecordNotFound
	}
	if rec.UserID != userID {
		return ErrActionNotAllowed
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// Same as Execute: once started, the write and its invalidation finish
	// even if the caller goes away.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.writeTimeout)
	defer cancel()

	err = e.store.WithTx(wctx, func(tx RecordStore) error {
		return tx.Deactivate(wctx, recordID)
	})
	if err != nil {
		return NewStoreError("deactivate record", err)
	}

	e.invalidate(wctx, userID)
	e.publish(wctx, Event{
		Type:         EventRecordDeleted,
		UserID:       userID,
		RecordID:     rec.ID,
		Kind:         rec.Operation.Kind,
		Cost:         rec.Operation.Cost,
		BalanceAfter: rec.BalanceAfter,
		At:           e.now().UTC(),
	})
	e.log.Info().Str("user_id", string(userID)).Int64("record_id", recordID).Msg("record deactivated")
	return nil
}

func (e *Engine) invalidate(ctx context.Context, userID UserID) {
	if err := e.cache.Invalidate(ctx, userID); err != nil {
		e.log.Error().Err(err).Str("user_id", string(userID)).Msg("cache invalidation failed")
	}
}

func (e *Engine) publish(ctx context.Context, ev Event) {
	ev.ID = uuid.NewString()
	if err := e.events.Publish(ctx, ev); err != nil {
		e.log.Warn().Err(err).Str("event", string(ev.Type)).Msg("event not published")
	}
}

// =============================================================================
// READS (cached)
// =============================================================================

// Stats returns the user's balance and operation count.
func (e *Engine) Stats(ctx context.Context, userID UserID) (Stats, error) {
	var stats Stats
	err := e.cached(ctx, userID, shapeStats, &stats, func(ctx context.Context) (any, error) {
		return e.ledger.Stats(ctx, userID)
	})
	return stats, err
}

// History returns one page of the user's active records.
func (e *Engine) History(ctx context.Context, userID UserID, req PageRequest) (Page, error) {
	req = req.Normalize()
	var page Page
	shape := fmt.Sprintf("history:%d:%d", req.Page, req.Size)
	err := e.cached(ctx, userID, shape, &page, func(ctx context.Context) (any, error) {
		return e.ledger.History(ctx, userID, req)
	})
	return page, err
}

func (e *Engine) cached(ctx context.Context, userID UserID, shape string, dst any, load func(context.Context) (any, error)) error {
	data, err := e.cache.GetOrCompute(ctx, userID, shape, func(ctx context.Context) ([]byte, error) {
		v, err := load(ctx)
		if err != nil {
			return nil, NewStoreError("load "+shape, err)
		}
		return json.Marshal(v)
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

// =============================================================================
// VALIDATION
// =============================================================================

func parseRequest(req Request) (Kind, error) {
	kind, err := ParseKind(req.Kind)
	if err != nil {
		return "", err
	}
	if math.IsNaN(req.Operand1) || math.IsInf(req.Operand1, 0) {
		return "", &ValidationError{Message: "value1 must be a finite number"}
	}
	if req.Operand2 != nil && (math.IsNaN(*req.Operand2) || math.IsInf(*req.Operand2, 0)) {
		return "", &ValidationError{Message: "value2 must be a finite number"}
	}
	if kind.Binary() && req.Operand2 == nil {
		return "", &ValidationError{Message: "value2 is required for " + kind.String()}
	}
	return kind, nil
}

// validate applies the business rules in their fixed order.
func validate(kind Kind, cost, balance int, req Request) error {
	reject := func(msg string) error {
		return &OperationError{Message: msg, Kind: kind, Balance: balance, Cost: cost}
	}
	if balance < cost {
		return reject(MsgInsufficientCredits)
	}
	if kind == Division && req.Operand2 != nil && *req.Operand2 == 0 {
		return reject(MsgDivisionByZero)
	}
	if kind == SquareRoot && req.Operand1 < 0 {
		return reject(MsgNegativeSquareRoot)
	}
	return nil
}
