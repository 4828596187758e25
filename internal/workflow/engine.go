package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/vehicleflow/internal/definition"
	"github.com/pitabwire/vehicleflow/internal/notify"
	"github.com/pitabwire/vehicleflow/internal/observability"
	"github.com/pitabwire/vehicleflow/model"
)

const defaultIdempotencyTTL = 24 * time.Hour

// Engine moves vehicles between locations. It owns the per-VIN
// serialization of moves; validation, step derivation and recommendations are
// delegated to pure collaborators built over the same registry.
type Engine struct {
	registry    *definition.Registry
	store       Store
	resolver    *Resolver
	validator   *Validator
	recommender *Recommender
	locks       *vinLocker

	idempotency    IdempotencyStore
	idempotencyTTL time.Duration
	publisher      notify.Publisher
	metrics        *observability.Metrics
	logger         *zap.Logger
	now            func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithIdempotency enables idempotency keys on moves. A non-positive ttl uses
// 24 hours.
func WithIdempotency(store IdempotencyStore, ttl time.Duration) Option {
	return func(e *Engine) {
		e.idempotency = store
		if ttl <= 0 {
			ttl = defaultIdempotencyTTL
		}
		e.idempotencyTTL = ttl
	}
}

// WithPublisher sets where committed moves are announced.
func WithPublisher(p notify.Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithMetrics records move outcomes on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the fallback logger used when the context carries none.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the time source for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine over registry and store.
func NewEngine(registry *definition.Registry, store Store, opts ...Option) *Engine {
	e := &Engine{
		registry:    registry,
		store:       store,
		resolver:    NewResolver(registry),
		validator:   NewValidator(registry),
		recommender: NewRecommender(registry),
		locks:       newVINLocker(),
		logger:      zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the location table the engine validates against.
func (e *Engine) Registry() *definition.Registry {
	return e.registry
}

// Move validates and commits a move, returning the appended event. A rejected
// move leaves the vehicle and its audit trail untouched. Notifications are
// queued after the commit and never affect the result.
func (e *Engine) Move(ctx context.Context, req model.MoveRequest) (model.WorkflowEvent, error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "workflow.Move",
		observability.AttrVIN.String(req.VIN),
		observability.AttrFrom.String(string(req.From)),
		observability.AttrTo.String(string(req.To)),
	)
	logger := observability.RequestLogger(ctx, e.logger).With(
		zap.String("vin", req.VIN),
		zap.String("from", string(req.From)),
		zap.String("to", string(req.To)),
	)

	event, replayed, err := e.move(ctx, &req)
	elapsed := time.Since(start)

	switch {
	case err != nil:
		code := model.ErrInternalError
		ee, ok := model.AsEnvelope(err)
		if ok {
			code = ee.Code
		}
		span.SetAttributes(observability.AttrErrorCode.String(code))
		if !ok || code == model.ErrInternalError {
			e.recordMove(req, observability.MoveResultError, elapsed)
			logger.Error("move failed", zap.Error(err))
		} else {
			e.recordMove(req, observability.MoveResultRejected, elapsed)
			if e.metrics != nil {
				e.metrics.RecordMoveRejection(code)
			}
			logger.Warn("move rejected", zap.String("code", code), zap.Error(err))
		}
	case replayed:
		e.recordMove(req, observability.MoveResultReplayed, elapsed)
		logger.Info("move replayed from idempotency key",
			zap.String("event_id", event.ID),
			zap.String("idempotency_key", req.IdempotencyKey),
		)
	default:
		span.SetAttributes(
			observability.AttrEventID.String(event.ID),
			observability.AttrFromStep.String(string(event.FromStep)),
			observability.AttrToStep.String(string(event.ToStep)),
		)
		e.recordMove(req, observability.MoveResultCommitted, elapsed)
		logger.Info("move committed",
			zap.String("event_id", event.ID),
			zap.Int64("sequence", event.Sequence),
			zap.String("from_step", string(event.FromStep)),
			zap.String("to_step", string(event.ToStep)),
			zap.String("actor", event.Actor),
			zap.Duration("duration", elapsed),
		)
		if len(req.Metadata) > 0 {
			logger.Debug("move metadata", zap.Any("metadata", observability.RedactBody(req.Metadata, nil)))
		}
		e.publish(ctx, event)
	}

	observability.EndSpanWithError(span, err)
	return event, err
}

func (e *Engine) move(ctx context.Context, req *model.MoveRequest) (model.WorkflowEvent, bool, error) {
	if err := e.checkRequest(ctx, req); err != nil {
		return model.WorkflowEvent{}, false, err
	}

	unlock := e.locks.Lock(req.VIN)
	defer unlock()

	var idemKey, inputHash string
	if e.idempotency != nil && req.IdempotencyKey != "" {
		idemKey = FormatIdempotencyKey(req.VIN, req.IdempotencyKey)
		var err error
		inputHash, err = MoveInputHash(*req)
		if err != nil {
			return model.WorkflowEvent{}, false, err
		}
		cached, found, err := e.idempotency.Check(ctx, idemKey, inputHash)
		if err != nil {
			return model.WorkflowEvent{}, false, err
		}
		if found {
			return *cached, true, nil
		}
	}

	vehicle, err := e.store.GetVehicle(ctx, req.VIN)
	if err != nil {
		return model.WorkflowEvent{}, false, err
	}
	if err := e.validator.Validate(vehicle, req.From, req.To); err != nil {
		return model.WorkflowEvent{}, false, err
	}

	fromStep := e.resolver.CurrentStep(vehicle, req.From)
	toStep := e.resolver.TargetStep(req.To, fromStep)
	ts := e.nextTimestamp(vehicle)

	event := model.WorkflowEvent{
		ID:           uuid.New().String(),
		VIN:          req.VIN,
		Sequence:     int64(len(vehicle.LocationHistory)) + 1,
		FromLocation: req.From,
		ToLocation:   req.To,
		FromStep:     fromStep,
		ToStep:       toStep,
		Timestamp:    ts,
		Actor:        req.Actor,
		Reason:       req.Reason,
		Metadata:     copyMap(req.Metadata),
	}

	moved := vehicle.Clone()
	moved.CurrentLocation = req.To
	moved.CurrentStep = toStep
	moved.LocationHistory = append(moved.LocationHistory, model.LocationVisit{
		Location:  req.To,
		Step:      toStep,
		EventID:   event.ID,
		EnteredAt: ts,
	})
	moved.LastMovedAt = ts
	moved.UpdatedAt = ts

	if err := e.store.CommitMove(ctx, moved, event); err != nil {
		return model.WorkflowEvent{}, false, err
	}

	if idemKey != "" {
		if err := e.idempotency.Store(ctx, idemKey, inputHash, event, e.idempotencyTTL); err != nil {
			observability.RequestLogger(ctx, e.logger).Warn("storing idempotent move result failed",
				zap.String("vin", req.VIN),
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.Error(err),
			)
		}
	}
	return event, false, nil
}

// checkRequest validates the request shape and fills the actor from the
// request context when absent.
func (e *Engine) checkRequest(ctx context.Context, req *model.MoveRequest) error {
	if req.Actor == "" {
		if rctx := model.RequestContextFrom(ctx); rctx != nil {
			req.Actor = rctx.Actor()
		}
	}

	var problems []string
	if len(req.VIN) != model.VINLength {
		problems = append(problems, fmt.Sprintf("vin must be %d characters", model.VINLength))
	}
	if req.From == "" {
		problems = append(problems, "from is required")
	}
	if req.To == "" {
		problems = append(problems, "to is required")
	}
	if strings.TrimSpace(req.Actor) == "" {
		problems = append(problems, "actor is required")
	}
	if len(problems) > 0 {
		return model.NewBadRequestError(strings.Join(problems, "; "))
	}
	return nil
}

// nextTimestamp returns a timestamp strictly after the vehicle's last move.
func (e *Engine) nextTimestamp(v model.Vehicle) time.Time {
	ts := e.now().UTC().Truncate(time.Microsecond)
	if !v.LastMovedAt.IsZero() && !ts.After(v.LastMovedAt) {
		ts = v.LastMovedAt.UTC().Add(time.Microsecond)
	}
	return ts
}

func (e *Engine) publish(ctx context.Context, event model.WorkflowEvent) {
	if e.publisher == nil {
		return
	}
	e.publisher.Publish(ctx, notify.NewMessage(notify.TopicVehicleMoved, event))
	cfg, ok := e.registry.Lookup(event.ToLocation)
	if !ok {
		return
	}
	for _, topic := range cfg.Signals {
		e.publisher.Publish(ctx, notify.NewMessage(topic, event))
	}
}

func (e *Engine) recordMove(req model.MoveRequest, result string, d time.Duration) {
	if e.metrics != nil {
		e.metrics.RecordMove(string(req.From), string(req.To), result, d)
	}
}

// GetVehicle returns the vehicle identified by vin.
func (e *Engine) GetVehicle(ctx context.Context, vin string) (model.Vehicle, error) {
	return e.store.GetVehicle(ctx, vin)
}

// History returns the vehicle's audit trail ordered by sequence.
func (e *Engine) History(ctx context.Context, vin string) ([]model.WorkflowEvent, error) {
	return e.store.History(ctx, vin)
}

// Recommend returns the suggested next action for vehicle.
func (e *Engine) Recommend(vehicle model.Vehicle) model.Recommendation {
	return e.recommender.Recommend(vehicle)
}

// AvailableMoves lists every destination reachable from the vehicle's current
// location in declaration order, with the required fields it still lacks.
func (e *Engine) AvailableMoves(ctx context.Context, vin string) ([]model.MoveOption, error) {
	vehicle, err := e.store.GetVehicle(ctx, vin)
	if err != nil {
		return nil, err
	}
	cfg, ok := e.registry.Lookup(vehicle.CurrentLocation)
	if !ok {
		return nil, fmt.Errorf("vehicle %q is at unknown location %q", vin, vehicle.CurrentLocation)
	}

	options := make([]model.MoveOption, 0, len(cfg.AllowedNext))
	for _, next := range cfg.AllowedNext {
		missing := e.validator.MissingFields(vehicle, next)
		options = append(options, model.MoveOption{
			Location:      next,
			Label:         e.registry.Get(next).Label,
			Allowed:       len(missing) == 0,
			MissingFields: missing,
		})
	}
	return options, nil
}

// Verify replays the vehicle's audit trail and reports ErrAuditDrift when it
// does not reproduce the stored location, step and history length.
func (e *Engine) Verify(ctx context.Context, vin string) error {
	vehicle, err := e.store.GetVehicle(ctx, vin)
	if err != nil {
		return err
	}
	events, err := e.store.History(ctx, vin)
	if err != nil {
		return err
	}

	if len(events) != len(vehicle.LocationHistory) {
		return fmt.Errorf("%w: %d events but %d history entries", ErrAuditDrift, len(events), len(vehicle.LocationHistory))
	}
	if len(events) == 0 {
		return nil
	}

	loc, step, err := Replay(events)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAuditDrift, err)
	}
	if loc != vehicle.CurrentLocation || step != vehicle.CurrentStep {
		return fmt.Errorf("%w: replay ends at %s/%s, vehicle is at %s/%s",
			ErrAuditDrift, loc, step, vehicle.CurrentLocation, vehicle.CurrentStep)
	}
	return nil
}

// RegisterRequest enters a vehicle into the lot.
type RegisterRequest struct {
	VIN        string         `json:"vin" yaml:"vin"`
	Location   model.Location `json:"location,omitempty" yaml:"location,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// Register creates a vehicle at req.Location, new_arrivals by default. The
// vehicle starts with an empty audit trail; its step is the one it would
// enter the location with, and the location's required fields must already
// be satisfied.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (model.Vehicle, error) {
	if len(req.VIN) != model.VINLength {
		return model.Vehicle{}, model.NewBadRequestError(fmt.Sprintf("vin must be %d characters", model.VINLength))
	}
	loc := req.Location
	if loc == "" {
		loc = model.LocationNewArrivals
	}
	if _, ok := e.registry.Lookup(loc); !ok {
		return model.Vehicle{}, model.NewBadRequestError(fmt.Sprintf("unknown location %q", loc))
	}

	now := e.now().UTC().Truncate(time.Microsecond)
	vehicle := model.Vehicle{
		VIN:             req.VIN,
		CurrentLocation: loc,
		Attributes:      copyMap(req.Attributes),
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if missing := e.validator.MissingFields(vehicle, loc); len(missing) > 0 {
		return model.Vehicle{}, model.NewMissingRequiredDataError(loc, missing)
	}
	vehicle.CurrentStep = e.resolver.TargetStep(loc, e.resolver.CurrentStep(vehicle, loc))

	unlock := e.locks.Lock(req.VIN)
	defer unlock()
	if err := e.store.CreateVehicle(ctx, vehicle); err != nil {
		return model.Vehicle{}, err
	}

	observability.RequestLogger(ctx, e.logger).Info("vehicle registered",
		zap.String("vin", vehicle.VIN),
		zap.String("location", string(vehicle.CurrentLocation)),
		zap.String("step", string(vehicle.CurrentStep)),
	)
	return vehicle, nil
}

// UpdateAttributes merges attrs into the vehicle's attribute bag. version is
// the version the caller last read; a nil value removes a key.
func (e *Engine) UpdateAttributes(ctx context.Context, vin string, attrs map[string]any, version int64) (model.Vehicle, error) {
	if len(attrs) == 0 {
		return model.Vehicle{}, model.NewBadRequestError("attributes are required")
	}

	unlock := e.locks.Lock(vin)
	defer unlock()

	v, err := e.store.UpdateAttributes(ctx, vin, attrs, version)
	if err != nil {
		return model.Vehicle{}, err
	}
	observability.RequestLogger(ctx, e.logger).Debug("vehicle attributes updated",
		zap.String("vin", vin),
		zap.Int64("version", v.Version),
		zap.Any("attributes", observability.RedactBody(attrs, nil)),
	)
	return v, nil
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
