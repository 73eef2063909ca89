package transfer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"registryd/internal/history"
	"registryd/internal/registry"
	"registryd/internal/resource/models"
	"registryd/internal/resource/store"
	"registryd/internal/transfer/fsm"
	"registryd/internal/transfer/metrics"
	"registryd/internal/transfer/projection"
	"registryd/internal/transfer/replay"
	id "registryd/pkg/domain"
	dErrors "registryd/pkg/domain-errors"
	"registryd/pkg/platform/sentinel"
	"registryd/pkg/requestcontext"
)

// FeeExtension is the optional fee acknowledgement on a transfer request.
// Applied carries any fee attribute the protocol layer could not interpret;
// a non-empty value fails the request rather than silently ignoring it.
type FeeExtension struct {
	Currency string
	Amount   decimal.Decimal
	Applied  string
}

// TransferRequestParams are the caller-supplied inputs to RequestTransfer.
// The acting registrar, request time, client TRID and superuser flag travel
// in the context.
type TransferRequestParams struct {
	AuthInfo string
	// PeriodYears is the requested registration extension; nil means the
	// default one year. Meaningful for domains only.
	PeriodYears *int
	Fee         *FeeExtension
}

// TransferResult reports the committed outcome of a flow.
type TransferResult struct {
	// Resource is the resource as persisted by the flow.
	Resource     models.Resource
	TransferData models.TransferData
	HistoryEntry *history.Entry
}

// Service implements the transfer flows. Every flow loads the resource
// inside one store transaction, validates against the *projected* state,
// and commits the replaced TransferData together with created or deleted
// side-effect entities all-or-nothing. Precondition failures happen before
// any write, so a failed flow leaves no trace.
type Service struct {
	store     store.Store
	tx        store.Tx
	policies  *registry.Policies
	validator *fsm.Validator
	logger    *slog.Logger
	metrics   *metrics.Metrics
	replay    replay.Guard
	publisher *history.Publisher
}

// Option configures optional service collaborators.
type Option func(*Service)

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics attaches flow metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithReplayGuard rejects reused client transaction IDs.
func WithReplayGuard(guard replay.Guard) Option {
	return func(s *Service) { s.replay = guard }
}

// WithHistoryPublisher fans flow summaries out asynchronously.
func WithHistoryPublisher(p *history.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// NewService constructs the transfer service.
func NewService(s store.Store, tx store.Tx, policies *registry.Policies, opts ...Option) *Service {
	svc := &Service{
		store:     s,
		tx:        tx,
		policies:  policies,
		validator: fsm.New(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// ProjectedResource is the read path: it loads the resource and returns its
// effective state at the request time without persisting anything. All
// read-side consumers (WHOIS/RDAP shaping, registrar console, other flows)
// come through here rather than reading stored state directly.
func (s *Service) ProjectedResource(ctx context.Context, resourceID id.ResourceID) (models.Resource, error) {
	now := requestcontext.Now(ctx)
	raw, policy, err := s.loadResource(ctx, s.store, resourceID, now)
	if err != nil {
		return nil, err
	}
	return projection.AtTime(raw, policy, now), nil
}

// loadResource fetches the raw resource and its TLD policy, translating
// misses and past deletions into the taxonomy.
func (s *Service) loadResource(ctx context.Context, st store.Store, resourceID id.ResourceID, now time.Time) (models.Resource, registry.Policy, error) {
	raw, err := st.GetResource(ctx, resourceID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, registry.Policy{}, fail(ErrResourceDoesNotExist)
		}
		return nil, registry.Policy{}, dErrors.Wrap(err, dErrors.CodeInternal, "loading resource")
	}
	if raw.Base().IsDeleted(now) {
		return nil, registry.Policy{}, fail(ErrResourceDoesNotExist)
	}

	tld := ""
	if raw.Kind() == models.KindDomain {
		tld = resourceID.TLD()
	}
	policy, err := s.policies.ForTLD(tld)
	if err != nil {
		return nil, registry.Policy{}, err
	}
	return raw, policy, nil
}

// actingRegistrar extracts the authenticated registrar from the context.
func actingRegistrar(ctx context.Context) (id.RegistrarID, error) {
	registrar := requestcontext.RegistrarID(ctx)
	if registrar.IsNil() {
		return "", dErrors.New(dErrors.CodeUnauthorized, "no registrar identity on request")
	}
	return registrar, nil
}

// validatePeriod normalizes the requested extension. Contacts carry no
// period. For domains the registry policy pins the period to one year;
// registry-operator requests may use any value the syntax allows, including
// zero for a no-extension transfer.
func validatePeriod(ctx context.Context, kind models.ResourceKind, years *int) (id.Period, error) {
	if kind == models.KindContact {
		if years != nil {
			return 0, fail(ErrInvalidTransferPeriodValue)
		}
		return 0, nil
	}
	if years == nil {
		return id.DefaultTransferPeriod, nil
	}
	period, err := id.ParsePeriod(*years)
	if err != nil {
		return 0, fail(ErrInvalidTransferPeriodValue)
	}
	if period != id.DefaultTransferPeriod && !requestcontext.Superuser(ctx) {
		return 0, fail(ErrTransferPeriodMustBeOneYear)
	}
	return period, nil
}

// validateFee checks the fee acknowledgement against policy pricing. A
// zero-period transfer bills nothing, so a fee extension on one is a
// contradiction. Premium names must acknowledge their price explicitly.
func validateFee(policy registry.Policy, name string, period id.Period, fee *FeeExtension) error {
	if period.IsZero() {
		if fee != nil {
			return fail(ErrTransferPeriodZeroAndFee)
		}
		return nil
	}
	if fee == nil {
		if policy.IsPremium(name) {
			return fail(ErrFeesRequiredForPremiumName)
		}
		return nil
	}
	if fee.Applied != "" {
		return fail(ErrUnsupportedFeeAttribute)
	}
	if fee.Currency != policy.Currency {
		return fail(ErrCurrencyUnitMismatch)
	}
	if fee.Amount.Exponent() < -policy.CurrencyScale {
		return fail(ErrCurrencyValueScale)
	}
	if !fee.Amount.Equal(policy.RenewalCost(name)) {
		return fail(ErrFeesMismatch)
	}
	return nil
}

// historyType maps a flow to its audit entry type.
func historyType(kind models.ResourceKind, flow string) history.Type {
	domainTypes := map[string]history.Type{
		flowRequest: history.TypeDomainTransferRequest,
		flowCancel:  history.TypeDomainTransferCancel,
		flowReject:  history.TypeDomainTransferReject,
		flowApprove: history.TypeDomainTransferApprove,
	}
	contactTypes := map[string]history.Type{
		flowRequest: history.TypeContactTransferRequest,
		flowCancel:  history.TypeContactTransferCancel,
		flowReject:  history.TypeContactTransferReject,
		flowApprove: history.TypeContactTransferApprove,
	}
	if kind == models.KindDomain {
		return domainTypes[flow]
	}
	return contactTypes[flow]
}

const (
	flowRequest = "request"
	flowCancel  = "cancel"
	flowReject  = "reject"
	flowApprove = "approve"
)

// observe records metrics and a log line for a finished flow.
func (s *Service) observe(ctx context.Context, flow string, kind models.ResourceKind, resourceID id.ResourceID, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	if s.metrics != nil {
		s.metrics.ObserveFlow(flow, string(kind), outcome, time.Since(start))
	}
	if err != nil {
		s.logger.WarnContext(ctx, "transfer flow failed",
			slog.String("flow", flow),
			slog.String("resource_id", resourceID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.InfoContext(ctx, "transfer flow committed",
		slog.String("flow", flow),
		slog.String("resource_id", resourceID.String()),
	)
}

// publish hands the audit entry to the async publisher, if configured.
func (s *Service) publish(ctx context.Context, entry *history.Entry) {
	if s.publisher == nil || entry == nil {
		return
	}
	s.publisher.Publish(ctx, entry)
}
