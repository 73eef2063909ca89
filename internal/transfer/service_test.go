package transfer

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"registryd/internal/billing"
	"registryd/internal/history"
	"registryd/internal/poll"
	"registryd/internal/registry"
	"registryd/internal/resource/models"
	"registryd/internal/resource/store"
	"registryd/internal/transfer/replay"
	id "registryd/pkg/domain"
	dErrors "registryd/pkg/domain-errors"
	"registryd/pkg/requestcontext"
)

const (
	losingRegistrar  = id.RegistrarID("TheRegistrar")
	gainingRegistrar = id.RegistrarID("NewRegistrar")
	otherRegistrar   = id.RegistrarID("OtherRegistrar")

	domainName  = id.ResourceID("sld.example")
	premiumName = id.ResourceID("rich.example")
	contactName = id.ResourceID("sh8013")

	authInfo = "2fooBAR"
)

var (
	requestTime = time.Date(2000, time.June, 6, 22, 0, 0, 0, time.UTC)
	// deadline is requestTime plus the default five-day transfer window.
	deadline   = requestTime.Add(5 * 24 * time.Hour)
	expiration = time.Date(2001, time.September, 8, 22, 0, 0, 0, time.UTC)
)

type TransferServiceSuite struct {
	suite.Suite
	store *store.InMemory
	svc   *Service
}

func TestTransferServiceSuite(t *testing.T) {
	suite.Run(t, new(TransferServiceSuite))
}

func (s *TransferServiceSuite) SetupTest() {
	s.store = store.NewInMemory()
	example := registry.DefaultPolicy("example")
	example.PremiumNames = map[string]decimal.Decimal{
		premiumName.String(): decimal.RequireFromString("100.00"),
	}
	policies := registry.NewPolicies(example)
	s.svc = NewService(s.store, store.NewShardedTx(s.store), policies)
}

func (s *TransferServiceSuite) ctxAs(registrar id.RegistrarID, now time.Time) context.Context {
	ctx := requestcontext.WithRegistrarID(context.Background(), registrar)
	return requestcontext.WithTime(ctx, now)
}

// seedDomain stores a domain sponsored by the losing registrar together with
// its live autorenew recurrence and reminder.
func (s *TransferServiceSuite) seedDomain(name id.ResourceID) *models.Domain {
	parent := id.NewEntityKey(id.KindHistoryEntry)
	recurring := billing.NewRecurring(losingRegistrar, name, billing.ReasonAutoRenew, expiration, parent)
	s.Require().NoError(s.store.PutBillingEvent(context.Background(), recurring))
	reminder := poll.NewAutorenew(losingRegistrar, name, expiration, parent)
	s.Require().NoError(s.store.PutPollMessage(context.Background(), reminder))

	domain := &models.Domain{
		EppResource: models.EppResource{
			RepoID:                 name,
			CurrentSponsorClientID: losingRegistrar,
			CreationTime:           requestTime.AddDate(-2, 0, 0),
			StatusValues:           []models.StatusValue{models.StatusOK},
			AuthInfo:               authInfo,
			TransferData:           models.NewTransferData(),
		},
		RegistrationExpirationTime: expiration,
		AutorenewBillingEventKey:   recurring.Key,
		AutorenewPollMessageKey:    reminder.Key,
	}
	s.Require().NoError(s.store.PutResource(context.Background(), domain))
	return domain
}

func (s *TransferServiceSuite) seedContact() *models.Contact {
	contact := &models.Contact{
		EppResource: models.EppResource{
			RepoID:                 contactName,
			CurrentSponsorClientID: losingRegistrar,
			CreationTime:           requestTime.AddDate(-1, 0, 0),
			StatusValues:           []models.StatusValue{models.StatusOK},
			AuthInfo:               authInfo,
			TransferData:           models.NewTransferData(),
		},
		Name:  "John Doe",
		Email: "jdoe@example.com",
	}
	s.Require().NoError(s.store.PutResource(context.Background(), contact))
	return contact
}

// visiblePolls returns the registrar's messages servable at the given
// instant.
func (s *TransferServiceSuite) visiblePolls(registrar id.RegistrarID, asOf time.Time) []*poll.Message {
	s.T().Helper()
	messages, err := s.store.ListPollMessagesByRegistrar(context.Background(), registrar)
	s.Require().NoError(err)
	visible := messages[:0]
	for _, message := range messages {
		if message.VisibleAt(asOf) {
			visible = append(visible, message)
		}
	}
	return visible
}

func (s *TransferServiceSuite) requestDomainTransfer() *TransferResult {
	s.T().Helper()
	result, err := s.svc.RequestTransfer(s.ctxAs(gainingRegistrar, requestTime), domainName, TransferRequestParams{AuthInfo: authInfo})
	s.Require().NoError(err)
	return result
}

func (s *TransferServiceSuite) TestRequestDomain() {
	s.seedDomain(domainName)
	result := s.requestDomainTransfer()

	data := result.TransferData
	s.Run("enters pending with the five day deadline", func() {
		s.Equal(models.TransferStatusPending, data.Status)
		s.Equal(gainingRegistrar, data.GainingClientID)
		s.Equal(losingRegistrar, data.LosingClientID)
		s.Equal(requestTime, data.TransferRequestTime)
		s.Equal(deadline, data.PendingTransferExpirationTime)
		s.True(result.Resource.Base().HasStatus(models.StatusPendingTransfer))
		s.NotEmpty(data.TransferRequestTrid.ServerTrid)
	})

	s.Run("precomputes the extended expiration", func() {
		s.Equal(id.Period(1), data.TransferPeriod)
		s.Equal(expiration.AddDate(1, 0, 0), data.TransferredRegistrationExpirationTime)
	})

	s.Run("persists the full server-approve entity set", func() {
		s.Len(data.ServerApproveEntities, 5)
		s.False(data.ServerApproveBillingEvent.IsNil())
		s.False(data.ServerApproveAutorenewEvent.IsNil())
		s.False(data.ServerApproveAutorenewPollMessage.IsNil())

		bill, err := s.store.GetBillingEvent(context.Background(), data.ServerApproveBillingEvent)
		s.Require().NoError(err)
		s.Equal(billing.KindOneTime, bill.Kind)
		s.Equal(billing.ReasonTransfer, bill.Reason)
		s.Equal(gainingRegistrar, bill.ClientID)
		s.Equal(deadline, bill.EventTime)
		s.Equal(deadline.Add(5*24*time.Hour), bill.BillingTime)
		s.True(bill.Cost.Amount.Equal(decimal.RequireFromString("11.00")))

		recurring, err := s.store.GetBillingEvent(context.Background(), data.ServerApproveAutorenewEvent)
		s.Require().NoError(err)
		s.Equal(billing.KindRecurring, recurring.Kind)
		s.Equal(expiration.AddDate(1, 0, 0), recurring.EventTime)
	})

	s.Run("stored resource stays owned by the losing registrar", func() {
		stored, err := s.store.GetResource(context.Background(), domainName)
		s.Require().NoError(err)
		s.Equal(losingRegistrar, stored.Base().CurrentSponsorClientID)
	})

	s.Run("records the flow in history", func() {
		entries, err := s.store.ListHistoryByResource(context.Background(), domainName)
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal(history.TypeDomainTransferRequest, entries[0].Type)
		s.Require().Len(entries[0].TransactionRecords, 1)
		s.Equal(1, entries[0].TransactionRecords[0].Amount)
	})
}

func (s *TransferServiceSuite) TestRequestValidation() {
	s.seedDomain(domainName)
	ctx := s.ctxAs(gainingRegistrar, requestTime)

	s.Run("unknown resource", func() {
		_, err := s.svc.RequestTransfer(ctx, "nope.example", TransferRequestParams{AuthInfo: authInfo})
		s.Require().ErrorIs(err, ErrResourceDoesNotExist)
		s.Equal(2303, ResultCode(err))
	})

	s.Run("unknown TLD", func() {
		s.seedDomain("sld.invalid")
		_, err := s.svc.RequestTransfer(ctx, "sld.invalid", TransferRequestParams{AuthInfo: authInfo})
		s.Require().Error(err)
		s.NotErrorIs(err, ErrResourceDoesNotExist)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("missing auth info", func() {
		_, err := s.svc.RequestTransfer(ctx, domainName, TransferRequestParams{})
		s.Require().ErrorIs(err, ErrMissingTransferRequestAuthInfo)
		s.Equal(2003, ResultCode(err))
	})

	s.Run("wrong auth info", func() {
		_, err := s.svc.RequestTransfer(ctx, domainName, TransferRequestParams{AuthInfo: "wrong"})
		s.Require().ErrorIs(err, ErrBadAuthInfo)
		s.Equal(2201, ResultCode(err))
	})

	s.Run("sponsor cannot transfer to itself", func() {
		_, err := s.svc.RequestTransfer(s.ctxAs(losingRegistrar, requestTime), domainName, TransferRequestParams{AuthInfo: authInfo})
		s.Require().ErrorIs(err, ErrObjectAlreadySponsored)
		s.Equal(2002, ResultCode(err))
	})

	s.Run("multi-year period needs superuser", func() {
		years := 2
		_, err := s.svc.RequestTransfer(ctx, domainName, TransferRequestParams{AuthInfo: authInfo, PeriodYears: &years})
		s.Require().ErrorIs(err, ErrTransferPeriodMustBeOneYear)
		s.Equal(2306, ResultCode(err))
	})

	s.Run("period beyond the maximum", func() {
		years := 11
		ctx := requestcontext.WithSuperuser(ctx, true)
		_, err := s.svc.RequestTransfer(ctx, domainName, TransferRequestParams{AuthInfo: authInfo, PeriodYears: &years})
		s.Require().ErrorIs(err, ErrInvalidTransferPeriodValue)
		s.Equal(2004, ResultCode(err))
	})

	s.Run("no identity on context", func() {
		_, err := s.svc.RequestTransfer(requestcontext.WithTime(context.Background(), requestTime), domainName, TransferRequestParams{AuthInfo: authInfo})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func (s *TransferServiceSuite) TestRequestProhibitions() {
	for _, status := range []models.StatusValue{
		models.StatusClientTransferProhibited,
		models.StatusServerTransferProhibited,
		models.StatusPendingDelete,
	} {
		domain := s.seedDomain(domainName)
		domain.AddStatus(status)
		s.Require().NoError(s.store.PutResource(context.Background(), domain))

		_, err := s.svc.RequestTransfer(s.ctxAs(gainingRegistrar, requestTime), domainName, TransferRequestParams{AuthInfo: authInfo})
		s.Require().ErrorIs(err, ErrResourceStatusProhibitsOperation, "status %s", status)
		s.Equal(2304, ResultCode(err))
	}

	s.Run("deleted resource does not exist", func() {
		domain := s.seedDomain(domainName)
		domain.DeletionTime = requestTime.Add(-time.Hour)
		s.Require().NoError(s.store.PutResource(context.Background(), domain))

		_, err := s.svc.RequestTransfer(s.ctxAs(gainingRegistrar, requestTime), domainName, TransferRequestParams{AuthInfo: authInfo})
		s.Require().ErrorIs(err, ErrResourceDoesNotExist)
	})

	s.Run("second request while pending", func() {
		s.SetupTest()
		s.seedDomain(domainName)
		s.requestDomainTransfer()

		_, err := s.svc.RequestTransfer(s.ctxAs(otherRegistrar, requestTime.Add(time.Hour)), domainName, TransferRequestParams{AuthInfo: authInfo})
		s.Require().ErrorIs(err, ErrAlreadyPendingTransfer)
		s.Equal(2300, ResultCode(err))
	})
}

func (s *TransferServiceSuite) TestRequestFees() {
	s.seedDomain(domainName)
	s.seedDomain(premiumName)
	ctx := s.ctxAs(gainingRegistrar, requestTime)

	fee := func(amount string) *FeeExtension {
		return &FeeExtension{Currency: "USD", Amount: decimal.RequireFromString(amount)}
	}

	s.Run("premium name requires an acknowledged fee", func() {
		_, err := s.svc.RequestTransfer(ctx, premiumName, TransferRequestParams{AuthInfo: authInfo})
		s.Require().ErrorIs(err, ErrFeesRequiredForPremiumName)
		s.Equal(2003, ResultCode(err))
	})

	s.Run("currency mismatch", func() {
		_, err := s.svc.RequestTransfer(ctx, domainName, TransferRequestParams{
			AuthInfo: authInfo,
			Fee:      &FeeExtension{Currency: "EUR", Amount: decimal.RequireFromString("11.00")},
		})
		s.Require().ErrorIs(err, ErrCurrencyUnitMismatch)
	})

	s.Run("too many decimal places", func() {
		_, err := s.svc.RequestTransfer(ctx, domainName, TransferRequestParams{AuthInfo: authInfo, Fee: fee("11.001")})
		s.Require().ErrorIs(err, ErrCurrencyValueScale)
	})

	s.Run("amount mismatch", func() {
		_, err := s.svc.RequestTransfer(ctx, domainName, TransferRequestParams{AuthInfo: authInfo, Fee: fee("10.00")})
		s.Require().ErrorIs(err, ErrFeesMismatch)
		s.Equal(2004, ResultCode(err))
	})

	s.Run("unsupported fee attribute", func() {
		unsupported := fee("11.00")
		unsupported.Applied = "delayed"
		_, err := s.svc.RequestTransfer(ctx, domainName, TransferRequestParams{AuthInfo: authInfo, Fee: unsupported})
		s.Require().ErrorIs(err, ErrUnsupportedFeeAttribute)
		s.Equal(2102, ResultCode(err))
	})

	s.Run("zero period cannot carry a fee", func() {
		years := 0
		ctx := requestcontext.WithSuperuser(ctx, true)
		_, err := s.svc.RequestTransfer(ctx, domainName, TransferRequestParams{AuthInfo: authInfo, PeriodYears: &years, Fee: fee("11.00")})
		s.Require().ErrorIs(err, ErrTransferPeriodZeroAndFee)
	})

	s.Run("premium fee accepted at the premium price", func() {
		result, err := s.svc.RequestTransfer(ctx, premiumName, TransferRequestParams{AuthInfo: authInfo, Fee: fee("100.00")})
		s.Require().NoError(err)
		bill, err := s.store.GetBillingEvent(context.Background(), result.TransferData.ServerApproveBillingEvent)
		s.Require().NoError(err)
		s.True(bill.Cost.Amount.Equal(decimal.RequireFromString("100.00")))
	})
}

func (s *TransferServiceSuite) TestProjectionAfterRequest() {
	s.seedDomain(domainName)
	result := s.requestDomainTransfer()
	data := result.TransferData

	s.Run("pending before the deadline", func() {
		projected, err := s.svc.ProjectedResource(s.ctxAs(losingRegistrar, deadline.Add(-time.Second)), domainName)
		s.Require().NoError(err)
		s.Equal(models.TransferStatusPending, projected.Base().TransferData.Status)
		s.Equal(losingRegistrar, projected.Base().CurrentSponsorClientID)
	})

	s.Run("server approved once the deadline passes", func() {
		projected, err := s.svc.ProjectedResource(s.ctxAs(losingRegistrar, deadline), domainName)
		s.Require().NoError(err)
		base := projected.Base()
		s.Equal(models.TransferStatusServerApproved, base.TransferData.Status)
		s.Equal(gainingRegistrar, base.CurrentSponsorClientID)
		s.Equal(deadline, base.LastTransferTime)
		s.False(base.HasStatus(models.StatusPendingTransfer))
		s.Empty(base.TransferData.ServerApproveEntities)

		domain := projected.(*models.Domain)
		s.Equal(expiration.AddDate(1, 0, 0), domain.RegistrationExpirationTime)
		s.Equal(data.ServerApproveAutorenewEvent, domain.AutorenewBillingEventKey)
		s.Require().Len(domain.GracePeriods, 1)
		s.Equal(models.GracePeriodTransfer, domain.GracePeriods[0].Type)
		s.Equal(data.ServerApproveBillingEvent, domain.GracePeriods[0].BillingEventKey)
		s.Equal(deadline.Add(5*24*time.Hour), domain.GracePeriods[0].ExpirationTime)
	})

	s.Run("resolution is pinned to the deadline for all observers", func() {
		early, err := s.svc.ProjectedResource(s.ctxAs(losingRegistrar, deadline.Add(time.Minute)), domainName)
		s.Require().NoError(err)
		late, err := s.svc.ProjectedResource(s.ctxAs(losingRegistrar, deadline.AddDate(0, 1, 0)), domainName)
		s.Require().NoError(err)
		s.Equal(early.Base().LastTransferTime, late.Base().LastTransferTime)
		s.Equal(early.Base().TransferData.PendingTransferExpirationTime, late.Base().TransferData.PendingTransferExpirationTime)
	})

	s.Run("transfer grace period expires out of later projections", func() {
		projected, err := s.svc.ProjectedResource(s.ctxAs(losingRegistrar, deadline.Add(6*24*time.Hour)), domainName)
		s.Require().NoError(err)
		s.Empty(projected.(*models.Domain).GracePeriods)
	})
}

func (s *TransferServiceSuite) TestExpirationCap() {
	domain := s.seedDomain(domainName)
	farExpiration := requestTime.AddDate(9, 8, 0)
	domain.RegistrationExpirationTime = farExpiration
	s.Require().NoError(s.store.PutResource(context.Background(), domain))

	result := s.requestDomainTransfer()
	s.Equal(deadline.AddDate(10, 0, 0), result.TransferData.TransferredRegistrationExpirationTime)
}

func (s *TransferServiceSuite) TestSubsumedAutorenews() {
	s.Run("expiration inside the pending window", func() {
		domain := s.seedDomain(domainName)
		nearExpiration := requestTime.Add(2 * 24 * time.Hour)
		domain.RegistrationExpirationTime = nearExpiration
		s.Require().NoError(s.store.PutResource(context.Background(), domain))

		result := s.requestDomainTransfer()
		s.Equal(nearExpiration.AddDate(2, 0, 0), result.TransferData.TransferredRegistrationExpirationTime)
		s.Len(result.TransferData.ServerApproveEntities, 6)

		cancellation := s.findCancellation(domainName)
		s.Require().NotNil(cancellation)
		s.Equal(domain.AutorenewBillingEventKey, cancellation.CancelledEventKey)
		s.Equal(losingRegistrar, cancellation.ClientID)
		s.Equal(deadline, cancellation.EventTime)
	})

	s.Run("open autorenew grace period billing inside the window", func() {
		s.SetupTest()
		domain := s.seedDomain(domainName)
		// The autorenew fired 43 days ago, so its charge bills 2 days from
		// now, inside the 5-day pending window.
		autorenewTime := requestTime.Add(-43 * 24 * time.Hour)
		domain.RegistrationExpirationTime = expiration.AddDate(1, 0, 0)
		domain.AddGracePeriod(models.GracePeriod{
			Type:            models.GracePeriodAutoRenew,
			ExpirationTime:  autorenewTime.Add(45 * 24 * time.Hour),
			ClientID:        losingRegistrar,
			BillingEventKey: domain.AutorenewBillingEventKey,
			BillingTime:     autorenewTime.Add(45 * 24 * time.Hour),
		})
		s.Require().NoError(s.store.PutResource(context.Background(), domain))

		s.requestDomainTransfer()
		cancellation := s.findCancellation(domainName)
		s.Require().NotNil(cancellation)
		s.Equal(domain.AutorenewBillingEventKey, cancellation.CancelledEventKey)
		s.Equal(autorenewTime.Add(45*24*time.Hour), cancellation.BillingTime)
	})

	s.Run("no cancellation when nothing bills inside the window", func() {
		s.SetupTest()
		s.seedDomain(domainName)
		s.requestDomainTransfer()
		s.Nil(s.findCancellation(domainName))
	})
}

func (s *TransferServiceSuite) findCancellation(name id.ResourceID) *billing.Event {
	s.T().Helper()
	events, err := s.store.ListBillingEventsByTarget(context.Background(), name)
	s.Require().NoError(err)
	for _, event := range events {
		if event.Kind == billing.KindCancellation {
			return event
		}
	}
	return nil
}

func (s *TransferServiceSuite) TestSuperuserZeroPeriod() {
	s.seedDomain(domainName)
	years := 0
	ctx := requestcontext.WithSuperuser(s.ctxAs(gainingRegistrar, requestTime), true)

	result, err := s.svc.RequestTransfer(ctx, domainName, TransferRequestParams{AuthInfo: authInfo, PeriodYears: &years})
	s.Require().NoError(err)
	s.True(result.TransferData.ServerApproveBillingEvent.IsNil())
	s.Equal(expiration, result.TransferData.TransferredRegistrationExpirationTime)

	projected, err := s.svc.ProjectedResource(s.ctxAs(gainingRegistrar, deadline), domainName)
	s.Require().NoError(err)
	domain := projected.(*models.Domain)
	s.Equal(models.TransferStatusServerApproved, domain.TransferData.Status)
	s.Equal(expiration, domain.RegistrationExpirationTime)
	s.Empty(domain.GracePeriods, "zero-period approval opens no transfer grace period")
}

func (s *TransferServiceSuite) TestCancel() {
	s.seedDomain(domainName)
	s.requestDomainTransfer()
	cancelTime := requestTime.Add(24 * time.Hour)

	s.Run("only the initiator may cancel", func() {
		_, err := s.svc.CancelTransfer(s.ctxAs(losingRegistrar, cancelTime), domainName)
		s.Require().ErrorIs(err, ErrNotTransferInitiator)
		s.Equal(2201, ResultCode(err))
	})

	s.Run("initiator cancels", func() {
		result, err := s.svc.CancelTransfer(s.ctxAs(gainingRegistrar, cancelTime), domainName)
		s.Require().NoError(err)
		s.Equal(models.TransferStatusClientCancelled, result.TransferData.Status)
		s.Equal(cancelTime, result.TransferData.PendingTransferExpirationTime)
		s.Empty(result.TransferData.ServerApproveEntities)
		s.True(result.TransferData.TransferredRegistrationExpirationTime.IsZero())
		s.False(result.Resource.Base().HasStatus(models.StatusPendingTransfer))
	})

	s.Run("precomputed rows are gone", func() {
		events, err := s.store.ListBillingEventsByTarget(context.Background(), domainName)
		s.Require().NoError(err)
		s.Require().Len(events, 1, "only the original autorenew recurrence remains")
		s.Equal(billing.KindRecurring, events[0].Kind)
	})

	s.Run("parties are notified and the deadline polls are gone", func() {
		gaining := s.visiblePolls(gainingRegistrar, cancelTime)
		s.Require().Len(gaining, 1)
		s.Equal(models.TransferStatusClientCancelled, gaining[0].TransferResponse.TransferStatus)

		var cancelNotices int
		for _, message := range s.visiblePolls(losingRegistrar, cancelTime) {
			if message.TransferResponse != nil && message.TransferResponse.TransferStatus == models.TransferStatusClientCancelled {
				cancelNotices++
				s.Equal(cancelTime, message.EventTime)
			}
		}
		s.Equal(1, cancelNotices)

		for _, registrar := range []id.RegistrarID{losingRegistrar, gainingRegistrar} {
			messages, err := s.store.ListPollMessagesByRegistrar(context.Background(), registrar)
			s.Require().NoError(err)
			for _, message := range messages {
				s.False(message.EventTime.Equal(deadline), "deadline-dated approval poll survived cancellation")
			}
		}
	})

	s.Run("sponsorship and expiration unchanged", func() {
		projected, err := s.svc.ProjectedResource(s.ctxAs(losingRegistrar, deadline.AddDate(0, 1, 0)), domainName)
		s.Require().NoError(err)
		s.Equal(losingRegistrar, projected.Base().CurrentSponsorClientID)
		s.Equal(expiration, projected.(*models.Domain).RegistrationExpirationTime)
		s.Equal(models.TransferStatusClientCancelled, projected.Base().TransferData.Status)
	})

	s.Run("cancelling again fails", func() {
		_, err := s.svc.CancelTransfer(s.ctxAs(gainingRegistrar, cancelTime.Add(time.Hour)), domainName)
		s.Require().ErrorIs(err, ErrNotPendingTransfer)
		s.Equal(2301, ResultCode(err))
	})
}

func (s *TransferServiceSuite) TestReject() {
	s.seedDomain(domainName)
	result := s.requestDomainTransfer()
	rejectTime := requestTime.Add(24 * time.Hour)

	s.Run("only the sponsor may reject", func() {
		_, err := s.svc.RejectTransfer(s.ctxAs(gainingRegistrar, rejectTime), domainName)
		s.Require().ErrorIs(err, ErrResourceNotOwned)
	})

	s.Run("sponsor rejects", func() {
		rejected, err := s.svc.RejectTransfer(s.ctxAs(losingRegistrar, rejectTime), domainName)
		s.Require().NoError(err)
		s.Equal(models.TransferStatusClientRejected, rejected.TransferData.Status)
	})

	s.Run("gaining registrar learns its action failed", func() {
		messages, err := s.store.ListPollMessagesByRegistrar(context.Background(), gainingRegistrar)
		s.Require().NoError(err)
		var found *poll.Message
		for _, message := range messages {
			if message.PendingActionResponse != nil {
				found = message
			}
		}
		s.Require().NotNil(found)
		s.False(found.PendingActionResponse.ActionResult)
		s.Equal(result.TransferData.TransferRequestTrid, found.PendingActionResponse.Trid)
		s.Equal(rejectTime, found.PendingActionResponse.ProcessedAt)
	})

	s.Run("losing registrar gets one rejection notice", func() {
		var notices int
		for _, message := range s.visiblePolls(losingRegistrar, rejectTime) {
			if message.TransferResponse != nil && message.TransferResponse.TransferStatus == models.TransferStatusClientRejected {
				notices++
				s.Equal(rejectTime, message.EventTime)
			}
		}
		s.Equal(1, notices)
	})

	s.Run("history offsets the reporting counters", func() {
		entries, err := s.store.ListHistoryByResource(context.Background(), domainName)
		s.Require().NoError(err)
		s.Require().Len(entries, 2)
		reject := entries[1]
		s.Equal(history.TypeDomainTransferReject, reject.Type)
		s.Require().Len(reject.TransactionRecords, 2)
		s.Equal(-1, reject.TransactionRecords[0].Amount)
		s.Equal("TRANSFER_NACKED", reject.TransactionRecords[1].ReportField)
	})
}

func (s *TransferServiceSuite) TestApprove() {
	domain := s.seedDomain(domainName)
	oldRecurringKey := domain.AutorenewBillingEventKey
	s.requestDomainTransfer()
	approveTime := requestTime.Add(24 * time.Hour)

	result, err := s.svc.ApproveTransfer(s.ctxAs(losingRegistrar, approveTime), domainName)
	s.Require().NoError(err)

	s.Run("sponsorship moves at approval time", func() {
		base := result.Resource.Base()
		s.Equal(models.TransferStatusClientApproved, result.TransferData.Status)
		s.Equal(gainingRegistrar, base.CurrentSponsorClientID)
		s.Equal(approveTime, base.LastTransferTime)
		s.Equal(approveTime, result.TransferData.PendingTransferExpirationTime)
	})

	s.Run("expiration extends from the approval-time expiration", func() {
		approved := result.Resource.(*models.Domain)
		s.Equal(expiration.AddDate(1, 0, 0), approved.RegistrationExpirationTime)
		s.Equal(expiration.AddDate(1, 0, 0), result.TransferData.TransferredRegistrationExpirationTime)
	})

	s.Run("transfer bills now, not at the deadline", func() {
		approved := result.Resource.(*models.Domain)
		s.Require().Len(approved.GracePeriods, 1)
		gracePeriod := approved.GracePeriods[0]
		s.Equal(models.GracePeriodTransfer, gracePeriod.Type)
		s.Equal(approveTime.Add(5*24*time.Hour), gracePeriod.ExpirationTime)

		bill, err := s.store.GetBillingEvent(context.Background(), gracePeriod.BillingEventKey)
		s.Require().NoError(err)
		s.Equal(approveTime, bill.EventTime)
		s.Equal(gainingRegistrar, bill.ClientID)
	})

	s.Run("losing autorenew recurrence is closed", func() {
		recurring, err := s.store.GetBillingEvent(context.Background(), oldRecurringKey)
		s.Require().NoError(err)
		s.Equal(approveTime, recurring.RecurrenceEndTime)

		approved := result.Resource.(*models.Domain)
		s.NotEqual(oldRecurringKey, approved.AutorenewBillingEventKey)
		replacement, err := s.store.GetBillingEvent(context.Background(), approved.AutorenewBillingEventKey)
		s.Require().NoError(err)
		s.Equal(gainingRegistrar, replacement.ClientID)
		s.Equal(expiration.AddDate(1, 0, 0), replacement.EventTime)
	})

	s.Run("deadline-dated notifications are withdrawn", func() {
		messages, err := s.store.ListPollMessagesByRegistrar(context.Background(), gainingRegistrar)
		s.Require().NoError(err)
		for _, message := range messages {
			s.False(message.EventTime.Equal(deadline), "deadline poll %s should be deleted", message.Key)
		}
	})

	s.Run("gaining registrar is notified immediately", func() {
		messages, err := s.store.ListPollMessagesByRegistrar(context.Background(), gainingRegistrar)
		s.Require().NoError(err)
		var found *poll.Message
		for _, message := range messages {
			if message.PendingActionResponse != nil {
				found = message
			}
		}
		s.Require().NotNil(found)
		s.Equal(approveTime, found.EventTime)
		s.True(found.PendingActionResponse.ActionResult)
		s.Equal(models.TransferStatusClientApproved, found.TransferResponse.TransferStatus)
	})
}

func (s *TransferServiceSuite) TestResolutionAfterDeadline() {
	s.seedDomain(domainName)
	s.requestDomainTransfer()
	late := deadline.Add(time.Hour)

	for flow, run := range map[string]func(context.Context, id.ResourceID) (*TransferResult, error){
		"cancel":  s.svc.CancelTransfer,
		"reject":  s.svc.RejectTransfer,
		"approve": s.svc.ApproveTransfer,
	} {
		actor := gainingRegistrar
		if flow != "cancel" {
			actor = losingRegistrar
		}
		_, err := run(s.ctxAs(actor, late), domainName)
		s.Require().ErrorIs(err, ErrNotPendingTransfer, "flow %s", flow)
	}
}

func (s *TransferServiceSuite) TestRequestAfterLazyResolution() {
	domain := s.seedDomain(domainName)
	oldRecurringKey := domain.AutorenewBillingEventKey
	s.requestDomainTransfer()

	// Nobody acted; the transfer resolved at the deadline in effective time.
	// A new request from a third registrar commits that resolution and opens
	// its own pending transfer on top of it.
	secondRequest := deadline.AddDate(0, 1, 0)
	result, err := s.svc.RequestTransfer(s.ctxAs(otherRegistrar, secondRequest), domainName, TransferRequestParams{AuthInfo: authInfo})
	s.Require().NoError(err)

	s.Equal(models.TransferStatusPending, result.TransferData.Status)
	s.Equal(otherRegistrar, result.TransferData.GainingClientID)
	s.Equal(gainingRegistrar, result.TransferData.LosingClientID, "first transfer's winner is now the sponsor")
	s.Equal(expiration.AddDate(2, 0, 0), result.TransferData.TransferredRegistrationExpirationTime)

	stored, err := s.store.GetResource(context.Background(), domainName)
	s.Require().NoError(err)
	s.Equal(gainingRegistrar, stored.Base().CurrentSponsorClientID, "lazy resolution was committed")

	recurring, err := s.store.GetBillingEvent(context.Background(), oldRecurringKey)
	s.Require().NoError(err)
	s.Equal(deadline, recurring.RecurrenceEndTime, "original recurrence closed at the first deadline")
}

func (s *TransferServiceSuite) TestContactTransfer() {
	s.seedContact()
	queryTime := time.Date(2000, time.June, 8, 22, 0, 0, 0, time.UTC)

	result, err := s.svc.RequestTransfer(s.ctxAs(gainingRegistrar, requestTime), contactName, TransferRequestParams{AuthInfo: authInfo})
	s.Require().NoError(err)

	s.Run("no billing for contacts", func() {
		s.Len(result.TransferData.ServerApproveEntities, 2)
		s.True(result.TransferData.ServerApproveBillingEvent.IsNil())
		s.True(result.TransferData.TransferredRegistrationExpirationTime.IsZero())
		events, err := s.store.ListBillingEventsByTarget(context.Background(), contactName)
		s.Require().NoError(err)
		s.Empty(events)
	})

	s.Run("second request while pending", func() {
		_, err := s.svc.RequestTransfer(s.ctxAs(otherRegistrar, requestTime), contactName, TransferRequestParams{AuthInfo: authInfo})
		s.Require().ErrorIs(err, ErrAlreadyPendingTransfer)
	})

	s.Run("period is a domain concept", func() {
		years := 1
		_, err := s.svc.RequestTransfer(s.ctxAs(otherRegistrar, deadline.Add(time.Hour)), contactName, TransferRequestParams{AuthInfo: authInfo, PeriodYears: &years})
		s.Require().ErrorIs(err, ErrInvalidTransferPeriodValue)
	})

	s.Run("pending in the middle of the window", func() {
		projected, err := s.svc.ProjectedResource(s.ctxAs(losingRegistrar, queryTime), contactName)
		s.Require().NoError(err)
		s.Equal(models.TransferStatusPending, projected.Base().TransferData.Status)
	})

	s.Run("server approved at the deadline", func() {
		projected, err := s.svc.ProjectedResource(s.ctxAs(losingRegistrar, deadline), contactName)
		s.Require().NoError(err)
		s.Equal(models.TransferStatusServerApproved, projected.Base().TransferData.Status)
		s.Equal(gainingRegistrar, projected.Base().CurrentSponsorClientID)
	})

	s.Run("poll queue counts", func() {
		s.Run("losing registrar sees the request notice immediately", func() {
			losing := s.visiblePolls(losingRegistrar, requestTime)
			s.Require().Len(losing, 1)
			s.Equal(models.TransferStatusPending, losing[0].TransferResponse.TransferStatus)
			s.Empty(s.visiblePolls(gainingRegistrar, requestTime))
		})

		s.Run("both parties see the approval at the deadline", func() {
			losing := s.visiblePolls(losingRegistrar, deadline)
			s.Require().Len(losing, 2)
			s.Equal(models.TransferStatusServerApproved, losing[1].TransferResponse.TransferStatus)

			gaining := s.visiblePolls(gainingRegistrar, deadline)
			s.Require().Len(gaining, 1)
			s.Equal(models.TransferStatusServerApproved, gaining[0].TransferResponse.TransferStatus)
			s.Require().NotNil(gaining[0].PendingActionResponse)
			s.True(gaining[0].PendingActionResponse.ActionResult)
		})
	})
}

func (s *TransferServiceSuite) TestReplayGuard() {
	s.seedDomain(domainName)
	guard := replay.NewInMemory()
	s.svc = NewService(s.store, store.NewShardedTx(s.store), registry.NewPolicies(registry.DefaultPolicy("example")), WithReplayGuard(guard))

	ctx := requestcontext.WithClientTrid(s.ctxAs(gainingRegistrar, requestTime), "ABC-12345")
	_, err := s.svc.RequestTransfer(ctx, domainName, TransferRequestParams{AuthInfo: authInfo})
	s.Require().NoError(err)

	_, err = s.svc.RequestTransfer(ctx, domainName, TransferRequestParams{AuthInfo: authInfo})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	// A different registrar may reuse the same client TRID.
	otherCtx := requestcontext.WithClientTrid(s.ctxAs(otherRegistrar, requestTime), "ABC-12345")
	_, err = s.svc.RequestTransfer(otherCtx, domainName, TransferRequestParams{AuthInfo: authInfo})
	s.Require().ErrorIs(err, ErrAlreadyPendingTransfer, "replay guard passed; pending check fired")
}
