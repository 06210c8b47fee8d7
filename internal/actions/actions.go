// Package actions is the caller layer in front of the submission pipeline.
// It resolves who is acting, refuses a second in-flight mutation on the
// same repair request, and reads straight from the ledger when a caller
// cannot wait for the projection to catch up.
package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/repairsync/internal/identity"
	"github.com/roach88/repairsync/internal/ledger"
	"github.com/roach88/repairsync/internal/submit"
	"github.com/roach88/repairsync/internal/txerr"
)

// Submitter sends a mutating call and waits for it to be confirmed.
type Submitter interface {
	Submit(ctx context.Context, call submit.Call) (*submit.Result, error)
}

// Reader reads the canonical record from the ledger.
type Reader interface {
	GetRequest(ctx context.Context, id uint64) (ledger.RepairRequest, error)
}

// Service runs repair request actions on behalf of the current caller.
type Service struct {
	callers   identity.Source
	submitter Submitter
	tracker   *submit.Tracker
	reader    Reader
	logger    *slog.Logger
}

// New creates a Service. A nil logger uses slog.Default().
func New(callers identity.Source, submitter Submitter, tracker *submit.Tracker, reader Reader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{callers: callers, submitter: submitter, tracker: tracker, reader: reader, logger: logger}
}

// Create opens a new repair request and returns its id.
func (s *Service) Create(ctx context.Context, propertyID, descriptionHash string, landlord ledger.Address) (uint64, *submit.Result, error) {
	res, err := s.submit(ctx, ledger.Invocation{
		Method:          ledger.MethodCreate,
		PropertyID:      propertyID,
		DescriptionHash: descriptionHash,
		Landlord:        landlord,
	}, "")
	if err != nil {
		return 0, nil, err
	}
	for _, e := range res.Events {
		if e.Type == ledger.EventCreated {
			return e.RequestID, res, nil
		}
	}
	return 0, res, fmt.Errorf("create: transaction %s emitted no creation event", res.TxHash)
}

// UpdateDescription replaces the description hash. Initiator only.
func (s *Service) UpdateDescription(ctx context.Context, id uint64, hash string) (*submit.Result, error) {
	return s.submit(ctx, ledger.Invocation{Method: ledger.MethodUpdateDescription, RequestID: id, Hash: hash}, hash)
}

// UpdateWorkDetails replaces the work details hash. Landlord only.
func (s *Service) UpdateWorkDetails(ctx context.Context, id uint64, hash string) (*submit.Result, error) {
	return s.submit(ctx, ledger.Invocation{Method: ledger.MethodUpdateWorkDetails, RequestID: id, Hash: hash}, hash)
}

// UpdateStatus moves the request forward. Landlord only.
func (s *Service) UpdateStatus(ctx context.Context, id uint64, to ledger.Status) (*submit.Result, error) {
	return s.submit(ctx, ledger.Invocation{Method: ledger.MethodUpdateStatus, RequestID: id, Status: to}, to.String())
}

// Withdraw cancels a pending request. Initiator only.
func (s *Service) Withdraw(ctx context.Context, id uint64) (*submit.Result, error) {
	return s.submit(ctx, ledger.Invocation{Method: ledger.MethodWithdraw, RequestID: id}, ledger.StatusCancelled.String())
}

// ApproveWork accepts or refuses completed work. Initiator only.
func (s *Service) ApproveWork(ctx context.Context, id uint64, accepted bool) (*submit.Result, error) {
	to := ledger.StatusRefused
	if accepted {
		to = ledger.StatusAccepted
	}
	return s.submit(ctx, ledger.Invocation{Method: ledger.MethodApproveWork, RequestID: id, Accepted: accepted}, to.String())
}

// Pause stops every mutating entry point. Admin only.
func (s *Service) Pause(ctx context.Context) (*submit.Result, error) {
	return s.submit(ctx, ledger.Invocation{Method: ledger.MethodPause}, "")
}

// Unpause resumes mutating entry points. Admin only.
func (s *Service) Unpause(ctx context.Context) (*submit.Result, error) {
	return s.submit(ctx, ledger.Invocation{Method: ledger.MethodUnpause}, "")
}

// GrantRole adds account to role. Admin only.
func (s *Service) GrantRole(ctx context.Context, role ledger.Role, account ledger.Address) (*submit.Result, error) {
	return s.submit(ctx, ledger.Invocation{Method: ledger.MethodGrantRole, Role: role, Account: account}, "")
}

// RevokeRole removes account from role. Admin only.
func (s *Service) RevokeRole(ctx context.Context, role ledger.Role, account ledger.Address) (*submit.Result, error) {
	return s.submit(ctx, ledger.Invocation{Method: ledger.MethodRevokeRole, Role: role, Account: account}, "")
}

// Upgrade swaps the contract implementation. Admin only.
func (s *Service) Upgrade(ctx context.Context, implementation string) (*submit.Result, error) {
	return s.submit(ctx, ledger.Invocation{Method: ledger.MethodUpgrade, Implementation: implementation}, "")
}

// Read returns the canonical record straight from the ledger, bypassing the
// projection.
func (s *Service) Read(ctx context.Context, id uint64) (ledger.RepairRequest, error) {
	r, err := s.reader.GetRequest(ctx, id)
	if err != nil {
		return ledger.RepairRequest{}, txerr.Classify("read", err)
	}
	return r, nil
}

// tracked reports whether calls of method are tracked per request.
func tracked(method ledger.Method) bool {
	switch method {
	case ledger.MethodUpdateDescription, ledger.MethodUpdateWorkDetails,
		ledger.MethodUpdateStatus, ledger.MethodWithdraw, ledger.MethodApproveWork:
		return true
	}
	return false
}

func (s *Service) submit(ctx context.Context, inv ledger.Invocation, expected string) (*submit.Result, error) {
	caller, err := s.callers.Caller(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", inv.Method, err)
	}
	logger := s.logger.With("method", inv.Method, "request_id", inv.RequestID, "caller", caller.Address.Short())

	var action submit.PendingAction
	if tracked(inv.Method) && s.tracker != nil {
		action, err = s.tracker.Begin(inv.RequestID, inv.Method, expected)
		if err != nil {
			logger.Info("rejected duplicate submission", "error", err)
			return nil, err
		}
		defer s.tracker.Resolve(action.ID)
	}

	logger.Debug("submitting", "call", inv.String())
	res, err := s.submitter.Submit(ctx, submit.Call{From: caller.Address, Data: inv})
	if err != nil {
		return nil, err
	}
	if action.ID != "" {
		s.tracker.Attach(action.ID, res.TxHash)
	}
	return res, nil
}

// IsInFlight reports whether err is a rejected duplicate submission.
func IsInFlight(err error) bool {
	return errors.Is(err, submit.ErrActionInFlight)
}
