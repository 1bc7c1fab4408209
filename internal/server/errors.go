package server

import (
	"errors"

	"github.com/aimerfeng/FinderMeister/internal/admin"
	"github.com/aimerfeng/FinderMeister/internal/auth"
	"github.com/aimerfeng/FinderMeister/internal/contracts"
	apierrors "github.com/aimerfeng/FinderMeister/internal/errors"
	"github.com/aimerfeng/FinderMeister/internal/finds"
	"github.com/aimerfeng/FinderMeister/internal/ledger"
	"github.com/aimerfeng/FinderMeister/internal/messaging"
	"github.com/aimerfeng/FinderMeister/internal/payment"
	"github.com/aimerfeng/FinderMeister/internal/proposals"
	"github.com/aimerfeng/FinderMeister/internal/reviews"
	"github.com/aimerfeng/FinderMeister/internal/strikes"
	"github.com/aimerfeng/FinderMeister/internal/withdrawal"
)

type errorKind int

const (
	kindBadRequest errorKind = iota
	kindInvalidState
	kindForbidden
	kindNotFound
	kindConflict
)

// errorTable maps service sentinels to the response they produce. The
// sentinel's own message is passed through to the client.
var errorTable = []struct {
	err  error
	kind errorKind
}{
	{finds.ErrInvalidBudget, kindBadRequest},
	{finds.ErrFindNotOwned, kindForbidden},
	{finds.ErrFindNotOpen, kindInvalidState},
	{finds.ErrCategoryNotFound, kindNotFound},
	{finds.ErrCategoryExists, kindConflict},
	{finds.ErrCategoryInUse, kindConflict},

	{proposals.ErrInvalidPrice, kindBadRequest},
	{proposals.ErrFindNotOpen, kindInvalidState},
	{proposals.ErrNotFindOwner, kindForbidden},
	{proposals.ErrProposalNotPending, kindInvalidState},
	{proposals.ErrDuplicateProposal, kindConflict},
	{proposals.ErrAlreadyAccepted, kindConflict},

	{contracts.ErrNotParticipant, kindForbidden},
	{contracts.ErrAlreadyReleased, kindConflict},
	{contracts.ErrContractClosed, kindInvalidState},
	{contracts.ErrSubmissionPending, kindConflict},
	{contracts.ErrSubmissionNotFound, kindNotFound},
	{contracts.ErrSubmissionReviewed, kindConflict},
	{contracts.ErrEmptySubmission, kindBadRequest},

	{reviews.ErrInvalidRating, kindBadRequest},
	{reviews.ErrNotContractOwner, kindForbidden},
	{reviews.ErrNotReviewable, kindInvalidState},
	{reviews.ErrAlreadyReviewed, kindConflict},

	{messaging.ErrConversationNotFound, kindNotFound},
	{messaging.ErrNotParticipant, kindForbidden},
	{messaging.ErrInvalidParticipant, kindBadRequest},
	{messaging.ErrEmptyMessage, kindBadRequest},
	{messaging.ErrMessageTooLong, kindBadRequest},

	{strikes.ErrUserNotFound, kindNotFound},
	{strikes.ErrRecentStrikes, kindInvalidState},
	{strikes.ErrTrainingNotFound, kindNotFound},
	{strikes.ErrInvalidTrainingState, kindInvalidState},
	{strikes.ErrStrikeNotFound, kindNotFound},
	{strikes.ErrStrikeNotAppealable, kindInvalidState},
	{strikes.ErrDisputeNotFound, kindNotFound},
	{strikes.ErrDisputeExists, kindConflict},
	{strikes.ErrDisputeClosed, kindConflict},
	{strikes.ErrDisputeTarget, kindBadRequest},

	{admin.ErrUserNotFound, kindNotFound},
	{admin.ErrCannotBanSelf, kindBadRequest},
	{admin.ErrCannotBanAdmin, kindForbidden},
	{admin.ErrReasonRequired, kindBadRequest},
	{admin.ErrPackageNotFound, kindNotFound},
	{admin.ErrInvalidPackage, kindBadRequest},
	{admin.ErrTicketNotFound, kindNotFound},
	{admin.ErrInvalidPriority, kindBadRequest},
	{admin.ErrInvalidStatus, kindBadRequest},

	{payment.ErrPackageNotFound, kindNotFound},
	{payment.ErrPurchaseNotFound, kindNotFound},
	{payment.ErrPurchaseAlreadyDone, kindConflict},
	{payment.ErrInvalidWebhookSig, kindBadRequest},

	{withdrawal.ErrInsufficientBalance, kindBadRequest},
	{withdrawal.ErrBelowMinimumThreshold, kindBadRequest},
	{withdrawal.ErrWithdrawalNotFound, kindNotFound},
	{withdrawal.ErrWithdrawalNotPending, kindInvalidState},
	{withdrawal.ErrWithdrawalNotApproved, kindInvalidState},
	{withdrawal.ErrInvalidWithdrawalMethod, kindBadRequest},
	{withdrawal.ErrDestinationRequired, kindBadRequest},

	{ledger.ErrFinderNotFound, kindNotFound},
	{ledger.ErrInvalidAmount, kindBadRequest},
	{ledger.ErrReasonRequired, kindBadRequest},

	{auth.ErrEmailAlreadyExists, kindBadRequest},
	{auth.ErrInvalidRole, kindBadRequest},
	{auth.ErrWrongPassword, kindBadRequest},
	{auth.ErrSamePassword, kindBadRequest},
}

// toAPIError converts a service error into the response sent to the client.
// Unknown errors become a 500 without leaking their text.
func toAPIError(err error) *apierrors.APIError {
	var apiErr *apierrors.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var banned *auth.BannedError
	if errors.As(err, &banned) {
		return apierrors.ErrAccountBannedError.WithDetails(map[string]string{"reason": banned.Reason})
	}

	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return apierrors.ErrInvalidCredentialsError
	case errors.Is(err, auth.ErrInvalidToken):
		return apierrors.ErrInvalidCredentialsError
	case errors.Is(err, auth.ErrTokenExpired):
		return apierrors.ErrTokenExpiredError
	case errors.Is(err, auth.ErrUserBanned):
		return apierrors.ErrAccountBannedError
	case errors.Is(err, auth.ErrUserNotFound):
		return apierrors.ErrUserNotFoundError
	case errors.Is(err, ledger.ErrInsufficientTokens):
		return apierrors.ErrInsufficientTokensError
	case errors.Is(err, strikes.ErrInvalidOffense):
		return apierrors.ErrInvalidOffenseError
	case errors.Is(err, finds.ErrFindNotFound), errors.Is(err, proposals.ErrFindNotFound):
		return apierrors.ErrFindNotFoundError
	case errors.Is(err, proposals.ErrProposalNotFound):
		return apierrors.ErrProposalNotFoundError
	case errors.Is(err, contracts.ErrContractNotFound), errors.Is(err, reviews.ErrContractNotFound):
		return apierrors.ErrContractNotFoundError
	case errors.Is(err, payment.ErrStripeDisabled):
		return apierrors.ErrUpstreamUnavailableError.WithMessage(err.Error())
	}

	for _, entry := range errorTable {
		if !errors.Is(err, entry.err) {
			continue
		}
		msg := entry.err.Error()
		switch entry.kind {
		case kindBadRequest:
			return apierrors.NewInvalidRequestError(msg)
		case kindInvalidState:
			return apierrors.NewInvalidStateError(msg)
		case kindForbidden:
			return apierrors.NewForbiddenError(msg)
		case kindNotFound:
			return apierrors.NewNotFoundError(msg)
		case kindConflict:
			return apierrors.NewConflictError(msg)
		}
	}

	return apierrors.ErrInternalServerError
}
