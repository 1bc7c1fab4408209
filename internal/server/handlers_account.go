package server

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/aimerfeng/FinderMeister/internal/admin"
	apierrors "github.com/aimerfeng/FinderMeister/internal/errors"
	"github.com/aimerfeng/FinderMeister/internal/messaging"
	"github.com/aimerfeng/FinderMeister/internal/middleware"
	"github.com/aimerfeng/FinderMeister/internal/models"
	"github.com/aimerfeng/FinderMeister/internal/payment"
	"github.com/aimerfeng/FinderMeister/internal/strikes"
	"github.com/aimerfeng/FinderMeister/internal/withdrawal"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// maxWebhookBody bounds the Stripe payload we are willing to read
const maxWebhookBody = 65536

// Strikes, restrictions and appeals

func (s *APIServer) handleListOffenses(c *gin.Context) {
	role := models.Role(c.Param("role"))
	if role != models.RoleClient && role != models.RoleFinder {
		respondError(c, apierrors.NewInvalidRequestError("role must be client or finder"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"role": role, "offenses": strikes.OffensesForRole(role)})
}

func (s *APIServer) handleUserStrikes(c *gin.Context) {
	target, ok := uuidParam(c, "userId")
	if !ok || !selfOrAdmin(c, target) {
		return
	}
	list, err := s.strikeService.GetUserStrikes(c.Request.Context(), target)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"strikes": list})
}

func (s *APIServer) handleUserRestrictions(c *gin.Context) {
	target, ok := uuidParam(c, "userId")
	if !ok || !selfOrAdmin(c, target) {
		return
	}
	restrictions, err := s.strikeService.GetUserRestrictions(c.Request.Context(), target)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, restrictions)
}

func (s *APIServer) handleUserBadges(c *gin.Context) {
	target, ok := uuidParam(c, "userId")
	if !ok {
		return
	}
	badges, err := s.strikeService.ListBadges(c.Request.Context(), target)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"badges": badges})
}

type awardBadgeRequest struct {
	BadgeType string `json:"badge_type" binding:"required,max=50"`
}

func (s *APIServer) handleAwardBadge(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req awardBadgeRequest
	if !bindJSON(c, &req) {
		return
	}

	badge, err := s.strikeService.AwardTrustedBadge(c.Request.Context(), userID, req.BadgeType)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, badge)
}

func (s *APIServer) handleListTrainings(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	list, err := s.strikeService.ListTrainings(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trainings": list})
}

func (s *APIServer) handleStartTraining(c *gin.Context) {
	s.moveTraining(c, s.strikeService.StartTraining)
}

func (s *APIServer) handleCompleteTraining(c *gin.Context) {
	s.moveTraining(c, s.strikeService.CompleteTraining)
}

func (s *APIServer) moveTraining(c *gin.Context, move func(ctx context.Context, userID, trainingID uuid.UUID) (*models.BehavioralTraining, error)) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	trainingID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	training, err := move(c.Request.Context(), userID, trainingID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, training)
}

func (s *APIServer) handleFileDispute(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req strikes.FileDisputeRequest
	if !bindJSON(c, &req) {
		return
	}

	dispute, err := s.strikeService.FileDispute(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dispute)
}

func (s *APIServer) handleMyDisputes(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	list, err := s.strikeService.ListMyDisputes(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"disputes": list})
}

// Messaging

func (s *APIServer) handleStartConversation(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req messaging.StartConversationRequest
	if !bindJSON(c, &req) {
		return
	}

	conv, err := s.messagingService.StartConversation(c.Request.Context(), userID, middleware.GetRoleFromContext(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (s *APIServer) handleListConversations(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	list, err := s.messagingService.ListConversations(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": list})
}

func (s *APIServer) handleListMessages(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	conversationID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	list, err := s.messagingService.ListMessages(c.Request.Context(), userID, conversationID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": list})
}

func (s *APIServer) handleSendMessage(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	conversationID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req messaging.SendMessageRequest
	if !bindJSON(c, &req) {
		return
	}

	msg, err := s.messagingService.SendMessage(c.Request.Context(), userID, conversationID, req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// Support

func (s *APIServer) handleCreateTicket(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req admin.CreateTicketRequest
	if !bindJSON(c, &req) {
		return
	}

	ticket, err := s.adminService.CreateTicket(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ticket)
}

func (s *APIServer) handleMyTickets(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	list, err := s.adminService.ListMyTickets(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tickets": list})
}

// Findertokens and payments

func (s *APIServer) handleTokenBalance(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	finderID, err := s.ledgerService.FinderIDForUser(ctx, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	balance, err := s.ledgerService.Balance(ctx, finderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"finder_id":     finderID,
		"token_balance": balance,
		"proposal_cost": s.config.Tokens.ProposalCost,
	})
}

func (s *APIServer) handleTokenTransactions(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	finderID, err := s.ledgerService.FinderIDForUser(ctx, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	page, pageSize := pagination(c)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	txs, total, err := s.ledgerService.History(ctx, finderID, pageSize, (page-1)*pageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"transactions": txs,
		"total":        total,
		"page":         page,
		"page_size":    pageSize,
	})
}

func (s *APIServer) handleListTokenPackages(c *gin.Context) {
	packages, err := s.adminService.ListPackages(c.Request.Context(), true)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"packages": packages})
}

func (s *APIServer) handleCheckout(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req payment.CheckoutRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := s.paymentService.CreateCheckout(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (s *APIServer) handleListPurchases(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	list, err := s.paymentService.ListPurchases(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"purchases": list})
}

func (s *APIServer) handleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		respondError(c, apierrors.NewInvalidRequestError("Failed to read body"))
		return
	}

	err = s.paymentService.HandleStripeWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, payment.ErrInvalidWebhookSig) {
			log.Warn().Str("client_ip", c.ClientIP()).Msg("Rejected Stripe webhook with bad signature")
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// Earnings and withdrawals

func (s *APIServer) handleEarnings(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	info, err := s.withdrawalService.GetEarningsInfo(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *APIServer) handleRequestWithdrawal(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req withdrawal.CreateWithdrawalRequest
	if !bindJSON(c, &req) {
		return
	}

	w, err := s.withdrawalService.Request(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, w)
}

func (s *APIServer) handleWithdrawalHistory(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	page, pageSize := pagination(c)
	resp, err := s.withdrawalService.History(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
