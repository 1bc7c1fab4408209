package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/aimerfeng/FinderMeister/internal/admin"
	apierrors "github.com/aimerfeng/FinderMeister/internal/errors"
	"github.com/aimerfeng/FinderMeister/internal/finds"
	"github.com/aimerfeng/FinderMeister/internal/logging"
	"github.com/aimerfeng/FinderMeister/internal/models"
	"github.com/aimerfeng/FinderMeister/internal/strikes"
	"github.com/aimerfeng/FinderMeister/internal/withdrawal"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Users

func (s *APIServer) handleAdminListUsers(c *gin.Context) {
	var req admin.ListUsersRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}
	resp, err := s.adminService.ListUsers(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type banRequest struct {
	Reason string `json:"reason" binding:"required,max=500"`
}

func (s *APIServer) handleAdminBan(c *gin.Context) {
	adminID, ok := currentUser(c)
	if !ok {
		return
	}
	userID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req banRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := s.adminService.Ban(c.Request.Context(), adminID, userID, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *APIServer) handleAdminUnban(c *gin.Context) {
	adminID, ok := currentUser(c)
	if !ok {
		return
	}
	userID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	user, err := s.adminService.Unban(c.Request.Context(), adminID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *APIServer) handleAdminVerify(c *gin.Context) {
	userID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	user, err := s.adminService.Verify(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *APIServer) handleAdminUnverify(c *gin.Context) {
	userID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	user, err := s.adminService.Unverify(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// Categories

func (s *APIServer) handleAdminListCategories(c *gin.Context) {
	categories, err := s.findService.ListCategories(c.Request.Context(), false)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

func (s *APIServer) handleAdminCreateCategory(c *gin.Context) {
	var req finds.CategoryRequest
	if !bindJSON(c, &req) {
		return
	}
	category, err := s.findService.CreateCategory(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, category)
}

func (s *APIServer) handleAdminUpdateCategory(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req finds.UpdateCategoryRequest
	if !bindJSON(c, &req) {
		return
	}
	category, err := s.findService.UpdateCategory(c.Request.Context(), id, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, category)
}

func (s *APIServer) handleAdminDeleteCategory(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	if err := s.findService.DeleteCategory(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Token packages, grants and distribution

func (s *APIServer) handleAdminListPackages(c *gin.Context) {
	packages, err := s.adminService.ListPackages(c.Request.Context(), false)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"packages": packages})
}

func (s *APIServer) handleAdminCreatePackage(c *gin.Context) {
	var req admin.PackageRequest
	if !bindJSON(c, &req) {
		return
	}
	pkg, err := s.adminService.CreatePackage(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, pkg)
}

func (s *APIServer) handleAdminUpdatePackage(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req admin.UpdatePackageRequest
	if !bindJSON(c, &req) {
		return
	}
	pkg, err := s.adminService.UpdatePackage(c.Request.Context(), id, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, pkg)
}

func (s *APIServer) handleAdminDeactivatePackage(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	pkg, err := s.adminService.DeactivatePackage(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, pkg)
}

type grantRequest struct {
	FinderID uuid.UUID `json:"finder_id" binding:"required"`
	Amount   int       `json:"amount" binding:"required,min=1"`
	Reason   string    `json:"reason" binding:"required,max=500"`
}

func (s *APIServer) handleAdminGrantTokens(c *gin.Context) {
	adminID, ok := currentUser(c)
	if !ok {
		return
	}
	var req grantRequest
	if !bindJSON(c, &req) {
		return
	}

	grant, err := s.ledgerService.Grant(c.Request.Context(), adminID, req.FinderID, req.Amount, strings.TrimSpace(req.Reason))
	if err != nil {
		respondError(c, err)
		return
	}
	logging.LogSecurityEvent("tokens_granted", adminID.String(), c.ClientIP(), grant.ID.String())
	c.JSON(http.StatusCreated, grant)
}

func (s *APIServer) handleAdminListGrants(c *gin.Context) {
	page, pageSize := pagination(c)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	grants, err := s.ledgerService.ListGrants(c.Request.Context(), pageSize, (page-1)*pageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"grants": grants, "page": page, "page_size": pageSize})
}

func (s *APIServer) handleAdminDistributeMonthly(c *gin.Context) {
	result, err := s.ledgerService.DistributeMonthly(c.Request.Context(), time.Now())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Strikes and disputes

func (s *APIServer) handleAdminIssueStrike(c *gin.Context) {
	adminID, ok := currentUser(c)
	if !ok {
		return
	}
	var req strikes.IssueRequest
	if !bindJSON(c, &req) {
		return
	}
	req.IssuedBy = &adminID

	result, err := s.strikeService.IssueStrikeByOffense(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *APIServer) handleAdminListDisputes(c *gin.Context) {
	list, err := s.strikeService.ListDisputes(c.Request.Context(), models.DisputeStatus(c.Query("status")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"disputes": list})
}

func (s *APIServer) handleAdminResolveDispute(c *gin.Context) {
	adminID, ok := currentUser(c)
	if !ok {
		return
	}
	disputeID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req strikes.ResolveDisputeRequest
	if !bindJSON(c, &req) {
		return
	}

	dispute, err := s.strikeService.ResolveDispute(c.Request.Context(), adminID, disputeID, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dispute)
}

// Maintenance

func (s *APIServer) handleAdminRunMaintenance(c *gin.Context) {
	adminID, _ := currentUser(c)
	logging.LogSecurityEvent("maintenance_triggered", adminID.String(), c.ClientIP(), "")

	result, err := s.scheduler.RunNow(c.Request.Context())
	if err != nil && result == nil {
		respondError(c, err)
		return
	}
	// partial failures still report what ran
	c.JSON(http.StatusOK, result)
}

func (s *APIServer) handleAdminMaintenanceStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.scheduler.GetStatus())
}

// Support tickets

func (s *APIServer) handleAdminListTickets(c *gin.Context) {
	list, err := s.adminService.ListTickets(c.Request.Context(), models.TicketStatus(c.Query("status")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tickets": list})
}

func (s *APIServer) handleAdminUpdateTicket(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req admin.UpdateTicketRequest
	if !bindJSON(c, &req) {
		return
	}
	ticket, err := s.adminService.UpdateTicket(c.Request.Context(), id, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ticket)
}

// Withdrawals

func (s *APIServer) handleAdminListWithdrawals(c *gin.Context) {
	page, pageSize := pagination(c)
	resp, err := s.withdrawalService.ListPending(c.Request.Context(), page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type withdrawalAction func(c *gin.Context, adminID, id uuid.UUID, notes string) (*models.Withdrawal, error)

func (s *APIServer) reviewWithdrawal(c *gin.Context, action withdrawalAction) {
	adminID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req withdrawal.ReviewRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}

	w, err := action(c, adminID, id, strings.TrimSpace(req.Notes))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (s *APIServer) handleAdminApproveWithdrawal(c *gin.Context) {
	s.reviewWithdrawal(c, func(c *gin.Context, adminID, id uuid.UUID, notes string) (*models.Withdrawal, error) {
		return s.withdrawalService.Approve(c.Request.Context(), adminID, id, notes)
	})
}

func (s *APIServer) handleAdminRejectWithdrawal(c *gin.Context) {
	s.reviewWithdrawal(c, func(c *gin.Context, adminID, id uuid.UUID, notes string) (*models.Withdrawal, error) {
		return s.withdrawalService.Reject(c.Request.Context(), adminID, id, notes)
	})
}

func (s *APIServer) handleAdminMarkWithdrawalPaid(c *gin.Context) {
	s.reviewWithdrawal(c, func(c *gin.Context, adminID, id uuid.UUID, notes string) (*models.Withdrawal, error) {
		return s.withdrawalService.MarkPaid(c.Request.Context(), adminID, id, notes)
	})
}
