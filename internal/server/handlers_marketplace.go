package server

import (
	"net/http"

	"github.com/aimerfeng/FinderMeister/internal/contracts"
	"github.com/aimerfeng/FinderMeister/internal/finds"
	"github.com/aimerfeng/FinderMeister/internal/middleware"
	"github.com/aimerfeng/FinderMeister/internal/monitoring"
	"github.com/aimerfeng/FinderMeister/internal/proposals"
	"github.com/aimerfeng/FinderMeister/internal/reviews"
	"github.com/gin-gonic/gin"
)

// Finds

func (s *APIServer) handleListCategories(c *gin.Context) {
	categories, err := s.findService.ListCategories(c.Request.Context(), true)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

func (s *APIServer) handleListFinderLevels(c *gin.Context) {
	levels, err := s.findService.ListFinderLevels(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"levels": levels})
}

func (s *APIServer) handleCreateFind(c *gin.Context) {
	clientID, ok := currentUser(c)
	if !ok {
		return
	}
	var req finds.CreateFindRequest
	if !bindJSON(c, &req) {
		return
	}

	find, err := s.findService.Create(c.Request.Context(), clientID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	monitoring.RecordFindCreated()
	c.JSON(http.StatusCreated, find)
}

func (s *APIServer) handleMyFinds(c *gin.Context) {
	clientID, ok := currentUser(c)
	if !ok {
		return
	}
	list, err := s.findService.ListForClient(c.Request.Context(), clientID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"finds": list})
}

func (s *APIServer) handleCancelFind(c *gin.Context) {
	clientID, ok := currentUser(c)
	if !ok {
		return
	}
	findID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	find, err := s.findService.Cancel(c.Request.Context(), clientID, findID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, find)
}

func (s *APIServer) handleListOpenFinds(c *gin.Context) {
	page, pageSize := pagination(c)
	resp, err := s.findService.ListOpen(c.Request.Context(), c.Query("category"), page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *APIServer) handleGetFind(c *gin.Context) {
	findID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	find, err := s.findService.Get(c.Request.Context(), findID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, find)
}

// Proposals

func (s *APIServer) handleSubmitProposal(c *gin.Context) {
	finderUserID, ok := currentUser(c)
	if !ok {
		return
	}
	var req proposals.SubmitRequest
	if !bindJSON(c, &req) {
		return
	}

	proposal, err := s.proposalService.Submit(c.Request.Context(), finderUserID, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, proposal)
}

func (s *APIServer) handleFinderProposals(c *gin.Context) {
	finderUserID, ok := currentUser(c)
	if !ok {
		return
	}
	list, err := s.proposalService.ListForFinder(c.Request.Context(), finderUserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"proposals": list})
}

func (s *APIServer) handleClientProposals(c *gin.Context) {
	clientID, ok := currentUser(c)
	if !ok {
		return
	}
	list, err := s.proposalService.ListForClient(c.Request.Context(), clientID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"proposals": list})
}

func (s *APIServer) handleFindProposals(c *gin.Context) {
	clientID, ok := currentUser(c)
	if !ok {
		return
	}
	findID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	list, err := s.proposalService.ListForFind(c.Request.Context(), clientID, findID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"proposals": list})
}

func (s *APIServer) handleAcceptProposal(c *gin.Context) {
	clientID, ok := currentUser(c)
	if !ok {
		return
	}
	proposalID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	result, err := s.proposalService.Accept(c.Request.Context(), clientID, proposalID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *APIServer) handleRejectProposal(c *gin.Context) {
	clientID, ok := currentUser(c)
	if !ok {
		return
	}
	proposalID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	proposal, err := s.proposalService.Reject(c.Request.Context(), clientID, proposalID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, proposal)
}

// Contracts

func (s *APIServer) handleMyContracts(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	list, err := s.contractService.ListMine(c.Request.Context(), userID, middleware.GetRoleFromContext(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contracts": list})
}

func (s *APIServer) handleGetContract(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	contractID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	detail, err := s.contractService.Get(c.Request.Context(), userID, middleware.GetRoleFromContext(c), contractID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (s *APIServer) handleMarkComplete(c *gin.Context) {
	finderUserID, ok := currentUser(c)
	if !ok {
		return
	}
	contractID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	contract, err := s.contractService.MarkComplete(c.Request.Context(), finderUserID, contractID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, contract)
}

func (s *APIServer) handleSubmitWork(c *gin.Context) {
	finderUserID, ok := currentUser(c)
	if !ok {
		return
	}
	contractID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req contracts.SubmitWorkRequest
	if !bindJSON(c, &req) {
		return
	}

	submission, err := s.contractService.Submit(c.Request.Context(), finderUserID, contractID, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, submission)
}

func (s *APIServer) handleReviewSubmission(c *gin.Context) {
	clientID, ok := currentUser(c)
	if !ok {
		return
	}
	submissionID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req contracts.ReviewRequest
	if !bindJSON(c, &req) {
		return
	}

	submission, err := s.contractService.ReviewSubmission(c.Request.Context(), clientID, submissionID, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, submission)
}

func (s *APIServer) handleReleasePayment(c *gin.Context) {
	clientID, ok := currentUser(c)
	if !ok {
		return
	}
	contractID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	contract, err := s.contractService.ReleasePayment(c.Request.Context(), clientID, contractID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, contract)
}

// Reviews

func (s *APIServer) handleCreateReview(c *gin.Context) {
	clientID, ok := currentUser(c)
	if !ok {
		return
	}
	var req reviews.CreateReviewRequest
	if !bindJSON(c, &req) {
		return
	}

	review, err := s.reviewService.Create(c.Request.Context(), clientID, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, review)
}

func (s *APIServer) handleListFinderReviews(c *gin.Context) {
	finderID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	list, err := s.reviewService.ListForFinder(c.Request.Context(), finderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reviews": list})
}
