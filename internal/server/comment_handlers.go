package server

import (
	"quizthread/internal/middleware"
	"quizthread/internal/models"
	"quizthread/internal/service"

	"github.com/gofiber/fiber/v2"
)

type threadResponse struct {
	ThreadKey string                `json:"threadKey"`
	Comments  []*models.CommentNode `json:"comments"`
	Count     int                   `json:"count"`
}

type createCommentRequest struct {
	Content  string `json:"content"`
	ParentID string `json:"parentId"`
}

type editCommentRequest struct {
	Content string `json:"content"`
}

type voteRequest struct {
	Kind string `json:"kind"`
}

type reportRequest struct {
	Reason string `json:"reason"`
}

// GetThread returns a thread as a reply tree (public)
func (s *Server) GetThread(c *fiber.Ctx) error {
	threadKey := c.Params("threadKey")
	roots, err := s.comments.Thread(c.UserContext(), threadKey)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(threadResponse{
		ThreadKey: threadKey,
		Comments:  roots,
		Count:     service.CountNodes(roots),
	})
}

// GetComment returns one comment (public)
func (s *Server) GetComment(c *fiber.Ctx) error {
	return s.respondWithComment(c, fiber.StatusOK, c.Params("id"))
}

// CreateComment posts a comment or reply; guests may post
func (s *Server) CreateComment(c *fiber.Ctx) error {
	var req createCommentRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, models.NewValidationError("Invalid request body"))
	}

	id, err := s.comments.Create(c.UserContext(), service.CreateCommentInput{
		ThreadKey: c.Params("threadKey"),
		Content:   req.Content,
		Author:    middleware.IdentityFrom(c),
		ParentID:  req.ParentID,
	})
	if err != nil {
		return respondError(c, err)
	}
	return s.respondWithComment(c, fiber.StatusCreated, id)
}

// EditComment replaces the content of the caller's own comment
func (s *Server) EditComment(c *fiber.Ctx) error {
	var req editCommentRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, models.NewValidationError("Invalid request body"))
	}

	id := c.Params("id")
	if err := s.comments.Edit(c.UserContext(), id, req.Content, middleware.IdentityFrom(c)); err != nil {
		return respondError(c, err)
	}
	return s.respondWithComment(c, fiber.StatusOK, id)
}

// DeleteComment soft-deletes the caller's own comment
func (s *Server) DeleteComment(c *fiber.Ctx) error {
	if err := s.comments.SoftDelete(c.UserContext(), c.Params("id"), middleware.IdentityFrom(c)); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Vote sets the caller's reaction to like or dislike
func (s *Server) Vote(c *fiber.Ctx) error {
	var req voteRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, models.NewValidationError("Invalid request body"))
	}
	kind, err := service.ParseVoteKind(req.Kind)
	if err != nil {
		// Pass it through so guests get a permission error before a validation error.
		kind = service.VoteKind(req.Kind)
	}

	id := c.Params("id")
	if err := s.comments.Vote(c.UserContext(), id, middleware.IdentityFrom(c), kind); err != nil {
		return respondError(c, err)
	}
	return s.respondWithComment(c, fiber.StatusOK, id)
}

// RemoveVote clears the caller's reaction
func (s *Server) RemoveVote(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := s.comments.RemoveVote(c.UserContext(), id, middleware.IdentityFrom(c)); err != nil {
		return respondError(c, err)
	}
	return s.respondWithComment(c, fiber.StatusOK, id)
}

// ReportComment flags a comment for moderation. The body is optional.
func (s *Server) ReportComment(c *fiber.Ctx) error {
	var req reportRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return respondError(c, models.NewValidationError("Invalid request body"))
		}
	}

	if err := s.comments.Report(c.UserContext(), c.Params("id"), middleware.IdentityFrom(c), req.Reason); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) respondWithComment(c *fiber.Ctx, status int, id string) error {
	comment, err := s.comments.Comment(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(status).JSON(comment)
}

func respondError(c *fiber.Ctx, err error) error {
	return models.RespondWithError(c, models.StatusFor(err), err)
}
