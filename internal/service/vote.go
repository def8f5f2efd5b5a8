package service

import (
	"fmt"
	"strings"

	"quizthread/internal/models"
	"quizthread/internal/transport"
)

// VoteKind is the reaction a voter applies.
type VoteKind string

const (
	VoteLike    VoteKind = "like"
	VoteDislike VoteKind = "dislike"
)

// ParseVoteKind accepts "like" or "dislike", case-insensitively.
func ParseVoteKind(s string) (VoteKind, error) {
	switch VoteKind(strings.ToLower(strings.TrimSpace(s))) {
	case VoteLike:
		return VoteLike, nil
	case VoteDislike:
		return VoteDislike, nil
	default:
		return "", models.NewValidationError(fmt.Sprintf("unknown vote kind %q", s))
	}
}

// VoteState is a voter's reaction on one comment.
type VoteState int

const (
	VoteNone VoteState = iota
	VoteLiked
	VoteDisliked
)

func (s VoteState) String() string {
	switch s {
	case VoteLiked:
		return "liked"
	case VoteDisliked:
		return "disliked"
	default:
		return "none"
	}
}

// VoteStateOf reads voterID's state from a comment snapshot.
func VoteStateOf(c *models.Comment, voterID string) VoteState {
	switch {
	case c.HasLiked(voterID):
		return VoteLiked
	case c.HasDisliked(voterID):
		return VoteDisliked
	default:
		return VoteNone
	}
}

// pin returns guards that hold only while voterID is still in state s and the
// comment is not deleted.
func pin(s VoteState, voterID string) []transport.Guard {
	guards := []transport.Guard{transport.Equals(models.FieldIsDeleted, false)}
	switch s {
	case VoteLiked:
		guards = append(guards,
			transport.Contains(models.FieldLikedBy, voterID),
			transport.NotContains(models.FieldDislikedBy, voterID))
	case VoteDisliked:
		guards = append(guards,
			transport.NotContains(models.FieldLikedBy, voterID),
			transport.Contains(models.FieldDislikedBy, voterID))
	default:
		guards = append(guards,
			transport.NotContains(models.FieldLikedBy, voterID),
			transport.NotContains(models.FieldDislikedBy, voterID))
	}
	return guards
}

func enter(kind VoteKind, voterID string) []transport.Op {
	if kind == VoteLike {
		return []transport.Op{transport.AddToSet(models.FieldLikedBy, voterID), transport.Inc(models.FieldLikes, 1)}
	}
	return []transport.Op{transport.AddToSet(models.FieldDislikedBy, voterID), transport.Inc(models.FieldDislikes, 1)}
}

func leave(s VoteState, voterID string) []transport.Op {
	switch s {
	case VoteLiked:
		return []transport.Op{transport.RemoveFromSet(models.FieldLikedBy, voterID), transport.Inc(models.FieldLikes, -1)}
	case VoteDisliked:
		return []transport.Op{transport.RemoveFromSet(models.FieldDislikedBy, voterID), transport.Inc(models.FieldDislikes, -1)}
	default:
		return nil
	}
}

// PlanVote returns the single atomic mutation moving voterID to kind, and the
// state it leads to. An empty mutation means the voter already holds kind.
func PlanVote(c *models.Comment, voterID string, kind VoteKind) (transport.Mutation, VoteState) {
	current := VoteStateOf(c, voterID)
	target := VoteLiked
	if kind == VoteDislike {
		target = VoteDisliked
	}
	if current == target {
		return transport.Mutation{}, current
	}
	ops := append(leave(current, voterID), enter(kind, voterID)...)
	return transport.Mutation{Guards: pin(current, voterID), Ops: ops}, target
}

// PlanRemoveVote returns the mutation clearing voterID's reaction. An empty
// mutation means there was nothing to remove.
func PlanRemoveVote(c *models.Comment, voterID string) transport.Mutation {
	current := VoteStateOf(c, voterID)
	if current == VoteNone {
		return transport.Mutation{}
	}
	return transport.Mutation{Guards: pin(current, voterID), Ops: leave(current, voterID)}
}
