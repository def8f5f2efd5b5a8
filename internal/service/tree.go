package service

import (
	"slices"
	"strings"
	"time"

	"quizthread/internal/models"
)

// BuildTree rebuilds a thread's reply forest from a flat, unordered snapshot.
//
// Deleted comments are kept so their replies stay attached. Comments whose
// parent is missing from the batch, or that sit on a parent cycle, become
// roots. Replies are ordered oldest first and roots newest first, ties broken
// by id. The result does not depend on input order and shares no memory with
// the input.
func BuildTree(comments []models.Comment) []*models.CommentNode {
	records := canonical(comments)

	nodes := make(map[string]*models.CommentNode, len(records))
	for i := range records {
		nodes[records[i].ID] = &models.CommentNode{Comment: records[i], Replies: []*models.CommentNode{}}
	}

	parent := make(map[string]string, len(records))
	for _, c := range records {
		if c.ParentID == nil || *c.ParentID == c.ID {
			continue
		}
		if _, ok := nodes[*c.ParentID]; ok {
			parent[c.ID] = *c.ParentID
		}
	}
	breakCycles(records, parent)

	roots := make([]*models.CommentNode, 0)
	for _, c := range records {
		node := nodes[c.ID]
		if pid, ok := parent[c.ID]; ok {
			p := nodes[pid]
			p.Replies = append(p.Replies, node)
			continue
		}
		roots = append(roots, node)
	}

	// records are already oldest first, so replies are appended in order.
	slices.SortStableFunc(roots, func(a, b *models.CommentNode) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return roots
}

// FlattenReplies turns a forest into two levels: every descendant of a root is
// listed directly under it, oldest first. Nested reply lists are emptied.
func FlattenReplies(roots []*models.CommentNode) []*models.CommentNode {
	out := make([]*models.CommentNode, 0, len(roots))
	for _, root := range roots {
		var descendants []models.Comment
		var walk func(n *models.CommentNode)
		walk = func(n *models.CommentNode) {
			for _, r := range n.Replies {
				descendants = append(descendants, r.Comment.Clone())
				walk(r)
			}
		}
		walk(root)
		slices.SortFunc(descendants, compareChronological)

		flat := &models.CommentNode{Comment: root.Comment.Clone(), Replies: make([]*models.CommentNode, 0, len(descendants))}
		for _, d := range descendants {
			flat.Replies = append(flat.Replies, &models.CommentNode{Comment: d, Replies: []*models.CommentNode{}})
		}
		out = append(out, flat)
	}
	return out
}

// CountNodes returns the number of comments in a forest.
func CountNodes(roots []*models.CommentNode) int {
	n := 0
	for _, r := range roots {
		n += 1 + CountNodes(r.Replies)
	}
	return n
}

// canonical clones and sorts the batch and keeps one record per id: the most
// advanced copy when a feed delivers the same comment twice.
func canonical(comments []models.Comment) []models.Comment {
	records := make([]models.Comment, len(comments))
	for i := range comments {
		records[i] = comments[i].Clone()
	}
	slices.SortFunc(records, func(a, b models.Comment) int {
		if c := strings.Compare(a.ID, b.ID); c != 0 {
			return c
		}
		return compareProgress(a, b)
	})
	// Keep the last, most advanced, record of each id run.
	out := records[:0]
	for i := range records {
		if i+1 < len(records) && records[i+1].ID == records[i].ID {
			continue
		}
		out = append(out, records[i])
	}
	slices.SortFunc(out, compareChronological)
	return out
}

func compareChronological(a, b models.Comment) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// compareProgress orders two copies of one comment by how far along its
// lifecycle each is. Fields that only grow come first; the rest make the
// order total so duplicates resolve the same way for any input order.
func compareProgress(a, b models.Comment) int {
	if a.IsDeleted != b.IsDeleted {
		if a.IsDeleted {
			return 1
		}
		return -1
	}
	if c := compareTimePtr(a.EditedAt, b.EditedAt); c != 0 {
		return c
	}
	if c := a.ReportCount - b.ReportCount; c != 0 {
		return c
	}
	if c := (a.LikeCount + a.DislikeCount) - (b.LikeCount + b.DislikeCount); c != 0 {
		return c
	}
	if c := a.LikeCount - b.LikeCount; c != 0 {
		return c
	}
	if c := strings.Compare(a.Content, b.Content); c != 0 {
		return c
	}
	if c := slices.Compare(a.LikedBy, b.LikedBy); c != 0 {
		return c
	}
	return slices.Compare(a.DislikedBy, b.DislikedBy)
}

func compareTimePtr(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return a.Compare(*b)
}

// breakCycles drops the parent link of the oldest member of every cycle in
// parent, so each former cycle hangs off a single root.
func breakCycles(records []models.Comment, parent map[string]string) {
	const (
		unseen = iota
		onPath
		done
	)
	state := make(map[string]int, len(records))
	rank := make(map[string]int, len(records))
	for i, c := range records {
		rank[c.ID] = i
	}

	for _, start := range records {
		if state[start.ID] != unseen {
			continue
		}
		var path []string
		id := start.ID
		for {
			if state[id] == done {
				break
			}
			if state[id] == onPath {
				cycle := path[slices.Index(path, id):]
				oldest := slices.MinFunc(cycle, func(a, b string) int { return rank[a] - rank[b] })
				delete(parent, oldest)
				break
			}
			state[id] = onPath
			path = append(path, id)
			next, ok := parent[id]
			if !ok {
				break
			}
			id = next
		}
		for _, p := range path {
			state[p] = done
		}
	}
}
