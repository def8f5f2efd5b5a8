// Package seed creates demo conversations through the comment service. These
// helpers are intended for development and testing only.
package seed

import (
	"context"
	"fmt"
	"unicode/utf8"

	"quizthread/internal/identity"
	"quizthread/internal/service"

	"github.com/brianvoe/gofakeit/v6"
)

// Options shape a generated conversation.
type Options struct {
	Roots      int
	MaxReplies int
	Voters     int
	// ReportChance is the percentage of comments that get one report.
	ReportChance int
	// Seed makes runs repeatable; 0 picks a random seed.
	Seed int64
}

// Result counts what a seeding run wrote.
type Result struct {
	Comments int `json:"comments"`
	Votes    int `json:"votes"`
	Reports  int `json:"reports"`
}

// Seeder writes generated conversations. Every write goes through the
// service so seeded data obeys the same rules as user data.
type Seeder struct {
	comments *service.CommentService
	faker    *gofakeit.Faker
	guests   *identity.GuestGenerator
	opts     Options
}

// NewSeeder creates a Seeder, filling zero options with small defaults.
func NewSeeder(comments *service.CommentService, opts Options) *Seeder {
	if opts.Roots <= 0 {
		opts.Roots = 5
	}
	if opts.MaxReplies < 0 {
		opts.MaxReplies = 0
	}
	if opts.Voters <= 0 {
		opts.Voters = 4
	}
	return &Seeder{
		comments: comments,
		faker:    gofakeit.New(opts.Seed),
		guests:   identity.NewGuestGenerator(opts.Seed),
		opts:     opts,
	}
}

// Conversation seeds threadKey with root comments, nested replies, votes and reports.
func (s *Seeder) Conversation(ctx context.Context, threadKey string) (Result, error) {
	var res Result
	users := make([]identity.Identity, s.opts.Voters)
	for i := range users {
		users[i] = identity.Authenticated(fmt.Sprintf("seed_user_%d", i+1), s.faker.FirstName())
	}

	var created []string
	for r := 0; r < s.opts.Roots; r++ {
		rootID, err := s.comments.Create(ctx, service.CreateCommentInput{
			ThreadKey: threadKey,
			Content:   s.content(),
			Author:    s.author(users),
		})
		if err != nil {
			return res, fmt.Errorf("seed root comment: %w", err)
		}
		res.Comments++
		branch := []string{rootID}

		for n := s.faker.IntRange(0, s.opts.MaxReplies); n > 0; n-- {
			parentID := branch[s.faker.IntRange(0, len(branch)-1)]
			replyID, err := s.comments.Create(ctx, service.CreateCommentInput{
				ThreadKey: threadKey,
				Content:   s.content(),
				Author:    s.author(users),
				ParentID:  parentID,
			})
			if err != nil {
				return res, fmt.Errorf("seed reply: %w", err)
			}
			res.Comments++
			branch = append(branch, replyID)
		}
		created = append(created, branch...)
	}

	for _, id := range created {
		for _, voter := range users {
			var kind service.VoteKind
			switch s.faker.IntRange(0, 2) {
			case 0:
				continue
			case 1:
				kind = service.VoteLike
			default:
				kind = service.VoteDislike
			}
			if err := s.comments.Vote(ctx, id, voter, kind); err != nil {
				return res, fmt.Errorf("seed vote: %w", err)
			}
			res.Votes++
		}
		if s.opts.ReportChance > 0 && s.faker.IntRange(1, 100) <= s.opts.ReportChance {
			reporter := users[s.faker.IntRange(0, len(users)-1)]
			if err := s.comments.Report(ctx, id, reporter, s.faker.Sentence(4)); err != nil {
				return res, fmt.Errorf("seed report: %w", err)
			}
			res.Reports++
		}
	}
	return res, nil
}

// author picks a seeded user most of the time and a guest otherwise.
func (s *Seeder) author(users []identity.Identity) identity.Identity {
	if s.faker.IntRange(1, 4) == 1 {
		return s.guests.Guest()
	}
	return users[s.faker.IntRange(0, len(users)-1)]
}

func (s *Seeder) content() string {
	text := s.faker.Sentence(s.faker.IntRange(4, 24))
	if utf8.RuneCountInString(text) > service.MaxContentLength {
		text = string([]rune(text)[:service.MaxContentLength])
	}
	return text
}
