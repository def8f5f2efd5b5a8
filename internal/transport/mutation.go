package transport

import (
	"fmt"
	"slices"
	"time"

	"quizthread/internal/models"
)

// OpKind enumerates the atomic operations a mutation can carry.
type OpKind int

const (
	OpSet OpKind = iota
	OpIncrement
	OpSetAdd
	OpSetRemove
)

func (k OpKind) String() string {
	switch k {
	case OpSet:
		return "set"
	case OpIncrement:
		return "increment"
	case OpSetAdd:
		return "set-add"
	case OpSetRemove:
		return "set-remove"
	default:
		return fmt.Sprintf("op(%d)", int(k))
	}
}

// Op is one atomic field operation.
type Op struct {
	Kind   OpKind
	Field  string
	Value  any
	Delta  int
	Member string
}

// GuardKind enumerates precondition checks.
type GuardKind int

const (
	GuardEquals GuardKind = iota
	GuardContains
	GuardNotContains
)

// Guard is a precondition evaluated atomically with the mutation's ops.
type Guard struct {
	Kind   GuardKind
	Field  string
	Value  any
	Member string
}

// Mutation is a set of guards and ops applied as a single atomic update.
// Ops are applied in order.
type Mutation struct {
	Guards []Guard
	Ops    []Op
}

// IsEmpty reports whether the mutation would write nothing.
func (m Mutation) IsEmpty() bool {
	return len(m.Ops) == 0
}

func Set(field string, value any) Op { return Op{Kind: OpSet, Field: field, Value: value} }

func Inc(field string, delta int) Op { return Op{Kind: OpIncrement, Field: field, Delta: delta} }

func AddToSet(field, member string) Op { return Op{Kind: OpSetAdd, Field: field, Member: member} }

func RemoveFromSet(field, member string) Op {
	return Op{Kind: OpSetRemove, Field: field, Member: member}
}

func Equals(field string, value any) Guard { return Guard{Kind: GuardEquals, Field: field, Value: value} }

func Contains(field, member string) Guard {
	return Guard{Kind: GuardContains, Field: field, Member: member}
}

func NotContains(field, member string) Guard {
	return Guard{Kind: GuardNotContains, Field: field, Member: member}
}

// Apply evaluates m against c and applies it in place. c is left untouched when
// a guard fails or an op is invalid. In-process transports use it directly.
func Apply(c *models.Comment, m Mutation) error {
	for _, g := range m.Guards {
		ok, err := holds(c, g)
		if err != nil {
			return err
		}
		if !ok {
			return ErrPreconditionFailed
		}
	}

	next := c.Clone()
	for _, op := range m.Ops {
		if err := applyOp(&next, op); err != nil {
			return err
		}
	}
	*c = next
	return nil
}

func holds(c *models.Comment, g Guard) (bool, error) {
	switch g.Kind {
	case GuardEquals:
		current, err := scalar(c, g.Field)
		if err != nil {
			return false, err
		}
		return current == g.Value, nil
	case GuardContains, GuardNotContains:
		set, err := setField(c, g.Field)
		if err != nil {
			return false, err
		}
		in := slices.Contains(*set, g.Member)
		return in == (g.Kind == GuardContains), nil
	default:
		return false, fmt.Errorf("guard kind %d: %w", g.Kind, ErrUnsupportedField)
	}
}

func applyOp(c *models.Comment, op Op) error {
	switch op.Kind {
	case OpSet:
		return setScalar(c, op.Field, op.Value)
	case OpIncrement:
		counter, err := counterField(c, op.Field)
		if err != nil {
			return err
		}
		*counter += op.Delta
		return nil
	case OpSetAdd:
		set, err := setField(c, op.Field)
		if err != nil {
			return err
		}
		if !slices.Contains(*set, op.Member) {
			*set = append(*set, op.Member)
			slices.Sort(*set)
		}
		return nil
	case OpSetRemove:
		set, err := setField(c, op.Field)
		if err != nil {
			return err
		}
		*set = slices.DeleteFunc(*set, func(v string) bool { return v == op.Member })
		return nil
	default:
		return fmt.Errorf("op %s: %w", op.Kind, ErrUnsupportedField)
	}
}

func scalar(c *models.Comment, field string) (any, error) {
	switch field {
	case models.FieldIsDeleted:
		return c.IsDeleted, nil
	case models.FieldIsReported:
		return c.IsReported, nil
	case models.FieldContent:
		return c.Content, nil
	case models.FieldReportCount:
		return c.ReportCount, nil
	case models.FieldLikes:
		return c.LikeCount, nil
	case models.FieldDislikes:
		return c.DislikeCount, nil
	default:
		return nil, fmt.Errorf("%s: %w", field, ErrUnsupportedField)
	}
}

func setScalar(c *models.Comment, field string, value any) error {
	var ok bool
	switch field {
	case models.FieldContent:
		c.Content, ok = value.(string)
	case models.FieldIsDeleted:
		c.IsDeleted, ok = value.(bool)
	case models.FieldIsReported:
		c.IsReported, ok = value.(bool)
	case models.FieldUpdatedAt:
		var t time.Time
		t, ok = value.(time.Time)
		c.EditedAt = &t
	default:
		return fmt.Errorf("%s: %w", field, ErrUnsupportedField)
	}
	if !ok {
		return fmt.Errorf("%s: value of type %T: %w", field, value, ErrUnsupportedField)
	}
	return nil
}

func counterField(c *models.Comment, field string) (*int, error) {
	switch field {
	case models.FieldLikes:
		return &c.LikeCount, nil
	case models.FieldDislikes:
		return &c.DislikeCount, nil
	case models.FieldReportCount:
		return &c.ReportCount, nil
	default:
		return nil, fmt.Errorf("%s: %w", field, ErrUnsupportedField)
	}
}

func setField(c *models.Comment, field string) (*[]string, error) {
	switch field {
	case models.FieldLikedBy:
		return &c.LikedBy, nil
	case models.FieldDislikedBy:
		return &c.DislikedBy, nil
	default:
		return nil, fmt.Errorf("%s: %w", field, ErrUnsupportedField)
	}
}
