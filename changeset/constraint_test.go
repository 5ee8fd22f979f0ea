package changeset

import (
	"math"
	"testing"

	"github.com/WernerBuchert/ecto"
	"github.com/stretchr/testify/assert"
)

func Test_Changeset_ConstraintDeclarations(t *testing.T) {
	testCases := []struct {
		name          string
		declare       func(Changeset) Changeset
		expectKind    ConstraintKind
		expectName    string
		expectField   string
		expectMessage string
		expectMatch   MatchKind
	}{
		{
			name:          "unique with derived name",
			declare:       func(cs Changeset) Changeset { return cs.UniqueConstraint("name") },
			expectKind:    ConstraintUnique,
			expectName:    "users_name_index",
			expectField:   "name",
			expectMessage: "has already been taken",
			expectMatch:   MatchExact,
		},
		{
			name: "unique with overrides",
			declare: func(cs Changeset) Changeset {
				return cs.UniqueConstraint("name",
					WithConstraintName("users_lower_name_idx"),
					WithConstraintMessage("already registered"),
					WithMatch(MatchPrefix))
			},
			expectKind:    ConstraintUnique,
			expectName:    "users_lower_name_idx",
			expectField:   "name",
			expectMessage: "already registered",
			expectMatch:   MatchPrefix,
		},
		{
			name:          "check is always named explicitly",
			declare:       func(cs Changeset) Changeset { return cs.CheckConstraint("age", "age_must_be_positive") },
			expectKind:    ConstraintCheck,
			expectName:    "age_must_be_positive",
			expectField:   "age",
			expectMessage: "is invalid",
			expectMatch:   MatchExact,
		},
		{
			name:          "foreign key with derived name",
			declare:       func(cs Changeset) Changeset { return cs.ForeignKeyConstraint("id") },
			expectKind:    ConstraintForeignKey,
			expectName:    "users_id_fkey",
			expectField:   "id",
			expectMessage: "does not exist",
			expectMatch:   MatchExact,
		},
		{
			name:          "exclusion with derived name",
			declare:       func(cs Changeset) Changeset { return cs.ExclusionConstraint("name") },
			expectKind:    ConstraintExclusion,
			expectName:    "users_name_exclusion",
			expectField:   "name",
			expectMessage: "violates an exclusion constraint",
			expectMatch:   MatchExact,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			cs := tc.declare(New(userRecord(nil)))

			// declaring is inert: no errors, no database interaction
			assert.True(cs.Valid)
			if !assert.Len(cs.Constraints, 1) {
				return
			}

			c := cs.Constraints[0]
			assert.Equal(tc.expectKind, c.Kind)
			assert.Equal(tc.expectName, c.Name)
			assert.Equal(tc.expectField, c.Field)
			assert.Equal(tc.expectMessage, c.Message)
			assert.Equal(tc.expectMatch, c.Match)
			assert.Equal(string(tc.expectKind), c.Meta["constraint"])
			assert.Equal(tc.expectName, c.Meta["constraint_name"])
		})
	}
}

func Test_Constraint_Matches(t *testing.T) {
	testCases := []struct {
		name     string
		match    MatchKind
		declared string
		reported string
		expect   bool
	}{
		{"exact hit", MatchExact, "users_name_index", "users_name_index", true},
		{"exact miss", MatchExact, "users_name_index", "users_name_index_p0", false},
		{"prefix hit", MatchPrefix, "users_name_index", "users_name_index_p0", true},
		{"prefix miss", MatchPrefix, "users_name_index", "p0_users_name_index", false},
		{"suffix hit", MatchSuffix, "name_index", "users_name_index", true},
		{"suffix miss", MatchSuffix, "name_index", "users_name_index_p0", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			c := Constraint{Name: tc.declared, Match: tc.match}
			assert.Equal(tc.expect, c.Matches(tc.reported))
		})
	}
}

func Test_Changeset_PutFilter(t *testing.T) {
	assert := assert.New(t)

	base := New(userRecord(nil))
	cs := base.PutFilter("age", int64(3))

	assert.Equal(int64(3), cs.Filters["age"])
	assert.Empty(base.Filters)
}

func Test_Changeset_OptimisticLock(t *testing.T) {
	versionTypes := userTypes()

	t.Run("filters on the current version and bumps it on prepare", func(t *testing.T) {
		assert := assert.New(t)

		rec := NewRecord("users", versionTypes).WithFields(Values{"age": int64(3)})
		cs, err := New(rec).OptimisticLock("age")
		if !assert.NoError(err) {
			return
		}

		assert.Equal(int64(3), cs.Filters["age"])
		if !assert.Len(cs.Prepare, 1) {
			return
		}

		prepared := cs.Prepare[0](cs)
		assert.Equal(int64(4), prepared.GetChange("age"))
	})

	t.Run("missing version value means no filter", func(t *testing.T) {
		assert := assert.New(t)

		cs, err := New(userRecord(nil)).OptimisticLock("age")
		assert.NoError(err)
		assert.NotContains(cs.Filters, "age")

		// unset versions start at 1
		prepared := cs.Prepare[0](cs)
		assert.Equal(int64(1), prepared.GetChange("age"))
	})

	t.Run("wraps at the 32-bit boundary", func(t *testing.T) {
		assert := assert.New(t)

		rec := NewRecord("users", versionTypes).WithFields(Values{"age": int64(math.MaxInt32)})
		cs, err := New(rec).OptimisticLock("age")
		assert.NoError(err)

		prepared := cs.Prepare[0](cs)
		assert.Equal(int64(1), prepared.GetChange("age"))
	})

	t.Run("custom increment", func(t *testing.T) {
		assert := assert.New(t)

		rec := NewRecord("users", versionTypes).WithFields(Values{"age": int64(10)})
		cs, err := New(rec).OptimisticLock("age", func(v any) any {
			return v.(int64) + 100
		})
		assert.NoError(err)

		prepared := cs.Prepare[0](cs)
		assert.Equal(int64(110), prepared.GetChange("age"))
	})

	t.Run("unknown field is a contract error", func(t *testing.T) {
		assert := assert.New(t)

		_, err := New(userRecord(nil)).OptimisticLock("lock_version")
		assert.ErrorIs(err, ecto.ErrUnknownField)
	})
}
