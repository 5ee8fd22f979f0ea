package sqlite

import (
	"context"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/WernerBuchert/ecto"
	"github.com/WernerBuchert/ecto/changeset"
	"github.com/WernerBuchert/ecto/schema"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("could not open mock database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return NewFromDB(db, nil), mock
}

func userTypes() map[string]*schema.Type {
	return map[string]*schema.Type{
		"id":   schema.IntegerType(),
		"name": schema.StringType(),
		"age":  schema.IntegerType(),
	}
}

func userRecord(fields changeset.Values) changeset.Record {
	rec := changeset.NewRecord("users", userTypes())
	if fields != nil {
		rec = rec.WithFields(fields)
	}
	return rec
}

func castUser(t *testing.T, rec changeset.Record, params changeset.Params) changeset.Changeset {
	t.Helper()

	cs, err := changeset.Cast(rec, params, []string{"name", "age"})
	if err != nil {
		t.Fatalf("cast: %v", err)
	}
	return cs
}

func Test_Store_Insert(t *testing.T) {
	assert := assert.New(t)
	s, mock := newMockStore(t)

	cs := castUser(t, userRecord(nil), changeset.Params{"name": "callum", "age": "27"})

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO users (age, name) VALUES (?, ?);`)).
		WithArgs(int64(27), "callum").
		WillReturnResult(sqlmock.NewResult(8, 1))
	mock.ExpectCommit()

	out, err := s.Insert(context.Background(), cs)
	if !assert.NoError(err) {
		return
	}

	assert.True(out.Data.Persisted)
	assert.Equal(int64(8), out.Data.Get("id"))
	assert.Equal("callum", out.Data.Get("name"))
	assert.Equal(int64(27), out.Data.Get("age"))
	assert.NoError(mock.ExpectationsWereMet())
}

func Test_Store_Insert_GeneratesUUIDKey(t *testing.T) {
	assert := assert.New(t)
	s, mock := newMockStore(t)

	types := map[string]*schema.Type{
		"id":      schema.UUIDType(),
		"name":    schema.StringType(),
		"created": schema.UTCDateTimeType(),
	}
	cs, err := changeset.Cast(changeset.NewRecord("items", types), changeset.Params{
		"name":    "widget",
		"created": "2023-04-05T13:00:00Z",
	}, []string{"name", "created"})
	assert.NoError(err)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO items (created, id, name) VALUES (?, ?, ?);`)).
		WithArgs(AnyTime{}, AnyUUID{}, "widget").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	out, err := s.Insert(context.Background(), cs)
	if !assert.NoError(err) {
		return
	}

	id, ok := out.Data.Get("id").(uuid.UUID)
	if assert.True(ok, "expected uuid.UUID, got %T", out.Data.Get("id")) {
		assert.NotEqual(uuid.Nil, id)
	}
	assert.NoError(mock.ExpectationsWereMet())
}

func Test_Store_Insert_InvalidChangeset(t *testing.T) {
	assert := assert.New(t)
	s, mock := newMockStore(t)

	cs := castUser(t, userRecord(nil), changeset.Params{"age": "not a number"})

	_, err := s.Insert(context.Background(), cs)

	// rejected before any statement reaches the database
	assert.ErrorIs(err, ecto.ErrInvalid)
	assert.NoError(mock.ExpectationsWereMet())
}

func Test_Store_Insert_ConstraintViolation(t *testing.T) {
	testCases := []struct {
		name          string
		declare       func(changeset.Changeset) changeset.Changeset
		dbMessage     string
		expectField   string
		expectMessage string
	}{
		{
			name:          "unique",
			declare:       func(cs changeset.Changeset) changeset.Changeset { return cs.UniqueConstraint("name") },
			dbMessage:     "UNIQUE constraint failed: users.name",
			expectField:   "name",
			expectMessage: "has already been taken",
		},
		{
			name: "check",
			declare: func(cs changeset.Changeset) changeset.Changeset {
				return cs.CheckConstraint("age", "age_must_be_positive")
			},
			dbMessage:     "CHECK constraint failed: age_must_be_positive",
			expectField:   "age",
			expectMessage: "is invalid",
		},
		{
			name:          "foreign key reported without a name",
			declare:       func(cs changeset.Changeset) changeset.Changeset { return cs.ForeignKeyConstraint("age") },
			dbMessage:     "FOREIGN KEY constraint failed",
			expectField:   "age",
			expectMessage: "does not exist",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)
			s, mock := newMockStore(t)

			cs := castUser(t, userRecord(nil), changeset.Params{"name": "callum", "age": "27"})
			cs = tc.declare(cs)

			mock.ExpectBegin()
			mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO users (age, name) VALUES (?, ?);`)).
				WithArgs(int64(27), "callum").
				WillReturnError(errors.New(tc.dbMessage))
			mock.ExpectRollback()

			out, err := s.Insert(context.Background(), cs)

			assert.ErrorIs(err, ecto.ErrConstraintViolation)
			assert.False(out.Valid)
			if assert.Len(out.Errors, 1) {
				assert.Equal(tc.expectField, out.Errors[0].Field)
				assert.Equal(tc.expectMessage, out.Errors[0].Message)
			}
			assert.NoError(mock.ExpectationsWereMet())
		})
	}
}

func Test_Store_Insert_UndeclaredViolation(t *testing.T) {
	assert := assert.New(t)
	s, mock := newMockStore(t)

	cs := castUser(t, userRecord(nil), changeset.Params{"name": "callum"})

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO users (name) VALUES (?);`)).
		WithArgs("callum").
		WillReturnError(errors.New("UNIQUE constraint failed: users.name"))
	mock.ExpectRollback()

	out, err := s.Insert(context.Background(), cs)

	// still a constraint violation, but nothing is recorded on the change-set
	assert.ErrorIs(err, ecto.ErrConstraintViolation)
	assert.Empty(out.Errors)
	assert.NoError(mock.ExpectationsWereMet())
}

func Test_Store_Update(t *testing.T) {
	assert := assert.New(t)
	s, mock := newMockStore(t)

	rec := userRecord(changeset.Values{"id": int64(1), "name": "greta", "age": int64(30)})
	rec.Persisted = true
	cs := castUser(t, rec, changeset.Params{"name": "ida"})

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET name = ? WHERE id = ?;`)).
		WithArgs("ida", int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	out, err := s.Update(context.Background(), cs)
	if !assert.NoError(err) {
		return
	}

	assert.Equal("ida", out.Data.Get("name"))
	assert.Equal(int64(30), out.Data.Get("age"))
	assert.True(out.Data.Persisted)
	assert.NoError(mock.ExpectationsWereMet())
}

func Test_Store_Update_Stale(t *testing.T) {
	assert := assert.New(t)
	s, mock := newMockStore(t)

	rec := userRecord(changeset.Values{"id": int64(1), "name": "greta", "age": int64(3)})
	cs := castUser(t, rec, changeset.Params{"name": "ida"})
	cs = cs.PutFilter("age", int64(3))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET name = ? WHERE id = ? AND age = ?;`)).
		WithArgs("ida", int64(1), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := s.Update(context.Background(), cs)

	assert.ErrorIs(err, ecto.ErrStale)
	assert.NoError(mock.ExpectationsWereMet())
}

func Test_Store_Update_OptimisticLock(t *testing.T) {
	assert := assert.New(t)
	s, mock := newMockStore(t)

	rec := userRecord(changeset.Values{"id": int64(1), "name": "greta", "age": int64(3)})
	cs := castUser(t, rec, changeset.Params{"name": "ida"})
	cs, err := cs.OptimisticLock("age")
	assert.NoError(err)

	// the version bump runs in the prepare step, so the SET carries the new
	// version while the WHERE still compares the old one
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET age = ?, name = ? WHERE id = ? AND age = ?;`)).
		WithArgs(int64(4), "ida", int64(1), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	out, err := s.Update(context.Background(), cs)
	if !assert.NoError(err) {
		return
	}

	assert.Equal(int64(4), out.Data.Get("age"))
	assert.NoError(mock.ExpectationsWereMet())
}

func Test_Store_Update_WithoutKey(t *testing.T) {
	assert := assert.New(t)
	s, mock := newMockStore(t)

	cs := castUser(t, userRecord(nil), changeset.Params{"name": "ida"})

	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := s.Update(context.Background(), cs)

	assert.ErrorIs(err, ecto.ErrBadArgument)
	assert.NoError(mock.ExpectationsWereMet())
}

func Test_Store_Delete(t *testing.T) {
	assert := assert.New(t)
	s, mock := newMockStore(t)

	rec := userRecord(changeset.Values{"id": int64(1), "name": "greta"})
	rec.Persisted = true
	cs := changeset.New(rec)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM users WHERE id = ?;`)).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	out, err := s.Delete(context.Background(), cs)
	if !assert.NoError(err) {
		return
	}

	assert.False(out.Data.Persisted)
	assert.NoError(mock.ExpectationsWereMet())
}

func Test_Store_Delete_AlreadyGone(t *testing.T) {
	assert := assert.New(t)
	s, mock := newMockStore(t)

	cs := changeset.New(userRecord(changeset.Values{"id": int64(1)}))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM users WHERE id = ?;`)).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := s.Delete(context.Background(), cs)

	assert.ErrorIs(err, ecto.ErrStale)
	assert.NoError(mock.ExpectationsWereMet())
}

func Test_Store_Insert_WithAssociation(t *testing.T) {
	assert := assert.New(t)
	s, mock := newMockStore(t)

	rel := &schema.Relation{
		Fields: map[string]*schema.Type{
			"id":    schema.IntegerType(),
			"title": schema.StringType(),
		},
		OnReplace:  schema.Delete,
		Source:     "posts",
		RelatedKey: "author_id",
	}
	types := map[string]*schema.Type{
		"id":    schema.IntegerType(),
		"name":  schema.StringType(),
		"posts": schema.AssocMany(rel),
	}

	cs, err := changeset.Cast(changeset.NewRecord("authors", types), changeset.Params{
		"name":  "greta",
		"posts": []any{map[string]any{"title": "first"}},
	}, []string{"name"})
	assert.NoError(err)
	cs, err = cs.CastAssoc("posts")
	assert.NoError(err)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO authors (name) VALUES (?);`)).
		WithArgs("greta").
		WillReturnResult(sqlmock.NewResult(7, 1))
	// the child row carries the parent's freshly generated key
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO posts (author_id, title) VALUES (?, ?);`)).
		WithArgs(int64(7), "first").
		WillReturnResult(sqlmock.NewResult(11, 1))
	mock.ExpectCommit()

	out, err := s.Insert(context.Background(), cs)
	if !assert.NoError(err) {
		return
	}

	assert.Equal(int64(7), out.Data.Get("id"))
	posts, ok := out.Data.Get("posts").([]changeset.Record)
	if assert.True(ok, "expected []Record, got %T", out.Data.Get("posts")) && assert.Len(posts, 1) {
		assert.Equal(int64(7), posts[0].Get("author_id"))
		assert.Equal("first", posts[0].Get("title"))
		assert.True(posts[0].Persisted)
	}
	assert.NoError(mock.ExpectationsWereMet())
}

func Test_Store_Exists(t *testing.T) {
	t.Run("row found", func(t *testing.T) {
		assert := assert.New(t)
		s, mock := newMockStore(t)

		mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM users WHERE name = ? LIMIT 1;`)).
			WithArgs("greta").
			WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

		found, err := s.Exists(context.Background(), changeset.ExistsQuery{
			Source: "users",
			Conds:  []changeset.ExistsCond{{Field: "name", Value: "greta"}},
		})

		assert.NoError(err)
		assert.True(found)
		assert.NoError(mock.ExpectationsWereMet())
	})

	t.Run("no row", func(t *testing.T) {
		assert := assert.New(t)
		s, mock := newMockStore(t)

		mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM users WHERE name = ? LIMIT 1;`)).
			WithArgs("greta").
			WillReturnRows(sqlmock.NewRows([]string{"1"}))

		found, err := s.Exists(context.Background(), changeset.ExistsQuery{
			Source: "users",
			Conds:  []changeset.ExistsCond{{Field: "name", Value: "greta"}},
		})

		assert.NoError(err)
		assert.False(found)
		assert.NoError(mock.ExpectationsWereMet())
	})

	t.Run("own row excluded", func(t *testing.T) {
		assert := assert.New(t)
		s, mock := newMockStore(t)

		mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM users WHERE name = ? AND id <> ? LIMIT 1;`)).
			WithArgs("greta", int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"1"}))

		found, err := s.Exists(context.Background(), changeset.ExistsQuery{
			Source:  "users",
			Conds:   []changeset.ExistsCond{{Field: "name", Value: "greta"}},
			Exclude: &changeset.ExistsCond{Field: "id", Value: int64(1)},
		})

		assert.NoError(err)
		assert.False(found)
		assert.NoError(mock.ExpectationsWereMet())
	})
}

func Test_Store_InitTable(t *testing.T) {
	assert := assert.New(t)
	s, mock := newMockStore(t)

	rel := &schema.Relation{
		Fields: map[string]*schema.Type{"id": schema.IntegerType()},
		Source: "posts",
	}
	types := map[string]*schema.Type{
		"id":     schema.IntegerType(),
		"name":   schema.StringType(),
		"score":  schema.FloatType(),
		"active": schema.BooleanType(),
		"bio":    schema.EmbedOne(rel),
		"posts":  schema.AssocMany(rel),
	}

	// associations get no column; embeds store as JSON text
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS users (active INTEGER, bio TEXT, id INTEGER PRIMARY KEY, name TEXT, score REAL);`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.InitTable(context.Background(), changeset.NewRecord("users", types))

	assert.NoError(err)
	assert.NoError(mock.ExpectationsWereMet())
}
