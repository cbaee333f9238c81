package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"formgate/internal/model"
	"formgate/internal/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormPostgres_FindByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	repo := NewFormPostgres(db)
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		schema := `[
			{"id":"name","type":"text","label":"Name","required":true,"constraints":{"maxLength":80}},
			{"id":"photo","type":"photo","label":"Photo","constraints":{"allowedTypes":["jpg","png"],"maxSizeMB":2}}
		]`
		mock.ExpectQuery("SELECT (.+) FROM forms WHERE id = \\$1 AND active").
			WithArgs("contact").
			WillReturnRows(sqlmock.NewRows([]string{"id", "title", "schema"}).AddRow("contact", "Contact us", []byte(schema)))

		form, err := repo.FindByID(ctx, "contact")
		require.NoError(t, err)
		assert.Equal(t, "contact", form.FormID)
		require.Len(t, form.Fields, 2)
		assert.Equal(t, model.KindText, form.Fields[0].Kind)
		assert.Equal(t, 80, *form.Fields[0].Constraints.MaxLength)
		assert.Equal(t, []string{"jpg", "png"}, form.Fields[1].Constraints.AllowedTypes)
		assert.Equal(t, 2.0, form.Fields[1].Constraints.MaxSizeMB)
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM forms").
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows([]string{"id", "title", "schema"}))

		form, err := repo.FindByID(ctx, "missing")
		assert.ErrorIs(t, err, repository.ErrNotFound)
		assert.Nil(t, form)
	})

	t.Run("unknown field kind", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM forms").
			WithArgs("legacy").
			WillReturnRows(sqlmock.NewRows([]string{"id", "title", "schema"}).
				AddRow("legacy", "Legacy", []byte(`[{"id":"x","type":"colorpicker"}]`)))

		form, err := repo.FindByID(ctx, "legacy")
		assert.ErrorIs(t, err, repository.ErrInvalidSchema)
		assert.Nil(t, form)
	})

	t.Run("duplicate field ids", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM forms").
			WithArgs("dup").
			WillReturnRows(sqlmock.NewRows([]string{"id", "title", "schema"}).
				AddRow("dup", "Dup", []byte(`[{"id":"x","type":"text"},{"id":"x","type":"email"}]`)))

		_, err := repo.FindByID(ctx, "dup")
		assert.ErrorIs(t, err, repository.ErrInvalidSchema)
	})

	t.Run("query error", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM forms").
			WithArgs("boom").
			WillReturnError(errors.New("connection reset"))

		_, err := repo.FindByID(ctx, "boom")
		assert.EqualError(t, err, "connection reset")
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmissionPostgres_Tx(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	repo := NewSubmissionPostgres(db)
	ctx := context.Background()
	now := time.Now().UTC()

	sub := &model.Submission{
		ID:          "sub-1",
		FormID:      "contact",
		Data:        map[string]model.Value{"name": model.StringValue("Ada")},
		SubmittedAt: now,
		ClientIP:    "8.8.8.8",
		UserAgent:   "Mozilla/5.0",
	}
	file := &model.FileUploadRecord{
		ID:               "file-1",
		SubmissionID:     "sub-1",
		FieldID:          "photo",
		OriginalFilename: "me.png",
		StoredFilename:   "sub-1_photo_01J.png",
		RelativePath:     "submissions/2026/03/sub-1_photo_01J.png",
		SizeBytes:        67,
		MimeType:         "image/png",
		UploadedAt:       now,
	}

	t.Run("commit", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO submissions").
			WithArgs("sub-1", "contact", []byte(`{"name":"Ada"}`), "8.8.8.8", "Mozilla/5.0", now).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO submission_files").
			WithArgs("file-1", "sub-1", "photo", "me.png", "sub-1_photo_01J.png",
				"submissions/2026/03/sub-1_photo_01J.png", int64(67), "image/png", now).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		tx, err := repo.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.InsertSubmission(ctx, sub))
		require.NoError(t, tx.InsertFile(ctx, file))
		require.NoError(t, tx.Commit())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rollback on insert failure", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO submissions").WillReturnError(errors.New("unique violation"))
		mock.ExpectRollback()

		tx, err := repo.Begin(ctx)
		require.NoError(t, err)
		assert.Error(t, tx.InsertSubmission(ctx, sub))
		require.NoError(t, tx.Rollback())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSubmissionPostgres_KnownFilePaths(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	repo := NewSubmissionPostgres(db)
	mock.ExpectQuery("SELECT relative_path FROM submission_files").
		WithArgs("submissions/").
		WillReturnRows(sqlmock.NewRows([]string{"relative_path"}).
			AddRow("submissions/2026/03/a.png").
			AddRow("submissions/2026/03/b.pdf"))

	got, err := repo.KnownFilePaths(context.Background(), "submissions/")
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Contains(t, got, "submissions/2026/03/a.png")
	assert.NoError(t, mock.ExpectationsWereMet())
}
