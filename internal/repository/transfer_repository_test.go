package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/school-transfer-api/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

var (
	proposalCols    = []string{"id", "proposing_school_id", "number_of_students", "gender", "grade", "description", "status", "created_at", "updated_at"}
	negotiationCols = []string{"id", "proposal_id", "proposing_school_id", "interested_school_id", "created_at"}
	messageCols     = []string{"id", "negotiation_id", "seq", "sender_id", "sender_name", "content", "created_at"}
	admissionCols   = []string{"id", "school_id", "applicant_id", "data", "target_class", "combination_group", "combination_choice", "status", "transfer_to_school_id", "transfer_status", "created_at", "updated_at"}
)

func TestProposalRepositoryCreateDefaultsToOpen(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	repo := NewProposalRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transfer_proposals")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	proposal := &models.TransferProposal{ProposingSchoolID: "school-a", NumberOfStudents: 10, Gender: models.ProposalGenderMixed, Grade: "S.1"}
	require.NoError(t, repo.Create(context.Background(), proposal))
	assert.NotEmpty(t, proposal.ID)
	assert.Equal(t, models.ProposalStatusOpen, proposal.Status)
	assert.False(t, proposal.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProposalRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	repo := NewProposalRepository(db)
	now := time.Now()
	rows := sqlmock.NewRows(proposalCols).
		AddRow("p-1", "school-b", 5, "Male", "S.2", "", "open", now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM transfer_proposals WHERE status = $1 AND proposing_school_id <> $2 ORDER BY created_at DESC")).
		WithArgs(models.ProposalStatusOpen, "school-a").
		WillReturnRows(rows)

	list, err := repo.List(context.Background(), models.ProposalFilter{Status: models.ProposalStatusOpen, ExcludingSchool: "school-a"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "school-b", list[0].ProposingSchoolID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProposalRepositoryUpdateStatusConflict(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	repo := NewProposalRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE transfer_proposals SET status")).
		WithArgs("p-1", models.ProposalStatusOpen, models.ProposalStatusClosed, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatus(context.Background(), "p-1", models.ProposalStatusOpen, models.ProposalStatusClosed)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNegotiationRepositoryCreateDuplicate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	repo := NewNegotiationRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transfer_negotiations")).
		WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Create(context.Background(), &models.TransferNegotiation{ProposalID: "p-1", ProposingSchoolID: "school-a", InterestedSchoolID: "school-b"})
	assert.ErrorIs(t, err, ErrDuplicateNegotiation)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNegotiationRepositoryGetLoadsOrderedMessages(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	repo := NewNegotiationRepository(db)
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM transfer_negotiations WHERE proposal_id = $1 AND interested_school_id = $2")).
		WithArgs("p-1", "school-b").
		WillReturnRows(sqlmock.NewRows(negotiationCols).AddRow("n-1", "p-1", "school-a", "school-b", now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM negotiation_messages WHERE negotiation_id = $1 ORDER BY seq ASC")).
		WithArgs("n-1").
		WillReturnRows(sqlmock.NewRows(messageCols).
			AddRow("m-1", "n-1", 1, "school-b", "Hill College", "Interested", now).
			AddRow("m-2", "n-1", 2, "school-a", "Lake School", "Confirmed", now))

	negotiation, err := repo.FindByProposalAndSchool(context.Background(), "p-1", "school-b")
	require.NoError(t, err)
	require.Len(t, negotiation.Messages, 2)
	assert.Equal(t, "Interested", negotiation.Messages[0].Content)
	assert.Equal(t, "Confirmed", negotiation.Messages[1].Content)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNegotiationRepositoryFindMissing(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	repo := NewNegotiationRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("FROM transfer_negotiations WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestNegotiationRepositoryListBySchoolGroupsMessages(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	repo := NewNegotiationRepository(db)
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE proposing_school_id = $1 OR interested_school_id = $1")).
		WithArgs("school-a").
		WillReturnRows(sqlmock.NewRows(negotiationCols).
			AddRow("n-1", "p-1", "school-a", "school-b", now).
			AddRow("n-2", "p-1", "school-a", "school-c", now))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE negotiation_id = ANY($1) ORDER BY seq ASC")).
		WillReturnRows(sqlmock.NewRows(messageCols).
			AddRow("m-1", "n-2", 1, "school-c", "River High", "hello", now))

	list, err := repo.ListBySchool(context.Background(), "school-a")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Empty(t, list[0].Messages)
	require.Len(t, list[1].Messages, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNegotiationRepositoryAppendMessageReturnsSequence(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	repo := NewNegotiationRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO negotiation_messages")).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(7))

	message := &models.NegotiationMessage{NegotiationID: "n-1", SenderID: "school-a", SenderName: "Lake School", Content: "hi"}
	require.NoError(t, repo.AppendMessage(context.Background(), message))
	assert.Equal(t, int64(7), message.Seq)
	assert.NotEmpty(t, message.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdmissionRepositoryGetDecodesState(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	repo := NewAdmissionRepository(db)
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM admissions WHERE id = $1")).
		WithArgs("adm-1").
		WillReturnRows(sqlmock.NewRows(admissionCols).
			AddRow("adm-1", "school-a", "student-1", []byte(`{"fullName":"Jane","schoolName":"Hill Primary"}`), "S.1", "PCM", "Physics", "transferred", "school-b", "pending_student_approval", now, now))

	admission, err := repo.Get(context.Background(), "adm-1")
	require.NoError(t, err)
	offer, ok := admission.PendingOffer()
	require.True(t, ok)
	assert.Equal(t, "school-b", offer.ToSchoolID)
	assert.Equal(t, "Hill Primary", admission.Data.SchoolName)
	require.NotNil(t, admission.Combination)
	assert.Equal(t, "PCM", admission.Combination.Group)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdmissionRepositoryGetRejectsIllegalRow(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	repo := NewAdmissionRepository(db)
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM admissions WHERE id = $1")).
		WillReturnRows(sqlmock.NewRows(admissionCols).
			AddRow("adm-1", "school-a", "student-1", []byte(`{}`), "S.1", nil, nil, "approved", "school-b", nil, now, now))

	_, err := repo.Get(context.Background(), "adm-1")
	assert.ErrorIs(t, err, models.ErrIllegalAdmissionState)
}

func TestAdmissionRepositoryAtomicCommits(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	repo := NewAdmissionRepository(db)
	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM admissions WHERE id = $1 FOR UPDATE")).
		WithArgs("adm-1").
		WillReturnRows(sqlmock.NewRows(admissionCols).
			AddRow("adm-1", "school-a", "student-1", []byte(`{}`), "S.1", nil, nil, "under_review", nil, nil, now, now))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO admissions")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Atomic(context.Background(), func(w AdmissionWriter) error {
		admission, err := w.GetForUpdate(context.Background(), "adm-1")
		if err != nil {
			return err
		}
		admission.State = models.Approved{}
		return w.Put(context.Background(), admission)
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdmissionRepositoryAtomicRollsBack(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	repo := NewAdmissionRepository(db)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := repo.Atomic(context.Background(), func(w AdmissionWriter) error {
		_, err := w.GetForUpdate(context.Background(), "missing")
		return err
	})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdmissionRepositoryFindPendingTransfers(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	repo := NewAdmissionRepository(db)
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE applicant_id = $1 AND transfer_to_school_id = $2 AND status = $3 AND transfer_status = $4")).
		WithArgs("student-1", "school-b", models.AdmissionStatusTransferred, models.TransferPendingStudentApproval, 2).
		WillReturnRows(sqlmock.NewRows(admissionCols).
			AddRow("adm-1", "school-a", "student-1", []byte(`{}`), "S.1", nil, nil, "transferred", "school-b", "pending_student_approval", now, now))

	list, err := repo.FindPendingTransfers(context.Background(), "student-1", "school-b", 2)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "adm-1", list[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentityRepositoryUnknownSchoolIsNil(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	repo := NewIdentityRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("FROM schools WHERE id = $1 AND active = TRUE")).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	school, err := repo.ResolveSchool(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, school)

	mock.ExpectQuery(regexp.QuoteMeta("FROM students WHERE id = $1")).
		WithArgs("student-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "full_name", "school_id"}).AddRow("student-1", "Jane Doe", "school-a"))

	student, err := repo.ResolveStudent(context.Background(), "student-1")
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", student.FullName)
	require.NoError(t, mock.ExpectationsWereMet())
}
