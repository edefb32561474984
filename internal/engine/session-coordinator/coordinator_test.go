package sessioncoordinator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enrollment-sync/internal/common/auth"
	apperrors "enrollment-sync/internal/common/errors"
	"enrollment-sync/internal/common/logger"
	autosavesynchronizer "enrollment-sync/internal/engine/autosave-synchronizer"
	eventbus "enrollment-sync/internal/engine/event-bus"
	fieldtransformer "enrollment-sync/internal/engine/field-transformer"
	identitymanager "enrollment-sync/internal/engine/identity-manager"
	localstore "enrollment-sync/internal/engine/local-store"
	stepcontroller "enrollment-sync/internal/engine/step-controller"
	submissionnotifier "enrollment-sync/internal/engine/submission-notifier"
	"enrollment-sync/internal/engine/workspace"
	"enrollment-sync/internal/gateway"
	"enrollment-sync/internal/gateway/gatewaytest"
	"enrollment-sync/internal/models"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// ==========================
// Test Helper Functions
// ==========================

var (
	parent = auth.Identity{Subject: "user-1", Email: "sipho@example.co.za", Name: "Sipho Dlamini", Mobile: "+27821234567"}
	other  = auth.Identity{Subject: "user-2", Email: "zanele@example.co.za", Name: "Zanele Khumalo"}
)

type fakeNotifier struct {
	mu   sync.Mutex
	subs []submissionnotifier.Submission
}

func (f *fakeNotifier) Notify(ctx context.Context, sub submissionnotifier.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, sub)
	return nil
}

func (f *fakeNotifier) Submissions() []submissionnotifier.Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]submissionnotifier.Submission(nil), f.subs...)
}

type eventLog struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (l *eventLog) handle(evt eventbus.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
}

func (l *eventLog) Kinds(kind eventbus.Kind) []eventbus.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []eventbus.Event
	for _, e := range l.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	coord    *Coordinator
	gw       *gatewaytest.Fake
	auth     *auth.LocalAuthenticator
	store    *localstore.MemoryStore
	notifier *fakeNotifier
	events   *eventLog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, nil)
}

// newFixtureWith runs setup before the coordinator starts, e.g. to leave data
// from an earlier run in the store.
func newFixtureWith(t *testing.T, setup func(f *fixture)) *fixture {
	t.Helper()
	log := logger.NewTestLogger(t)
	gw := gatewaytest.New()
	store := localstore.NewMemoryStore()
	bus := eventbus.New(log)
	authn := auth.NewLocalAuthenticator()
	events := &eventLog{}
	bus.Subscribe(events.handle)

	ids := identitymanager.New(gw, store, log)
	notifier := &fakeNotifier{}
	coord := New(Deps{
		Auth:     authn,
		Gateway:  gw,
		Identity: ids,
		Autosave: autosavesynchronizer.New(gw, ids, authn, bus, log, autosavesynchronizer.Config{
			QuietPeriod:  20 * time.Millisecond,
			SavedDisplay: 20 * time.Millisecond,
		}),
		Steps:            stepcontroller.New(store, bus, log, models.TotalSteps),
		Workspace:        workspace.New(store, bus, log),
		Notifier:         notifier,
		Bus:              bus,
		Logger:           log,
		OperationTimeout: time.Second,
	})
	t.Cleanup(coord.Close)

	f := &fixture{coord: coord, gw: gw, auth: authn, store: store, notifier: notifier, events: events}
	if setup != nil {
		setup(f)
	}
	require.NoError(t, coord.Start(context.Background()))
	return f
}

func completeRecord() models.ApplicationRecord {
	return models.ApplicationRecord{
		Student: &models.Student{
			Surname:         "Dlamini",
			FirstName:       "Ayanda",
			IdNumber:        "1503125009087",
			Dob:             "2015-03-12",
			Gender:          "Female",
			HomeLanguage:    "isiZulu",
			PreviousGrade:   "Grade 3",
			GradeAppliedFor: "Grade 4",
			PreviousSchool:  "Greenside Primary",
		},
		Family: &models.Family{
			FatherSurname:   "Dlamini",
			FatherFirstName: "Sipho",
			FatherIdNumber:  "8001015009087",
			FatherMobile:    "+27 82 123 4567",
			FatherEmail:     "sipho@example.co.za",
		},
		Fee: &models.Fee{FeePerson: "Sipho Dlamini", Relationship: "Father", FeeTermsAccepted: true},
		AcademicHistory: &models.AcademicHistory{
			SchoolName:            "Greenside Primary",
			SchoolType:            "public",
			LastGradeCompleted:    "Grade 3",
			AcademicYearCompleted: 2024,
			ReportCard:            "report-2024.pdf",
		},
		Financing: &models.Financing{Plan: "termly_discount"},
		Declaration: &models.Declaration{
			AgreeTruth:                   true,
			AgreePolicies:                true,
			AgreeFinancial:               true,
			AgreeVerification:            true,
			AgreeDataProcessing:          true,
			AgreeAuditStorage:            true,
			AgreeAffordabilityProcessing: true,
			FullName:                     "Sipho Dlamini",
		},
		Documents: []models.Document{
			{ID: "d1", DocumentType: "utility-bill"},
			{ID: "d2", DocumentType: "parent-guardian-id"},
			{ID: "d3", DocumentType: "learner-birth-certificate"},
			{ID: "d4", DocumentType: "payslip"},
			{ID: "d5", DocumentType: "payslip"},
			{ID: "d6", DocumentType: "payslip"},
			{ID: "d7", DocumentType: "bank-statement"},
		},
	}
}

// fill edits every section present in rec through the coordinator.
func (f *fixture) fill(t *testing.T, rec models.ApplicationRecord) {
	t.Helper()
	for _, section := range rec.Sections() {
		only := rec.Only(section)
		_, err := f.coord.Edit(context.Background(), section, func(r *models.ApplicationRecord) error {
			r.Merge(only.Clone())
			return nil
		})
		require.NoError(t, err)
	}
}

func remoteDoc(t *testing.T, rec models.ApplicationRecord) fieldtransformer.Document {
	t.Helper()
	doc, err := fieldtransformer.Forward(rec)
	require.NoError(t, err)
	return doc
}

// ==========================
// Auth Transition Tests
// ==========================

func TestSignIn_HydratesRemoteRecord(t *testing.T) {
	f := newFixture(t)
	remote := models.ApplicationRecord{Student: completeRecord().Student}
	f.gw.FetchFn = func(ctx context.Context, id string) (fieldtransformer.Document, error) {
		return remoteDoc(t, remote), nil
	}

	f.auth.SignIn(parent, "token-1")

	state := f.coord.Snapshot()
	assert.Equal(t, "app-1", state.ApplicationID)
	require.NotNil(t, state.Record.Student)
	assert.Equal(t, "Ayanda", state.Record.Student.FirstName)
	assert.Len(t, f.events.Kinds(eventbus.RecordHydrated), 1)
}

func TestSignIn_HydrationKeepsSessionEdits(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.Edit(context.Background(), models.SectionStudent, func(r *models.ApplicationRecord) error {
		r.Student = &models.Student{FirstName: "Local"}
		return nil
	})
	require.NoError(t, err)

	remote := completeRecord()
	f.gw.FetchFn = func(ctx context.Context, id string) (fieldtransformer.Document, error) {
		return remoteDoc(t, models.ApplicationRecord{Student: remote.Student, Family: remote.Family}), nil
	}

	f.auth.SignIn(parent, "token-1")

	rec := f.coord.Snapshot().Record
	assert.Equal(t, "Local", rec.Student.FirstName)
	require.NotNil(t, rec.Family)
	assert.Equal(t, "Sipho", rec.Family.FatherFirstName)
}

func TestSignIn_SubmittedRecordIsReadOnly(t *testing.T) {
	f := newFixture(t)
	f.gw.FetchFn = func(ctx context.Context, id string) (fieldtransformer.Document, error) {
		doc := remoteDoc(t, completeRecord())
		doc["status"] = models.StatusSubmitted
		return doc, nil
	}

	f.auth.SignIn(parent, "token-1")

	state := f.coord.Snapshot()
	assert.True(t, state.Steps.Submitted)
	assert.Equal(t, models.StepReviewSubmit, state.Steps.ActiveStep)
	assert.True(t, state.Summary.Submitted)

	_, err := f.coord.Edit(context.Background(), models.SectionStudent, func(r *models.ApplicationRecord) error {
		r.Student.FirstName = "Changed"
		return nil
	})
	assert.ErrorIs(t, err, apperrors.ErrStepLocked)
	assert.ErrorIs(t, f.coord.StartOver(context.Background()), apperrors.ErrStepLocked)
}

func TestStart_RestoredDraftsWinOverHydration(t *testing.T) {
	ctx := context.Background()
	f := newFixtureWith(t, func(f *fixture) {
		require.NoError(t, localstore.SetJSON(ctx, f.store, localstore.KeyApplicationID, "app-9"))
		require.NoError(t, localstore.SetJSON(ctx, f.store, localstore.DraftKey(models.SectionStudent),
			models.ApplicationRecord{Student: &models.Student{FirstName: "LocalUnsaved"}}))
		f.gw.FetchFn = func(ctx context.Context, id string) (fieldtransformer.Document, error) {
			return remoteDoc(t, models.ApplicationRecord{
				Student: &models.Student{FirstName: "RemoteStale"},
				Fee:     &models.Fee{FeePerson: "Sipho Dlamini"},
			}), nil
		}
		// Already signed in when the service comes back up.
		f.auth.SignIn(parent, "token-1")
	})

	rec := f.coord.Snapshot().Record
	require.NotNil(t, rec.Student)
	assert.Equal(t, "LocalUnsaved", rec.Student.FirstName)
	require.NotNil(t, rec.Fee)
	assert.Equal(t, "Sipho Dlamini", rec.Fee.FeePerson)

	draft := localstore.GetJSON(ctx, f.store, localstore.DraftKey(models.SectionStudent), models.ApplicationRecord{})
	require.NotNil(t, draft.Student)
	assert.Equal(t, "LocalUnsaved", draft.Student.FirstName)

	assert.Eventually(t, func() bool { return len(f.gw.Updates()) == 1 }, waitFor, tick)
	update := f.gw.Updates()[0]
	assert.Equal(t, "app-9", update.ID)
	student := update.Sections["student"].(map[string]interface{})
	assert.Equal(t, "LocalUnsaved", student["first_name"])
	assert.NotContains(t, update.Sections, "fee")
}

func TestStart_RestoredDraftsSentAfterLaterSignIn(t *testing.T) {
	ctx := context.Background()
	f := newFixtureWith(t, func(f *fixture) {
		require.NoError(t, localstore.SetJSON(ctx, f.store, localstore.DraftKey(models.SectionStudent),
			models.ApplicationRecord{Student: &models.Student{FirstName: "LocalUnsaved"}}))
	})
	assert.Empty(t, f.gw.Updates())

	f.auth.SignIn(parent, "token-1")

	assert.Eventually(t, func() bool { return len(f.gw.Updates()) == 1 }, waitFor, tick)
	student := f.gw.Updates()[0].Sections["student"].(map[string]interface{})
	assert.Equal(t, "LocalUnsaved", student["first_name"])
}

func TestSignOut_ResetsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.auth.SignIn(parent, "token-1")
	f.fill(t, completeRecord().Only(models.SectionStudent))
	f.fill(t, models.ApplicationRecord{Family: completeRecord().Family, Fee: completeRecord().Fee})

	next, err := f.coord.CompleteStep(ctx, models.StepStudentGuardian)
	require.NoError(t, err)
	assert.Equal(t, models.StepDocuments, next)

	f.auth.SignOut()

	state := f.coord.Snapshot()
	assert.Equal(t, 1, state.Steps.ActiveStep)
	assert.Empty(t, state.Steps.CompletedSteps)
	assert.False(t, state.Record.HasData())
	assert.Empty(t, state.ApplicationID)
	assert.Equal(t, models.SavingIdle, state.Saving)

	for _, key := range append(localstore.DraftKeys(), localstore.KeyApplicationID, localstore.KeyActiveStep, localstore.KeyCompletedSteps) {
		_, found, err := f.store.Get(ctx, key)
		require.NoError(t, err)
		assert.False(t, found, key)
	}
	assert.Len(t, f.events.Kinds(eventbus.SessionReset), 1)
}

func TestChangedUser_StartsFreshApplication(t *testing.T) {
	f := newFixture(t)
	f.auth.SignIn(parent, "token-1")
	f.fill(t, completeRecord().Only(models.SectionStudent))
	require.Equal(t, "app-1", f.coord.Snapshot().ApplicationID)

	f.auth.SignIn(other, "token-2")

	state := f.coord.Snapshot()
	assert.Equal(t, "app-2", state.ApplicationID)
	assert.Nil(t, state.Record.Student)
	assert.Equal(t, 2, f.gw.Creates())
}

func TestSameUser_IsNoOp(t *testing.T) {
	f := newFixture(t)
	f.auth.SignIn(parent, "token-1")
	f.auth.SignIn(parent, "token-1b")

	assert.Equal(t, 1, f.gw.Creates())
	assert.Empty(t, f.events.Kinds(eventbus.SessionReset))
}

// ==========================
// Edit And Step Tests
// ==========================

func TestEdit_SchedulesAutosaveAndValidates(t *testing.T) {
	f := newFixture(t)
	f.auth.SignIn(parent, "token-1")

	result, err := f.coord.Edit(context.Background(), models.SectionStudent, func(r *models.ApplicationRecord) error {
		r.Student = &models.Student{FirstName: "Ayanda"}
		return nil
	})
	require.NoError(t, err)
	assert.False(t, result.IsComplete)
	assert.Contains(t, result.Errors, "surname")

	assert.Eventually(t, func() bool { return len(f.gw.Updates()) == 1 }, waitFor, tick)
	update := f.gw.Updates()[0]
	assert.Equal(t, "app-1", update.ID)
	student := update.Sections["student"].(map[string]interface{})
	assert.Equal(t, "Ayanda", student["first_name"])
}

func TestCompleteStep_ValidationFailureBlocks(t *testing.T) {
	f := newFixture(t)
	f.auth.SignIn(parent, "token-1")

	_, err := f.coord.CompleteStep(context.Background(), models.StepStudentGuardian)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrValidationFailed)

	state := f.coord.Snapshot().Steps
	assert.Equal(t, 1, state.ActiveStep)
	assert.Empty(t, state.CompletedSteps)
	assert.NotEmpty(t, f.events.Kinds(eventbus.NoticeRaised))
}

func TestCompleteStep_SubmitsSectionPayloads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.auth.SignIn(parent, "token-1")
	f.fill(t, completeRecord())

	for _, step := range []int{models.StepAcademicHistory, models.StepFeeAgreement, models.StepDeclaration} {
		_, err := f.coord.CompleteStep(ctx, step)
		require.NoError(t, err)
	}

	submits := f.gw.SectionSubmits()
	require.Len(t, submits, 3)

	assert.Equal(t, models.SectionAcademicHistory, submits[0].Section)
	assert.Equal(t, "Greenside Primary", submits[0].Payload["school_name"])

	assert.Equal(t, models.SectionFinancing, submits[1].Section)
	assert.Equal(t, fieldtransformer.Document{"plan_type": "termly_discount"}, submits[1].Payload)

	assert.Equal(t, models.SectionDeclaration, submits[2].Section)
	assert.Equal(t, models.DeclarationCompleted, submits[2].Payload["status"])
	assert.NotEmpty(t, submits[2].Payload["signed_at"])

	for _, s := range submits {
		assert.Equal(t, "app-1", s.ID)
	}
	assert.ElementsMatch(t, []int{3, 4, 5}, f.coord.Snapshot().Steps.CompletedSteps)
}

func TestCompleteStep_SubmitFailureKeepsStepIncomplete(t *testing.T) {
	f := newFixture(t)
	f.auth.SignIn(parent, "token-1")
	f.fill(t, completeRecord())
	f.gw.SubmitSecFn = func(ctx context.Context, id string, section models.SectionName, payload fieldtransformer.Document) error {
		return &gateway.RemoteError{StatusCode: 422, Reason: "Report card is unreadable"}
	}

	_, err := f.coord.CompleteStep(context.Background(), models.StepAcademicHistory)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrSubmitFailed)

	stdErr, ok := apperrors.AsStandard(err)
	require.True(t, ok)
	assert.Equal(t, "Report card is unreadable", stdErr.Message)
	assert.Empty(t, f.coord.Snapshot().Steps.CompletedSteps)
}

func TestCompleteStep_UnauthorizedInvalidatesCredentials(t *testing.T) {
	f := newFixture(t)
	f.auth.SignIn(parent, "token-1")
	f.fill(t, completeRecord())
	f.gw.SubmitSecFn = func(ctx context.Context, id string, section models.SectionName, payload fieldtransformer.Document) error {
		return gateway.ErrUnauthorized
	}

	_, err := f.coord.CompleteStep(context.Background(), models.StepFeeAgreement)
	assert.ErrorIs(t, err, apperrors.ErrAuthenticationExpired)
	assert.False(t, f.auth.IsAuthenticated())

	// Drafts survive so nothing typed is lost.
	assert.NotNil(t, f.coord.Snapshot().Record.Financing)
}

func TestCompleteStep_IdentityUnavailableDoesNotAdvance(t *testing.T) {
	f := newFixture(t)
	f.gw.CreateFn = func(ctx context.Context) (string, error) {
		return "", &gateway.RemoteError{StatusCode: 503, Reason: "maintenance"}
	}
	f.fill(t, completeRecord())

	_, err := f.coord.CompleteStep(context.Background(), models.StepStudentGuardian)
	assert.ErrorIs(t, err, apperrors.ErrIdentityUnavailable)

	state := f.coord.Snapshot()
	assert.Empty(t, state.Steps.CompletedSteps)
	assert.Equal(t, 1, state.Steps.ActiveStep)
	assert.NotNil(t, state.Record.Student)
}

func TestEdit_SerializedWithSignOut(t *testing.T) {
	f := newFixture(t)
	f.auth.SignIn(parent, "token-1")

	entered, release := make(chan struct{}), make(chan struct{})
	editDone, signOutDone := make(chan error, 1), make(chan struct{})
	go func() {
		_, err := f.coord.Edit(context.Background(), models.SectionStudent, func(r *models.ApplicationRecord) error {
			close(entered)
			<-release
			r.Student = &models.Student{FirstName: "Ayanda"}
			return nil
		})
		editDone <- err
	}()

	<-entered
	go func() {
		f.auth.SignOut()
		close(signOutDone)
	}()
	close(release)
	require.NoError(t, <-editDone)
	<-signOutDone

	// The edit landed before the reset, so nothing is carried into the next session.
	assert.Nil(t, f.coord.Snapshot().Record.Student)
	_, found, err := f.store.Get(context.Background(), localstore.DraftKey(models.SectionStudent))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestAttachDocument_DroppedWhenSessionEndsDuringUpload(t *testing.T) {
	f := newFixture(t)
	f.auth.SignIn(parent, "token-1")
	f.gw.UploadFn = func(ctx context.Context, upload gateway.Upload) (models.Document, error) {
		f.auth.SignOut()
		return models.Document{ID: "doc-1", DocumentType: upload.DocumentType}, nil
	}

	_, err := f.coord.AttachDocument(context.Background(), gateway.Upload{
		DocumentType: "payslip",
		Filename:     "march.pdf",
		Content:      strings.NewReader("%PDF"),
	})

	assert.ErrorIs(t, err, apperrors.ErrStepLocked)
	assert.Empty(t, f.coord.Snapshot().Record.Documents)
}

func TestStartOver_KeepsApplicationID(t *testing.T) {
	f := newFixture(t)
	f.auth.SignIn(parent, "token-1")
	f.fill(t, completeRecord().Only(models.SectionStudent))

	require.NoError(t, f.coord.StartOver(context.Background()))

	state := f.coord.Snapshot()
	assert.Equal(t, "app-1", state.ApplicationID)
	assert.Nil(t, state.Record.Student)
	assert.Equal(t, 1, state.Steps.ActiveStep)
}

// ==========================
// Submission Tests
// ==========================

func TestSubmit_MarksSubmittedAndNotifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.auth.SignIn(parent, "token-1")
	f.fill(t, completeRecord())

	id, err := f.coord.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, "app-1", id)
	assert.Equal(t, []string{"app-1"}, f.gw.FullSubmits())

	state := f.coord.Snapshot()
	assert.True(t, state.Steps.Submitted)
	assert.Equal(t, models.StatusSubmitted, state.Record.Status)
	assert.False(t, state.Summary.ReadyToSubmit)

	submitted := f.events.Kinds(eventbus.ApplicationSubmitted)
	require.Len(t, submitted, 1)
	assert.Equal(t, "app-1", submitted[0].Payload)

	f.coord.WaitForNotifications()
	subs := f.notifier.Submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, "app-1", subs[0].ApplicationID)
	assert.Equal(t, parent.Email, subs[0].Guardian.Email)
	assert.Equal(t, "Grade 4", subs[0].Record.Student.GradeAppliedFor)

	_, err = f.coord.Submit(ctx)
	assert.ErrorIs(t, err, apperrors.ErrStepLocked)
	_, err = f.coord.CompleteStep(ctx, models.StepDeclaration)
	assert.ErrorIs(t, err, apperrors.ErrStepLocked)
	assert.Len(t, f.gw.FullSubmits(), 1)
}

func TestSubmit_IncompleteApplicationRejected(t *testing.T) {
	f := newFixture(t)
	f.auth.SignIn(parent, "token-1")
	f.fill(t, completeRecord().Only(models.SectionStudent))

	_, err := f.coord.Submit(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrValidationFailed)
	assert.Empty(t, f.gw.FullSubmits())
	assert.Empty(t, f.notifier.Submissions())
}

func TestSubmit_RemoteRejectionSurfacesReason(t *testing.T) {
	f := newFixture(t)
	f.auth.SignIn(parent, "token-1")
	f.fill(t, completeRecord())
	f.gw.SubmitFullFn = func(ctx context.Context, id string, payload fieldtransformer.Document) error {
		return &gateway.RemoteError{StatusCode: 409, Reason: "Grade 4 is full"}
	}

	_, err := f.coord.Submit(context.Background())
	require.Error(t, err)
	stdErr, ok := apperrors.AsStandard(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeSubmitFailed, stdErr.Code)
	assert.Equal(t, "Grade 4 is full", stdErr.Message)

	assert.False(t, f.coord.Snapshot().Steps.Submitted)
	f.coord.WaitForNotifications()
	assert.Empty(t, f.notifier.Submissions())
}

// ==========================
// Document Tests
// ==========================

func TestAttachDocument_AppendsDescriptor(t *testing.T) {
	f := newFixture(t)
	f.auth.SignIn(parent, "token-1")

	doc, err := f.coord.AttachDocument(context.Background(), gateway.Upload{
		DocumentType: "payslip",
		Filename:     "payslip-jan.pdf",
		ContentType:  "application/pdf",
		Size:         7,
		Content:      strings.NewReader("%PDF-1."),
	})
	require.NoError(t, err)
	assert.Equal(t, "doc-1", doc.ID)
	assert.Equal(t, "payslips", doc.Category)

	uploads := f.gw.Uploads()
	require.Len(t, uploads, 1)
	assert.Equal(t, "app-1", uploads[0].ApplicationID)

	docs := f.coord.Snapshot().Record.Documents
	require.Len(t, docs, 1)
	assert.Equal(t, "payslip-jan.pdf", docs[0].Filename)

	require.NoError(t, f.coord.RemoveDocument(context.Background(), "doc-1"))
	assert.Empty(t, f.coord.Snapshot().Record.Documents)
	assert.Error(t, f.coord.RemoveDocument(context.Background(), "doc-1"))
}

func TestAttachDocument_FailureLeavesRecordUntouched(t *testing.T) {
	f := newFixture(t)
	f.auth.SignIn(parent, "token-1")
	f.gw.UploadFn = func(ctx context.Context, upload gateway.Upload) (models.Document, error) {
		return models.Document{}, &gateway.RemoteError{StatusCode: 413, Reason: "File too large"}
	}

	_, err := f.coord.AttachDocument(context.Background(), gateway.Upload{DocumentType: "payslip", Filename: "big.pdf"})
	require.Error(t, err)
	stdErr, ok := apperrors.AsStandard(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeUploadFailed, stdErr.Code)
	assert.Equal(t, "File too large", stdErr.Message)
	assert.Empty(t, f.coord.Snapshot().Record.Documents)
}

// ==========================
// Review Summary Tests
// ==========================

func TestReviewSummary_TracksRecord(t *testing.T) {
	f := newFixture(t)
	f.auth.SignIn(parent, "token-1")

	summary := f.coord.ReviewSummary()
	require.Len(t, summary.Steps, models.StepDeclaration)
	assert.False(t, summary.ReadyToSubmit)
	for _, s := range summary.Steps {
		assert.False(t, s.Complete, s.Title)
	}

	full := completeRecord()
	f.fill(t, models.ApplicationRecord{Student: full.Student, Family: full.Family, Fee: full.Fee})
	summary = f.coord.ReviewSummary()
	assert.True(t, summary.Steps[0].Complete)
	assert.Equal(t, "Student & Guardian Info", summary.Steps[0].Title)
	assert.False(t, summary.ReadyToSubmit)

	f.fill(t, full)
	assert.True(t, f.coord.ReviewSummary().ReadyToSubmit)
}
