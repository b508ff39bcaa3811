package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-records-api/internal/models"
	"github.com/noah-isme/sma-records-api/internal/repository"
	"github.com/noah-isme/sma-records-api/pkg/config"
)

const (
	testClass = "C1"
	testYear  = "2024-2025"
	testLevel = "L1"
)

type fakePolicyRepo struct {
	mu              sync.Mutex
	thresholds      map[string]float64
	curriculum      map[string][]models.CurriculumSubject
	curriculumCalls int
}

func newFakePolicyRepo() *fakePolicyRepo {
	return &fakePolicyRepo{
		thresholds: map[string]float64{},
		curriculum: map[string][]models.CurriculumSubject{
			testLevel: {
				{Level: testLevel, SubjectID: "MATH", Coefficient: 3, Required: true},
				{Level: testLevel, SubjectID: "PHYS", Coefficient: 2, Required: true},
				{Level: testLevel, SubjectID: "ART", Coefficient: 1, Required: false},
			},
		},
	}
}

func (f *fakePolicyRepo) FindPromotionPolicy(ctx context.Context, schoolYear, level string) (*models.PromotionPolicy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	threshold, ok := f.thresholds[schoolYear+"/"+level]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &models.PromotionPolicy{SchoolYear: schoolYear, Level: level, Threshold: threshold}, nil
}

func (f *fakePolicyRepo) ListCurriculum(ctx context.Context, level string) ([]models.CurriculumSubject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.curriculumCalls++
	return f.curriculum[level], nil
}

type fakePlacements map[string]models.ClassPlacement

func (f fakePlacements) FindPlacement(ctx context.Context, classID, schoolYear string) (*models.ClassPlacement, error) {
	placement, ok := f[classID+"/"+schoolYear]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &placement, nil
}

func defaultPlacements() fakePlacements {
	return fakePlacements{testClass + "/" + testYear: {ClassID: testClass, Level: testLevel, SchoolYear: testYear}}
}

func testPolicyConfig() config.PolicyConfig {
	return config.PolicyConfig{
		GradeScaleMin:          0,
		GradeScaleMax:          20,
		PromotionThreshold:     10,
		InterrogationsPlanned:  2,
		HomeworksPlanned:       1,
		FinalEvaluationPlanned: true,
		EligibilityMode:        config.EligibilityAll,
	}
}

func newTestPolicy(repo *fakePolicyRepo) *PolicyService {
	return NewPolicyService(repo, defaultPlacements(), nil, testPolicyConfig(), zap.NewNop())
}

// fakePlanStore backs the evaluation plan service and the plan lister. Grades it
// accepts land in grades, which also serves as the grade reader.
type fakePlanStore struct {
	mu          sync.Mutex
	seq         int
	plans       map[string]*models.EvaluationPlan
	evaluations map[string]models.Evaluation
	grades      *fakeGradeStore
}

func newFakePlanStore() *fakePlanStore {
	return &fakePlanStore{
		plans:       map[string]*models.EvaluationPlan{},
		evaluations: map[string]models.Evaluation{},
		grades:      &fakeGradeStore{},
	}
}

func (f *fakePlanStore) add(plan models.EvaluationPlan) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := plan
	f.plans[p.ID] = &p
}

func (f *fakePlanStore) Create(ctx context.Context, plan *models.EvaluationPlan) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.plans {
		if existing.SchoolYear == plan.SchoolYear && existing.TermID == plan.TermID && existing.ClassID == plan.ClassID &&
			existing.SubjectID == plan.SubjectID && existing.TeacherID == plan.TeacherID {
			return repository.ErrDuplicate
		}
	}
	f.seq++
	plan.ID = fmt.Sprintf("plan-%d", f.seq)
	p := *plan
	f.plans[p.ID] = &p
	return nil
}

func (f *fakePlanStore) FindByID(ctx context.Context, id string) (*models.EvaluationPlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	plan, ok := f.plans[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	p := *plan
	return &p, nil
}

func (f *fakePlanStore) OpenEvaluation(ctx context.Context, planID string, evaluation *models.Evaluation, apply func(*models.EvaluationPlan) error) (*models.EvaluationPlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.plans[planID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	plan := *stored
	if err := apply(&plan); err != nil {
		return nil, err
	}
	sequence := 1
	for _, e := range f.evaluations {
		if e.PlanID == planID && e.Kind == evaluation.Kind && e.Sequence >= sequence {
			sequence = e.Sequence + 1
		}
	}
	f.seq++
	evaluation.ID = fmt.Sprintf("eval-%d", f.seq)
	evaluation.PlanID = planID
	evaluation.Sequence = sequence
	f.evaluations[evaluation.ID] = *evaluation
	*stored = plan
	out := plan
	return &out, nil
}

func (f *fakePlanStore) ListEvaluations(ctx context.Context, planID string) ([]models.Evaluation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Evaluation
	for _, e := range f.evaluations {
		if e.PlanID == planID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out, nil
}

func (f *fakePlanStore) RecordGrade(ctx context.Context, planID string, entry *models.GradeEntry, check func(*models.EvaluationPlan, *models.Evaluation) error) (*models.EvaluationPlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.plans[planID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	evaluation, ok := f.evaluations[entry.EvaluationID]
	if !ok || evaluation.PlanID != planID {
		return nil, sql.ErrNoRows
	}
	plan := *stored
	if err := check(&plan, &evaluation); err != nil {
		return nil, err
	}
	for _, g := range f.grades.entries {
		if g.EvaluationID == entry.EvaluationID && g.StudentID == entry.StudentID {
			return nil, repository.ErrDuplicate
		}
	}
	f.seq++
	entry.ID = fmt.Sprintf("grade-%d", f.seq)
	entry.PlanID = plan.ID
	entry.Kind = evaluation.Kind
	entry.ClassID = plan.ClassID
	entry.SubjectID = plan.SubjectID
	entry.TermID = plan.TermID
	entry.SchoolYear = plan.SchoolYear
	f.grades.entries = append(f.grades.entries, *entry)
	return &plan, nil
}

func (f *fakePlanStore) WithdrawGrade(ctx context.Context, planID, gradeID string, check func(*models.EvaluationPlan) error) (*models.EvaluationPlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.plans[planID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	plan := *stored
	if err := check(&plan); err != nil {
		return nil, err
	}
	kept := f.grades.entries[:0]
	found := false
	for _, g := range f.grades.entries {
		if g.ID == gradeID && g.PlanID == planID {
			found = true
			continue
		}
		kept = append(kept, g)
	}
	if !found {
		return nil, sql.ErrNoRows
	}
	f.grades.entries = kept
	return &plan, nil
}

func (f *fakePlanStore) WithdrawEvaluation(ctx context.Context, planID, evaluationID string, revert func(*models.EvaluationPlan, models.GradeKind) error) (*models.EvaluationPlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.plans[planID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	evaluation, ok := f.evaluations[evaluationID]
	if !ok || evaluation.PlanID != planID {
		return nil, sql.ErrNoRows
	}
	plan := *stored
	if err := revert(&plan, evaluation.Kind); err != nil {
		return nil, err
	}
	kept := f.grades.entries[:0]
	for _, g := range f.grades.entries {
		if g.EvaluationID != evaluationID {
			kept = append(kept, g)
		}
	}
	f.grades.entries = kept
	delete(f.evaluations, evaluationID)
	*stored = plan
	out := plan
	return &out, nil
}

func (f *fakePlanStore) Lock(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	plan, ok := f.plans[id]
	if !ok {
		return sql.ErrNoRows
	}
	plan.Locked = true
	return nil
}

func (f *fakePlanStore) ListByClass(ctx context.Context, classID, schoolYear, termID string) ([]models.EvaluationPlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.EvaluationPlan
	for _, p := range f.plans {
		if p.ClassID != classID || p.SchoolYear != schoolYear {
			continue
		}
		if termID != "" && p.TermID != termID {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// completedPlan returns a plan whose counters match its targets.
func completedPlan(id, subjectID, termID string) models.EvaluationPlan {
	return models.EvaluationPlan{
		ID:                      id,
		SchoolYear:              testYear,
		TermID:                  termID,
		ClassID:                 testClass,
		SubjectID:               subjectID,
		TeacherID:               "T-" + subjectID,
		InterrogationsPlanned:   2,
		InterrogationsCompleted: 2,
		HomeworksPlanned:        1,
		HomeworksCompleted:      1,
	}
}

type fakeGradeStore struct {
	entries []models.GradeEntry
}

func (f *fakeGradeStore) add(studentID, subjectID, termID string, values ...float64) {
	for _, v := range values {
		f.entries = append(f.entries, models.GradeEntry{
			ID:         fmt.Sprintf("g-%d", len(f.entries)+1),
			StudentID:  studentID,
			ClassID:    testClass,
			SubjectID:  subjectID,
			TermID:     termID,
			SchoolYear: testYear,
			Kind:       models.GradeKindInterrogation,
			Value:      v,
		})
	}
}

func (f *fakeGradeStore) List(ctx context.Context, filter models.GradeFilter) ([]models.GradeEntry, error) {
	var out []models.GradeEntry
	for _, g := range f.entries {
		if filter.StudentID != "" && g.StudentID != filter.StudentID {
			continue
		}
		if filter.SchoolYear != "" && g.SchoolYear != filter.SchoolYear {
			continue
		}
		if filter.TermID != "" && g.TermID != filter.TermID {
			continue
		}
		out = append(out, g)
	}
	return out, nil
}

func (f *fakeGradeStore) FetchByStudents(ctx context.Context, studentIDs []string, schoolYear, termID string) (map[string][]models.GradeEntry, error) {
	wanted := make(map[string]bool, len(studentIDs))
	for _, id := range studentIDs {
		wanted[id] = true
	}
	out := make(map[string][]models.GradeEntry)
	for _, g := range f.entries {
		if !wanted[g.StudentID] || g.SchoolYear != schoolYear || (termID != "" && g.TermID != termID) {
			continue
		}
		out[g.StudentID] = append(out[g.StudentID], g)
	}
	return out, nil
}

type fakeAverageRepo struct {
	mu         sync.Mutex
	seq        int
	calcs      map[string]*models.AverageCalculation
	promotions *fakePromotionRepo
}

func newFakeAverageRepo() *fakeAverageRepo {
	return &fakeAverageRepo{calcs: map[string]*models.AverageCalculation{}}
}

func (f *fakeAverageRepo) live(key models.CalculationKey) *models.AverageCalculation {
	for _, c := range f.calcs {
		if c.SupersededAt == nil && c.Key() == key {
			return c
		}
	}
	return nil
}

func (f *fakeAverageRepo) put(calc models.AverageCalculation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := calc
	f.calcs[c.ID] = &c
}

func (f *fakeAverageRepo) Create(ctx context.Context, calc *models.AverageCalculation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.live(calc.Key()) != nil {
		return repository.ErrDuplicate
	}
	if calc.ID == "" {
		f.seq++
		calc.ID = fmt.Sprintf("calc-%d", f.seq)
	}
	c := *calc
	f.calcs[c.ID] = &c
	return nil
}

func (f *fakeAverageRepo) UpdateDraft(ctx context.Context, calc *models.AverageCalculation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.calcs[calc.ID]
	if !ok || stored.IsFinalized || stored.SupersededAt != nil {
		return sql.ErrNoRows
	}
	*stored = *calc
	return nil
}

func (f *fakeAverageRepo) FindByID(ctx context.Context, id string) (*models.AverageCalculation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.calcs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	c := *stored
	return &c, nil
}

func (f *fakeAverageRepo) FindCurrent(ctx context.Context, key models.CalculationKey) (*models.AverageCalculation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := f.live(key)
	if stored == nil {
		return nil, sql.ErrNoRows
	}
	c := *stored
	return &c, nil
}

func (f *fakeAverageRepo) MarkFinalized(ctx context.Context, calc *models.AverageCalculation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.calcs[calc.ID]
	if !ok || stored.IsFinalized || stored.SupersededAt != nil {
		return sql.ErrNoRows
	}
	*stored = *calc
	return nil
}

func (f *fakeAverageRepo) Supersede(ctx context.Context, prior, draft *models.AverageCalculation) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.calcs[prior.ID]
	if !ok || !stored.IsFinalized || stored.SupersededAt != nil {
		return 0, sql.ErrNoRows
	}
	*stored = *prior
	d := *draft
	f.calcs[d.ID] = &d
	if f.promotions == nil {
		return 0, nil
	}
	return f.promotions.retract(prior.ID, *prior.SupersededAt), nil
}

func (f *fakeAverageRepo) List(ctx context.Context, filter models.CalculationFilter) ([]models.AverageCalculation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.AverageCalculation
	for _, c := range f.calcs {
		if c.SupersededAt != nil || c.ClassID != filter.ClassID || c.SchoolYear != filter.SchoolYear {
			continue
		}
		if filter.Scope != "" && c.Scope != filter.Scope {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

type fakePromotionRepo struct {
	mu      sync.Mutex
	results map[string]models.PromotionResult
}

func newFakePromotionRepo() *fakePromotionRepo {
	return &fakePromotionRepo{results: map[string]models.PromotionResult{}}
}

func (f *fakePromotionRepo) retract(calculationID string, at time.Time) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, r := range f.results {
		if r.CalculationID == calculationID && r.RetractedAt == nil {
			r.RetractedAt = &at
			f.results[id] = r
			n++
		}
	}
	return n
}

func (f *fakePromotionRepo) Create(ctx context.Context, result *models.PromotionResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.results {
		if existing.RetractedAt == nil && existing.StudentID == result.StudentID && existing.FromSchoolYear == result.FromSchoolYear {
			return repository.ErrDuplicate
		}
	}
	result.ID = fmt.Sprintf("promo-%d", len(f.results)+1)
	f.results[result.ID] = *result
	return nil
}

func (f *fakePromotionRepo) FindByID(ctx context.Context, id string) (*models.PromotionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result, ok := f.results[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &result, nil
}

func (f *fakePromotionRepo) List(ctx context.Context, filter models.PromotionFilter) ([]models.PromotionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.PromotionResult
	for _, r := range f.results {
		if r.RetractedAt == nil && r.FromClassID == filter.ClassID && r.FromSchoolYear == filter.SchoolYear {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

type fakeRoster map[string][]string

func (f fakeRoster) ListStudentIDs(ctx context.Context, classID, schoolYear string) ([]string, error) {
	return f[classID+"/"+schoolYear], nil
}
