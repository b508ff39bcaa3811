package models

import "time"

// PromotionPolicy stores the threshold in force for a school year and class level.
type PromotionPolicy struct {
	ID         string    `db:"id" json:"id"`
	SchoolYear string    `db:"school_year" json:"school_year"`
	Level      string    `db:"level" json:"level"`
	Threshold  float64   `db:"threshold" json:"threshold"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// CurriculumSubject maps a subject to its coefficient for a class level.
type CurriculumSubject struct {
	Level       string  `db:"level" json:"level"`
	SubjectID   string  `db:"subject_id" json:"subject_id"`
	Coefficient float64 `db:"coefficient" json:"coefficient"`
	Required    bool    `db:"required" json:"required"`
}

// Curriculum is the coefficient table for a class level.
type Curriculum struct {
	Level    string              `json:"level"`
	Subjects []CurriculumSubject `json:"subjects"`
}

// Coefficients returns the subject→coefficient map.
func (c Curriculum) Coefficients() map[string]float64 {
	out := make(map[string]float64, len(c.Subjects))
	for _, s := range c.Subjects {
		out[s.SubjectID] = s.Coefficient
	}
	return out
}

// RequiredSubjects lists subjects that must be present in a general average.
func (c Curriculum) RequiredSubjects() []string {
	var out []string
	for _, s := range c.Subjects {
		if s.Required {
			out = append(out, s.SubjectID)
		}
	}
	return out
}

// ClassPlacement links a class to its level and the students enrolled for a school year.
type ClassPlacement struct {
	ClassID    string `db:"class_id" json:"class_id"`
	Level      string `db:"level" json:"level"`
	SchoolYear string `db:"school_year" json:"school_year"`
}

// ClassPolicy is the resolved policy a class is graded under for a school year.
type ClassPolicy struct {
	Placement  ClassPlacement `json:"placement"`
	Scale      GradeScale     `json:"scale"`
	Threshold  float64        `json:"promotion_threshold"`
	Curriculum Curriculum     `json:"curriculum"`
}
