package models

import "time"

// Audit actions recorded for academic record mutations.
const (
	AuditActionPlanCreate       = "PLAN_CREATE"
	AuditActionEvaluationOpen   = "EVALUATION_OPEN"
	AuditActionGradeRecord      = "GRADE_RECORD"
	AuditActionGradeCorrect     = "GRADE_CORRECT"
	AuditActionPlanClose        = "PLAN_CLOSE"
	AuditActionAverageCompute   = "AVERAGE_COMPUTE"
	AuditActionAverageFinalize  = "AVERAGE_FINALIZE"
	AuditActionAverageSupersede = "AVERAGE_SUPERSEDE"
	AuditActionPromotionDecide  = "PROMOTION_DECIDE"
	AuditActionBatchAverages    = "BATCH_AVERAGES"
	AuditActionRegisterGenerate = "REGISTER_GENERATE"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
