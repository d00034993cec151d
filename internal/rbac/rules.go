package rbac

const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
	// RoleCC is a course coordinator; first-line question reviewer.
	RoleCC = "cc"
	// RoleHOD is a head of department; resolves flagged questions.
	RoleHOD   = "hod"
	RoleAdmin = "admin"
)

const (
	PermContentView     = "content:view"
	PermAttemptTake     = "attempt:take"
	PermReviewSubmit    = "review:submit"
	PermReviewApprove   = "review:approve"
	PermReviewFlag      = "review:flag"
	PermReviewResolve   = "review:resolve" // approve or reject a flagged question
	PermReviewReject    = "review:reject"
	PermSecurityUnlock  = "security:unlock"
	PermAttemptsGrant   = "attempts:grant"
	PermProgressViewAll = "progress:view-all"
)

// RolePermissions is the default policy.
var RolePermissions = map[string][]string{
	RoleStudent: {
		PermContentView,
		PermAttemptTake,
	},
	RoleTeacher: {
		PermContentView,
		PermReviewSubmit,
		PermSecurityUnlock,
		PermAttemptsGrant,
		PermProgressViewAll,
	},
	RoleCC: {
		PermContentView,
		PermReviewSubmit,
		PermReviewApprove,
		PermReviewFlag,
		PermProgressViewAll,
	},
	RoleHOD: {
		PermContentView,
		"review:*",
		PermSecurityUnlock,
		PermAttemptsGrant,
		PermProgressViewAll,
	},
	RoleAdmin: {
		"*",
	},
}
