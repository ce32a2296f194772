package hermes

const (
	SubjectImportanceRatedAll = "redflag.importance.*.rated"
	SubjectWeightsRecomputed  = "redflag.weights.recomputed"
	SubjectAuditFailed        = "redflag.audit.failed"

	StreamName   = "REDFLAG_EVENTS"
	StreamMaxAge = "720h" // 30 days
)

// StreamSubjects are the subjects captured by the JetStream stream.
var StreamSubjects = []string{
	"redflag.analysis.>",
	"redflag.importance.>",
	"redflag.weights.>",
	"redflag.credits.>",
	"redflag.audit.>",
}

// Analysis lifecycle subjects
func SubjectAnalysisSubmitted(resultID string) string { return "redflag.analysis." + resultID + ".submitted" }
func SubjectAnalysisUnlocked(resultID string) string  { return "redflag.analysis." + resultID + ".unlocked" }

func SubjectImportanceRated(userID string) string { return "redflag.importance." + userID + ".rated" }

func SubjectCreditsGranted(userID string) string { return "redflag.credits." + userID + ".granted" }
func SubjectCreditsRefused(userID string) string { return "redflag.credits." + userID + ".refused" }
