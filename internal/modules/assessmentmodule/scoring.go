package assessmentmodule

import (
	"math"

	"github.com/talentvine/webdesk/internal/candidateclient"
	"github.com/talentvine/webdesk/internal/modules/questionmodule"
)

// Answer is one submitted answer, keyed by question id.
type Answer struct {
	QuestionID string `json:"questionId"`
	Value      string `json:"answer"`
}

// scoreAnswers grades submitted answers against the question set.
// Multiple-choice answers are auto-graded against the answer key;
// free-text and code answers pass through ungraded, with IsCorrect
// omitted. The score is the percentage of gradeable points earned.
func scoreAnswers(set *questionmodule.QuestionSet, answers []Answer) (float64, []candidateclient.Response) {
	responses := make([]candidateclient.Response, 0, len(answers))

	earned := 0
	gradeable := 0
	if set != nil {
		for _, q := range set.Questions {
			if q.Type == questionmodule.TypeMultipleChoice {
				gradeable += q.Points
			}
		}
	}

	for _, ans := range answers {
		resp := candidateclient.Response{
			QuestionID: ans.QuestionID,
			Answer:     ans.Value,
		}

		if set != nil {
			if q, ok := set.Question(ans.QuestionID); ok && q.Type == questionmodule.TypeMultipleChoice {
				correct := ans.Value == q.CorrectOption
				resp.IsCorrect = &correct
				if correct {
					earned += q.Points
				}
			}
		}

		responses = append(responses, resp)
	}

	if gradeable == 0 {
		return 0, responses
	}

	score := float64(earned) / float64(gradeable) * 100
	return math.Round(score*100) / 100, responses
}
