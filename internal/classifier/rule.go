package classifier

import (
	"context"
	"regexp"
	"strings"

	"mailpipeline/internal/model"
)

var (
	urgentPattern = regexp.MustCompile(`urgent|asap|immediately|important`)
	spamPattern   = regexp.MustCompile(`unsubscribe|win money|free|click here`)
)

// RuleBased 确定性的关键字分类器，用于本地和测试
type RuleBased struct{}

func NewRuleBased() *RuleBased {
	return &RuleBased{}
}

func (RuleBased) Classify(ctx context.Context, msg model.Message) (model.ClassificationResult, error) {
	text := strings.ToLower(msg.Subject + " " + msg.Body)
	urgent := urgentPattern.MatchString(text)
	spam := spamPattern.MatchString(text)

	result := model.ClassificationResult{
		Labels:          []model.Label{model.LabelWork},
		Priority:        model.PriorityMedium,
		SuggestedAction: model.ActionRead,
	}
	switch {
	case spam:
		result.Labels = []model.Label{model.LabelSpam}
	case urgent:
		result.Labels = []model.Label{model.LabelUrgent}
	}
	if urgent {
		result.Priority = model.PriorityHigh
	}
	if spam {
		result.SuggestedAction = model.ActionIgnore
	}

	if err := result.Validate(); err != nil {
		return model.ClassificationResult{}, err
	}
	return result, nil
}
