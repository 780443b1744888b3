package classifier

import (
	"context"
	"reflect"
	"testing"

	"mailpipeline/internal/model"
)

func TestRuleBasedClassify(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		body    string
		want    model.ClassificationResult
	}{
		{
			name:    "urgent",
			subject: "urgent",
			body:    "please reply",
			want:    model.ClassificationResult{Labels: []model.Label{model.LabelUrgent}, Priority: model.PriorityHigh, SuggestedAction: model.ActionRead},
		},
		{
			name:    "spam",
			subject: "Click HERE",
			body:    "to win money",
			want:    model.ClassificationResult{Labels: []model.Label{model.LabelSpam}, Priority: model.PriorityMedium, SuggestedAction: model.ActionIgnore},
		},
		{
			name:    "spam wins label but urgency keeps priority",
			subject: "IMPORTANT free offer",
			want:    model.ClassificationResult{Labels: []model.Label{model.LabelSpam}, Priority: model.PriorityHigh, SuggestedAction: model.ActionIgnore},
		},
		{
			name:    "plain work mail",
			subject: "weekly sync",
			body:    "notes attached",
			want:    model.ClassificationResult{Labels: []model.Label{model.LabelWork}, Priority: model.PriorityMedium, SuggestedAction: model.ActionRead},
		},
	}

	c := NewRuleBased()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Classify(context.Background(), model.Message{Subject: tt.subject, Body: tt.body})
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Classify = %+v, want %+v", got, tt.want)
			}
		})
	}
}
