package classifier

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"mailpipeline/internal/model"
	"mailpipeline/pkg/apperr"
	"mailpipeline/pkg/circuitbreaker"
	"mailpipeline/pkg/config"
)

func TestNewFactory(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.ClassifierConfig
		want    string
		wantErr bool
	}{
		{"stub", config.ClassifierConfig{Provider: "STUB"}, "*classifier.RuleBased", false},
		{"remote", config.ClassifierConfig{Provider: "remote", APIKey: "k"}, "*classifier.Guarded", false},
		{"remote without key", config.ClassifierConfig{Provider: "remote"}, "", true},
		{"unknown", config.ClassifierConfig{Provider: "gemini"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.cfg, zap.NewNop())
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got := typeName(c); got != tt.want {
				t.Errorf("type = %s, want %s", got, tt.want)
			}
		})
	}
}

func typeName(c Classifier) string {
	switch c.(type) {
	case *RuleBased:
		return "*classifier.RuleBased"
	case *Guarded:
		return "*classifier.Guarded"
	default:
		return "unknown"
	}
}

type failingClassifier struct {
	err   error
	calls int
}

func (f *failingClassifier) Classify(ctx context.Context, msg model.Message) (model.ClassificationResult, error) {
	f.calls++
	return model.ClassificationResult{}, f.err
}

func TestGuardedOpensOnUpstreamFailures(t *testing.T) {
	inner := &failingClassifier{err: &apperr.UpstreamError{Service: "classifier", StatusCode: 502}}
	breaker := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 2})
	g := NewGuarded(inner, breaker)

	for i := 0; i < 2; i++ {
		_, _ = g.Classify(context.Background(), model.Message{})
	}
	_, err := g.Classify(context.Background(), model.Message{})

	if !errors.Is(err, circuitbreaker.ErrOpen) {
		t.Errorf("err = %v, want ErrOpen", err)
	}
	if inner.calls != 2 {
		t.Errorf("inner calls = %d, want 2", inner.calls)
	}
}
