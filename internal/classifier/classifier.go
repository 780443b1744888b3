package classifier

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailpipeline/internal/model"
	"mailpipeline/pkg/circuitbreaker"
	"mailpipeline/pkg/config"
	"mailpipeline/pkg/util"
)

// Classifier 邮件分类能力
type Classifier interface {
	Classify(ctx context.Context, msg model.Message) (model.ClassificationResult, error)
}

// Provider 分类器实现类型
type Provider string

const (
	ProviderStub   Provider = "stub"
	ProviderRemote Provider = "remote"
)

const defaultTimeout = 20 * time.Second

// New 按配置创建分类器；remote 需要 api_key，且外层包一层熔断
func New(cfg config.ClassifierConfig, logger *zap.Logger) (Classifier, error) {
	switch Provider(strings.ToLower(cfg.Provider)) {
	case ProviderStub:
		logger.Info("Using rule-based classifier")
		return NewRuleBased(), nil

	case ProviderRemote, "":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("classifier.api_key is required for remote provider")
		}
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		remote := NewRemote(cfg.BaseURL, cfg.APIKey, cfg.Model, &http.Client{Timeout: timeout})
		logger.Info("Using remote classifier",
			zap.String("endpoint", remote.endpoint),
			zap.String("model", remote.model),
		)

		breaker := circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.FailureThreshold,
			OpenTimeout:      cfg.OpenTimeout,
			IsFailure:        util.IsRetryable,
		})
		return NewGuarded(remote, breaker), nil

	default:
		return nil, fmt.Errorf("unknown classifier provider %q", cfg.Provider)
	}
}

// Guarded 熔断打开期间不再请求上游，直接返回 circuitbreaker.ErrOpen
type Guarded struct {
	next    Classifier
	breaker *circuitbreaker.CircuitBreaker
}

func NewGuarded(next Classifier, breaker *circuitbreaker.CircuitBreaker) *Guarded {
	return &Guarded{next: next, breaker: breaker}
}

func (g *Guarded) Classify(ctx context.Context, msg model.Message) (model.ClassificationResult, error) {
	var result model.ClassificationResult
	err := g.breaker.Execute(func() error {
		var err error
		result, err = g.next.Classify(ctx, msg)
		return err
	})
	return result, err
}
