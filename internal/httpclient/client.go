// Package httpclient собирает HTTP-клиенты для обращений к внешним системам: с
// клиентскими спанами OpenTelemetry и, при необходимости, повторами запросов.
package httpclient

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Options настраивает клиент.
type Options struct {
	// Name используется как имя трейсера и префикс имени спана.
	Name    string
	Timeout time.Duration

	// RetryMax задаёт число повторов после первой попытки, 0 отключает повторы.
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	Logger *zap.Logger
}

// New создаёт http.Client. Повторяются ошибки соединения и ответы 5xx; ответ 429
// возвращается вызывающему как есть, чтобы он сам учёл Retry-After. Если попытки
// исчерпаны, возвращается последний ответ сервера.
func New(opts Options) *http.Client {
	var next http.RoundTripper = cleanhttp.DefaultPooledTransport()

	if opts.RetryMax > 0 {
		rc := retryablehttp.NewClient()
		rc.HTTPClient = cleanhttp.DefaultPooledClient()
		rc.RetryMax = opts.RetryMax
		if opts.RetryWaitMin > 0 {
			rc.RetryWaitMin = opts.RetryWaitMin
		}
		if opts.RetryWaitMax > 0 {
			rc.RetryWaitMax = opts.RetryWaitMax
		}
		rc.CheckRetry = checkRetry
		rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
		rc.Logger = nil
		if opts.Logger != nil {
			rc.Logger = leveledLogger{opts.Logger.Sugar()}
		}
		next = &retryablehttp.RoundTripper{Client: rc}
	}

	return &http.Client{
		Timeout: opts.Timeout,
		Transport: &tracingTransport{
			name:   opts.Name,
			tracer: otel.Tracer(opts.Name),
			next:   next,
		},
	}
}

func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// tracingTransport оборачивает запрос, включая все его повторы, в клиентский спан.
type tracingTransport struct {
	name   string
	tracer trace.Tracer
	next   http.RoundTripper
}

func (t *tracingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, span := t.tracer.Start(req.Context(), t.name+" "+req.Method+" "+req.URL.Path,
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("http.url", req.URL.String()),
		attribute.String("http.method", req.Method),
	)

	req = req.Clone(ctx)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := t.next.RoundTrip(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, resp.Status)
	}
	return resp, nil
}

type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Infow(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
