// Package resolve turns a filename and a text sample into a validated "Title - Author" name
// using a cheap filename-only query first and a content-based query when that is not enough.
package resolve

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/bookrenamer/constants"
	"github.com/joseph-ayodele/bookrenamer/internal/common"
	"github.com/joseph-ayodele/bookrenamer/internal/llm"
	"github.com/joseph-ayodele/bookrenamer/internal/naming"
)

type Phase string

const (
	PhasePrimary  Phase = "primary"
	PhaseFallback Phase = "fallback"
)

// Request is one outbound query. It is built once per phase and not modified afterwards.
type Request struct {
	Phase     Phase
	Model     string
	Prompt    string
	MaxTokens int
}

type OutcomeKind int

const (
	OutcomeResolved OutcomeKind = iota
	OutcomeEscalate
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeResolved:
		return "resolved"
	case OutcomeEscalate:
		return "escalate"
	default:
		return "failed"
	}
}

// Outcome is the result of a phase or of a whole resolution.
// TokenCost sums the usage of every call that returned a parseable response.
type Outcome struct {
	Kind      OutcomeKind
	Name      naming.ValidName
	Reason    string
	Failure   constants.FailureKind
	Phase     Phase
	TokenCost int
	Calls     int
	Err       error

	Language          string
	LanguageDefaulted bool
}

// Options are the immutable inputs of a Resolver.
type Options struct {
	PrimaryModel        string
	FallbackModel       string
	PrimaryMaxTokens    int
	FallbackMaxTokens   int
	Sentinel            string
	DefaultLanguage     string
	LanguageSampleChars int
	FallbackSampleChars int
}

func (o *Options) applyDefaults() {
	if o.Sentinel == "" {
		o.Sentinel = constants.MoreSentinel
	}
	if o.DefaultLanguage == "" {
		o.DefaultLanguage = constants.DefaultLanguage
	}
	if o.LanguageSampleChars <= 0 {
		o.LanguageSampleChars = constants.LanguageSampleChars
	}
	if o.FallbackSampleChars <= 0 {
		o.FallbackSampleChars = constants.FallbackSampleChars
	}
	if o.PrimaryMaxTokens <= 0 {
		o.PrimaryMaxTokens = 128
	}
	if o.FallbackMaxTokens <= 0 {
		o.FallbackMaxTokens = 1024
	}
}

type Resolver struct {
	completer llm.Completer
	detector  Detector
	opts      Options
	logger    *slog.Logger
}

func NewResolver(completer llm.Completer, detector Detector, opts Options, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if detector == nil {
		detector = NewWhatlangDetector()
	}
	opts.applyDefaults()
	return &Resolver{completer: completer, detector: detector, opts: opts, logger: logger}
}

// Resolve runs the primary phase and, only when it returns the sentinel, exactly one
// fallback call. It never returns OutcomeEscalate and never retries a failed phase.
func (r *Resolver) Resolve(ctx context.Context, stem, sampleText string) Outcome {
	start := time.Now()
	lang, defaulted := r.DetectLanguage(sampleText)

	out := r.Primary(ctx, stem, lang)
	if out.Kind == OutcomeEscalate {
		r.logger.Info("resolve.fallback",
			"req_id", common.RequestIDFromContext(ctx),
			"stem", stem,
			"sample_len", len(sampleText),
		)
		fb := r.Fallback(ctx, stem, sampleText)
		fb.TokenCost += out.TokenCost
		fb.Calls += out.Calls
		out = fb
	}
	out.Language = lang
	out.LanguageDefaulted = defaulted

	r.logger.Info("resolve.done",
		"req_id", common.RequestIDFromContext(ctx),
		"stem", stem,
		"outcome", out.Kind.String(),
		"phase", out.Phase,
		"name", out.Name.String(),
		"reason", out.Reason,
		"tokens", out.TokenCost,
		"calls", out.Calls,
		"lang", lang,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out
}

// DetectLanguage detects the language of the leading slice of the sample. Detection
// problems only ever produce the default code.
func (r *Resolver) DetectLanguage(sampleText string) (string, bool) {
	slice := firstRunes(sampleText, r.opts.LanguageSampleChars)
	code, ok := r.detector.Detect(slice)
	if !ok || code == "" {
		return r.opts.DefaultLanguage, true
	}
	return code, false
}

// Primary asks about the filename alone. The result is Resolved, Failed or Escalate.
func (r *Resolver) Primary(ctx context.Context, stem, lang string) Outcome {
	req := Request{
		Phase:     PhasePrimary,
		Model:     r.opts.PrimaryModel,
		Prompt:    PrimaryPrompt(stem, lang, r.opts.Sentinel),
		MaxTokens: r.opts.PrimaryMaxTokens,
	}
	reply, tokens, err := r.call(ctx, req)
	if err != nil {
		return failedCall(req.Phase, "primary call error", err)
	}
	if llm.IsSentinel(reply, r.opts.Sentinel) {
		return Outcome{Kind: OutcomeEscalate, Phase: req.Phase, Reason: "filename insufficient", TokenCost: tokens, Calls: 1}
	}
	return accept(req.Phase, reply, tokens)
}

// Fallback asks for title and author from the document content.
func (r *Resolver) Fallback(ctx context.Context, stem, sampleText string) Outcome {
	req := Request{
		Phase:     PhaseFallback,
		Model:     r.opts.FallbackModel,
		Prompt:    FallbackPrompt(stem, firstRunes(sampleText, r.opts.FallbackSampleChars)),
		MaxTokens: r.opts.FallbackMaxTokens,
	}
	reply, tokens, err := r.call(ctx, req)
	if err != nil {
		return failedCall(req.Phase, "fallback call error", err)
	}
	return accept(req.Phase, reply, tokens)
}

func (r *Resolver) call(ctx context.Context, req Request) (string, int, error) {
	res, err := r.completer.Complete(ctx, llm.CompletionRequest{
		Model:     req.Model,
		Prompt:    req.Prompt,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		r.logger.Warn("resolve.call_error",
			"req_id", common.RequestIDFromContext(ctx),
			"phase", req.Phase,
			"model", req.Model,
			"error", err,
		)
		return "", 0, err
	}
	tokens := res.TotalTokens
	if tokens < 0 {
		tokens = 0
	}
	return llm.CleanReply(res.Text), tokens, nil
}

func accept(phase Phase, reply string, tokens int) Outcome {
	name, err := naming.Validate(reply)
	if err != nil {
		return Outcome{
			Kind:      OutcomeFailed,
			Phase:     phase,
			Failure:   constants.FailureValidationRejection,
			Reason:    "validation rejection: " + err.Error(),
			TokenCost: tokens,
			Calls:     1,
			Err:       err,
		}
	}
	return Outcome{Kind: OutcomeResolved, Phase: phase, Name: name, TokenCost: tokens, Calls: 1}
}

func failedCall(phase Phase, reason string, err error) Outcome {
	detail := err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		detail = "timeout"
	}
	return Outcome{
		Kind:    OutcomeFailed,
		Phase:   phase,
		Failure: constants.FailureServiceCall,
		Reason:  reason + ": " + detail,
		Calls:   1,
		Err:     err,
	}
}
