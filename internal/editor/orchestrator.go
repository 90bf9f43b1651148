package editor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"picprompter/internal/domain"
	"picprompter/internal/history"
	"picprompter/internal/infra"
	"picprompter/internal/infra/safehttp"
	"picprompter/internal/media"
)

// DefaultTimeout bounds a single generation or edit.
const DefaultTimeout = 90 * time.Second

// Generator renders and edits images.
type Generator interface {
	Generate(ctx context.Context, prompt, referenceImage string) domain.GenerationResult
	Edit(ctx context.Context, baseImage, prompt string) domain.GenerationResult
}

// ImageUploader persists a data URI image and returns a public URL.
type ImageUploader interface {
	Upload(ctx context.Context, dataURI, prompt string) (string, error)
}

// Options configures an Orchestrator.
type Options struct {
	Timeout time.Duration
	// AppendOnEditFailure keeps the legacy behaviour of recording a failed
	// edit as a version that repeats the base image.
	AppendOnEditFailure bool
	// Guard vets remote image references before they are stored or sent to
	// the generator. Nil refuses every non-public host.
	Guard  *safehttp.Guard
	Logger *infra.Logger
	Now    func() time.Time
}

// Orchestrator drives generate and edit requests against sessions. It is the
// only writer of session histories.
type Orchestrator struct {
	gen                 Generator
	uploader            ImageUploader
	timeout             time.Duration
	appendOnEditFailure bool
	guard               *safehttp.Guard
	logger              *infra.Logger
	now                 func() time.Time
}

// NewOrchestrator wires the generator and an optional uploader.
func NewOrchestrator(gen Generator, uploader ImageUploader, opts Options) *Orchestrator {
	o := &Orchestrator{
		gen:                 gen,
		uploader:            uploader,
		timeout:             opts.Timeout,
		appendOnEditFailure: opts.AppendOnEditFailure,
		guard:               opts.Guard,
		logger:              opts.Logger,
		now:                 opts.Now,
	}
	if o.timeout <= 0 {
		o.timeout = DefaultTimeout
	}
	if o.logger == nil {
		o.logger = infra.DiscardLogger()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.guard == nil {
		o.guard = safehttp.NewGuard()
	}
	return o
}

// Seed loads imageRef as the original image of an empty session.
func (o *Orchestrator) Seed(s *Session, imageRef string) (domain.ImageVersion, error) {
	imageRef = strings.TrimSpace(imageRef)
	if imageRef == "" {
		return domain.ImageVersion{}, fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrNoImage)
	}
	if err := o.checkRef(imageRef); err != nil {
		return domain.ImageVersion{}, err
	}
	v := o.newVersion(s, domain.OriginalDescription, imageRef)
	if err := s.History.Load(v); err != nil {
		return domain.ImageVersion{}, err
	}
	s.touch()
	return v, nil
}

// Generate renders a new image and appends it to the session. An empty
// session is seeded with the result as its original. Failures leave the
// history untouched and are returned as *domain.GenerationFailure.
func (o *Orchestrator) Generate(ctx context.Context, s *Session, req domain.GenerationRequest) (domain.ImageVersion, error) {
	if err := o.validate(&req); err != nil {
		return domain.ImageVersion{}, err
	}
	rctx, done, err := s.begin(ctx, o.timeout)
	if err != nil {
		return domain.ImageVersion{}, err
	}
	defer done()

	log := o.logger.With().Str("session_id", s.ID).Str("op", "generate").Logger()
	result := o.gen.Generate(rctx, req.Prompt, req.ReferenceImage)
	if canceled(rctx) {
		log.Info().Msg("editor: request canceled")
		return domain.ImageVersion{}, domain.ErrCanceled
	}
	if err := result.Err(); err != nil {
		return domain.ImageVersion{}, o.fail(s, &log, err)
	}

	ref := o.persist(rctx, &log, result.ImageRef, req.Prompt)
	if canceled(rctx) {
		log.Info().Msg("editor: request canceled")
		return domain.ImageVersion{}, domain.ErrCanceled
	}

	s.recordFailure(nil)
	if !s.History.Loaded() {
		v := o.newVersion(s, domain.OriginalDescription, ref)
		if err := s.History.Load(v); err != nil {
			return domain.ImageVersion{}, err
		}
		log.Info().Str("version_id", v.ID).Msg("editor: session seeded")
		return v, nil
	}
	v := o.newVersion(s, req.Prompt, ref)
	if _, err := s.History.Append(v); err != nil {
		return domain.ImageVersion{}, err
	}
	log.Info().Str("version_id", v.ID).Int("versions", s.History.Len()).Msg("editor: version appended")
	return v, nil
}

// Edit applies prompt to the version under the cursor.
func (o *Orchestrator) Edit(ctx context.Context, s *Session, prompt string) (domain.ImageVersion, error) {
	req := domain.GenerationRequest{Prompt: prompt}
	if err := req.Validate(); err != nil {
		return domain.ImageVersion{}, err
	}
	base, ok := s.History.Current()
	if !ok {
		return domain.ImageVersion{}, fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrNoImage)
	}
	rctx, done, err := s.begin(ctx, o.timeout)
	if err != nil {
		return domain.ImageVersion{}, err
	}
	defer done()

	log := o.logger.With().Str("session_id", s.ID).Str("op", "edit").Str("base_id", base.ID).Logger()
	result := o.gen.Edit(rctx, base.ImageRef, req.Prompt)
	if canceled(rctx) {
		log.Info().Msg("editor: request canceled")
		return domain.ImageVersion{}, domain.ErrCanceled
	}
	if err := result.Err(); err != nil {
		if !o.appendOnEditFailure {
			return domain.ImageVersion{}, o.fail(s, &log, err)
		}
		var failure *domain.GenerationFailure
		errors.As(err, &failure)
		s.recordFailure(failure)
		v := o.newVersion(s, req.Prompt, base.ImageRef)
		if _, err := s.History.Append(v); err != nil {
			return domain.ImageVersion{}, err
		}
		log.Warn().Err(err).Str("version_id", v.ID).Msg("editor: edit failed; kept base image as new version")
		return v, nil
	}

	ref := o.persist(rctx, &log, result.ImageRef, req.Prompt)
	if canceled(rctx) {
		log.Info().Msg("editor: request canceled")
		return domain.ImageVersion{}, domain.ErrCanceled
	}
	s.recordFailure(nil)
	v := o.newVersion(s, req.Prompt, ref)
	if _, err := s.History.Append(v); err != nil {
		return domain.ImageVersion{}, err
	}
	log.Info().Str("version_id", v.ID).Int("versions", s.History.Len()).Msg("editor: version appended")
	return v, nil
}

// Cancel aborts the pending request of s. It reports whether one was
// pending.
func (o *Orchestrator) Cancel(s *Session) bool {
	return s.abort()
}

// Render generates an image outside any session, as the landing page does
// before the user opens the editor.
func (o *Orchestrator) Render(ctx context.Context, req domain.GenerationRequest) (string, error) {
	if err := o.validate(&req); err != nil {
		return "", err
	}
	rctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	log := o.logger.With().Str("op", "render").Logger()
	result := o.gen.Generate(rctx, req.Prompt, req.ReferenceImage)
	if err := result.Err(); err != nil {
		log.Info().Err(err).Msg("editor: render failed")
		return "", err
	}
	return o.persist(rctx, &log, result.ImageRef, req.Prompt), nil
}

// persist uploads data URI results and falls back to the data URI when the
// upload fails. Remote references are kept as they are.
func (o *Orchestrator) persist(ctx context.Context, log *infra.Logger, ref, prompt string) string {
	if o.uploader == nil || !media.IsDataURI(ref) {
		return ref
	}
	url, err := o.uploader.Upload(ctx, ref, prompt)
	if err != nil || url == "" {
		log.Warn().Err(err).Msg("editor: storage upload failed; keeping inline image")
		return ref
	}
	return url
}

func (o *Orchestrator) validate(req *domain.GenerationRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if req.ReferenceImage == "" {
		return nil
	}
	return o.checkRef(req.ReferenceImage)
}

// checkRef accepts data URIs and http(s) URLs that the guard lets through.
func (o *Orchestrator) checkRef(ref string) error {
	switch {
	case media.IsDataURI(ref):
		return nil
	case media.IsRemoteURL(ref):
		if err := o.guard.CheckURL(ref); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrValidation, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: image reference must be a data URI or an http(s) URL", domain.ErrValidation)
	}
}

func (o *Orchestrator) fail(s *Session, log *infra.Logger, err error) error {
	var failure *domain.GenerationFailure
	if errors.As(err, &failure) {
		s.recordFailure(failure)
		log.Info().Str("kind", string(failure.Kind)).Msg("editor: request failed")
		return failure
	}
	log.Error().Err(err).Msg("editor: request failed")
	return err
}

func (o *Orchestrator) newVersion(s *Session, description, ref string) domain.ImageVersion {
	now := o.now()
	return domain.ImageVersion{
		ID:          uuid.NewString(),
		Timestamp:   history.Clock(now, s.Locale),
		Description: description,
		ImageRef:    ref,
		CreatedAt:   now.UTC(),
	}
}

func canceled(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), domain.ErrCanceled)
}
