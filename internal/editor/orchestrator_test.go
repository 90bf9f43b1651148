package editor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"picprompter/internal/domain"
	"picprompter/internal/infra/safehttp"
)

const (
	pngA = "data:image/png;base64,QUFB"
	pngB = "data:image/png;base64,QkJC"
)

type fakeGenerator struct {
	mu      sync.Mutex
	results []domain.GenerationResult
	calls   []string
	bases   []string
	block   chan struct{}
	started chan struct{}
}

func (f *fakeGenerator) next(ctx context.Context, call, base string) domain.GenerationResult {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.bases = append(f.bases, base)
	var res domain.GenerationResult
	if len(f.results) > 0 {
		res = f.results[0]
		f.results = f.results[1:]
	} else {
		res = domain.Succeeded(pngB)
	}
	block, started := f.block, f.started
	f.mu.Unlock()

	if started != nil {
		close(started)
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return domain.Failed(domain.FailureTransportError, "%v", ctx.Err())
		}
	}
	return res
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt, ref string) domain.GenerationResult {
	return f.next(ctx, "generate:"+prompt, ref)
}

func (f *fakeGenerator) Edit(ctx context.Context, base, prompt string) domain.GenerationResult {
	return f.next(ctx, "edit:"+prompt, base)
}

type fakeUploader struct {
	url string
	err error
	n   int
}

func (f *fakeUploader) Upload(ctx context.Context, dataURI, prompt string) (string, error) {
	f.n++
	return f.url, f.err
}

func fixedNow() time.Time {
	return time.Date(2025, 3, 1, 14, 5, 0, 0, time.UTC)
}

func newSeeded(t *testing.T, o *Orchestrator) *Session {
	t.Helper()
	s := NewSession("s1", "u1", "en-US")
	if _, err := o.Seed(s, pngA); err != nil {
		t.Fatalf("Seed returned error: %v", err)
	}
	return s
}

func TestSeedLoadsOriginal(t *testing.T) {
	o := NewOrchestrator(&fakeGenerator{}, nil, Options{Now: fixedNow})
	s := newSeeded(t, o)
	cur, ok := s.History.Current()
	if !ok || cur.Description != domain.OriginalDescription || cur.ImageRef != pngA {
		t.Fatalf("Current() = %+v, %v", cur, ok)
	}
	if cur.Timestamp != "2:05 PM" {
		t.Fatalf("Timestamp = %q, want 2:05 PM", cur.Timestamp)
	}
	if _, err := o.Seed(s, pngB); !errors.Is(err, domain.ErrHistoryLoaded) {
		t.Fatalf("second Seed err = %v, want ErrHistoryLoaded", err)
	}
	if _, err := o.Seed(NewSession("s2", "u1", ""), " "); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("blank Seed err = %v, want ErrValidation", err)
	}
}

func TestUnsafeReferencesRejected(t *testing.T) {
	gen := &fakeGenerator{}
	o := NewOrchestrator(gen, nil, Options{
		Now:   fixedNow,
		Guard: safehttp.NewGuard("http://localhost:8080/static"),
	})

	for _, ref := range []string{
		"http://127.0.0.1:9999/latest/meta-data",
		"http://169.254.169.254/latest/meta-data",
		"http://localhost:6379/",
		"file:///etc/passwd",
		"ftp://files.example/a.png",
	} {
		s := NewSession("s-"+ref, "u1", "")
		if _, err := o.Seed(s, ref); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("Seed(%q) err = %v, want ErrValidation", ref, err)
		}
		if s.History.Loaded() {
			t.Fatalf("Seed(%q) loaded the history", ref)
		}
		req := domain.GenerationRequest{Prompt: "a study", ReferenceImage: ref}
		if _, err := o.Generate(context.Background(), s, req); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("Generate(ref %q) err = %v, want ErrValidation", ref, err)
		}
		if _, err := o.Render(context.Background(), req); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("Render(ref %q) err = %v, want ErrValidation", ref, err)
		}
	}
	if len(gen.calls) != 0 {
		t.Fatalf("generator calls = %v, want none", gen.calls)
	}

	s := NewSession("s-ok", "u1", "")
	if _, err := o.Seed(s, "http://localhost:8080/static/interior-designs/a.png"); err != nil {
		t.Fatalf("Seed(trusted store url) err = %v", err)
	}
	if _, err := o.Seed(NewSession("s-pub", "u1", ""), "https://images.example.com/room.jpg"); err != nil {
		t.Fatalf("Seed(public url) err = %v", err)
	}
}

func TestEditAppendsVersions(t *testing.T) {
	gen := &fakeGenerator{}
	o := NewOrchestrator(gen, nil, Options{Now: fixedNow})
	s := newSeeded(t, o)

	prompts := []string{"add a plant", "warmer light", "oak floor"}
	for i, p := range prompts {
		v, err := o.Edit(context.Background(), s, p)
		if err != nil {
			t.Fatalf("Edit(%q) returned error: %v", p, err)
		}
		if v.Description != p {
			t.Fatalf("Description = %q, want %q", v.Description, p)
		}
		if got := s.History.Cursor(); got != i+1 {
			t.Fatalf("Cursor() = %d, want %d", got, i+1)
		}
	}
	if got := s.History.Len(); got != len(prompts)+1 {
		t.Fatalf("Len() = %d, want %d", got, len(prompts)+1)
	}
	if gen.bases[0] != pngA || gen.bases[1] != pngB {
		t.Fatalf("edit bases = %v", gen.bases)
	}
}

func TestEditUsesSelectedVersion(t *testing.T) {
	gen := &fakeGenerator{results: []domain.GenerationResult{
		domain.Succeeded("data:image/png;base64,MQ=="),
		domain.Succeeded("data:image/png;base64,Mg=="),
	}}
	o := NewOrchestrator(gen, nil, Options{})
	s := newSeeded(t, o)
	if _, err := o.Edit(context.Background(), s, "first"); err != nil {
		t.Fatalf("Edit returned error: %v", err)
	}
	s.ViewOriginal()
	if _, err := o.Edit(context.Background(), s, "second"); err != nil {
		t.Fatalf("Edit returned error: %v", err)
	}
	if gen.bases[1] != pngA {
		t.Fatalf("second edit base = %q, want original", gen.bases[1])
	}
	if s.History.Len() != 3 || s.History.Cursor() != 2 {
		t.Fatalf("Len/Cursor = %d/%d, want 3/2", s.History.Len(), s.History.Cursor())
	}
}

func TestFailuresLeaveHistoryUnchanged(t *testing.T) {
	cases := []struct {
		name string
		res  domain.GenerationResult
		kind domain.FailureKind
	}{
		{"text only", domain.Failed(domain.FailureTextOnlyResponse, "model returned text"), domain.FailureTextOnlyResponse},
		{"blocked", domain.Failed(domain.FailureBlockedPrompt, "SAFETY"), domain.FailureBlockedPrompt},
		{"no image", domain.Failed(domain.FailureNoImageReturned, "empty"), domain.FailureNoImageReturned},
		{"empty success", domain.Succeeded(""), domain.FailureNoImageReturned},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gen := &fakeGenerator{results: []domain.GenerationResult{tc.res}}
			o := NewOrchestrator(gen, nil, Options{})
			s := newSeeded(t, o)

			_, err := o.Edit(context.Background(), s, "make it blue")
			var failure *domain.GenerationFailure
			if !errors.As(err, &failure) || failure.Kind != tc.kind {
				t.Fatalf("Edit err = %v, want %s failure", err, tc.kind)
			}
			if s.History.Len() != 1 || s.History.Cursor() != 0 {
				t.Fatalf("history changed: len=%d cursor=%d", s.History.Len(), s.History.Cursor())
			}
			if s.LastFailure() == nil || s.LastFailure().Kind != tc.kind {
				t.Fatalf("LastFailure() = %+v", s.LastFailure())
			}
			if s.Busy() {
				t.Fatal("session still busy after failure")
			}
		})
	}
}

func TestEditFailureAppendsInLegacyMode(t *testing.T) {
	gen := &fakeGenerator{results: []domain.GenerationResult{domain.Failed(domain.FailureTextOnlyResponse, "text")}}
	o := NewOrchestrator(gen, nil, Options{AppendOnEditFailure: true})
	s := newSeeded(t, o)

	v, err := o.Edit(context.Background(), s, "make it blue")
	if err != nil {
		t.Fatalf("Edit returned error: %v", err)
	}
	if v.ImageRef != pngA || v.Description != "make it blue" {
		t.Fatalf("version = %+v, want base image with prompt", v)
	}
	if s.History.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.History.Len())
	}
	if s.LastFailure() == nil {
		t.Fatal("LastFailure() = nil, want recorded failure")
	}
}

func TestUploadFallbackKeepsDataURI(t *testing.T) {
	up := &fakeUploader{err: domain.ErrStorageUploadFailed}
	o := NewOrchestrator(&fakeGenerator{}, up, Options{})
	s := newSeeded(t, o)

	v, err := o.Edit(context.Background(), s, "add rug")
	if err != nil {
		t.Fatalf("Edit returned error: %v", err)
	}
	if v.ImageRef != pngB {
		t.Fatalf("ImageRef = %q, want inline fallback", v.ImageRef)
	}
	if s.History.Len() != 2 || up.n != 1 {
		t.Fatalf("len=%d uploads=%d", s.History.Len(), up.n)
	}
}

func TestUploadReplacesDataURI(t *testing.T) {
	up := &fakeUploader{url: "https://cdn.example/x.png"}
	o := NewOrchestrator(&fakeGenerator{}, up, Options{})
	s := newSeeded(t, o)
	v, err := o.Edit(context.Background(), s, "add rug")
	if err != nil {
		t.Fatalf("Edit returned error: %v", err)
	}
	if v.ImageRef != up.url {
		t.Fatalf("ImageRef = %q, want %q", v.ImageRef, up.url)
	}

	remote := &fakeGenerator{results: []domain.GenerationResult{domain.Succeeded("https://img.example/a.jpg")}}
	o = NewOrchestrator(remote, up, Options{})
	s = newSeeded(t, o)
	if _, err := o.Edit(context.Background(), s, "again"); err != nil {
		t.Fatalf("Edit returned error: %v", err)
	}
	if up.n != 1 {
		t.Fatalf("remote result uploaded; uploads = %d", up.n)
	}
}

func TestGenerateSeedsEmptySession(t *testing.T) {
	o := NewOrchestrator(&fakeGenerator{}, nil, Options{})
	s := NewSession("s1", "u1", "de-DE")

	v, err := o.Generate(context.Background(), s, domain.GenerationRequest{Prompt: " cozy loft "})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if v.Description != domain.OriginalDescription || s.History.Len() != 1 {
		t.Fatalf("version = %+v len=%d", v, s.History.Len())
	}
	v, err = o.Generate(context.Background(), s, domain.GenerationRequest{Prompt: "cozy loft"})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if v.Description != "cozy loft" || s.History.Len() != 2 {
		t.Fatalf("version = %+v len=%d", v, s.History.Len())
	}
}

func TestEmptyPromptRejected(t *testing.T) {
	gen := &fakeGenerator{}
	o := NewOrchestrator(gen, nil, Options{})
	s := newSeeded(t, o)
	if _, err := o.Edit(context.Background(), s, "   "); !errors.Is(err, domain.ErrInvalidPrompt) {
		t.Fatalf("Edit err = %v, want ErrInvalidPrompt", err)
	}
	if _, err := o.Render(context.Background(), domain.GenerationRequest{}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Render err = %v, want ErrValidation", err)
	}
	if len(gen.calls) != 0 {
		t.Fatalf("generator called %d times", len(gen.calls))
	}
}

func TestEditWithoutImage(t *testing.T) {
	o := NewOrchestrator(&fakeGenerator{}, nil, Options{})
	if _, err := o.Edit(context.Background(), NewSession("s", "u", ""), "x"); !errors.Is(err, domain.ErrNoImage) {
		t.Fatalf("Edit err = %v, want ErrNoImage", err)
	}
}

func TestConcurrentRequestIsBusy(t *testing.T) {
	gen := &fakeGenerator{block: make(chan struct{}), started: make(chan struct{})}
	o := NewOrchestrator(gen, nil, Options{})
	s := newSeeded(t, o)

	errc := make(chan error, 1)
	go func() {
		_, err := o.Edit(context.Background(), s, "first")
		errc <- err
	}()
	<-gen.started
	if !s.Busy() {
		t.Fatal("Busy() = false during request")
	}
	if _, err := o.Edit(context.Background(), s, "second"); !errors.Is(err, domain.ErrBusy) {
		t.Fatalf("concurrent Edit err = %v, want ErrBusy", err)
	}
	close(gen.block)
	if err := <-errc; err != nil {
		t.Fatalf("first Edit returned error: %v", err)
	}
	if s.History.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.History.Len())
	}
}

func TestCancelDiscardsResult(t *testing.T) {
	gen := &fakeGenerator{block: make(chan struct{}), started: make(chan struct{})}
	o := NewOrchestrator(gen, nil, Options{})
	s := newSeeded(t, o)

	if o.Cancel(s) {
		t.Fatal("Cancel() with nothing pending returned true")
	}
	errc := make(chan error, 1)
	go func() {
		_, err := o.Edit(context.Background(), s, "slow")
		errc <- err
	}()
	<-gen.started
	if !o.Cancel(s) {
		t.Fatal("Cancel() returned false while pending")
	}
	if err := <-errc; !errors.Is(err, domain.ErrCanceled) {
		t.Fatalf("Edit err = %v, want ErrCanceled", err)
	}
	if s.History.Len() != 1 || s.Busy() {
		t.Fatalf("len=%d busy=%v after cancel", s.History.Len(), s.Busy())
	}
	if s.LastFailure() != nil {
		t.Fatalf("LastFailure() = %+v, want nil after cancel", s.LastFailure())
	}
}

func TestTimeoutIsTransportFailure(t *testing.T) {
	gen := &fakeGenerator{block: make(chan struct{})}
	o := NewOrchestrator(gen, nil, Options{Timeout: 10 * time.Millisecond})
	s := newSeeded(t, o)

	_, err := o.Edit(context.Background(), s, "slow")
	var failure *domain.GenerationFailure
	if !errors.As(err, &failure) || failure.Kind != domain.FailureTransportError {
		t.Fatalf("Edit err = %v, want transport failure", err)
	}
	if s.History.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.History.Len())
	}
}

func TestRenderUploads(t *testing.T) {
	up := &fakeUploader{url: "https://cdn.example/r.png"}
	o := NewOrchestrator(&fakeGenerator{}, up, Options{})
	got, err := o.Render(context.Background(), domain.GenerationRequest{Prompt: "studio"})
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if got != up.url {
		t.Fatalf("Render() = %q, want %q", got, up.url)
	}
}
