// Package actuator fills in and submits one bid through an interactive
// automation session, pacing every action like a person would, and records
// the outcome.
package actuator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ahmethakanbesel/autobid/internal/apperror"
	"github.com/ahmethakanbesel/autobid/internal/job"
	"github.com/ahmethakanbesel/autobid/internal/pacing"
	"github.com/ahmethakanbesel/autobid/internal/tenant"
)

// Submission steps, recorded as the failure reason of a failed bid.
const (
	StepNavigate     = "navigate"
	StepFindAmount   = "find_amount"
	StepTypeAmount   = "type_amount"
	StepFindProposal = "find_proposal"
	StepTypeProposal = "type_proposal"
	StepScreening    = "screening"
	StepSubmit       = "submit"
	StepConfirmation = "confirmation"
)

const (
	confirmAttempts   = 3
	defaultPauseEvery = 8
	recordAttempts    = 5
	recordBackoff     = 500 * time.Millisecond
)

// ErrNotFound is returned by a Surface when a selector matches nothing.
var ErrNotFound = errors.New("element not found")

// Element is an opaque handle to a node on the current page.
type Element struct {
	ID       int64
	Selector string
}

// Surface is the interactive session a bid is submitted through. Every call
// may fail with ErrNotFound or a context error.
type Surface interface {
	Navigate(ctx context.Context, url string) error
	Find(ctx context.Context, selector string) (Element, error)
	FindAll(ctx context.Context, selector string) ([]Element, error)
	Type(ctx context.Context, el Element, text string) error
	Click(ctx context.Context, el Element) error
	Text(ctx context.Context, el Element) (string, error)
	ReadText(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
}

// Screener drafts answers to screening questions found on the bid form.
type Screener interface {
	AnswerScreening(ctx context.Context, j *job.Job, profile tenant.BusinessProfile, question string) (string, error)
}

// OutcomeRecorder is the part of the job repository the actuator writes to.
type OutcomeRecorder interface {
	MarkClicked(ctx context.Context, bidID int64) error
	MarkSubmitted(ctx context.Context, bidID int64) error
	MarkSubmissionFailed(ctx context.Context, bidID int64, reason string) error
}

// Form locates the bid controls on a job detail page. Question scopes the
// screening question blocks; QuestionLabel and QuestionInput are looked up
// inside them and paired in document order. Confirmation is a text marker
// that must show up on the page after the click; occurrences already present
// before the click do not count. ConfirmationScope, when set, limits the
// search to the text of the first element it matches.
type Form struct {
	Amount        string
	Proposal      string
	Question      string
	QuestionLabel string
	QuestionInput string
	Submit            string
	Confirmation      string
	ConfirmationScope string
}

var DefaultForm = Form{
	Amount:        "input[name=amount]",
	Proposal:      "textarea[name=proposal]",
	Question:      ".screening-question",
	QuestionLabel: "label",
	QuestionInput: "textarea",
	Submit:        "button[type=submit]",
	Confirmation:  "has been submitted",
}

// FormFromTenant overlays the selectors a tenant configured onto DefaultForm.
func FormFromTenant(f tenant.FormSelectors) Form {
	pick := func(d, v string) string {
		if v != "" {
			return v
		}
		return d
	}
	return Form{
		Amount:        pick(DefaultForm.Amount, f.Amount),
		Proposal:      pick(DefaultForm.Proposal, f.Proposal),
		Question:      pick(DefaultForm.Question, f.Question),
		QuestionLabel: pick(DefaultForm.QuestionLabel, f.QuestionLabel),
		QuestionInput: pick(DefaultForm.QuestionInput, f.QuestionInput),
		Submit:        pick(DefaultForm.Submit, f.Submit),
		Confirmation:  pick(DefaultForm.Confirmation, f.Confirmation),

		ConfirmationScope: f.ConfirmationScope,
	}
}

// Actuator is owned by a single platform task; its surface is never shared.
type Actuator struct {
	surface     Surface
	pacer       pacing.Controller
	repo        OutcomeRecorder
	screener    Screener
	profile     tenant.BusinessProfile
	form        Form
	stepTimeout time.Duration
	pauseEvery  int
	backoff     time.Duration
}

type Option func(*Actuator)

func WithForm(f Form) Option {
	return func(a *Actuator) { a.form = f }
}

// WithScreener enables answering screening questions for profile.
func WithScreener(s Screener, profile tenant.BusinessProfile) Option {
	return func(a *Actuator) {
		a.screener = s
		a.profile = profile
	}
}

// WithStepTimeout bounds every single surface call.
func WithStepTimeout(d time.Duration) Option {
	return func(a *Actuator) {
		if d > 0 {
			a.stepTimeout = d
		}
	}
}

// WithPauseEvery sets how many proposal words are typed between pauses.
func WithPauseEvery(n int) Option {
	return func(a *Actuator) {
		if n > 0 {
			a.pauseEvery = n
		}
	}
}

// WithRecordBackoff sets the first wait between attempts to store a
// confirmed bid. It doubles on every retry.
func WithRecordBackoff(d time.Duration) Option {
	return func(a *Actuator) {
		if d > 0 {
			a.backoff = d
		}
	}
}

func New(surface Surface, pacer pacing.Controller, repo OutcomeRecorder, opts ...Option) *Actuator {
	a := &Actuator{
		surface:     surface,
		pacer:       pacer,
		repo:        repo,
		form:        DefaultForm,
		stepTimeout: 30 * time.Second,
		pauseEvery:  defaultPauseEvery,
		backoff:     recordBackoff,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Submit drives the bid form for b and records the outcome. It returns nil
// when the bid was confirmed and stored as submitted. Any failure aborts the
// remaining steps, marks the bid failed (leaving the job retry-eligible) and
// returns a *apperror.SubmissionError. The outcome is written even if ctx is
// cancelled.
//
// Once the form is confirmed the bid is never failed. If storing the submitted
// status keeps failing, Submit returns apperror.ErrBidUnrecorded and leaves the
// bid pending with its click stamp for startup recovery.
func (a *Actuator) Submit(ctx context.Context, j *job.Job, b *job.Bid) error {
	log := slog.With("job", j.ID, "bid", b.ID, "platform", j.Platform, "external_id", j.ExternalID)
	wctx := context.WithoutCancel(ctx)

	if err := a.run(ctx, wctx, j, b); err != nil {
		log.Warn("bid submission failed", "error", err)
		if mErr := a.repo.MarkSubmissionFailed(wctx, b.ID, err.Error()); mErr != nil {
			log.Error("failed to record submission failure", "error", mErr)
			return errors.Join(err, mErr)
		}
		return err
	}

	if err := a.recordSubmitted(wctx, b.ID); err != nil {
		log.Error("bid confirmed but not recorded, left for startup recovery", "error", err)
		return fmt.Errorf("record submitted bid %d: %w", b.ID, errors.Join(apperror.ErrBidUnrecorded, err))
	}
	log.Info("bid submitted", "amount", b.Amount, "confidence", b.Confidence)
	return nil
}

// recordSubmitted retries MarkSubmitted with a doubling backoff.
func (a *Actuator) recordSubmitted(ctx context.Context, bidID int64) error {
	wait := a.backoff
	var err error
	for attempt := range recordAttempts {
		if err = a.repo.MarkSubmitted(ctx, bidID); err == nil {
			return nil
		}
		if attempt < recordAttempts-1 {
			slog.Warn("retrying bid status write", "bid", bidID, "attempt", attempt+1, "error", err)
			if sErr := pacing.Sleep(ctx, wait); sErr != nil {
				return errors.Join(err, sErr)
			}
			wait *= 2
		}
	}
	return err
}

// run fills and submits the form. wctx is the uncancellable context used for
// the click stamp.
func (a *Actuator) run(ctx, wctx context.Context, j *job.Job, b *job.Bid) error {
	if j.URL == "" {
		return fail(StepNavigate, errors.New("job has no url"))
	}
	if err := a.call(ctx, func(ctx context.Context) error { return a.surface.Navigate(ctx, j.URL) }); err != nil {
		return fail(StepNavigate, err)
	}
	if err := pacing.Sleep(ctx, a.pacer.ActionDelay()); err != nil {
		return fail(StepNavigate, err)
	}

	amountEl, err := a.find(ctx, a.form.Amount)
	if err != nil {
		return fail(StepFindAmount, err)
	}
	if err := a.typeChars(ctx, amountEl, b.Amount.String()); err != nil {
		return fail(StepTypeAmount, err)
	}

	proposalEl, err := a.find(ctx, a.form.Proposal)
	if err != nil {
		return fail(StepFindProposal, err)
	}
	if err := a.typeWords(ctx, proposalEl, b.ProposalText); err != nil {
		return fail(StepTypeProposal, err)
	}

	if err := a.answerScreening(ctx, j); err != nil {
		return fail(StepScreening, err)
	}

	if err := pacing.Sleep(ctx, a.pacer.ActionDelay()); err != nil {
		return fail(StepSubmit, err)
	}
	submitEl, err := a.find(ctx, a.form.Submit)
	if err != nil {
		return fail(StepSubmit, err)
	}
	before, err := a.confirmationText(ctx)
	if err != nil {
		return fail(StepSubmit, err)
	}
	if err := a.repo.MarkClicked(wctx, b.ID); err != nil {
		return fail(StepSubmit, err)
	}
	if err := a.call(ctx, func(ctx context.Context) error { return a.surface.Click(ctx, submitEl) }); err != nil {
		return fail(StepSubmit, err)
	}

	if err := a.confirm(ctx, countMarker(before, a.form.Confirmation)); err != nil {
		return fail(StepConfirmation, err)
	}
	return nil
}

func fail(step string, err error) error {
	return &apperror.SubmissionError{Step: step, Err: err}
}

// call runs one surface primitive under the step timeout.
func (a *Actuator) call(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, a.stepTimeout)
	defer cancel()
	return fn(ctx)
}

func (a *Actuator) find(ctx context.Context, selector string) (Element, error) {
	var el Element
	err := a.call(ctx, func(ctx context.Context) error {
		var err error
		el, err = a.surface.Find(ctx, selector)
		return err
	})
	return el, err
}

func (a *Actuator) findAll(ctx context.Context, selector string) ([]Element, error) {
	var els []Element
	err := a.call(ctx, func(ctx context.Context) error {
		var err error
		els, err = a.surface.FindAll(ctx, selector)
		return err
	})
	return els, err
}

func (a *Actuator) typeChars(ctx context.Context, el Element, text string) error {
	for _, r := range text {
		if err := a.call(ctx, func(ctx context.Context) error { return a.surface.Type(ctx, el, string(r)) }); err != nil {
			return err
		}
		if err := pacing.Sleep(ctx, a.pacer.KeystrokeDelay()); err != nil {
			return err
		}
	}
	return nil
}

// typeWords types text one word at a time. Line breaks are typed as their own
// keystrokes so paragraphs survive.
func (a *Actuator) typeWords(ctx context.Context, el Element, text string) error {
	chunks := splitWords(text)
	words := 0
	for _, c := range chunks {
		if err := a.call(ctx, func(ctx context.Context) error { return a.surface.Type(ctx, el, c) }); err != nil {
			return err
		}
		delay := a.pacer.KeystrokeDelay()
		if c != "\n" {
			words++
			if words%a.pauseEvery == 0 {
				delay = a.pacer.PauseDelay()
			}
		}
		if err := pacing.Sleep(ctx, delay); err != nil {
			return err
		}
	}
	return nil
}

// splitWords breaks text into typing chunks: every word carries the space that
// follows it on the same line, and every line break is a chunk of its own.
// Blank lines between paragraphs are kept, trailing ones are not.
func splitWords(text string) []string {
	lines := strings.Split(strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n")), "\n")
	var chunks []string
	for i, line := range lines {
		words := strings.Fields(line)
		for k, w := range words {
			if k < len(words)-1 {
				w += " "
			}
			chunks = append(chunks, w)
		}
		if i < len(lines)-1 {
			chunks = append(chunks, "\n")
		}
	}
	return chunks
}

func (a *Actuator) answerScreening(ctx context.Context, j *job.Job) error {
	if a.form.Question == "" {
		return nil
	}
	labels, err := a.findAll(ctx, a.form.Question+" "+a.form.QuestionLabel)
	if err != nil {
		return err
	}
	inputs, err := a.findAll(ctx, a.form.Question+" "+a.form.QuestionInput)
	if err != nil {
		return err
	}
	if len(labels) != len(inputs) {
		return fmt.Errorf("found %d screening questions but %d answer fields", len(labels), len(inputs))
	}
	if len(labels) > 0 && a.screener == nil {
		return fmt.Errorf("%d screening questions and no answerer configured", len(labels))
	}

	for i := range labels {
		var question string
		err := a.call(ctx, func(ctx context.Context) error {
			var err error
			question, err = a.surface.Text(ctx, labels[i])
			return err
		})
		if err != nil {
			return err
		}

		answer, err := a.screener.AnswerScreening(ctx, j, a.profile, strings.TrimSpace(question))
		if err != nil {
			return fmt.Errorf("question %d: %w", i+1, err)
		}
		if err := a.typeWords(ctx, inputs[i], answer); err != nil {
			return err
		}
		if err := pacing.Sleep(ctx, a.pacer.PauseDelay()); err != nil {
			return err
		}
	}
	return nil
}

// confirmationText reads the text the confirmation marker is searched in.
// A missing scope element reads as empty text.
func (a *Actuator) confirmationText(ctx context.Context) (string, error) {
	var text string
	err := a.call(ctx, func(ctx context.Context) error {
		if a.form.ConfirmationScope == "" {
			var err error
			text, err = a.surface.ReadText(ctx)
			return err
		}
		el, err := a.surface.Find(ctx, a.form.ConfirmationScope)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		text, err = a.surface.Text(ctx, el)
		return err
	})
	return text, err
}

func countMarker(text, marker string) int {
	return strings.Count(strings.ToLower(text), strings.ToLower(marker))
}

// confirm re-reads the page a few times, since the confirmation usually
// renders after the submit request returns. The marker must appear more often
// than the baseline count seen before the click.
func (a *Actuator) confirm(ctx context.Context, baseline int) error {
	for attempt := range confirmAttempts {
		text, err := a.confirmationText(ctx)
		if err != nil {
			return err
		}
		if countMarker(text, a.form.Confirmation) > baseline {
			return nil
		}
		if attempt < confirmAttempts-1 {
			if err := pacing.Sleep(ctx, a.pacer.ActionDelay()); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("confirmation marker %q not found", a.form.Confirmation)
}
