package acquire

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/bigbear0079/jimeng-pool/internal/browser"
	"github.com/bigbear0079/jimeng-pool/internal/mailbox"
	"github.com/bigbear0079/jimeng-pool/internal/model"
)

// State names the phases of the login flow.
type State string

const (
	StateInit            State = "Init"
	StateNavigate        State = "Navigate"
	StateAwaitLoginEntry State = "AwaitLoginEntry"
	StateFillCredentials State = "FillCredentials"
	StateAwaitCode       State = "AwaitCode"
	StateSubmitCode      State = "SubmitCode"
	StateFillBirthday    State = "FillBirthday"
	StatePollCookies     State = "PollCookies"
)

// Element selectors for the external login surface, with best-effort
// alternates tried in order.
var (
	signInText     = "Sign in"
	emailEntryText = "Continue with email"

	signupSwitchSelectors = []string{
		".lv_new_sign_in_panel_wide-footer-switch-button",
	}
	emailInputSelectors = []string{
		"input.lv_new_sign_in_panel_wide-input",
		"input[placeholder*='email']",
		"input[type='email'], input[type='text']",
	}
	passwordInputSelectors = []string{
		"input[type='password']",
	}
	continueButtonSelectors = []string{
		"button.lv_new_sign_in_panel_wide-sign-in-button",
		"button.lv_new_sign_in_panel_wide-primary-button",
	}
	codePageSelector   = ".verification_code_input-wrapper, input[maxlength='1']"
	codeInputSelectors = []string{
		".verification_code_input-wrapper input[maxlength='6']",
		"input[maxlength='6']",
	}
	birthdayTitleSelector = ".lv_new_sign_in_panel_wide-birthday-title"
	birthdayYearSelector  = "input.gate_birthday-picker-input[placeholder='Year']"
	birthdayPickSelector  = ".gate_birthday-picker-selector"
	birthdayNextSelectors = []string{
		".lv_new_sign_in_panel_wide-birthday-next",
		"button.lv_new_sign_in_panel_wide-primary-button",
	}
)

const loginEntryAttempts = 5

var (
	loginEntryBackoff  = 2 * time.Second
	formSettleDelay    = 2 * time.Second
	cookiePollInterval = 5 * time.Second
	codeWaitBudget     = 90 * time.Second
)

// errAbort marks a step that cannot proceed and cannot be retried.
var errAbort = errors.New("step unrecoverable")

// Flow runs the login-flow state machine against one browser session.
type Flow struct {
	Session   browser.Session
	Mailbox   mailbox.Provider
	LoginURL  string
	Region    string
	AutoEmail bool // provision a fresh account via disposable mailbox
	WorkerID  int
}

// Run drives the machine from Init to a terminal outcome. The caller owns
// session teardown; Run never closes the session. The context deadline is
// the overall acquisition budget: exceeding it anywhere yields Timeout.
func (f *Flow) Run(ctx context.Context) model.AcquisitionResult {
	result := model.AcquisitionResult{Region: f.Region, Outcome: model.OutcomeAbort}
	email := ""
	inboxToken := ""

	fail := func(state State, err error) model.AcquisitionResult {
		if ctx.Err() != nil {
			f.logf("%s: overall timeout: %v", state, ctx.Err())
			result.Outcome = model.OutcomeTimeout
		} else {
			f.logf("%s: %v", state, err)
			result.Outcome = model.OutcomeAbort
		}
		return result
	}

	// Navigate
	if err := f.Session.Navigate(ctx, f.LoginURL); err != nil {
		return fail(StateNavigate, err)
	}

	// AwaitLoginEntry
	if err := f.awaitLoginEntry(ctx); err != nil {
		return fail(StateAwaitLoginEntry, err)
	}

	if f.AutoEmail {
		// FillCredentials
		inbox, err := f.Mailbox.CreateInbox(ctx)
		if err != nil {
			return fail(StateFillCredentials, fmt.Errorf("create inbox: %w", err))
		}
		email = inbox.Address
		inboxToken = inbox.Token
		f.logf("disposable inbox: %s", email)

		if err := f.fillCredentials(ctx, email); err != nil {
			return fail(StateFillCredentials, err)
		}

		// AwaitCode
		code, err := f.awaitCode(ctx, inboxToken)
		if err != nil {
			return fail(StateAwaitCode, err)
		}

		// SubmitCode
		if err := fillAny(ctx, f.Session, codeInputSelectors, code); err != nil {
			return fail(StateSubmitCode, err)
		}
		f.logf("verification code submitted")

		// FillBirthday (only shown for fresh registrations; best effort)
		f.fillBirthday(ctx)
	}

	// PollCookies
	name, value, cookies, err := f.pollCookies(ctx)
	if err != nil {
		return fail(StatePollCookies, err)
	}

	f.logf("session cookie found: %s", name)
	result.SessionID = value
	result.Region = f.Region
	result.Token = model.CompositeToken(f.Region, value)
	result.Cookies = cookies
	result.Email = email
	result.Outcome = model.OutcomeSuccess
	return result
}

// awaitLoginEntry activates the sign-in affordance, retrying a bounded
// number of times. Only exhausting every attempt without reaching a login
// surface is unrecoverable.
func (f *Flow) awaitLoginEntry(ctx context.Context) error {
	for attempt := 1; attempt <= loginEntryAttempts; attempt++ {
		if err := f.Session.ClickText(ctx, signInText); err == nil {
			f.logf("sign-in entry activated")
			return nil
		}
		f.logf("sign-in entry not found (attempt %d/%d)", attempt, loginEntryAttempts)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(loginEntryBackoff):
		}
	}
	return fmt.Errorf("no login surface after %d attempts: %w", loginEntryAttempts, errAbort)
}

func (f *Flow) fillCredentials(ctx context.Context, email string) error {
	// Entry into the email panel and the sign-up switch are best effort:
	// some variants land directly on the registration form.
	if err := f.Session.ClickText(ctx, emailEntryText); err == nil {
		f.logf("email entry activated")
	}
	if err := clickAny(ctx, f.Session, signupSwitchSelectors); err == nil {
		f.logf("switched to sign-up form")
	}

	if err := fillAny(ctx, f.Session, emailInputSelectors, email); err != nil {
		return fmt.Errorf("email field: %w", err)
	}
	password := GeneratePassword()
	if err := fillAny(ctx, f.Session, passwordInputSelectors, password); err != nil {
		return fmt.Errorf("password field: %w", err)
	}

	// The continue button sometimes needs more than one click before the
	// code page appears.
	for attempt := 0; attempt < 3; attempt++ {
		if err := clickAny(ctx, f.Session, continueButtonSelectors); err != nil {
			return fmt.Errorf("continue button: %w", err)
		}
		if f.Session.Exists(ctx, codePageSelector) {
			f.logf("registration form submitted")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(formSettleDelay):
		}
	}
	if f.Session.Exists(ctx, codePageSelector) {
		return nil
	}
	return fmt.Errorf("verification page never appeared: %w", errAbort)
}

func (f *Flow) awaitCode(ctx context.Context, inboxToken string) (string, error) {
	waitCtx, cancel := context.WithTimeout(ctx, codeWaitBudget)
	defer cancel()
	return f.Mailbox.WaitForCode(waitCtx, inboxToken)
}

// fillBirthday completes the birthday gate when it appears. Failures here
// are logged and ignored; the cookie poll decides whether login worked.
func (f *Flow) fillBirthday(ctx context.Context) {
	for attempt := 0; attempt < 3; attempt++ {
		if f.Session.Exists(ctx, birthdayTitleSelector) {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(formSettleDelay):
		}
	}
	if !f.Session.Exists(ctx, birthdayTitleSelector) {
		return
	}
	f.logf("birthday gate detected")

	year, _, _ := GenerateBirthday()
	if err := f.Session.Fill(ctx, birthdayYearSelector, fmt.Sprintf("%d", year)); err != nil {
		f.logf("birthday year: %v", err)
	}
	// Month and day are dropdowns; clicking the picker twice selects the
	// highlighted option on this surface.
	for i := 0; i < 2; i++ {
		if err := f.Session.ClickSelector(ctx, birthdayPickSelector); err != nil {
			f.logf("birthday picker: %v", err)
		}
	}
	if err := clickAny(ctx, f.Session, birthdayNextSelectors); err != nil {
		f.logf("birthday next: %v", err)
	}
}

func (f *Flow) pollCookies(ctx context.Context) (name, value string, all map[string]string, err error) {
	ticker := time.NewTicker(cookiePollInterval)
	defer ticker.Stop()

	for {
		cookies, cerr := f.Session.Cookies(ctx)
		if cerr != nil {
			f.logf("read cookies: %v", cerr)
		}
		if n, v := browser.FindSessionCookie(cookies); n != "" {
			return n, v, cookies, nil
		}
		select {
		case <-ctx.Done():
			return "", "", nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (f *Flow) logf(format string, args ...any) {
	log.Printf("[worker %d] %s", f.WorkerID, fmt.Sprintf(format, args...))
}

// clickAny clicks the first selector that works.
func clickAny(ctx context.Context, s browser.Session, selectors []string) error {
	var lastErr error
	for _, sel := range selectors {
		if err := s.ClickSelector(ctx, sel); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return fmt.Errorf("no clickable selector: %w", lastErr)
}

// fillAny types into the first selector that accepts input.
func fillAny(ctx context.Context, s browser.Session, selectors []string, value string) error {
	var lastErr error
	for _, sel := range selectors {
		if err := s.Fill(ctx, sel, value); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return fmt.Errorf("no fillable selector: %w", lastErr)
}

const passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GeneratePassword returns a random password guaranteed to contain an upper
// case letter, a lower case letter and a digit.
func GeneratePassword() string {
	buf := make([]byte, 12)
	for i := range buf {
		buf[i] = passwordAlphabet[rand.Intn(len(passwordAlphabet))]
	}
	upper := 'A' + rune(rand.Intn(26))
	lower := 'a' + rune(rand.Intn(26))
	digit := '0' + rune(rand.Intn(10))
	return string(buf) + string(upper) + string(lower) + string(digit)
}

// GenerateBirthday returns a plausible adult birthday. Days cap at 28 so any
// month is valid.
func GenerateBirthday() (year, month, day int) {
	return 1980 + rand.Intn(21), 1 + rand.Intn(12), 1 + rand.Intn(28)
}
