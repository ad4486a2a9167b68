package mailbox

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestExtractCode(t *testing.T) {
	tests := []struct {
		name   string
		emails []Email
		want   string
	}{
		{
			"code in verification body",
			[]Email{{Subject: "Your verification code", Body: "Enter CBV85U to continue"}},
			"CBV85U",
		},
		{
			"falls back to html body",
			[]Email{{Subject: "Verify your email", HTML: "<p>Code: X9K2PQ</p>"}},
			"X9K2PQ",
		},
		{
			"unrelated subject ignored",
			[]Email{{Subject: "Welcome!", Body: "ABC123 is not for you"}},
			"",
		},
		{
			"no 6-char token",
			[]Email{{Subject: "Your code", Body: "no token here"}},
			"",
		},
		{
			"second email carries the code",
			[]Email{
				{Subject: "Newsletter", Body: "hello"},
				{Subject: "Sign-up code inside", Body: "Use QRT77A today"},
			},
			"QRT77A",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractCode(tt.emails); got != tt.want {
				t.Errorf("ExtractCode = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCreateInbox(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/inbox/create" || r.Method != "POST" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "test-key" {
			t.Errorf("unexpected api key %q", got)
		}
		w.Write([]byte(`{"address":"a1b2@example.test","token":"inbox-tok"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", "")
	inbox, err := c.CreateInbox(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if inbox.Address != "a1b2@example.test" || inbox.Token != "inbox-tok" {
		t.Errorf("unexpected inbox %+v", inbox)
	}
}

func TestCreateInbox_EmptyAddressIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"quota exceeded"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", "")
	if _, err := c.CreateInbox(context.Background()); err == nil {
		t.Fatal("expected error for response without address")
	}
}

func TestWaitForCode_CodeOnLaterPoll(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 2 {
			w.Write([]byte(`{"emails":[]}`))
			return
		}
		w.Write([]byte(`{"emails":[{"subject":"Your code","body":"CODE77 is ignored, use AB12CD"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", "")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	code, err := c.WaitForCode(ctx, "tok")
	if err != nil {
		t.Fatal(err)
	}
	if code != "CODE77" {
		t.Errorf("expected first match CODE77, got %q", code)
	}
}

func TestWaitForCode_TimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"emails":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", "")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := c.WaitForCode(ctx, "tok"); err == nil {
		t.Fatal("expected deadline error")
	}
}
