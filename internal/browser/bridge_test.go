package browser

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/chromedp/chromedp"

	"replicli/internal/domain"
)

func TestClassify(t *testing.T) {
	loc := domain.CSS("#login-email")
	cdpErr := errors.New("could not find node")

	live := context.Background()
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	expired, stop := context.WithTimeout(context.Background(), -time.Second)
	defer stop()

	tests := []struct {
		name        string
		ctx, runCtx context.Context
		err         error
		want        error
	}{
		{"no error", live, live, nil, nil},
		{"caller cancelled", cancelled, expired, cdpErr, context.Canceled},
		{"wait budget elapsed", live, expired, context.DeadlineExceeded, domain.ErrTimeout},
		{"other failure", live, live, cdpErr, cdpErr},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.ctx, tt.runCtx, loc, tt.err)
			if tt.want == nil {
				if got != nil {
					t.Fatalf("expected nil, got %v", got)
				}
				return
			}
			if !errors.Is(got, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			if errors.Is(got, domain.ErrNotFound) {
				t.Fatalf("bounded waits must not report not-found: %v", got)
			}
		})
	}
}

func TestClassify_TimeoutNamesLocator(t *testing.T) {
	expired, stop := context.WithTimeout(context.Background(), -time.Second)
	defer stop()

	err := classify(context.Background(), expired, domain.CSS("#login-email"), context.DeadlineExceeded)
	if err == nil || err.Error() != "css=#login-email: "+domain.ErrTimeout.Error() {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestQueryOpts(t *testing.T) {
	tests := []struct {
		name string
		loc  domain.Locator
		all  bool
		want chromedp.QueryOption
	}{
		{"css single", domain.CSS("#x"), false, chromedp.ByQuery},
		{"css all", domain.CSS("#x"), true, chromedp.ByQueryAll},
		{"xpath single", domain.XPath("//x"), false, chromedp.BySearch},
		{"xpath all", domain.XPath("//x"), true, chromedp.BySearch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := queryOpts(tt.loc, tt.all)
			if len(opts) != 1 {
				t.Fatalf("expected one option, got %d", len(opts))
			}
			if reflect.ValueOf(opts[0]).Pointer() != reflect.ValueOf(tt.want).Pointer() {
				t.Fatalf("unexpected query option for %s", tt.loc)
			}
		})
	}
}
