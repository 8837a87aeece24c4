package remote

import (
	"context"
	"io"
	"time"

	"golang.org/x/time/rate"

	"github.com/fruitsalade/drivegate/internal/metrics"
)

// Throttle wraps s so that every call first takes a token from a bucket
// refilled at rps with the given burst. rps <= 0 returns s unchanged.
func Throttle(s Store, rps float64, burst int) Store {
	if rps <= 0 {
		return s
	}
	if burst < 1 {
		burst = 1
	}
	return &throttled{next: s, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

type throttled struct {
	next    Store
	limiter *rate.Limiter
}

func (t *throttled) wait(ctx context.Context) error {
	start := time.Now()
	err := t.limiter.Wait(ctx)
	metrics.RecordThrottleWait(time.Since(start))
	return err
}

func (t *throttled) Root(ctx context.Context) (*Item, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	return t.next.Root(ctx)
}

func (t *throttled) Item(ctx context.Context, id string) (*Item, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	return t.next.Item(ctx, id)
}

func (t *throttled) Child(ctx context.Context, parentID, name string) (*Item, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	return t.next.Child(ctx, parentID, name)
}

func (t *throttled) Children(ctx context.Context, id string) ([]Item, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	return t.next.Children(ctx, id)
}

func (t *throttled) CreateFolder(ctx context.Context, parentID, name string) (*Item, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	return t.next.CreateFolder(ctx, parentID, name)
}

func (t *throttled) Rename(ctx context.Context, id, newName string) error {
	if err := t.wait(ctx); err != nil {
		return err
	}
	return t.next.Rename(ctx, id, newName)
}

func (t *throttled) Move(ctx context.Context, id, parentID, name string) error {
	if err := t.wait(ctx); err != nil {
		return err
	}
	return t.next.Move(ctx, id, parentID, name)
}

func (t *throttled) Copy(ctx context.Context, id, parentID, name string) error {
	if err := t.wait(ctx); err != nil {
		return err
	}
	return t.next.Copy(ctx, id, parentID, name)
}

func (t *throttled) Delete(ctx context.Context, id string) error {
	if err := t.wait(ctx); err != nil {
		return err
	}
	return t.next.Delete(ctx, id)
}

func (t *throttled) Content(ctx context.Context, id string) (io.ReadCloser, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	return t.next.Content(ctx, id)
}

func (t *throttled) PutContent(ctx context.Context, parentID, name string, body io.Reader, size int64) (*Item, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	return t.next.PutContent(ctx, parentID, name, body, size)
}

func (t *throttled) Search(ctx context.Context, rootID, query string) ([]Item, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	return t.next.Search(ctx, rootID, query)
}

func (t *throttled) Type() string { return t.next.Type() }

func (t *throttled) Close() error { return t.next.Close() }
