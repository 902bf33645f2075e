package settlement

import (
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	base, max := 10*time.Second, 10*time.Minute
	cases := map[int]time.Duration{
		0:  10 * time.Second,
		1:  10 * time.Second,
		2:  20 * time.Second,
		3:  40 * time.Second,
		6:  320 * time.Second,
		7:  10 * time.Minute,
		30: 10 * time.Minute,
	}
	for attempts, want := range cases {
		if got := Backoff(attempts, base, max); got != want {
			t.Fatalf("Backoff(%d) = %s, want %s", attempts, got, want)
		}
	}
}
