package worker

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_New(t *testing.T) {
	limiter := NewLimiter(10, 5)
	if limiter.defaultBurst != 5 {
		t.Errorf("expected burst 5, got %d", limiter.defaultBurst)
	}

	l2 := NewLimiter(10, -1)
	if l2.defaultBurst != 5 {
		t.Errorf("expected default burst 5 for negative input, got %d", l2.defaultBurst)
	}
}

func TestLimiter_Wait(t *testing.T) {
	limiter := NewLimiter(100, 1)
	ctx := context.Background()

	if err := limiter.Wait(ctx, "https://specs.example.com/insurance-auto.yaml"); err != nil {
		t.Errorf("wait failed: %v", err)
	}
	if err := limiter.Wait(ctx, "https://mirror.example.org/person.yaml"); err != nil {
		t.Errorf("wait failed: %v", err)
	}
}

// waitBriefly waits for rawURL with a deadline far shorter than one token
// interval, so a throttled host fails instead of blocking
func waitBriefly(l *Limiter, rawURL string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	return l.Wait(ctx, rawURL)
}

func TestLimiter_FileSourcesUnthrottled(t *testing.T) {
	limiter := NewLimiter(1, 1)

	for i := 0; i < 5; i++ {
		if err := waitBriefly(limiter, "file:///srv/specs/person.yaml"); err != nil {
			t.Fatalf("file source throttled on attempt %d: %v", i+1, err)
		}
		if err := waitBriefly(limiter, "specs/person.yaml"); err != nil {
			t.Fatalf("relative path throttled on attempt %d: %v", i+1, err)
		}
	}
}

func TestLimiter_NonPositiveRateDisables(t *testing.T) {
	limiter := NewLimiter(0, 1)
	for i := 0; i < 10; i++ {
		if err := waitBriefly(limiter, "https://specs.example.com/a.yaml"); err != nil {
			t.Fatalf("request %d throttled with limiting disabled: %v", i+1, err)
		}
	}
}

func TestLimiter_WaitWithDelay(t *testing.T) {
	limiter := NewLimiter(100, 1)
	ctx := context.Background()

	start := time.Now()
	err := limiter.WaitWithDelay(ctx, "https://specs.example.com", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitWithDelay failed: %v", err)
	}

	if duration := time.Since(start); duration < 50*time.Millisecond {
		t.Errorf("expected delay >= 50ms, got %v", duration)
	}
}

func TestLimiter_WaitWithDelayCancelled(t *testing.T) {
	limiter := NewLimiter(100, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := limiter.WaitWithDelay(ctx, "file:///tmp/x.yaml", time.Hour); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestLimiter_RateLimit(t *testing.T) {
	limiter := NewLimiter(1, 1)
	url := "https://specs.example.com"

	if err := limiter.Wait(context.Background(), url); err != nil {
		t.Errorf("first wait failed: %v", err)
	}

	// Burst 1: the token is consumed
	if err := waitBriefly(limiter, url); err == nil {
		t.Errorf("expected wait to fail (exhausted tokens)")
	}

	if err := waitBriefly(limiter, "https://other.example.com"); err != nil {
		t.Errorf("expected other host to pass: %v", err)
	}
}

func TestExtractHost(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://specs.example.com/foo.yaml", "specs.example.com"},
		{"http://localhost:8080/a.yaml", "localhost:8080"},
		{"file:///srv/specs/a.yaml", ""},
		{"specs/a.yaml", ""},
	}
	for _, tt := range tests {
		got, err := extractHost(tt.url)
		if err != nil {
			t.Fatalf("extractHost(%q) failed: %v", tt.url, err)
		}
		if got != tt.want {
			t.Errorf("extractHost(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}

	if _, err := extractHost("::invalid"); err == nil {
		t.Errorf("expected error for invalid URL")
	}
}
