package usecase

import (
	"context"
	"errors"
	"testing"
)

type stubClassifier struct {
	category string
	err      error
	calls    int
}

func (s *stubClassifier) Classify(ctx context.Context, noteText string) (string, error) {
	s.calls++
	return s.category, s.err
}

func TestClassify_Keywords(t *testing.T) {
	u := NewClassifyUsecase(nil)
	ctx := context.Background()

	cases := []struct {
		text string
		want string
	}{
		{"Buy milk and call mom tomorrow", "task"},
		{"Startup idea: an app to improve note taking", "idea"},
		{`"The only limit is your mind" - someone famous`, "quote"},
		{"zzz qqq", "other"},
	}
	for _, tc := range cases {
		if got := u.Classify(ctx, tc.text); got != tc.want {
			t.Errorf("Classify(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}

func TestClassify_CaseInsensitive(t *testing.T) {
	u := NewClassifyUsecase(nil)
	if got := u.Classify(context.Background(), "BUY MILK"); got != "task" {
		t.Errorf("Classify uppercase = %q, want task", got)
	}
}

func TestClassify_LLMOnlyWhenNoKeywordMatch(t *testing.T) {
	stub := &stubClassifier{category: "idea"}
	u := NewClassifyUsecase(stub)
	ctx := context.Background()

	if got := u.Classify(ctx, "Buy milk"); got != "task" {
		t.Errorf("Keyword hit should skip LLM, got %q", got)
	}
	if stub.calls != 0 {
		t.Errorf("LLM called %d times on keyword hit", stub.calls)
	}

	if got := u.Classify(ctx, "zzz qqq"); got != "idea" {
		t.Errorf("LLM fallback = %q, want idea", got)
	}
	if stub.calls != 1 {
		t.Errorf("LLM calls = %d, want 1", stub.calls)
	}
}

func TestClassify_LLMErrorDefaultsToOther(t *testing.T) {
	stub := &stubClassifier{err: errors.New("timeout")}
	u := NewClassifyUsecase(stub)

	if got := u.Classify(context.Background(), "zzz qqq"); got != "other" {
		t.Errorf("Classify on LLM error = %q, want other", got)
	}
}

func TestClassify_Confidence(t *testing.T) {
	u := NewClassifyUsecase(nil)

	category, confidence := u.Confidence("zzz qqq")
	if category != "other" || confidence != 0 {
		t.Errorf("Confidence(no match) = %q/%v, want other/0", category, confidence)
	}

	category, confidence = u.Confidence("Buy groceries and pay the bill")
	if category != "task" {
		t.Errorf("Confidence category = %q, want task", category)
	}
	if confidence <= 0 || confidence > 1 {
		t.Errorf("Confidence out of range: %v", confidence)
	}
}
