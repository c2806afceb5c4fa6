package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New("R002")

	if err.Code != "R002" {
		t.Errorf("Code = %q, want %q", err.Code, "R002")
	}
	if err.Category != CategoryConfig {
		t.Errorf("Category = %q, want %q", err.Category, CategoryConfig)
	}
	if err.Message != "Invalid config syntax" {
		t.Errorf("Message = %q", err.Message)
	}
	if err.Detail == "" {
		t.Error("Detail should not be empty")
	}
}

func TestNewUnknownCode(t *testing.T) {
	err := New("R999")

	if err.Code != "R999" {
		t.Errorf("Code = %q, want %q", err.Code, "R999")
	}
	if err.Message != "Unknown error" {
		t.Errorf("Message = %q, want %q", err.Message, "Unknown error")
	}
}

func TestNewf(t *testing.T) {
	err := Newf(CategoryStress, "scenario %q failed after %d runs", "reader-wakes", 3)

	if err.Code != "" {
		t.Errorf("Code = %q, want empty", err.Code)
	}
	if err.Category != CategoryStress {
		t.Errorf("Category = %q", err.Category)
	}
	if err.Error() != `scenario "reader-wakes" failed after 3 runs` {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestBuilderChain(t *testing.T) {
	cause := fmt.Errorf("yaml: line 4: found character that cannot start any token")
	err := New("R002").
		WithLocation("reactor.yaml", 4).
		WithSuggestion("Indent with spaces").
		WithDetail("custom detail").
		Wrap(cause)

	if err.Location == nil || err.Location.String() != "reactor.yaml:4" {
		t.Errorf("Location = %v", err.Location)
	}
	if err.Suggestion != "Indent with spaces" {
		t.Errorf("Suggestion = %q", err.Suggestion)
	}
	if err.Detail != "custom detail" {
		t.Errorf("Detail = %q", err.Detail)
	}
	if !stderrors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
	if !strings.HasSuffix(err.Error(), cause.Error()) {
		t.Errorf("Error() should end with cause, got %q", err.Error())
	}
}

func TestIsMatchesCode(t *testing.T) {
	err := fmt.Errorf("loading: %w", New("R003").WithSuggestion("x"))

	if !stderrors.Is(err, New("R003")) {
		t.Error("errors.Is should match by code")
	}
	if stderrors.Is(err, New("R002")) {
		t.Error("errors.Is should not match a different code")
	}
	if stderrors.Is(Newf(CategoryCLI, "a"), Newf(CategoryCLI, "a")) {
		t.Error("uncoded errors should not compare equal")
	}
}

func TestFromError(t *testing.T) {
	if FromError(nil, "R060") != nil {
		t.Error("FromError(nil) should be nil")
	}

	orig := New("R061")
	if got := FromError(fmt.Errorf("wrap: %w", orig), "R060"); got != orig {
		t.Error("FromError should return the existing ReactorError")
	}

	plain := stderrors.New("disk full")
	got := FromError(plain, "R060")
	if got.Code != "R060" || got.Wrapped != plain {
		t.Errorf("FromError = %+v", got)
	}
}

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"direct", New("R040"), "R040"},
		{"wrapped", fmt.Errorf("run: %w", New("R041")), "R041"},
		{"plain", stderrors.New("x"), ""},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Code(tt.err); got != tt.want {
				t.Errorf("Code() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLocationString(t *testing.T) {
	tests := []struct {
		loc  *Location
		want string
	}{
		{nil, ""},
		{&Location{File: "reactor.json"}, "reactor.json"},
		{&Location{File: "reactor.json", Line: 12}, "reactor.json:12"},
	}
	for _, tt := range tests {
		if got := tt.loc.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestFormat(t *testing.T) {
	DisableColors()
	defer EnableColors()

	err := New("R002").
		WithLocation("reactor.yaml", 4).
		WithSuggestion("Indent with spaces").
		Wrap(stderrors.New("bad token"))
	out := err.Format()

	for _, want := range []string{
		"ERROR R002: Invalid config syntax",
		"reactor.yaml:4",
		"Cause: bad token",
		"Hint: Indent with spaces",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Format() missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\033[") {
		t.Error("Format() should not contain ANSI codes when colors are disabled")
	}
}

func TestFormatColors(t *testing.T) {
	EnableColors()
	if out := New("R020").Format(); !strings.Contains(out, colorRed) {
		t.Error("Format() should contain ANSI codes when colors are enabled")
	}
}

func TestFormatCompact(t *testing.T) {
	err := New("R003").WithLocation("reactor.json", 0)
	if got := err.FormatCompact(); got != "reactor.json: R003: Invalid config value" {
		t.Errorf("FormatCompact() = %q", got)
	}
}

func TestFormatJSON(t *testing.T) {
	err := New("R061").WithLocation("s3://bucket/key", 0).Wrap(stderrors.New("access denied"))

	var got map[string]string
	if e := json.Unmarshal([]byte(err.FormatJSON()), &got); e != nil {
		t.Fatalf("FormatJSON() produced invalid JSON: %v", e)
	}
	if got["code"] != "R061" || got["category"] != "report" {
		t.Errorf("unexpected code/category: %v", got)
	}
	if got["location"] != "s3://bucket/key" || got["cause"] != "access denied" {
		t.Errorf("unexpected location/cause: %v", got)
	}
}

func TestFprint(t *testing.T) {
	DisableColors()
	defer EnableColors()

	var b strings.Builder
	Fprint(&b, fmt.Errorf("outer: %w", New("R080")))
	if !strings.Contains(b.String(), "ERROR R080") {
		t.Errorf("Fprint should format ReactorError, got %q", b.String())
	}

	b.Reset()
	Fprint(&b, stderrors.New("plain"))
	if !strings.Contains(b.String(), "ERROR: plain") {
		t.Errorf("Fprint should print plain errors, got %q", b.String())
	}
}

func TestWrapText(t *testing.T) {
	if wrapText("", 10) != nil {
		t.Error("empty text should give no lines")
	}
	lines := wrapText("one two three four five six", 10)
	for _, l := range lines {
		if len(l) > 10 {
			t.Errorf("line %q exceeds width", l)
		}
	}
	if strings.Join(lines, " ") != "one two three four five six" {
		t.Errorf("wrapped text lost words: %v", lines)
	}
}

func TestRegistry(t *testing.T) {
	codes := GetAllCodes()
	if len(codes) == 0 {
		t.Fatal("registry should not be empty")
	}
	for i := 1; i < len(codes); i++ {
		if codes[i-1] >= codes[i] {
			t.Errorf("codes not sorted: %q before %q", codes[i-1], codes[i])
		}
	}
	for _, code := range codes {
		tmpl, ok := GetTemplate(code)
		if !ok {
			t.Errorf("GetTemplate(%q) not found", code)
			continue
		}
		if tmpl.Category == "" || tmpl.Message == "" || tmpl.Detail == "" {
			t.Errorf("template %q is incomplete: %+v", code, tmpl)
		}
	}
	if _, ok := GetTemplate("nope"); ok {
		t.Error("GetTemplate should miss unknown codes")
	}
}
