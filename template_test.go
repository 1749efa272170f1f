package anvil

import (
	"strings"
	"testing"
)

func TestRenderSystemContext(t *testing.T) {
	r := NewRenderer()
	out, err := r.Render(
		"Time: {{.CurrentTime}}\nCWD: {{.Env.CWD}}\nFiles:\n{{range .Files}}- {{.}}\n{{end}}{{if .CustomRules}}Rules: {{.CustomRules}}{{end}}",
		SystemContext{
			CurrentTime: "2026-01-01 00:00:00",
			Env:         Environment{CWD: "/work", OS: "linux"},
			Files:       []string{"a.go", "b.go"},
			CustomRules: "no force pushes",
		})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Time: 2026-01-01", "CWD: /work", "- a.go", "- b.go", "Rules: no force pushes"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderEventContext(t *testing.T) {
	r := NewRenderer()
	out, err := r.Render(
		"Task ({{.Event.Name}}): {{.Value}} for {{.Variables.project}}",
		EventContext{
			Event:     Event{Name: "act/user_task_init", Value: "fix the bug"},
			Variables: map[string]any{"project": "anvil"},
		})
	if err != nil {
		t.Fatal(err)
	}
	if out != "Task (act/user_task_init): fix the bug for anvil" {
		t.Errorf("output = %q", out)
	}
}

func TestRenderHelpers(t *testing.T) {
	r := NewRenderer()
	cases := []struct {
		tmpl string
		want string
	}{
		{`{{upper "abc"}}`, "ABC"},
		{`{{lower "ABC"}}`, "abc"},
		{`{{title "hello world"}}`, "Hello World"},
		{`{{trim "  x  "}}`, "x"},
		{`{{default "fallback" ""}}`, "fallback"},
		{`{{default "fallback" "value"}}`, "value"},
	}
	for _, tc := range cases {
		out, err := r.Render(tc.tmpl, nil)
		if err != nil {
			t.Fatalf("%s: %v", tc.tmpl, err)
		}
		if out != tc.want {
			t.Errorf("%s = %q, want %q", tc.tmpl, out, tc.want)
		}
	}
}

func TestRenderBadTemplateErrors(t *testing.T) {
	r := NewRenderer()
	if _, err := r.Render("{{.Unclosed", nil); err == nil {
		t.Error("malformed template must error")
	}
}
