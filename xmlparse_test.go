package anvil

import (
	"encoding/json"
	"reflect"
	"testing"
)

func argsOf(t *testing.T, call ToolCallFull) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(call.Arguments, &m); err != nil {
		t.Fatalf("arguments did not parse: %v", err)
	}
	return m
}

func TestParseXMLToolCall(t *testing.T) {
	calls, err := ParseXMLToolCalls(`<tool_call><tool_forge_fs_search><path>/test/path</path><regex>test</regex></tool_forge_fs_search></tool_call>`)
	if err != nil {
		t.Fatal(err)
	}
	if len(calls) != 1 || calls[0].Name != "tool_forge_fs_search" {
		t.Fatalf("calls = %+v", calls)
	}
	want := map[string]any{"path": "/test/path", "regex": "test"}
	if got := argsOf(t, calls[0]); !reflect.DeepEqual(got, want) {
		t.Errorf("args = %v, want %v", got, want)
	}
}

func TestParseXMLWithSurroundingText(t *testing.T) {
	input := `To find the cat I will grep for it.
		<analysis>
		Files Read: */*.md
		</analysis>

		<tool_call>
		<tool_forge_fs_search>
		<file_pattern>**/*.md</file_pattern>
		<path>/Users/amit/code-forge</path>
		<regex>cat</regex>
		</tool_forge_fs_search>
		</tool_call>`
	calls, err := ParseXMLToolCalls(input)
	if err != nil {
		t.Fatal(err)
	}
	if len(calls) != 1 {
		t.Fatalf("calls = %d", len(calls))
	}
	want := map[string]any{
		"file_pattern": "**/*.md",
		"path":         "/Users/amit/code-forge",
		"regex":        "cat",
	}
	if got := argsOf(t, calls[0]); !reflect.DeepEqual(got, want) {
		t.Errorf("args = %v, want %v", got, want)
	}
}

func TestParseXMLMultipleCalls(t *testing.T) {
	input := `<tool_call><one><a>1</a></one></tool_call> some text ` +
		`<tool_call><two><b>2</b></two></tool_call>`
	calls, err := ParseXMLToolCalls(input)
	if err != nil {
		t.Fatal(err)
	}
	if len(calls) != 2 || calls[0].Name != "one" || calls[1].Name != "two" {
		t.Fatalf("calls = %+v", calls)
	}
}

func TestParseXMLScalarCoercion(t *testing.T) {
	input := `<tool_call><tool_name>` +
		`<text>hello</text>` +
		`<number>42</number>` +
		`<negative>-123</negative>` +
		`<float>3.14</float>` +
		`<whole_float>2.0</whole_float>` +
		`<bool1>true</bool1>` +
		`<bool2>FALSE</bool2>` +
		`<complex>not_a_number</complex>` +
		`</tool_name></tool_call>`
	calls, err := ParseXMLToolCalls(input)
	if err != nil {
		t.Fatal(err)
	}
	got := argsOf(t, calls[0])
	want := map[string]any{
		"text":        "hello",
		"number":      float64(42),
		"negative":    float64(-123),
		"float":       3.14,
		"whole_float": float64(2),
		"bool1":       true,
		"bool2":       false,
		"complex":     "not_a_number",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("args = %v, want %v", got, want)
	}
}

func TestParseXMLWhitespaceCollapse(t *testing.T) {
	input := "<tool_call><t><v>  spread \n\t over   lines  </v></t></tool_call>"
	calls, err := ParseXMLToolCalls(input)
	if err != nil {
		t.Fatal(err)
	}
	if got := argsOf(t, calls[0])["v"]; got != "spread over lines" {
		t.Errorf("value = %q", got)
	}
}

func TestParseXMLEmptyArgs(t *testing.T) {
	calls, err := ParseXMLToolCalls(`<tool_call><noop></noop></tool_call>`)
	if err != nil {
		t.Fatal(err)
	}
	if len(calls) != 1 || len(argsOf(t, calls[0])) != 0 {
		t.Errorf("calls = %+v", calls)
	}
}

func TestParseXMLNoCalls(t *testing.T) {
	calls, err := ParseXMLToolCalls("just plain prose, no calls here")
	if err != nil || calls != nil {
		t.Errorf("= %v, %v", calls, err)
	}
}

func TestParseXMLIncompleteBlockErrors(t *testing.T) {
	// A block still streaming in is malformed; with no complete call parsed
	// yet this reports a parse error (callers mid-stream ignore it).
	_, err := ParseXMLToolCalls(`<tool_call><foo><path>/x</path>`)
	if err == nil {
		t.Error("incomplete first block should error")
	}
}

func TestParseXMLTrailingIncompleteAfterComplete(t *testing.T) {
	input := `<tool_call><one><a>1</a></one></tool_call><tool_call><two><b>`
	calls, err := ParseXMLToolCalls(input)
	if err != nil {
		t.Fatal(err)
	}
	if len(calls) != 1 || calls[0].Name != "one" {
		t.Errorf("calls = %+v", calls)
	}
}

func TestParseXMLRoundTrip(t *testing.T) {
	// Emit the canonical grammar form and re-parse it.
	original := map[string]any{"path": "/x", "count": float64(3), "flag": true}
	xml := `<tool_call>
  <grep>
    <path>/x</path>
    <count>3</count>
    <flag>true</flag>
  </grep>
</tool_call>`
	calls, err := ParseXMLToolCalls(xml)
	if err != nil {
		t.Fatal(err)
	}
	if calls[0].Name != "grep" {
		t.Errorf("name = %s", calls[0].Name)
	}
	if got := argsOf(t, calls[0]); !reflect.DeepEqual(got, original) {
		t.Errorf("args = %v, want %v", got, original)
	}
}
