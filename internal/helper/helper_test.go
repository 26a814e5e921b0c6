package helper

import (
	"encoding/base64"
	"strings"
	"testing"

	"go.mau.fi/whatsmeow/types"
)

func TestFormatPhoneNumber(t *testing.T) {
	valid := map[string]string{
		"5511988887777":       "5511988887777",
		"+55 (11) 98888-7777": "5511988887777",
		"6281234567890":       "6281234567890",
		"1 202 555 0143":      "12025550143",
	}
	for in, want := range valid {
		jid, err := FormatPhoneNumber(in)
		if err != nil {
			t.Errorf("%q: unexpected error %v", in, err)
			continue
		}
		if jid.User != want || jid.Server != types.DefaultUserServer {
			t.Errorf("%q: expected %s@%s, got %s", in, want, types.DefaultUserServer, jid)
		}
	}

	invalid := []string{"", "abc", "12345", "0811234567", "1234567890123456", "55119888x7777"}
	for _, in := range invalid {
		if _, err := FormatPhoneNumber(in); err == nil {
			t.Errorf("%q: expected error", in)
		}
	}
}

func TestFormatPhoneNumberAcceptsJID(t *testing.T) {
	jid, err := FormatPhoneNumber("5511988887777@s.whatsapp.net")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if jid.User != "5511988887777" {
		t.Fatalf("expected user 5511988887777, got %s", jid.User)
	}

	group, err := FormatPhoneNumber("120363025246125486@g.us")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if group.Server != types.GroupServer {
		t.Fatalf("expected group server, got %s", group.Server)
	}
}

func TestExtractPhoneFromJID(t *testing.T) {
	cases := map[string]string{
		"6285148107612:43@s.whatsapp.net": "6285148107612",
		"6285148107612@s.whatsapp.net":    "6285148107612",
		"6285148107612":                   "6285148107612",
	}
	for in, want := range cases {
		if got := ExtractPhoneFromJID(in); got != want {
			t.Errorf("%q: expected %q, got %q", in, want, got)
		}
	}
}

func TestRenderQR(t *testing.T) {
	uri, err := RenderQR("2@abcdef,ghijk,lmnop")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	const prefix = "data:image/png;base64,"
	if !strings.HasPrefix(uri, prefix) {
		t.Fatalf("expected png data uri, got %q", uri[:32])
	}
	png, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, prefix))
	if err != nil {
		t.Fatalf("invalid base64: %v", err)
	}
	if len(png) < 8 || string(png[1:4]) != "PNG" {
		t.Fatalf("payload is not a png")
	}
}

func TestSchemaStatements(t *testing.T) {
	for _, driver := range []string{"postgres", "mysql"} {
		stmts, err := SchemaStatements(driver)
		if err != nil {
			t.Fatalf("%s: %v", driver, err)
		}
		if !strings.Contains(stmts[0], "CREATE TABLE IF NOT EXISTS instances") {
			t.Fatalf("%s: expected instances table first", driver)
		}
	}
	if _, err := SchemaStatements("sqlite"); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
