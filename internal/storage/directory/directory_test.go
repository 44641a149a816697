package directory

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func testEntry() *Entry {
	e := NewEntry("coreTokenId=abc,ou=tokens,dc=example,dc=com")
	e.Put("objectClass", "top", "frCoreToken")
	e.Put("coreTokenId", "abc")
	e.Put("coreTokenType", "SESSION")
	e.Put("coreTokenInteger01", "42")
	e.Put("coreTokenDate01", "20300101000000.000Z")
	return e
}

func TestFilter_String(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		want   string
	}{
		{"equality", Equality{"coreTokenId", "abc"}, "(coreTokenId=abc)"},
		{"escaped", Equality{"cn", "a*(b)\\"}, `(cn=a\2a\28b\29\5c)`},
		{"and", And{Equality{"a", "1"}, Present{"b"}}, "(&(a=1)(b=*))"},
		{"or", Or{LessOrEqual{"a", "1"}, GreaterOrEqual{"a", "9"}}, "(|(a<=1)(a>=9))"},
		{"not", Not{Prefix{"a", "x"}}, "(!(a=x*))"},
		{"all", MatchAll, "(objectClass=*)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFilter_Match(t *testing.T) {
	e := testEntry()
	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"equality ignores case", Equality{"coretokentype", "session"}, true},
		{"equality miss", Equality{"coreTokenType", "OAUTH"}, false},
		{"numeric ordering", GreaterOrEqual{"coreTokenInteger01", "9"}, true},
		{"numeric ordering miss", LessOrEqual{"coreTokenInteger01", "9"}, false},
		{"date ordering", LessOrEqual{"coreTokenDate01", "20310101000000.000Z"}, true},
		{"present", Present{"coreTokenId"}, true},
		{"absent", Present{"coreTokenUserId"}, false},
		{"prefix", Prefix{"coreTokenId", "AB"}, true},
		{"empty and", And{}, true},
		{"empty or", Or{}, false},
		{"not", Not{Equality{"coreTokenId", "abc"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Match(e); got != tt.want {
				t.Errorf("Match(%s) = %v, want %v", tt.filter, got, tt.want)
			}
		})
	}
}

func TestEntry_PutGetRemove(t *testing.T) {
	e := testEntry()
	e.Put("COREtokenid", "xyz")
	if got := e.First("coreTokenId"); got != "xyz" {
		t.Fatalf("First = %q, want xyz", got)
	}
	e.Put("coreTokenId")
	if e.Has("coreTokenId") {
		t.Fatal("Put with no values should remove")
	}

	c := e.Clone()
	c.Put("objectClass", "other")
	if vals, _ := e.Get("objectClass"); len(vals) != 2 {
		t.Fatalf("Clone shares values: %v", vals)
	}
}

func TestEntry_Project(t *testing.T) {
	e := testEntry()
	e.Put("etag", "v1")

	all := e.Project([]string{"*"}, []string{"etag"})
	if all.Has("etag") {
		t.Fatal("* should not select operational attributes")
	}
	withETag := e.Project([]string{"*", "etag"}, []string{"etag"})
	if !withETag.Has("etag") || !withETag.Has("coreTokenType") {
		t.Fatal("explicit operational attribute should be kept alongside *")
	}
	only := e.Project([]string{"coreTokenId"}, nil)
	if len(only.Attributes) != 1 {
		t.Fatalf("Project(coreTokenId) = %v, want one attribute", only.Attributes)
	}
}

func TestDNHelpers(t *testing.T) {
	if got := NormalizeDN("CN=Foo , OU=Tokens,DC=Example"); got != "cn=foo,ou=tokens,dc=example" {
		t.Errorf("NormalizeDN = %q", got)
	}
	dn := "coreTokenId=" + EscapeDNValue("a,b+c") + ",ou=tokens"
	if parts := SplitDN(dn); len(parts) != 2 {
		t.Errorf("SplitDN(%q) = %v, want 2 parts", dn, parts)
	}
	if got := ParentDN(dn); got != "ou=tokens" {
		t.Errorf("ParentDN = %q, want ou=tokens", got)
	}
	if got := EscapeDNValue("#x "); got != `\#x\ ` {
		t.Errorf("EscapeDNValue = %q", got)
	}
}

func TestCodeOf(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewError(AssertionFailed, "etag mismatch"))
	if CodeOf(err) != AssertionFailed {
		t.Fatalf("CodeOf = %v, want AssertionFailed", CodeOf(err))
	}
	if !IsCode(err, AssertionFailed) || IsCode(nil, Success) {
		t.Fatal("IsCode mismatch")
	}
	if CodeOf(errors.New("plain")) != Other {
		t.Fatal("plain errors should map to Other")
	}
	if CodeOf(nil) != Success {
		t.Fatal("nil should map to Success")
	}
}

func TestGeneralizedTime(t *testing.T) {
	ts := time.Date(2030, 1, 2, 3, 4, 5, 678_000_000, time.FixedZone("X", 3600))
	v := FormatTime(ts)
	if v != "20300102020405.678Z" {
		t.Fatalf("FormatTime = %q", v)
	}
	got, err := ParseTime(v)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(ts) {
		t.Fatalf("ParseTime = %v, want %v", got, ts)
	}
	if _, err := ParseTime("20300102020405Z"); err != nil {
		t.Fatalf("ParseTime without fraction: %v", err)
	}
	if _, err := ParseTime("yesterday"); err == nil {
		t.Fatal("ParseTime should reject garbage")
	}
	if FormatTime(ts) >= FormatTime(ts.Add(time.Millisecond)) {
		t.Fatal("formatted values should order as strings")
	}
}
