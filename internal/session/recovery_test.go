package session

import "testing"

func TestDetectRecovery(t *testing.T) {
	cases := []struct {
		url       string
		wantOK    bool
		wantToken string
	}{
		{"http://localhost/cb?type=recovery&token=abc", true, "abc"},
		{"http://localhost/cb#type=recovery&token_hash=xyz", true, "xyz"},
		{"http://localhost/cb?token=abc&type=recovery", true, "abc"},
		{"http://localhost/cb?type=recovery", true, ""},
		{"http://localhost/cb?type=recoveryx&token=abc", false, ""},
		{"http://localhost/cb?subtype=recovery&token=abc", false, ""},
		{"http://localhost/cb?type=signup&token=abc", false, ""},
	}
	for _, tc := range cases {
		token, ok := DetectRecovery(tc.url)
		if ok != tc.wantOK || token != tc.wantToken {
			t.Fatalf("DetectRecovery(%q) = %q, %v; want %q, %v", tc.url, token, ok, tc.wantToken, tc.wantOK)
		}
	}
}

func TestRecoveryLinkRoundTrip(t *testing.T) {
	link, err := RecoveryLink("http://localhost:8081/api/auth/callback", "tok-1")
	if err != nil {
		t.Fatal(err)
	}
	token, ok := DetectRecovery(link)
	if !ok || token != "tok-1" {
		t.Fatalf("DetectRecovery(%q) = %q, %v", link, token, ok)
	}
}
