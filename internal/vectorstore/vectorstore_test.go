package vectorstore

import "testing"

func TestSplitHostPort(t *testing.T) {
	cases := []struct {
		addr     string
		wantHost string
		wantPort int
	}{
		{"127.0.0.1:6334", "127.0.0.1", 6334},
		{"qdrant.internal:7000", "qdrant.internal", 7000},
		{"justahost", "justahost", 6334},
	}
	for _, c := range cases {
		host, port := splitHostPort(c.addr)
		if host != c.wantHost || port != c.wantPort {
			t.Errorf("splitHostPort(%q) = (%q, %d), want (%q, %d)", c.addr, host, port, c.wantHost, c.wantPort)
		}
	}
}
