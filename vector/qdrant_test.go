package vector

import "testing"

func TestParseURL(t *testing.T) {
	tests := []struct {
		in      string
		host    string
		port    int
		tls     bool
		wantErr bool
	}{
		{"http://localhost:6334", "localhost", 6334, false, false},
		{"http://qdrant.internal", "qdrant.internal", 6334, false, false},
		{"https://qdrant.example.com:443", "qdrant.example.com", 443, true, false},
		{"http://", "", 0, false, true},
		{"http://host:notaport", "", 0, false, true},
	}
	for _, tt := range tests {
		host, port, tls, err := ParseURL(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseURL(%q) err = %v", tt.in, err)
			continue
		}
		if err != nil {
			continue
		}
		if host != tt.host || port != tt.port || tls != tt.tls {
			t.Errorf("ParseURL(%q) = %s %d %v", tt.in, host, port, tls)
		}
	}
}

func TestPointIDDeterministic(t *testing.T) {
	a := PointID("doc::chunk::0")
	b := PointID("doc::chunk::0")
	c := PointID("doc::chunk::1")
	if a != b {
		t.Error("point id not deterministic")
	}
	if a == c {
		t.Error("distinct nodes collided")
	}
	if len(a) != 36 {
		t.Errorf("not a uuid: %q", a)
	}
}
